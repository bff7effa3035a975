package analysis

import (
	"math"

	"github.com/guttosm/coinpulse/internal/domain/errs"
	"github.com/guttosm/coinpulse/internal/domain/models"
	"github.com/montanaflynn/stats"
)

func insufficient(name string, required, available int) error {
	return &errs.InsufficientDataError{Indicator: name, Required: required, Available: available}
}

// SMA is the mean of the last p closes.
func SMA(closes []float64, p int) (float64, error) {
	if p < 1 || len(closes) < p {
		return 0, insufficient("sma", p, len(closes))
	}
	return stats.Mean(stats.Float64Data(closes[len(closes)-p:]))
}

// EMASeries returns the exponential moving average at every index from p-1 on,
// seeded with the SMA of the first p values. Earlier indexes are NaN.
func EMASeries(values []float64, p int) ([]float64, error) {
	if p < 1 || len(values) < p {
		return nil, insufficient("ema", p, len(values))
	}
	out := make([]float64, len(values))
	for i := 0; i < p-1; i++ {
		out[i] = math.NaN()
	}
	seed, err := stats.Mean(stats.Float64Data(values[:p]))
	if err != nil {
		return nil, err
	}
	out[p-1] = seed
	alpha := 2 / float64(p+1)
	for i := p; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out, nil
}

// EMA is the last value of EMASeries.
func EMA(closes []float64, p int) (float64, error) {
	s, err := EMASeries(closes, p)
	if err != nil {
		return 0, err
	}
	return s[len(s)-1], nil
}

// RSI uses simple averages of gains and losses over the last p deltas.
// Only gains gives 100, only losses 0, a flat window 50.
func RSI(closes []float64, p int) (float64, error) {
	if p < 1 || len(closes) < p+1 {
		return 0, insufficient("rsi", p+1, len(closes))
	}
	var gain, loss float64
	window := closes[len(closes)-p-1:]
	for i := 1; i < len(window); i++ {
		d := window[i] - window[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain, avgLoss := gain/float64(p), loss/float64(p)
	switch {
	case avgGain == 0 && avgLoss == 0:
		return 50, nil
	case avgLoss == 0:
		return 100, nil
	case avgGain == 0:
		return 0, nil
	}
	return 100 - 100/(1+avgGain/avgLoss), nil
}

// MACD returns the line (EMA fast - EMA slow), its signal EMA and the histogram.
func MACD(closes []float64, fast, slow, signal int) (line, sig, hist float64, err error) {
	required := slow + signal - 1
	if len(closes) < required {
		return 0, 0, 0, insufficient("macd", required, len(closes))
	}
	f, err := EMASeries(closes, fast)
	if err != nil {
		return 0, 0, 0, err
	}
	s, err := EMASeries(closes, slow)
	if err != nil {
		return 0, 0, 0, err
	}
	lines := make([]float64, 0, len(closes)-slow+1)
	for i := slow - 1; i < len(closes); i++ {
		lines = append(lines, f[i]-s[i])
	}
	sigSeries, err := EMASeries(lines, signal)
	if err != nil {
		return 0, 0, 0, err
	}
	line = lines[len(lines)-1]
	sig = sigSeries[len(sigSeries)-1]
	return line, sig, line - sig, nil
}

// Bollinger returns SMA(p) +/- k sample standard deviations of the last p closes.
func Bollinger(closes []float64, p int, k float64) (upper, middle, lower float64, err error) {
	if p < 2 || len(closes) < p {
		return 0, 0, 0, insufficient("bollinger", p, len(closes))
	}
	window := stats.Float64Data(closes[len(closes)-p:])
	middle, err = stats.Mean(window)
	if err != nil {
		return 0, 0, 0, err
	}
	sd, err := stats.StandardDeviationSample(window)
	if err != nil {
		return 0, 0, 0, err
	}
	return middle + k*sd, middle, middle - k*sd, nil
}

func highLow(bars []models.OHLCVBar) (hh, ll float64) {
	hh, ll = math.Inf(-1), math.Inf(1)
	for _, b := range bars {
		hh = math.Max(hh, b.High)
		ll = math.Min(ll, b.Low)
	}
	return hh, ll
}

// Stochastic returns %K over kPeriod bars and %D as the SMA of the last dPeriod %K values.
// A flat range reads 50.
func Stochastic(bars []models.OHLCVBar, kPeriod, dPeriod int) (k, d float64, err error) {
	required := kPeriod + dPeriod - 1
	if len(bars) < required {
		return 0, 0, insufficient("stochastic", required, len(bars))
	}
	ks := make([]float64, 0, dPeriod)
	for end := len(bars) - dPeriod + 1; end <= len(bars); end++ {
		window := bars[end-kPeriod : end]
		hh, ll := highLow(window)
		v := 50.0
		if hh > ll {
			v = 100 * (window[len(window)-1].Close - ll) / (hh - ll)
		}
		ks = append(ks, v)
	}
	d, err = stats.Mean(stats.Float64Data(ks))
	if err != nil {
		return 0, 0, err
	}
	return ks[len(ks)-1], d, nil
}

// WilliamsR is -100 * (highest high - close) / (highest high - lowest low) over p bars.
func WilliamsR(bars []models.OHLCVBar, p int) (float64, error) {
	if p < 1 || len(bars) < p {
		return 0, insufficient("williams_r", p, len(bars))
	}
	window := bars[len(bars)-p:]
	hh, ll := highLow(window)
	if hh == ll {
		return -50, nil
	}
	return -100 * (hh - window[len(window)-1].Close) / (hh - ll), nil
}

// CCI is the commodity channel index over p bars using mean absolute deviation.
func CCI(bars []models.OHLCVBar, p int) (float64, error) {
	if p < 1 || len(bars) < p {
		return 0, insufficient("cci", p, len(bars))
	}
	tp := make(stats.Float64Data, 0, p)
	for _, b := range bars[len(bars)-p:] {
		tp = append(tp, (b.High+b.Low+b.Close)/3)
	}
	mean, err := stats.Mean(tp)
	if err != nil {
		return 0, err
	}
	var dev float64
	for _, v := range tp {
		dev += math.Abs(v - mean)
	}
	dev /= float64(p)
	if dev == 0 {
		return 0, nil
	}
	return (tp[len(tp)-1] - mean) / (0.015 * dev), nil
}

// Momentum is the last close as a percentage of the close p bars earlier;
// 100 means unchanged.
func Momentum(closes []float64, p int) (float64, error) {
	if p < 1 || len(closes) < p+1 {
		return 0, insufficient("momentum", p+1, len(closes))
	}
	prev := closes[len(closes)-1-p]
	if prev == 0 {
		return 0, errs.Invalid("momentum", "reference close is zero")
	}
	return closes[len(closes)-1] / prev * 100, nil
}
