// Package analysis computes technical indicators over stored price history.
//
// Every indicator is a pure function of the bar series. Indicators are
// computed independently: one failing (usually for lack of data) is reported
// inline as unavailable and never fails the whole request.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/guttosm/coinpulse/config"
	"github.com/guttosm/coinpulse/internal/domain/errs"
	"github.com/guttosm/coinpulse/internal/domain/models"
	"github.com/guttosm/coinpulse/internal/logger"
	"github.com/guttosm/coinpulse/internal/metrics"
	"github.com/rs/zerolog"
)

// Kind is a requestable indicator family.
type Kind string

const (
	KindSMA        Kind = "sma"
	KindEMA        Kind = "ema"
	KindRSI        Kind = "rsi"
	KindMACD       Kind = "macd"
	KindBollinger  Kind = "bollinger"
	KindStochastic Kind = "stochastic"
	KindWilliamsR  Kind = "williams_r"
	KindCCI        Kind = "cci"
	KindMomentum   Kind = "momentum"
)

// AllKinds lists every supported kind in presentation order.
func AllKinds() []Kind {
	return []Kind{KindSMA, KindEMA, KindRSI, KindMACD, KindBollinger, KindStochastic, KindWilliamsR, KindCCI, KindMomentum}
}

// ParseKinds validates a list of kind names. An empty list means every kind.
func ParseKinds(raw []string) ([]Kind, error) {
	if len(raw) == 0 {
		return AllKinds(), nil
	}
	seen := map[Kind]bool{}
	var out []Kind
	for _, r := range raw {
		k := Kind(strings.ToLower(strings.TrimSpace(r)))
		if k == "" || seen[k] {
			continue
		}
		if _, ok := table[k]; !ok {
			return nil, errs.Invalid("indicators", "unknown indicator %q", r)
		}
		seen[k] = true
		out = append(out, k)
	}
	if len(out) == 0 {
		return AllKinds(), nil
	}
	return out, nil
}

// computeFn produces one named indicator result from the bar series.
type computeFn struct {
	name string
	fn   func(bars []models.OHLCVBar, closes []float64) (map[string]float64, error)
}

func one(key string, f func(closes []float64) (float64, error)) func([]models.OHLCVBar, []float64) (map[string]float64, error) {
	return func(_ []models.OHLCVBar, closes []float64) (map[string]float64, error) {
		v, err := f(closes)
		if err != nil {
			return nil, err
		}
		return map[string]float64{key: v}, nil
	}
}

func sma(p int) computeFn {
	return computeFn{fmt.Sprintf("sma_%d", p), one("value", func(c []float64) (float64, error) { return SMA(c, p) })}
}

func ema(p int) computeFn {
	return computeFn{fmt.Sprintf("ema_%d", p), one("value", func(c []float64) (float64, error) { return EMA(c, p) })}
}

// table maps each Kind to the indicators it expands to.
var table = map[Kind][]computeFn{
	KindSMA: {sma(20), sma(50)},
	KindEMA: {ema(12), ema(26)},
	KindRSI: {{"rsi_14", one("value", func(c []float64) (float64, error) { return RSI(c, 14) })}},
	KindMACD: {{"macd", func(_ []models.OHLCVBar, c []float64) (map[string]float64, error) {
		line, sig, hist, err := MACD(c, 12, 26, 9)
		if err != nil {
			return nil, err
		}
		return map[string]float64{"macd": line, "signal": sig, "histogram": hist}, nil
	}}},
	KindBollinger: {{"bollinger", func(_ []models.OHLCVBar, c []float64) (map[string]float64, error) {
		upper, middle, lower, err := Bollinger(c, 20, 2)
		if err != nil {
			return nil, err
		}
		out := map[string]float64{"upper": upper, "middle": middle, "lower": lower}
		if middle != 0 {
			out["bandwidth"] = (upper - lower) / middle * 100
		}
		return out, nil
	}}},
	KindStochastic: {{"stochastic", func(b []models.OHLCVBar, _ []float64) (map[string]float64, error) {
		k, d, err := Stochastic(b, 14, 3)
		if err != nil {
			return nil, err
		}
		return map[string]float64{"k": k, "d": d}, nil
	}}},
	KindWilliamsR: {{"williams_r_14", func(b []models.OHLCVBar, _ []float64) (map[string]float64, error) {
		v, err := WilliamsR(b, 14)
		if err != nil {
			return nil, err
		}
		return map[string]float64{"value": v}, nil
	}}},
	KindCCI: {{"cci_20", func(b []models.OHLCVBar, _ []float64) (map[string]float64, error) {
		v, err := CCI(b, 20)
		if err != nil {
			return nil, err
		}
		return map[string]float64{"value": v}, nil
	}}},
	KindMomentum: {{"momentum_10", one("value", func(c []float64) (float64, error) { return Momentum(c, 10) })}},
}

// SeriesSource supplies bar history; *history.Store satisfies it.
type SeriesSource interface {
	GetRange(ctx context.Context, symbol string, iv models.Interval, start, end time.Time) (*models.HistoricalSeries, error)
}

// DefaultWindow is 30 days of hourly bars.
var DefaultWindow = models.AnalysisWindow{Interval: models.Interval1h, Lookback: 30 * 24 * time.Hour}

// WindowFromConfig maps the analysis config section, falling back to DefaultWindow.
func WindowFromConfig(c config.AnalysisConfig) models.AnalysisWindow {
	w := DefaultWindow
	if iv, err := models.ParseInterval(c.Interval); err == nil {
		w.Interval = iv
	}
	if c.LookbackDays > 0 {
		w.Lookback = time.Duration(c.LookbackDays) * 24 * time.Hour
	}
	return w
}

// Analyzer is the TechnicalAnalyzer.
type Analyzer struct {
	source  SeriesSource
	window  models.AnalysisWindow
	metrics *metrics.Metrics
	now     func() time.Time
	log     zerolog.Logger
}

// Option customizes an Analyzer.
type Option func(*Analyzer)

func WithMetrics(m *metrics.Metrics) Option { return func(a *Analyzer) { a.metrics = m } }

func WithClock(now func() time.Time) Option { return func(a *Analyzer) { a.now = now } }

// WithWindow replaces DefaultWindow for requests that leave the window empty.
func WithWindow(w models.AnalysisWindow) Option { return func(a *Analyzer) { a.window = w } }

func New(src SeriesSource, opts ...Option) *Analyzer {
	a := &Analyzer{source: src, window: DefaultWindow, now: time.Now, log: logger.With("analysis")}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Window returns the default analysis window.
func (a *Analyzer) Window() models.AnalysisWindow { return a.window }

// Analyze loads the window's history and computes the requested kinds.
//
// A zero window field falls back to the analyzer default. Only a failure to
// load any history at all is returned as an error.
func (a *Analyzer) Analyze(ctx context.Context, symbol string, kinds []Kind, window models.AnalysisWindow) (*models.TechnicalIndicatorSet, error) {
	if window.Interval == "" {
		window.Interval = a.window.Interval
	}
	if window.Lookback <= 0 {
		window.Lookback = a.window.Lookback
	}
	if !window.Interval.Valid() {
		return nil, errs.Invalid("interval", "unsupported interval %q", window.Interval)
	}
	if len(kinds) == 0 {
		kinds = AllKinds()
	}

	end := a.now().UTC()
	series, err := a.source.GetRange(ctx, symbol, window.Interval, end.Add(-window.Lookback), end)
	if err != nil {
		return nil, err
	}

	set := Compute(series.Bars, kinds)
	set.Symbol, set.Interval, set.AsOf, set.Gaps = symbol, window.Interval, end, len(series.Gaps)
	for name, r := range set.Indicators {
		if r.Unavailable {
			a.metrics.IndicatorUnavailable(name)
			a.log.Debug().Str("symbol", symbol).Str("indicator", name).Str("reason", r.Reason).Msg("indicator unavailable")
		}
	}
	return set, nil
}

// Compute runs kinds over bars. It is pure: the same bars give the same set.
func Compute(bars []models.OHLCVBar, kinds []Kind) *models.TechnicalIndicatorSet {
	closes := models.Closes(bars)
	set := &models.TechnicalIndicatorSet{
		DataPoints: len(bars),
		Indicators: map[string]models.IndicatorResult{},
	}
	if len(closes) > 0 {
		set.LastClose = closes[len(closes)-1]
	}
	for _, k := range kinds {
		for _, c := range table[k] {
			values, err := c.fn(bars, closes)
			if err != nil {
				var ie *errs.InsufficientDataError
				if errors.As(err, &ie) {
					ie.Indicator = c.name
				}
				set.Indicators[c.name] = models.IndicatorResult{Unavailable: true, Reason: err.Error()}
				continue
			}
			set.Indicators[c.name] = models.IndicatorResult{Values: values}
		}
	}
	set.Signals = signals(set)
	return set
}

// signals derives the textual reads from available indicators.
func signals(set *models.TechnicalIndicatorSet) map[string]string {
	out := map[string]string{}
	if r, ok := set.Indicators["rsi_14"]; ok && !r.Unavailable {
		switch v := r.Values["value"]; {
		case v > 70:
			out["rsi"] = "overbought"
		case v < 30:
			out["rsi"] = "oversold"
		default:
			out["rsi"] = "neutral"
		}
	}
	if r, ok := set.Indicators["macd"]; ok && !r.Unavailable {
		if r.Values["histogram"] > 0 {
			out["macd"] = "bullish"
		} else {
			out["macd"] = "bearish"
		}
	}
	if r, ok := set.Indicators["bollinger"]; ok && !r.Unavailable {
		switch {
		case set.LastClose > r.Values["upper"]:
			out["bollinger"] = "above_upper"
		case set.LastClose < r.Values["lower"]:
			out["bollinger"] = "below_lower"
		default:
			out["bollinger"] = "inside"
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// IndicatorNames lists every indicator name a kind set expands to, sorted.
func IndicatorNames(kinds []Kind) []string {
	var out []string
	for _, k := range kinds {
		for _, c := range table[k] {
			out = append(out, c.name)
		}
	}
	sort.Strings(out)
	return out
}
