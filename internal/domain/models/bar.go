package models

import (
	"math"
	"sort"
	"time"

	"github.com/guttosm/coinpulse/internal/domain/errs"
)

// OHLCVBar is one candle for a fixed interval.
//
// Uniqueness key: (Symbol, Interval, Time). Time is the bar start in UTC.
type OHLCVBar struct {
	Symbol   string    `json:"symbol" example:"ETH/USDT"`
	Interval Interval  `json:"interval" swaggertype:"string" example:"1h"`
	Time     time.Time `json:"time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
	Source   string    `json:"source" example:"okx"`
}

// Validate checks OHLC consistency and alignment to the bar interval.
func (b OHLCVBar) Validate() error {
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close, b.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return errs.Invalid("bar", "non-finite or negative value at %s", b.Time.Format(time.RFC3339))
		}
	}
	if b.High < math.Max(math.Max(b.Open, b.Close), b.Low) {
		return errs.Invalid("high", "high %.8f below open/close/low at %s", b.High, b.Time.Format(time.RFC3339))
	}
	if b.Low > math.Min(math.Min(b.Open, b.Close), b.High) {
		return errs.Invalid("low", "low %.8f above open/close/high at %s", b.Low, b.Time.Format(time.RFC3339))
	}
	if !b.Interval.Valid() {
		return errs.Invalid("interval", "unsupported interval %q", b.Interval)
	}
	if !b.Interval.Truncate(b.Time).Equal(b.Time) {
		return errs.Invalid("time", "%s not aligned to %s", b.Time.Format(time.RFC3339), b.Interval)
	}
	return nil
}

// SortBars orders bars ascending by time and drops duplicate timestamps,
// keeping the last occurrence.
func SortBars(bars []OHLCVBar) []OHLCVBar {
	if len(bars) == 0 {
		return bars
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	out := bars[:0]
	for _, b := range bars {
		if n := len(out); n > 0 && out[n-1].Time.Equal(b.Time) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}

// Closes extracts closing prices in series order.
func Closes(bars []OHLCVBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// HistoricalSeries is the ordered bar sequence for one (symbol, interval)
// plus metadata on sub-ranges that could not be backfilled.
type HistoricalSeries struct {
	Symbol     string            `json:"symbol"`
	Interval   Interval          `json:"interval" swaggertype:"string"`
	Start      time.Time         `json:"start"`
	End        time.Time         `json:"end"`
	Bars       []OHLCVBar        `json:"bars"`
	Gaps       []errs.GapFailure `json:"gaps,omitempty"`
	Backfilled int               `json:"backfilled"`
}

// Complete reports whether the series has no failed gaps.
func (s *HistoricalSeries) Complete() bool { return len(s.Gaps) == 0 }

// TimeRange is a half-open [Start, End) window.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// DataStats summarizes persisted history.
type DataStats struct {
	TotalBars int64            `json:"total_bars"`
	BySymbol  map[string]int64 `json:"by_symbol"`
	BySource  map[string]int64 `json:"by_source"`
	Oldest    *time.Time       `json:"oldest,omitempty"`
	Newest    *time.Time       `json:"newest,omitempty"`
}
