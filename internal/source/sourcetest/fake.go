// Package sourcetest provides a scriptable in-memory Adapter for tests.
package sourcetest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guttosm/coinpulse/internal/domain/models"
	"github.com/guttosm/coinpulse/internal/source"
)

// BarsCall records one FetchBars invocation.
type BarsCall struct {
	Symbol   string
	Interval models.Interval
	Start    time.Time
	End      time.Time
}

// Fake is a configurable adapter. Zero values mean "supports everything, returns nothing".
type Fake struct {
	Name      string
	QuoteOnly bool
	Intervals []models.Interval // when set, bars are limited to these intervals

	QuoteFn func(ctx context.Context, symbol string) (models.Quote, error)
	BarsFn  func(ctx context.Context, symbol string, iv models.Interval, start, end time.Time) ([]models.OHLCVBar, error)

	QuoteCalls atomic.Int64

	mu        sync.Mutex
	barsCalls []BarsCall
}

var _ source.Adapter = (*Fake)(nil)

func (f *Fake) ID() string { return f.Name }

func (f *Fake) Supports(c source.Capability) bool {
	if c.Kind == source.KindQuote {
		return true
	}
	if f.QuoteOnly {
		return false
	}
	if len(f.Intervals) == 0 {
		return true
	}
	for _, iv := range f.Intervals {
		if iv == c.Interval {
			return true
		}
	}
	return false
}

func (f *Fake) FetchQuote(ctx context.Context, symbol string) (models.Quote, error) {
	f.QuoteCalls.Add(1)
	if f.QuoteFn == nil {
		return models.Quote{}, context.Canceled
	}
	return f.QuoteFn(ctx, symbol)
}

func (f *Fake) FetchBars(ctx context.Context, symbol string, iv models.Interval, start, end time.Time) ([]models.OHLCVBar, error) {
	f.mu.Lock()
	f.barsCalls = append(f.barsCalls, BarsCall{Symbol: symbol, Interval: iv, Start: start, End: end})
	f.mu.Unlock()
	if f.BarsFn == nil {
		return nil, nil
	}
	return f.BarsFn(ctx, symbol, iv, start, end)
}

// BarsCalls returns a copy of recorded FetchBars calls.
func (f *Fake) BarsCalls() []BarsCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]BarsCall(nil), f.barsCalls...)
}

// Bars generates n consecutive synthetic bars starting at start.
func Bars(symbol string, iv models.Interval, start time.Time, n int, src string) []models.OHLCVBar {
	out := make([]models.OHLCVBar, 0, n)
	for i := 0; i < n; i++ {
		p := 100 + float64(i)
		out = append(out, models.OHLCVBar{
			Symbol: symbol, Interval: iv, Time: start.Add(time.Duration(i) * iv.Duration()),
			Open: p, High: p + 1, Low: p - 1, Close: p + 0.5, Volume: 10, Source: src,
		})
	}
	return out
}

// BarsInRange generates bars for every slot in [start, end).
func BarsInRange(symbol string, iv models.Interval, start, end time.Time, src string) []models.OHLCVBar {
	n := int(end.Sub(start) / iv.Duration())
	if n < 0 {
		n = 0
	}
	return Bars(symbol, iv, start, n, src)
}
