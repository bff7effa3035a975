// Package aggregator turns a prioritized set of source adapters into single,
// validated answers.
//
// Two acquisition modes exist:
//   - sequential (GetQuote): walk the router's candidates one by one, first valid quote wins.
//   - fan-out (GetOverview, FetchBars): query candidates concurrently under a
//     bounded errgroup and merge what comes back before the deadline.
//
// Every adapter outcome, after its retries, is reported back to the router.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/guttosm/coinpulse/config"
	"github.com/guttosm/coinpulse/internal/domain/errs"
	"github.com/guttosm/coinpulse/internal/domain/models"
	"github.com/guttosm/coinpulse/internal/logger"
	"github.com/guttosm/coinpulse/internal/metrics"
	"github.com/guttosm/coinpulse/internal/retry"
	"github.com/guttosm/coinpulse/internal/router"
	"github.com/guttosm/coinpulse/internal/source"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// defaultQuoteDeadline bounds a shared quote acquisition when QuoteDeadline is unset.
const defaultQuoteDeadline = 10 * time.Second

// Options bound the fan-out and validation behaviour.
type Options struct {
	FanOutConcurrency int
	TaskTimeout       time.Duration // per adapter call, retries included
	OverviewDeadline  time.Duration
	QuoteDeadline     time.Duration
	ClockSkew         time.Duration
}

// OptionsFromConfig maps the aggregator config section.
func OptionsFromConfig(c config.AggregatorConfig) Options {
	return Options{
		FanOutConcurrency: c.FanOutConcurrency,
		TaskTimeout:       c.TaskTimeout,
		OverviewDeadline:  c.OverviewDeadline,
		QuoteDeadline:     c.QuoteDeadline,
		ClockSkew:         c.ClockSkew,
	}
}

// Aggregator is the DataAggregator. It is safe for concurrent use.
type Aggregator struct {
	router  *router.Router
	retry   *retry.Policy
	opts    Options
	metrics *metrics.Metrics
	now     func() time.Time
	log     zerolog.Logger

	quotes singleflight.Group
}

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithMetrics records per-source outcomes.
func WithMetrics(m *metrics.Metrics) Option { return func(a *Aggregator) { a.metrics = m } }

// WithClock overrides time.Now used for quote validation.
func WithClock(now func() time.Time) Option { return func(a *Aggregator) { a.now = now } }

// New builds an Aggregator over r, retrying each adapter call with p.
func New(r *router.Router, p *retry.Policy, opts Options, o ...Option) *Aggregator {
	if opts.FanOutConcurrency < 1 {
		opts.FanOutConcurrency = 1
	}
	a := &Aggregator{
		router: r,
		retry:  p,
		opts:   opts,
		now:    time.Now,
		log:    logger.With("aggregator"),
	}
	for _, fn := range o {
		fn(a)
	}
	return a
}

// GetQuote returns the first validated quote from the router's candidates,
// tried strictly in order. Concurrent calls for the same symbol share one
// acquisition. The shared acquisition is detached from any single caller's
// cancellation and bounded by QuoteDeadline; a caller whose ctx ends stops
// waiting without affecting the others.
//
// Returns *errs.AllSourcesUnavailableError carrying every adapter's cause when
// no candidate produced a valid quote.
func (a *Aggregator) GetQuote(ctx context.Context, symbol string) (models.Quote, error) {
	shared := context.WithoutCancel(ctx)
	ch := a.quotes.DoChan(symbol, func() (any, error) {
		return a.sequentialQuote(shared, symbol)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return models.Quote{}, res.Err
		}
		return res.Val.(models.Quote), nil
	case <-ctx.Done():
		return models.Quote{}, &errs.AllSourcesUnavailableError{Symbol: symbol, Causes: map[string]error{"context": ctx.Err()}}
	}
}

func (a *Aggregator) sequentialQuote(ctx context.Context, symbol string) (models.Quote, error) {
	deadline := a.opts.QuoteDeadline
	if deadline <= 0 {
		deadline = defaultQuoteDeadline
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	causes := map[string]error{}
	for _, ad := range a.router.Candidates(source.QuoteCapability) {
		if err := ctx.Err(); err != nil {
			causes["context"] = err
			break
		}
		if !a.router.Admit(ad.ID()) {
			continue
		}
		q, err := a.quoteFrom(ctx, ad, symbol)
		if err == nil {
			return q, nil
		}
		causes[ad.ID()] = err
	}
	return models.Quote{}, &errs.AllSourcesUnavailableError{Symbol: symbol, Causes: causes}
}

// quoteFrom runs one adapter with retries and validation, then reports the outcome.
func (a *Aggregator) quoteFrom(ctx context.Context, ad source.Adapter, symbol string) (models.Quote, error) {
	q, err := retry.Run(ctx, a.retry, func(ctx context.Context) (models.Quote, error) {
		q, err := ad.FetchQuote(ctx, symbol)
		if err != nil {
			return models.Quote{}, err
		}
		if q.Symbol == "" {
			q.Symbol = symbol
		}
		if err := q.Validate(a.now(), a.opts.ClockSkew); err != nil {
			return models.Quote{}, err
		}
		return q, nil
	})
	a.record(ad.ID(), "quote", err)
	return q, err
}

// GetOverview fetches quotes for every symbol from every candidate concurrently
// and keeps the freshest valid one per symbol. Ties go to the better-ranked
// adapter. Symbols nobody could serve are listed in Missing.
//
// Partial results are returned when the overall deadline fires; the error is
// only non-nil for an empty symbol list.
func (a *Aggregator) GetOverview(ctx context.Context, symbols []string) (*models.Overview, error) {
	if len(symbols) == 0 {
		return nil, errs.Invalid("symbols", "at least one symbol is required")
	}
	if a.opts.OverviewDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.OverviewDeadline)
		defer cancel()
	}

	type pick struct {
		quote models.Quote
		rank  int
	}
	var (
		mu     sync.Mutex
		best   = map[string]pick{}
		causes = map[string]map[string]error{}
	)
	fail := func(sym, id string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if causes[sym] == nil {
			causes[sym] = map[string]error{}
		}
		causes[sym][id] = err
	}

	uniq := dedupe(symbols)
	cands := a.router.Candidates(source.QuoteCapability)

	var g errgroup.Group
	g.SetLimit(a.opts.FanOutConcurrency)
launch:
	for _, sym := range uniq {
		for rank, ad := range cands {
			if ctx.Err() != nil {
				break launch
			}
			if !a.router.Admit(ad.ID()) {
				fail(sym, ad.ID(), errors.New("not admitted: half-open trial in progress"))
				continue
			}
			g.Go(func() error {
				tctx, cancel := a.taskContext(ctx)
				defer cancel()
				q, err := a.quoteFrom(tctx, ad, sym)
				if err != nil {
					fail(sym, ad.ID(), err)
					return nil
				}
				mu.Lock()
				defer mu.Unlock()
				cur, ok := best[sym]
				if !ok || q.Timestamp.After(cur.quote.Timestamp) ||
					(q.Timestamp.Equal(cur.quote.Timestamp) && rank < cur.rank) {
					best[sym] = pick{quote: q, rank: rank}
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	ov := &models.Overview{
		Quotes:  make(map[string]models.Quote, len(best)),
		Missing: map[string]string{},
		AsOf:    a.now().UTC(),
	}
	for _, sym := range uniq {
		if p, ok := best[sym]; ok {
			ov.Quotes[sym] = p.quote
			continue
		}
		c := causes[sym]
		if len(c) == 0 && ctx.Err() != nil {
			c = map[string]error{"context": ctx.Err()}
		}
		ov.Missing[sym] = (&errs.AllSourcesUnavailableError{Symbol: sym, Causes: c}).Error()
	}
	if len(ov.Missing) > 0 {
		a.log.Warn().Int("served", len(ov.Quotes)).Int("missing", len(ov.Missing)).Msg("overview incomplete")
	}
	return ov, nil
}

// FetchBars races every bar-capable candidate. The first non-empty validated
// batch wins and the remaining calls are cancelled without being penalized.
func (a *Aggregator) FetchBars(ctx context.Context, symbol string, iv models.Interval, start, end time.Time) ([]models.OHLCVBar, error) {
	if !iv.Valid() {
		return nil, errs.Invalid("interval", "unsupported interval %q", iv)
	}
	if !start.Before(end) {
		return nil, errs.Invalid("range", "start %s must be before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu     sync.Mutex
		winner []models.OHLCVBar
		causes = map[string]error{}
	)

	var g errgroup.Group
	g.SetLimit(a.opts.FanOutConcurrency)
	for _, ad := range a.router.Candidates(source.BarsCapability(iv)) {
		if ctx.Err() != nil {
			break
		}
		if !a.router.Admit(ad.ID()) {
			continue
		}
		g.Go(func() error {
			tctx, tcancel := a.taskContext(ctx)
			defer tcancel()
			bars, err := retry.Run(tctx, a.retry, func(ctx context.Context) ([]models.OHLCVBar, error) {
				raw, err := ad.FetchBars(ctx, symbol, iv, start, end)
				if err != nil {
					return nil, err
				}
				return validBars(raw, symbol, iv, start, end)
			})
			a.record(ad.ID(), "bars", err)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				causes[ad.ID()] = err
			case len(bars) == 0:
				causes[ad.ID()] = errs.Invalid("bars", "no bars in range")
			case winner == nil:
				winner = bars
				cancel()
			}
			return nil
		})
	}
	_ = g.Wait()

	if winner != nil {
		return winner, nil
	}
	return nil, &errs.AllSourcesUnavailableError{Symbol: symbol, Causes: causes}
}

// Probe issues one unretried quote call to every adapter whose recovery probe is
// due and reports the outcome. It returns the ids that were probed.
func (a *Aggregator) Probe(ctx context.Context, symbol string) []string {
	var probed []string
	for _, ad := range a.router.ProbeDue(source.QuoteCapability) {
		if !a.router.Admit(ad.ID()) {
			continue
		}
		tctx, cancel := a.taskContext(ctx)
		q, err := ad.FetchQuote(tctx, symbol)
		cancel()
		if err == nil {
			if q.Symbol == "" {
				q.Symbol = symbol
			}
			err = q.Validate(a.now(), a.opts.ClockSkew)
		}
		a.record(ad.ID(), "probe", err)
		probed = append(probed, ad.ID())
	}
	return probed
}

func (a *Aggregator) taskContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.opts.TaskTimeout > 0 {
		return context.WithTimeout(ctx, a.opts.TaskTimeout)
	}
	return context.WithCancel(ctx)
}

// record feeds one adapter outcome to the router. Cancellation carries no
// verdict about the adapter, so it only frees a claimed half-open slot.
func (a *Aggregator) record(id, op string, err error) {
	switch {
	case err == nil:
		a.router.RecordSuccess(id)
		a.metrics.SourceRequest(id, op, "success")
	case errors.Is(err, context.Canceled):
		a.router.Release(id)
		a.metrics.SourceRequest(id, op, "cancelled")
	default:
		a.router.RecordFailure(id, errs.IsFatal(err))
		a.metrics.SourceRequest(id, op, "failure")
		a.log.Warn().Err(err).Str("adapter", id).Str("op", op).Msg("source call failed")
	}
}

// validBars keeps bars inside [start,end), stamps symbol and interval, and
// rejects the whole batch if any bar is malformed.
func validBars(raw []models.OHLCVBar, symbol string, iv models.Interval, start, end time.Time) ([]models.OHLCVBar, error) {
	out := make([]models.OHLCVBar, 0, len(raw))
	for _, b := range raw {
		if b.Time.Before(start) || !b.Time.Before(end) {
			continue
		}
		b.Symbol, b.Interval = symbol, iv
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("bar at %s: %w", b.Time.Format(time.RFC3339), err)
		}
		out = append(out, b)
	}
	return models.SortBars(out), nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
