// Package history serves OHLCV ranges from Postgres and fills holes from the
// live sources on the way out.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/guttosm/coinpulse/config"
	"github.com/guttosm/coinpulse/internal/domain/errs"
	"github.com/guttosm/coinpulse/internal/domain/models"
	"github.com/guttosm/coinpulse/internal/logger"
	"github.com/guttosm/coinpulse/internal/metrics"
	"github.com/guttosm/coinpulse/internal/storage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// BarFetcher retrieves bars for a range from whichever source can serve it.
type BarFetcher interface {
	FetchBars(ctx context.Context, symbol string, iv models.Interval, start, end time.Time) ([]models.OHLCVBar, error)
}

// Options bound backfill work.
type Options struct {
	BackfillConcurrency int
	BackfillTimeout     time.Duration // per fetched chunk
	MaxBarsPerRequest   int
}

// OptionsFromConfig maps the history config section.
func OptionsFromConfig(c config.HistoryConfig) Options {
	return Options{
		BackfillConcurrency: c.BackfillConcurrency,
		BackfillTimeout:     c.BackfillTimeout,
		MaxBarsPerRequest:   c.MaxBarsPerRequest,
	}
}

// Store is the HistoricalStore.
type Store struct {
	repo    storage.BarsRepository
	fetcher BarFetcher
	opts    Options
	metrics *metrics.Metrics
	now     func() time.Time
	log     zerolog.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithMetrics counts backfilled ranges by outcome.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Store) { s.metrics = m } }

// WithClock overrides time.Now; only closed bars (before the current bar) are backfilled.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func New(repo storage.BarsRepository, fetcher BarFetcher, opts Options, o ...Option) *Store {
	if opts.BackfillConcurrency < 1 {
		opts.BackfillConcurrency = 1
	}
	s := &Store{repo: repo, fetcher: fetcher, opts: opts, now: time.Now, log: logger.With("history")}
	for _, fn := range o {
		fn(s)
	}
	return s
}

// GetRange returns the bars of [start, end) for symbol at iv.
//
// Behavior:
//   - start is truncated and end rounded up to the bar grid.
//   - Stored bars are read first; every hole of at least one bar is fetched
//     through the BarFetcher, chunked at MaxBarsPerRequest, and upserted.
//   - Holes that could not be filled are reported in Gaps; the call still succeeds.
//   - The bar currently in progress is never backfilled.
//
// Returns *errs.InsufficientDataError when no bar at all is available.
func (s *Store) GetRange(ctx context.Context, symbol string, iv models.Interval, start, end time.Time) (*models.HistoricalSeries, error) {
	symbol, err := models.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if !iv.Valid() {
		return nil, errs.Invalid("interval", "unsupported interval %q", iv)
	}
	start, end = iv.Truncate(start.UTC()), iv.Ceil(end.UTC())
	if !start.Before(end) {
		return nil, errs.Invalid("range", "start %s must be before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	stored, err := s.repo.GetBars(ctx, symbol, iv, start, end)
	if err != nil {
		return nil, fmt.Errorf("load bars: %w", err)
	}
	stored = models.SortBars(stored)

	closedEnd := end
	if current := iv.Truncate(s.now().UTC()); current.Before(closedEnd) {
		closedEnd = current
	}

	series := &models.HistoricalSeries{Symbol: symbol, Interval: iv, Start: start, End: end}
	fetched, failures := s.backfill(ctx, symbol, iv, FindGaps(stored, iv, start, closedEnd))
	if len(fetched) > 0 {
		if _, err := s.repo.UpsertBars(ctx, fetched); err != nil {
			// bars are still served; the next read retries the write
			s.log.Error().Err(err).Str("symbol", symbol).Str("interval", iv.String()).Int("bars", len(fetched)).Msg("persist backfilled bars failed")
		}
	}

	series.Bars = models.SortBars(append(stored, fetched...))
	series.Backfilled = len(fetched)
	series.Gaps = failures
	if len(series.Bars) == 0 {
		return nil, &errs.InsufficientDataError{Required: 1, Available: 0}
	}
	return series, nil
}

// backfill fetches every gap chunk concurrently. A chunk failure never cancels
// its siblings; it becomes a GapFailure.
func (s *Store) backfill(ctx context.Context, symbol string, iv models.Interval, gaps []models.TimeRange) ([]models.OHLCVBar, []errs.GapFailure) {
	var chunks []models.TimeRange
	for _, g := range gaps {
		chunks = append(chunks, chunk(g, iv, s.opts.MaxBarsPerRequest)...)
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	results := make([][]models.OHLCVBar, len(chunks))
	failures := make([][]errs.GapFailure, len(chunks))

	var g errgroup.Group
	sem := make(chan struct{}, s.opts.BackfillConcurrency)
	for i, c := range chunks {
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			started := time.Now()

			cctx, cancel := s.chunkContext(ctx)
			defer cancel()

			bars, err := s.fetcher.FetchBars(cctx, symbol, iv, c.Start, c.End)
			if err != nil {
				s.metrics.Backfill("failed")
				s.log.Warn().Err(err).Str("symbol", symbol).Time("start", c.Start).Time("end", c.End).Msg("backfill chunk failed")
				failures[i] = []errs.GapFailure{{Start: c.Start, End: c.End, Reason: err.Error()}}
				return nil
			}

			bars = models.SortBars(bars)
			for _, hole := range FindGaps(bars, iv, c.Start, c.End) {
				failures[i] = append(failures[i], errs.GapFailure{Start: hole.Start, End: hole.End, Reason: "no source returned bars for this range"})
			}
			outcome := "success"
			if len(failures[i]) > 0 {
				outcome = "partial"
			}
			s.metrics.Backfill(outcome)
			s.log.Debug().Str("symbol", symbol).Str("interval", iv.String()).Int("bars", len(bars)).Dur("elapsed", time.Since(started)).Msg("backfill chunk done")
			results[i] = bars
			return nil
		})
	}
	_ = g.Wait()

	var fetched []models.OHLCVBar
	var failed []errs.GapFailure
	for i := range chunks {
		fetched = append(fetched, results[i]...)
		failed = append(failed, failures[i]...)
	}
	return fetched, mergeFailures(failed)
}

func (s *Store) chunkContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.BackfillTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.BackfillTimeout)
	}
	return context.WithCancel(ctx)
}

// mergeFailures joins adjacent failures with the same reason.
func mergeFailures(in []errs.GapFailure) []errs.GapFailure {
	var out []errs.GapFailure
	for _, f := range in {
		if n := len(out); n > 0 && out[n-1].End.Equal(f.Start) && out[n-1].Reason == f.Reason {
			out[n-1].End = f.End
			continue
		}
		out = append(out, f)
	}
	return out
}

// BackfillResult is the per-symbol outcome of a bulk backfill.
type BackfillResult struct {
	Symbol     string
	Bars       int
	Backfilled int
	Gaps       int
	Err        error
}

// Backfill warms history for every symbol over the trailing lookback window.
// Symbols are normalized first; an invalid one is reported in its result and
// skipped. Symbols are processed concurrently; one symbol failing does not stop
// the others.
func (s *Store) Backfill(ctx context.Context, symbols []string, iv models.Interval, lookback time.Duration) ([]BackfillResult, error) {
	end := s.now().UTC()
	start := end.Add(-lookback)

	results := make([]BackfillResult, len(symbols))
	var g errgroup.Group
	sem := make(chan struct{}, s.opts.BackfillConcurrency)
	for i, raw := range symbols {
		sym, err := models.NormalizeSymbol(raw)
		if err != nil {
			results[i] = BackfillResult{Symbol: raw, Err: err}
			continue
		}
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			res := BackfillResult{Symbol: sym}
			series, err := s.GetRange(ctx, sym, iv, start, end)
			if err != nil {
				res.Err = err
			} else {
				res.Bars, res.Backfilled, res.Gaps = len(series.Bars), series.Backfilled, len(series.Gaps)
			}
			s.log.Info().Str("symbol", sym).Int("bars", res.Bars).Int("backfilled", res.Backfilled).Int("gaps", res.Gaps).Err(res.Err).Msg("backfill done")
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	var errList []error
	for _, r := range results {
		if r.Err != nil {
			errList = append(errList, fmt.Errorf("%s: %w", r.Symbol, r.Err))
		}
	}
	return results, errors.Join(errList...)
}

// Cleanup deletes bars older than the retention window.
func (s *Store) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, errs.Invalid("retention", "must be positive, got %s", retention)
	}
	cutoff := s.now().UTC().Add(-retention)
	n, err := s.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup bars: %w", err)
	}
	s.log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("history cleanup")
	return n, nil
}

// Stats summarizes stored history.
func (s *Store) Stats(ctx context.Context) (*models.DataStats, error) {
	return s.repo.Stats(ctx)
}

// Ping checks the underlying database.
func (s *Store) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}
