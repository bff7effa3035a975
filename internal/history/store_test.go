package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/guttosm/coinpulse/internal/domain/errs"
	"github.com/guttosm/coinpulse/internal/domain/models"
	"github.com/guttosm/coinpulse/internal/source/sourcetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 9, 17, 0, 0, 0, 0, time.UTC)

// memRepo is an in-memory BarsRepository keyed like the ohlcv_bars primary key.
type memRepo struct {
	mu      sync.Mutex
	rows    map[string]models.OHLCVBar
	upserts int
	getErr  error
}

func newMemRepo(bars ...models.OHLCVBar) *memRepo {
	r := &memRepo{rows: map[string]models.OHLCVBar{}}
	_, _ = r.UpsertBars(context.Background(), bars)
	r.upserts = 0
	return r
}

func rowKey(b models.OHLCVBar) string {
	return b.Symbol + "|" + string(b.Interval) + "|" + b.Time.UTC().Format(time.RFC3339)
}

func (r *memRepo) UpsertBars(_ context.Context, bars []models.OHLCVBar) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts++
	for _, b := range bars {
		r.rows[rowKey(b)] = b
	}
	return int64(len(bars)), nil
}

func (r *memRepo) GetBars(_ context.Context, symbol string, iv models.Interval, start, end time.Time) ([]models.OHLCVBar, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	var out []models.OHLCVBar
	for _, b := range r.rows {
		if b.Symbol == symbol && b.Interval == iv && !b.Time.Before(start) && b.Time.Before(end) {
			out = append(out, b)
		}
	}
	return models.SortBars(out), nil
}

func (r *memRepo) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, b := range r.rows {
		if b.Time.Before(cutoff) {
			delete(r.rows, k)
			n++
		}
	}
	return n, nil
}

func (r *memRepo) Stats(context.Context) (*models.DataStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &models.DataStats{TotalBars: int64(len(r.rows)), BySymbol: map[string]int64{}, BySource: map[string]int64{}}
	for _, b := range r.rows {
		s.BySymbol[b.Symbol]++
		s.BySource[b.Source]++
	}
	return s, nil
}

func (r *memRepo) Ping(context.Context) error { return nil }

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func newStore(repo *memRepo, f BarFetcher, opts Options) *Store {
	return New(repo, f, opts, WithClock(func() time.Time { return t0.Add(48 * time.Hour) }))
}

func rangeFetcher(src string) *sourcetest.Fake {
	return &sourcetest.Fake{Name: src, BarsFn: func(_ context.Context, symbol string, iv models.Interval, s, e time.Time) ([]models.OHLCVBar, error) {
		return sourcetest.BarsInRange(symbol, iv, s, e, src), nil
	}}
}

func TestFindGaps(t *testing.T) {
	h := func(n int) time.Time { return t0.Add(time.Duration(n) * time.Hour) }
	bars := func(hours ...int) []models.OHLCVBar {
		var out []models.OHLCVBar
		for _, n := range hours {
			out = append(out, models.OHLCVBar{Time: h(n)})
		}
		return out
	}

	cases := []struct {
		name string
		bars []models.OHLCVBar
		want []models.TimeRange
	}{
		{name: "complete", bars: bars(0, 1, 2, 3), want: nil},
		{name: "empty", bars: nil, want: []models.TimeRange{{Start: h(0), End: h(4)}}},
		{name: "middle", bars: bars(0, 3), want: []models.TimeRange{{Start: h(1), End: h(3)}}},
		{name: "leading and trailing", bars: bars(1, 2), want: []models.TimeRange{{Start: h(0), End: h(1)}, {Start: h(3), End: h(4)}}},
		{name: "outside bars ignored", bars: bars(-1, 0, 1, 2, 3, 4), want: nil},
		{name: "duplicates", bars: bars(0, 0, 2, 3), want: []models.TimeRange{{Start: h(1), End: h(2)}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FindGaps(tc.bars, models.Interval1h, h(0), h(4)))
		})
	}
}

func TestChunk(t *testing.T) {
	r := models.TimeRange{Start: t0, End: t0.Add(5 * time.Hour)}
	got := chunk(r, models.Interval1h, 2)
	require.Len(t, got, 3)
	assert.Equal(t, t0.Add(4*time.Hour), got[2].Start)
	assert.Equal(t, r.End, got[2].End)
	assert.Equal(t, []models.TimeRange{r}, chunk(r, models.Interval1h, 0))
}

func TestGetRange_BackfillsOnlyTheMissingSegment(t *testing.T) {
	stored := append(
		sourcetest.BarsInRange("ETH/USDT", models.Interval1h, t0, t0.Add(4*time.Hour), "db"),
		sourcetest.BarsInRange("ETH/USDT", models.Interval1h, t0.Add(7*time.Hour), t0.Add(10*time.Hour), "db")...,
	)
	repo := newMemRepo(stored...)
	fetcher := rangeFetcher("okx")
	s := newStore(repo, fetcher, Options{BackfillConcurrency: 2, MaxBarsPerRequest: 1000})

	series, err := s.GetRange(context.Background(), "ETH/USDT", models.Interval1h, t0, t0.Add(10*time.Hour))
	require.NoError(t, err)

	calls := fetcher.BarsCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, t0.Add(4*time.Hour), calls[0].Start)
	assert.Equal(t, t0.Add(7*time.Hour), calls[0].End)

	require.Len(t, series.Bars, 10)
	assert.True(t, series.Complete())
	assert.Equal(t, 3, series.Backfilled)
	for i, b := range series.Bars {
		assert.Equal(t, t0.Add(time.Duration(i)*time.Hour), b.Time)
	}
	assert.Equal(t, 10, repo.count(), "backfilled bars are persisted")

	// second read is served entirely from storage
	_, err = s.GetRange(context.Background(), "ETH/USDT", models.Interval1h, t0, t0.Add(10*time.Hour))
	require.NoError(t, err)
	assert.Len(t, fetcher.BarsCalls(), 1)
}

func TestGetRange_UpsertIsIdempotent(t *testing.T) {
	repo := newMemRepo()
	s := newStore(repo, rangeFetcher("okx"), Options{})
	bars := sourcetest.BarsInRange("BTC/USDT", models.Interval1h, t0, t0.Add(3*time.Hour), "okx")

	_, err := repo.UpsertBars(context.Background(), bars)
	require.NoError(t, err)
	_, err = repo.UpsertBars(context.Background(), bars[:1])
	require.NoError(t, err)
	assert.Equal(t, 3, repo.count())

	series, err := s.GetRange(context.Background(), "BTC/USDT", models.Interval1h, t0, t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Len(t, series.Bars, 3)
}

func TestGetRange_FailedGapIsAnnotated(t *testing.T) {
	stored := sourcetest.BarsInRange("SOL/USDT", models.Interval1h, t0, t0.Add(2*time.Hour), "db")
	fetcher := &sourcetest.Fake{Name: "x", BarsFn: func(context.Context, string, models.Interval, time.Time, time.Time) ([]models.OHLCVBar, error) {
		return nil, &errs.AllSourcesUnavailableError{Symbol: "SOL/USDT"}
	}}
	s := newStore(newMemRepo(stored...), fetcher, Options{MaxBarsPerRequest: 2})

	series, err := s.GetRange(context.Background(), "SOL/USDT", models.Interval1h, t0, t0.Add(6*time.Hour))
	require.NoError(t, err)
	assert.Len(t, series.Bars, 2)
	assert.False(t, series.Complete())
	require.Len(t, series.Gaps, 1, "adjacent failed chunks with the same cause merge")
	assert.Equal(t, t0.Add(2*time.Hour), series.Gaps[0].Start)
	assert.Equal(t, t0.Add(6*time.Hour), series.Gaps[0].End)
	assert.Len(t, fetcher.BarsCalls(), 2)
}

func TestGetRange_PartialBatchLeavesHole(t *testing.T) {
	fetcher := &sourcetest.Fake{Name: "x", BarsFn: func(_ context.Context, symbol string, iv models.Interval, s, e time.Time) ([]models.OHLCVBar, error) {
		bars := sourcetest.BarsInRange(symbol, iv, s, e, "x")
		return append(bars[:1], bars[2:]...), nil
	}}
	s := newStore(newMemRepo(), fetcher, Options{})

	series, err := s.GetRange(context.Background(), "BTC/USDT", models.Interval1h, t0, t0.Add(4*time.Hour))
	require.NoError(t, err)
	assert.Len(t, series.Bars, 3)
	require.Len(t, series.Gaps, 1)
	assert.Equal(t, t0.Add(time.Hour), series.Gaps[0].Start)
	assert.Equal(t, t0.Add(2*time.Hour), series.Gaps[0].End)
}

func TestGetRange_InsufficientData(t *testing.T) {
	s := newStore(newMemRepo(), &sourcetest.Fake{Name: "empty"}, Options{})
	_, err := s.GetRange(context.Background(), "BTC/USDT", models.Interval1h, t0, t0.Add(2*time.Hour))
	var insufficient *errs.InsufficientDataError
	assert.ErrorAs(t, err, &insufficient)
}

func TestGetRange_DoesNotBackfillOpenBar(t *testing.T) {
	fetcher := rangeFetcher("okx")
	now := t0.Add(90 * time.Minute)
	s := New(newMemRepo(), fetcher, Options{}, WithClock(func() time.Time { return now }))

	series, err := s.GetRange(context.Background(), "BTC/USDT", models.Interval1h, t0, t0.Add(5*time.Hour))
	require.NoError(t, err)
	calls := fetcher.BarsCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, t0.Add(time.Hour), calls[0].End)
	assert.Len(t, series.Bars, 1)
}

func TestGetRange_Validation(t *testing.T) {
	s := newStore(newMemRepo(), rangeFetcher("x"), Options{})
	_, err := s.GetRange(context.Background(), "BTC/USDT", models.Interval("3h"), t0, t0.Add(time.Hour))
	assert.Equal(t, errs.ClassValidation, errs.ClassOf(err))
	_, err = s.GetRange(context.Background(), "BTC/USDT", models.Interval1h, t0.Add(time.Hour), t0)
	assert.Equal(t, errs.ClassValidation, errs.ClassOf(err))
}

func TestGetRange_RepositoryError(t *testing.T) {
	repo := newMemRepo()
	repo.getErr = errors.New("db down")
	s := newStore(repo, rangeFetcher("x"), Options{})
	_, err := s.GetRange(context.Background(), "BTC/USDT", models.Interval1h, t0, t0.Add(time.Hour))
	assert.ErrorContains(t, err, "db down")
}

func TestBackfillCleanupAndStats(t *testing.T) {
	repo := newMemRepo()
	s := newStore(repo, rangeFetcher("okx"), Options{BackfillConcurrency: 2})

	results, err := s.Backfill(context.Background(), []string{"BTC/USDT", "ETH/USDT"}, models.Interval1h, 6*time.Hour)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, 6, r.Backfilled, r.Symbol)
	}

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), stats.TotalBars)
	assert.Equal(t, int64(12), stats.BySource["okx"])

	n, err := s.Cleanup(context.Background(), 3*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	_, err = s.Cleanup(context.Background(), 0)
	assert.Error(t, err)
}

func TestBackfill_NormalizesSymbols(t *testing.T) {
	repo := newMemRepo()
	s := newStore(repo, rangeFetcher("binance"), Options{BackfillConcurrency: 2})
	ctx := context.Background()

	results, err := s.Backfill(ctx, []string{"btc", " eth-usdt ", "$$"}, models.Interval1h, 5*time.Hour)
	var invalid *errs.ValidationError
	require.ErrorAs(t, err, &invalid)
	require.Len(t, results, 3)
	assert.Equal(t, 5, results[0].Backfilled)
	assert.Equal(t, 5, results[1].Backfilled)
	assert.Error(t, results[2].Err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.BySymbol["BTC/USDT"])
	assert.Equal(t, int64(5), stats.BySymbol["ETH/USDT"])
	assert.Zero(t, stats.BySymbol["btc"])

	// the canonical read sees the backfilled bars without refetching
	series, err := s.GetRange(ctx, "BTC/USDT", models.Interval1h, t0.Add(43*time.Hour), t0.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT", series.Symbol)
	assert.Len(t, series.Bars, 5)
	assert.Zero(t, series.Backfilled)
}
