package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/guttosm/coinpulse/internal/domain/models"
	pq "github.com/lib/pq"
)

// BarsRepository defines contract for DB operations on OHLCV history.
type BarsRepository interface {
	UpsertBars(ctx context.Context, bars []models.OHLCVBar) (int64, error)
	GetBars(ctx context.Context, symbol string, iv models.Interval, start, end time.Time) ([]models.OHLCVBar, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Stats(ctx context.Context) (*models.DataStats, error)
	Ping(ctx context.Context) error
}

type barsRepository struct {
	db *sql.DB
}

func NewBarsRepository(db *sql.DB) BarsRepository {
	return &barsRepository{db: db}
}

// UpsertBars writes bars idempotently on (symbol, interval, bar_time).
//
// Behavior:
//   - Bars are COPY-loaded into a transaction-scoped staging table, then merged
//     with INSERT ... ON CONFLICT DO UPDATE, so overlapping backfills converge.
//   - Duplicate timestamps inside one call keep the last occurrence.
//
// Returns the number of rows inserted or updated.
func (r *barsRepository) UpsertBars(ctx context.Context, bars []models.OHLCVBar) (int64, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	bars = dedupe(bars)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	// Small optimization for bulk load
	if _, err := tx.ExecContext(ctx, `SET LOCAL synchronous_commit = OFF`); err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `CREATE TEMP TABLE ohlcv_bars_stage (LIKE ohlcv_bars INCLUDING DEFAULTS) ON COMMIT DROP`); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("create stage: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(
		"ohlcv_bars_stage",
		"symbol",
		"interval",
		"bar_time",
		"open",
		"high",
		"low",
		"close",
		"volume",
		"source",
	))
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx,
			b.Symbol,
			string(b.Interval),
			b.Time.UTC(),
			b.Open,
			b.High,
			b.Low,
			b.Close,
			b.Volume,
			b.Source,
		); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return 0, err
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		_ = tx.Rollback()
		return 0, err
	}
	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO ohlcv_bars (symbol, "interval", bar_time, open, high, low, close, volume, source)
		SELECT symbol, "interval", bar_time, open, high, low, close, volume, source FROM ohlcv_bars_stage
		ON CONFLICT (symbol, "interval", bar_time)
		DO UPDATE SET open = EXCLUDED.open,
					  high = EXCLUDED.high,
					  low = EXCLUDED.low,
					  close = EXCLUDED.close,
					  volume = EXCLUDED.volume,
					  source = EXCLUDED.source,
					  ingested_at = NOW()
	`)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("merge stage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// GetBars returns stored bars in [start, end) ordered by time.
func (r *barsRepository) GetBars(ctx context.Context, symbol string, iv models.Interval, start, end time.Time) ([]models.OHLCVBar, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT bar_time, open, high, low, close, volume, source
		FROM ohlcv_bars
		WHERE symbol = $1 AND "interval" = $2 AND bar_time >= $3 AND bar_time < $4
		ORDER BY bar_time
	`, symbol, string(iv), start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.OHLCVBar
	for rows.Next() {
		b := models.OHLCVBar{Symbol: symbol, Interval: iv}
		if err := rows.Scan(&b.Time, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Source); err != nil {
			return nil, err
		}
		b.Time = b.Time.UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteBefore removes bars older than cutoff and returns how many were removed.
func (r *barsRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM ohlcv_bars WHERE bar_time < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Stats summarizes stored history. An empty table yields zero counts and nil bounds.
func (r *barsRepository) Stats(ctx context.Context) (*models.DataStats, error) {
	stats := &models.DataStats{BySymbol: map[string]int64{}, BySource: map[string]int64{}}

	var oldest, newest sql.NullTime
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*), MIN(bar_time), MAX(bar_time) FROM ohlcv_bars`).
		Scan(&stats.TotalBars, &oldest, &newest)
	if err != nil {
		return nil, err
	}
	if oldest.Valid {
		t := oldest.Time.UTC()
		stats.Oldest = &t
	}
	if newest.Valid {
		t := newest.Time.UTC()
		stats.Newest = &t
	}

	if err := r.countBy(ctx, "symbol", stats.BySymbol); err != nil {
		return nil, err
	}
	if err := r.countBy(ctx, "source", stats.BySource); err != nil {
		return nil, err
	}
	return stats, nil
}

// countBy fills into with per-value row counts. column is a fixed identifier, never user input.
func (r *barsRepository) countBy(ctx context.Context, column string, into map[string]int64) error {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s, COUNT(*) FROM ohlcv_bars GROUP BY %s`, column, column))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			key string
			n   int64
		)
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}

func (r *barsRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func dedupe(bars []models.OHLCVBar) []models.OHLCVBar {
	type key struct {
		symbol string
		iv     models.Interval
		t      int64
	}
	idx := make(map[key]int, len(bars))
	out := make([]models.OHLCVBar, 0, len(bars))
	for _, b := range bars {
		k := key{b.Symbol, b.Interval, b.Time.UnixNano()}
		if i, ok := idx[k]; ok {
			out[i] = b
			continue
		}
		idx[k] = len(out)
		out = append(out, b)
	}
	return out
}
