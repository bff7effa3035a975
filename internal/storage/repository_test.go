package storage

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/guttosm/coinpulse/internal/domain/models"
)

type dummyErr struct{}

func (dummyErr) Error() string { return "dummy" }

func newMockRepo(t *testing.T) (*barsRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	repo := &barsRepository{db: db}
	cleanup := func() { _ = db.Close() }
	return repo, mock, cleanup
}

var t0 = time.Date(2025, 9, 17, 0, 0, 0, 0, time.UTC)

func bar(h int, close float64) models.OHLCVBar {
	return models.OHLCVBar{
		Symbol: "ETH/USDT", Interval: models.Interval1h, Time: t0.Add(time.Duration(h) * time.Hour),
		Open: close, High: close + 1, Low: close - 1, Close: close, Volume: 5, Source: "binance",
	}
}

func expectStage(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL synchronous_commit = OFF")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TEMP TABLE ohlcv_bars_stage")).WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpsertBars_SQLMock(t *testing.T) {
	repo, mock, done := newMockRepo(t)
	defer done()

	expectStage(mock)
	// pq.CopyIn is driver specific; sqlmock sees it as a prepared statement
	// followed by one Exec per row and a final flushing Exec().
	prep := mock.ExpectPrepare(".*")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))     // row 1
	mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 1)) // row 2 (duplicate collapsed)
	mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0)) // final Exec()
	mock.ExpectExec(`INSERT INTO ohlcv_bars .* ON CONFLICT \(symbol, "interval", bar_time\)`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	n, err := repo.UpsertBars(context.Background(), []models.OHLCVBar{bar(0, 10), bar(1, 11), bar(0, 12)})
	if err != nil {
		t.Fatalf("UpsertBars: %v", err)
	}
	if n != 2 {
		t.Fatalf("rows affected=%d want 2", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpsertBars_Empty(t *testing.T) {
	repo, mock, done := newMockRepo(t)
	defer done()

	n, err := repo.UpsertBars(context.Background(), nil)
	if err != nil || n != 0 {
		t.Fatalf("want 0,nil got %d,%v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected db calls: %v", err)
	}
}

func TestUpsertBars_ErrorOnBegin(t *testing.T) {
	repo, mock, done := newMockRepo(t)
	defer done()

	mock.ExpectBegin().WillReturnError(dummyErr{})
	if _, err := repo.UpsertBars(context.Background(), []models.OHLCVBar{bar(0, 1)}); err == nil {
		t.Fatalf("expected error on begin")
	}
}

func TestUpsertBars_ErrorOnRowExec(t *testing.T) {
	repo, mock, done := newMockRepo(t)
	defer done()

	expectStage(mock)
	prep := mock.ExpectPrepare(".*")
	prep.ExpectExec().WillReturnError(dummyErr{})
	mock.ExpectRollback()

	if _, err := repo.UpsertBars(context.Background(), []models.OHLCVBar{bar(0, 1)}); err == nil {
		t.Fatalf("expected error on row exec")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpsertBars_ErrorOnMerge(t *testing.T) {
	repo, mock, done := newMockRepo(t)
	defer done()

	expectStage(mock)
	prep := mock.ExpectPrepare(".*")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO ohlcv_bars").WillReturnError(dummyErr{})
	mock.ExpectRollback()

	if _, err := repo.UpsertBars(context.Background(), []models.OHLCVBar{bar(0, 1)}); err == nil {
		t.Fatalf("expected error on merge")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetBars_SQLMock(t *testing.T) {
	repo, mock, done := newMockRepo(t)
	defer done()

	rows := sqlmock.NewRows([]string{"bar_time", "open", "high", "low", "close", "volume", "source"}).
		AddRow(t0, 10.0, 11.0, 9.0, 10.5, 3.0, "okx").
		AddRow(t0.Add(time.Hour), 10.5, 12.0, 10.0, 11.0, 4.0, "binance")
	mock.ExpectQuery(`SELECT bar_time, open, high, low, close, volume, source\s+FROM ohlcv_bars`).
		WithArgs("ETH/USDT", "1h", t0, t0.Add(2*time.Hour)).
		WillReturnRows(rows)

	bars, err := repo.GetBars(context.Background(), "ETH/USDT", models.Interval1h, t0, t0.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("GetBars: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("len=%d want 2", len(bars))
	}
	if bars[1].Source != "binance" || bars[1].Symbol != "ETH/USDT" || bars[1].Interval != models.Interval1h {
		t.Fatalf("unexpected bar %+v", bars[1])
	}
	if err := bars[0].Validate(); err != nil {
		t.Fatalf("scanned bar invalid: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteBefore_SQLMock(t *testing.T) {
	repo, mock, done := newMockRepo(t)
	defer done()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM ohlcv_bars WHERE bar_time < $1")).
		WithArgs(t0).WillReturnResult(sqlmock.NewResult(0, 7))
	n, err := repo.DeleteBefore(context.Background(), t0)
	if err != nil || n != 7 {
		t.Fatalf("DeleteBefore: n=%d err=%v", n, err)
	}
}

func TestStats_SQLMock(t *testing.T) {
	repo, mock, done := newMockRepo(t)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*), MIN(bar_time), MAX(bar_time) FROM ohlcv_bars")).
		WillReturnRows(sqlmock.NewRows([]string{"count", "min", "max"}).AddRow(int64(3), t0, t0.Add(2*time.Hour)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT symbol, COUNT(*) FROM ohlcv_bars GROUP BY symbol")).
		WillReturnRows(sqlmock.NewRows([]string{"symbol", "count"}).AddRow("BTC/USDT", int64(2)).AddRow("ETH/USDT", int64(1)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT source, COUNT(*) FROM ohlcv_bars GROUP BY source")).
		WillReturnRows(sqlmock.NewRows([]string{"source", "count"}).AddRow("binance", int64(3)))

	stats, err := repo.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalBars != 3 || stats.BySymbol["BTC/USDT"] != 2 || stats.BySource["binance"] != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.Oldest == nil || !stats.Oldest.Equal(t0) {
		t.Fatalf("oldest=%v want %v", stats.Oldest, t0)
	}
}

func TestStats_EmptyTable(t *testing.T) {
	repo, mock, done := newMockRepo(t)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*), MIN(bar_time), MAX(bar_time) FROM ohlcv_bars")).
		WillReturnRows(sqlmock.NewRows([]string{"count", "min", "max"}).AddRow(int64(0), nil, nil))
	mock.ExpectQuery("GROUP BY symbol").WillReturnRows(sqlmock.NewRows([]string{"symbol", "count"}))
	mock.ExpectQuery("GROUP BY source").WillReturnRows(sqlmock.NewRows([]string{"source", "count"}))

	stats, err := repo.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalBars != 0 || stats.Oldest != nil || stats.Newest != nil {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestNewBarsRepository_Construct(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer func() { _ = db.Close() }()
	if r := NewBarsRepository(db); r == nil {
		t.Fatalf("expected non-nil repository")
	}
}
