package app

import (
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/guttosm/coinpulse/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testConfig is a minimal valid configuration with Redis and L3 disabled.
func testConfig() config.Config {
	class := config.RetryClassConfig{MaxAttempts: 1, Backoff: "fixed"}
	return config.Config{
		Server: config.ServerConfig{Port: "0", RequestTimeout: time.Second},
		Cache: config.CacheConfig{
			L1Size: 16, L1TTL: time.Minute, L2TTL: time.Hour, L3TTL: 24 * time.Hour,
			QuoteTTL: time.Minute, OverviewTTL: 30 * time.Second, HistoryTTL: time.Hour, IndicatorTTL: 10 * time.Minute,
		},
		Router: config.RouterConfig{DegradeAfter: 3, DownAfter: 5, CooldownBase: 30 * time.Second, CooldownMax: 10 * time.Minute},
		Retry:  config.RetryConfig{Network: class, RateLimit: class, Server: class},
		Aggregator: config.AggregatorConfig{
			FanOutConcurrency: 2, TaskTimeout: time.Second, OverviewDeadline: 2 * time.Second, QuoteDeadline: 3 * time.Second,
		},
		History:  config.HistoryConfig{BackfillConcurrency: 2, BackfillTimeout: time.Second, MaxBarsPerRequest: 500, RetentionDays: 90},
		Analysis: config.AnalysisConfig{Interval: "1h", LookbackDays: 30},
		Providers: config.ProvidersConfig{
			Enabled: []string{"binance", "okx"},
			Binance: config.ProviderConfig{BaseURL: "http://127.0.0.1:1", Priority: 1, RateLimit: 10, Timeout: time.Second},
			OKX:     config.ProviderConfig{BaseURL: "http://127.0.0.1:1", Priority: 2, Timeout: time.Second},
		},
		Scheduler: config.SchedulerConfig{
			Watchlist: []string{"BTC/USDT"}, ProbeSymbol: "BTC/USDT",
			BackfillSpec: "@hourly", CleanupSpec: "@daily", BackfillLookback: 48 * time.Hour,
		},
	}
}

// withMockDB overrides postgresOpener and migrator for the duration of the test.
func withMockDB(t *testing.T) sqlmock.Sqlmock {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	oldOpener, oldMigrator := postgresOpener, migrator
	postgresOpener = func(cfg config.Config) (*sql.DB, error) { return db, nil }
	migrator = func(*sql.DB) error { return nil }
	t.Cleanup(func() {
		postgresOpener, migrator = oldOpener, oldMigrator
		_ = db.Close()
	})
	return mock
}

// TestInitPostgres_InvalidHost expects ping failure.
func TestInitPostgres_InvalidHost(t *testing.T) {
	cfg := config.Config{Postgres: config.PostgresConfig{
		Host:     "127.0.0.1",
		Port:     54329, // unlikely mapped
		User:     "x",
		Password: "y",
		DBName:   "z",
		SSLMode:  "disable",
	}}
	db, err := InitPostgres(cfg)
	if err == nil {
		_ = db.Close()
		t.Fatalf("expected error connecting to invalid DB")
	}
}

// TestInitializeApp_DBFailure ensures InitializeApp returns error when DB cannot connect.
func TestInitializeApp_DBFailure(t *testing.T) {
	// Backup and override global config
	old := config.AppConfig
	t.Cleanup(func() { config.AppConfig = old })
	config.AppConfig = testConfig()
	config.AppConfig.Postgres = config.PostgresConfig{
		Host:     "127.0.0.1",
		Port:     54329,
		User:     "x",
		Password: "y",
		DBName:   "z",
		SSLMode:  "disable",
	}

	r, cleanup, err := InitializeApp()
	if err == nil || r != nil || cleanup != nil {
		if cleanup != nil {
			cleanup()
		}
		t.Fatalf("expected error from InitializeApp with invalid DB config")
	}
}

func TestInitializeApp_HappyPath(t *testing.T) {
	mock := withMockDB(t)

	old := config.AppConfig
	t.Cleanup(func() { config.AppConfig = old })
	config.AppConfig = testConfig()
	config.AppConfig.Scheduler.Enabled = true

	router, cleanup, err := InitializeApp()
	if err != nil || router == nil || cleanup == nil {
		t.Fatalf("InitializeApp failed: %v", err)
	}

	// Hit health endpoints
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/symbols", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")

	// Call cleanup and ensure it doesn't panic
	cleanup()

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuild_AllTiers(t *testing.T) {
	withMockDB(t)
	mr := miniredis.RunT(t)

	cfg := testConfig()
	cfg.Redis.Addr = mr.Addr()
	cfg.Cache.L3Path = filepath.Join(t.TempDir(), "cache.db")
	cfg.Scheduler.Enabled = true

	c, err := Build(cfg)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	require.NotNil(t, c.L3)
	require.NotNil(t, c.Scheduler)
	assert.NotNil(t, c.History)
	assert.Len(t, c.Service.Sources(), 2)

	w := httptest.NewRecorder()
	c.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	mr.Close()
	w = httptest.NewRecorder()
	c.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "redis")
}

func TestBuild_Errors(t *testing.T) {
	t.Run("migration failure", func(t *testing.T) {
		withMockDB(t)
		migrator = func(*sql.DB) error { return errors.New("dirty schema") }
		cfg := testConfig()
		cfg.Postgres.AutoMigrate = true
		_, err := Build(cfg)
		assert.ErrorContains(t, err, "dirty schema")
	})

	t.Run("no providers", func(t *testing.T) {
		withMockDB(t)
		cfg := testConfig()
		cfg.Providers.Enabled = nil
		_, err := Build(cfg)
		assert.ErrorContains(t, err, "no providers")
	})

	t.Run("tier ceilings do not nest", func(t *testing.T) {
		withMockDB(t)
		cfg := testConfig()
		cfg.Cache.L3Path = filepath.Join(t.TempDir(), "cache.db")
		cfg.Cache.L3TTL = time.Second
		_, err := Build(cfg)
		assert.Error(t, err)
	})

	t.Run("bad cron spec", func(t *testing.T) {
		withMockDB(t)
		cfg := testConfig()
		cfg.Scheduler.Enabled = true
		cfg.Scheduler.CleanupSpec = "whenever"
		_, err := Build(cfg)
		assert.ErrorContains(t, err, "cleanup")
	})
}
