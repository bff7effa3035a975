package main

//
//  @title           coinpulse API
//  @version         1.0
//  @description     Crypto market data service: multi-source quotes, cached history and technical indicators.
//  @termsOfService  https://github.com/guttosm/coinpulse
//  @contact.name    API Support
//  @contact.url     https://github.com/guttosm/coinpulse
//  @contact.email   support@example.com
//  @license.name    MIT
//  @license.url     https://opensource.org/licenses/MIT
//  @host            localhost:8080
//  @BasePath        /
//  @schemes         http
//
//  @tag.name        market
//  @tag.description Live quotes and market overview
//
//  @tag.name        history
//  @tag.description Stored OHLCV history with gap backfill
//
//  @tag.name        analysis
//  @tag.description Technical indicators and signals
//
//  @tag.name        ops
//  @tag.description Source health and storage statistics
//
//  @tag.name        health
//  @tag.description Liveness and readiness probes

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/guttosm/coinpulse/config"
	_ "github.com/guttosm/coinpulse/docs" // swagger docs
	"github.com/guttosm/coinpulse/internal/app"
	"github.com/guttosm/coinpulse/internal/domain/models"
	"github.com/guttosm/coinpulse/internal/history"
	"github.com/guttosm/coinpulse/internal/logger"
)

// startServer initializes and starts the HTTP server in a separate goroutine.
//
// Parameters:
//   - router (http.Handler): The HTTP router (Gin Engine) configured with all routes.
//   - port (string): The port where the server will listen for incoming requests.
//
// Returns:
//   - *http.Server: The initialized HTTP server instance.
func startServer(router http.Handler, port string) *http.Server {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.L().Info().Str("port", port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L().Fatal().Err(err).Msg("server failed to start")
		}
	}()

	return server
}

// gracefulShutdown gracefully terminates the HTTP server and cleans up resources
// when an OS interrupt signal (SIGINT, SIGTERM) is received.
//
// Parameters:
//   - ctx (context.Context): A context with timeout for graceful shutdown.
//   - server (*http.Server): The HTTP server instance to shut down.
//   - cleanup (func()): Cleanup callback to stop the scheduler and release resources.
func gracefulShutdown(ctx context.Context, server *http.Server, cleanup func()) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	logger.L().Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.L().Fatal().Err(err).Msg("server forced to shutdown")
	}

	cleanup()
	logger.L().Info().Msg("server exited gracefully")
}

// backfiller is the part of the history store the backfill mode drives.
type backfiller interface {
	Backfill(ctx context.Context, symbols []string, iv models.Interval, lookback time.Duration) ([]history.BackfillResult, error)
}

// retainer trims stored history.
type retainer interface {
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

// purger drops expired durable cache entries.
type purger interface {
	Purge(ctx context.Context) (int64, error)
}

// runBackfill fills the last days of history for every symbol and logs
// a per-symbol summary. It fails only when every symbol failed.
func runBackfill(ctx context.Context, b backfiller, symbols []string, iv models.Interval, days int) error {
	results, err := b.Backfill(ctx, symbols, iv, time.Duration(days)*24*time.Hour)
	failed := 0
	for _, r := range results {
		ev := logger.L().Info()
		if r.Err != nil {
			failed++
			ev = logger.L().Warn().Err(r.Err)
		}
		ev.Str("symbol", r.Symbol).Int("bars", r.Bars).Int("backfilled", r.Backfilled).Int("gaps", r.Gaps).Msg("backfill result")
	}
	if err != nil && failed == len(results) {
		return err
	}
	return nil
}

// runCleanup applies history retention, then purges the durable cache when present.
func runCleanup(ctx context.Context, r retainer, p purger, days int) error {
	n, err := r.Cleanup(ctx, time.Duration(days)*24*time.Hour)
	if err != nil {
		return err
	}
	logger.L().Info().Int64("deleted", n).Int("retention_days", days).Msg("history cleanup completed")

	if p != nil {
		purged, err := p.Purge(ctx)
		if err != nil {
			return err
		}
		logger.L().Info().Int64("purged", purged).Msg("durable cache purged")
	}
	return nil
}

// main is the entry point of the coinpulse application.
//
// Modes (selected via --mode flag):
//   - api:      Starts the REST API and the background scheduler.
//   - backfill: Fills stored history for the watchlist (or --symbols) and exits.
//   - cleanup:  Deletes bars older than --days and purges the durable cache.
//
// Flags:
//   - --mode:     Execution mode ("api", "backfill" or "cleanup"). Default: "api".
//   - --days:     Backfill lookback or retention window in days. Default: 7 (backfill), 90 (cleanup).
//   - --interval: Bar interval for backfill. Default: ANALYSIS_INTERVAL.
//   - --symbols:  Comma separated symbols for backfill. Default: SCHEDULER_WATCHLIST.
//   - --port:     Port for the API server. Defaults to value from config (SERVER_PORT).
func main() {
	ctx := context.Background()

	// Load configuration from environment or .env file
	config.LoadConfig()

	// Initialize JSON logger
	logger.Init()

	// Parse CLI flags (override config defaults if provided)
	mode := flag.String("mode", "api", "Mode: api, backfill or cleanup")
	days := flag.Int("days", 0, "Backfill lookback / retention window in days (0 = mode default)")
	interval := flag.String("interval", config.AppConfig.Analysis.Interval, "Bar interval for backfill")
	symbols := flag.String("symbols", strings.Join(config.AppConfig.Scheduler.Watchlist, ","), "Comma separated symbols for backfill")
	port := flag.String("port", config.AppConfig.Server.Port, "Port for API mode")
	flag.Parse()

	switch *mode {
	case "api":
		// API mode: start the HTTP server
		logger.L().Info().Msg("starting API server")

		router, cleanup, err := app.InitializeApp()
		if err != nil {
			logger.L().Fatal().Err(err).Msg("app init error")
		}

		server := startServer(router, *port)
		gracefulShutdown(ctx, server, cleanup)

	case "backfill":
		if *days < 1 {
			*days = 7
		}
		iv, err := models.ParseInterval(*interval)
		if err != nil {
			logger.L().Fatal().Err(err).Str("interval", *interval).Msg("invalid interval")
		}

		cfg := config.AppConfig
		cfg.Scheduler.Enabled = false
		c, err := app.Build(cfg)
		if err != nil {
			logger.L().Fatal().Err(err).Msg("app init error")
		}
		defer c.Close()

		logger.L().Info().Int("days", *days).Str("interval", iv.String()).Msg("running backfill")
		if err := runBackfill(ctx, c.History, strings.Split(*symbols, ","), iv, *days); err != nil {
			c.Close()
			logger.L().Fatal().Err(err).Msg("backfill failed")
		}
		logger.L().Info().Msg("backfill completed")

	case "cleanup":
		if *days < 1 {
			*days = config.AppConfig.History.RetentionDays
		}

		cfg := config.AppConfig
		cfg.Scheduler.Enabled = false
		c, err := app.Build(cfg)
		if err != nil {
			logger.L().Fatal().Err(err).Msg("app init error")
		}
		defer c.Close()

		var p purger
		if c.L3 != nil {
			p = c.L3
		}
		if err := runCleanup(ctx, c.History, p, *days); err != nil {
			c.Close()
			logger.L().Fatal().Err(err).Msg("cleanup failed")
		}

	default:
		logger.L().Fatal().Str("mode", *mode).Msg("unknown mode")
	}
}
