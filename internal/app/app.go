package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/guttosm/coinpulse/config"
	"github.com/guttosm/coinpulse/internal/aggregator"
	"github.com/guttosm/coinpulse/internal/analysis"
	"github.com/guttosm/coinpulse/internal/api"
	"github.com/guttosm/coinpulse/internal/cache"
	"github.com/guttosm/coinpulse/internal/history"
	"github.com/guttosm/coinpulse/internal/logger"
	"github.com/guttosm/coinpulse/internal/metrics"
	"github.com/guttosm/coinpulse/internal/retry"
	"github.com/guttosm/coinpulse/internal/router"
	"github.com/guttosm/coinpulse/internal/scheduler"
	"github.com/guttosm/coinpulse/internal/service"
	"github.com/guttosm/coinpulse/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Container holds every wired component. The api mode serves Router; the
// backfill and cleanup modes drive History and L3 directly.
type Container struct {
	Router     *gin.Engine
	Service    service.MarketService
	History    *history.Store
	Aggregator *aggregator.Aggregator
	Scheduler  *scheduler.Scheduler // nil when SCHEDULER_ENABLED is false
	L3         *cache.SQLite        // nil when CACHE_L3_PATH is empty

	closers []func()
}

// Close releases the database, Redis and SQLite handles in reverse order.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Build wires the whole pipeline from cfg.
//
// Responsibilities:
//   - Connects to PostgreSQL using postgresOpener() and applies migrations when enabled.
//   - Builds the cache tiers: in-process LRU, Redis (optional) and SQLite (optional).
//   - Instantiates the enabled providers behind the health router and retry policy.
//   - Creates the aggregator, history store, analyzer and market service.
//   - Configures the Gin router, readiness checks and /metrics.
//   - Creates the scheduler (not started).
//
// On error every resource opened so far is closed.
func Build(cfg config.Config) (_ *Container, err error) {
	log := logger.With("app")
	c := &Container{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	// Connect to PostgreSQL
	// indirection for unit testing
	db, err := postgresOpener(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}
	c.closers = append(c.closers, func() { _ = db.Close() })

	if cfg.Postgres.AutoMigrate {
		if err := migrator(db); err != nil {
			return nil, fmt.Errorf("failed to migrate postgres: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Cache tiers, fastest first
	mem, err := cache.NewMemory(cfg.Cache.L1Size, cfg.Cache.L1TTL)
	if err != nil {
		return nil, err
	}
	tiers := []cache.Tier{mem}
	checks := map[string]api.Check{}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		c.closers = append(c.closers, func() { _ = client.Close() })
		l2 := cache.NewRedis(client, cfg.Cache.L2TTL)
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if perr := l2.Ping(pingCtx); perr != nil {
			log.Warn().Err(perr).Str("addr", cfg.Redis.Addr).Msg("redis unreachable, l2 will report errors until it recovers")
		}
		cancel()
		tiers = append(tiers, l2)
		checks["redis"] = l2.Ping
	}

	if cfg.Cache.L3Path != "" {
		l3, err := cache.OpenSQLite(cfg.Cache.L3Path, cfg.Cache.L3TTL)
		if err != nil {
			return nil, fmt.Errorf("failed to open l3 cache: %w", err)
		}
		c.closers = append(c.closers, func() { _ = l3.Close() })
		c.L3 = l3
		tiers = append(tiers, l3)
		checks["l3"] = l3.Ping
	}

	mc, err := cache.NewMultiTier(tiers, cache.WithMetrics(m))
	if err != nil {
		return nil, err
	}

	// Sources, health routing and retries
	regs, err := buildSources(cfg.Providers)
	if err != nil {
		return nil, err
	}
	rt := router.New(regs, router.ThresholdsFromConfig(cfg.Router), router.WithMetrics(m))
	policy, err := retry.FromConfig(cfg.Retry, retry.WithMetrics(m))
	if err != nil {
		return nil, err
	}
	c.Aggregator = aggregator.New(rt, policy, aggregator.OptionsFromConfig(cfg.Aggregator), aggregator.WithMetrics(m))

	// Durable history and analysis
	repo := storage.NewBarsRepository(db)
	checks["postgres"] = repo.Ping
	c.History = history.New(repo, c.Aggregator, history.OptionsFromConfig(cfg.History), history.WithMetrics(m))
	analyzer := analysis.New(c.History, analysis.WithMetrics(m), analysis.WithWindow(analysis.WindowFromConfig(cfg.Analysis)))

	c.Service = service.NewMarketService(service.Deps{
		Quotes:     c.Aggregator,
		History:    c.History,
		Indicators: analyzer,
		Health:     rt,
		Cache:      mc,
	}, service.TTLsFromConfig(cfg.Cache))

	// HTTP layer
	c.Router = api.NewRouter(api.NewHandler(c.Service), api.RouterOptions{
		RequestTimeout: cfg.Server.RequestTimeout,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	api.NewHealthHandler(checks).Register(c.Router)

	if cfg.Scheduler.Enabled {
		jobs := scheduler.Jobs{Overview: c.Service, Prober: c.Aggregator, History: c.History}
		if c.L3 != nil {
			jobs.Purger = c.L3
		}
		c.Scheduler = scheduler.New(jobs, scheduler.SettingsFromConfig(cfg.Scheduler, cfg.History, cfg.Analysis))
		if err := c.Scheduler.RegisterAll(cfg.Scheduler); err != nil {
			return nil, err
		}
	}

	log.Info().Strs("cache_tiers", mc.Tiers()).Int("sources", len(regs)).Msg("application wired")
	return c, nil
}

// InitializeApp sets up all application dependencies and returns
// a fully configured Gin router, a cleanup function for graceful shutdown,
// and any error encountered during initialization.
//
// The scheduler, when enabled, is started here and stopped by cleanup.
//
// Returns:
//   - *gin.Engine: the configured Gin HTTP router.
//   - func(): cleanup function to be executed on shutdown.
//   - error: any initialization error that occurred.
func InitializeApp() (*gin.Engine, func(), error) {
	// Load global configuration
	c, err := Build(config.AppConfig)
	if err != nil {
		return nil, nil, err
	}

	if c.Scheduler != nil {
		c.Scheduler.Start()
	}

	// Cleanup resources on shutdown
	cleanup := func() {
		if c.Scheduler != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			c.Scheduler.Stop(ctx)
			cancel()
		}
		c.Close()
	}

	return c.Router, cleanup, nil
}
