package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full application configuration loaded from environment variables or .env file.
//
// It is composed of smaller structs, one per concern of the pipeline: HTTP server,
// durable history store, cache tiers, source routing, retry classes, aggregation,
// analysis defaults, providers and scheduled jobs.
//
// Example ENV:
//
//	SERVER_PORT=8080
//	POSTGRES_HOST=localhost
//	REDIS_ADDR=localhost:6379
//	CACHE_L1_TTL=60s
//	PROVIDERS_ENABLED=binance,okx,coingecko
type Config struct {
	Server     ServerConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Cache      CacheConfig
	Router     RouterConfig
	Retry      RetryConfig
	Aggregator AggregatorConfig
	History    HistoryConfig
	Analysis   AnalysisConfig
	Providers  ProvidersConfig
	Scheduler  SchedulerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           string        // TCP port the HTTP server listens on (e.g., "8080")
	RequestTimeout time.Duration // per-request deadline applied by the router middleware
	RateLimitRPS   float64       // per client IP
	RateLimitBurst int
}

// PostgresConfig defines connection details for PostgreSQL.
//
// Fields:
//   - Host, Port, User, Password, DBName, SSLMode: connection settings.
//   - URL: computed DSN used by database/sql to connect.
//   - AutoMigrate: run embedded goose migrations on startup.
type PostgresConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	URL         string
	AutoMigrate bool
}

// RedisConfig points at the shared L2 cache tier. An empty Addr disables L2.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CacheConfig sets per-tier TTL ceilings and the per-operation TTLs requested by the service.
//
// Tier ceilings must nest: L1TTL <= L2TTL <= L3TTL.
type CacheConfig struct {
	L1Size int
	L1TTL  time.Duration
	L2TTL  time.Duration
	L3TTL  time.Duration
	L3Path string // SQLite file; empty disables L3

	QuoteTTL     time.Duration
	OverviewTTL  time.Duration
	HistoryTTL   time.Duration
	IndicatorTTL time.Duration
}

// RouterConfig drives the per-adapter health state machine.
type RouterConfig struct {
	DegradeAfter int           // k consecutive failures -> Degraded
	DownAfter    int           // m consecutive failures -> Down
	CooldownBase time.Duration // first Down cooldown
	CooldownMax  time.Duration // cap for exponential cooldown growth
}

// RetryClassConfig is the policy for one error class.
type RetryClassConfig struct {
	MaxAttempts int
	Backoff     string // fixed | linear | exponential
	BaseDelay   time.Duration
	Jitter      time.Duration
}

// RetryConfig maps error classes to their retry policy. Validation is never retried.
type RetryConfig struct {
	Network   RetryClassConfig
	RateLimit RetryClassConfig
	Server    RetryClassConfig
}

// AggregatorConfig bounds fan-out work.
type AggregatorConfig struct {
	FanOutConcurrency int
	TaskTimeout       time.Duration
	OverviewDeadline  time.Duration
	QuoteDeadline     time.Duration
	ClockSkew         time.Duration
}

// HistoryConfig controls backfill and retention.
type HistoryConfig struct {
	BackfillConcurrency int
	BackfillTimeout     time.Duration
	MaxBarsPerRequest   int
	RetentionDays       int
}

// AnalysisConfig holds the default analysis window.
type AnalysisConfig struct {
	Interval     string
	LookbackDays int
}

// ProviderConfig configures one upstream adapter.
type ProviderConfig struct {
	BaseURL   string
	Priority  int
	RateLimit float64 // requests per second; 0 disables local limiting
	Timeout   time.Duration
}

// ProvidersConfig lists enabled adapters and their settings.
type ProvidersConfig struct {
	Enabled   []string
	Binance   ProviderConfig
	OKX       ProviderConfig
	CoinGecko ProviderConfig
}

// SchedulerConfig holds cron specs for background jobs. An empty spec disables the job.
type SchedulerConfig struct {
	Enabled          bool
	Watchlist        []string
	ProbeSymbol      string
	WarmupSpec       string
	ProbeSpec        string
	BackfillSpec     string
	CleanupSpec      string
	BackfillLookback time.Duration
}

// AppConfig is the globally accessible configuration instance.
//
// It is populated once via LoadConfig() and used throughout the application.
var AppConfig Config

// LoadConfig initializes the global AppConfig by reading from .env file
// or directly from environment variables.
//
// Precedence (from lowest to highest):
//  1. Defaults set in this function.
//  2. Values from .env file (if present).
//  3. Environment variables.
//
// Fatal exit:
//   - If required variables are missing or cache TTLs do not nest, validateConfig()
//     terminates the app with a descriptive log message.
func LoadConfig() {
	setDefaults()

	// Optionally read from .env if present (common in local dev)
	viper.SetConfigFile(".env")
	_ = viper.ReadInConfig() // ignore error if no .env

	viper.AutomaticEnv()

	AppConfig = Config{
		Server: ServerConfig{
			Port:           viper.GetString("SERVER_PORT"),
			RequestTimeout: viper.GetDuration("SERVER_REQUEST_TIMEOUT"),
			RateLimitRPS:   viper.GetFloat64("SERVER_RATE_LIMIT_RPS"),
			RateLimitBurst: viper.GetInt("SERVER_RATE_LIMIT_BURST"),
		},
		Postgres: PostgresConfig{
			Host:        viper.GetString("POSTGRES_HOST"),
			Port:        viper.GetInt("POSTGRES_PORT"),
			User:        viper.GetString("POSTGRES_USER"),
			Password:    viper.GetString("POSTGRES_PASSWORD"),
			DBName:      viper.GetString("POSTGRES_DB"),
			SSLMode:     viper.GetString("POSTGRES_SSLMODE"),
			AutoMigrate: viper.GetBool("POSTGRES_AUTO_MIGRATE"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("REDIS_ADDR"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		Cache: CacheConfig{
			L1Size:       viper.GetInt("CACHE_L1_SIZE"),
			L1TTL:        viper.GetDuration("CACHE_L1_TTL"),
			L2TTL:        viper.GetDuration("CACHE_L2_TTL"),
			L3TTL:        viper.GetDuration("CACHE_L3_TTL"),
			L3Path:       viper.GetString("CACHE_L3_PATH"),
			QuoteTTL:     viper.GetDuration("CACHE_QUOTE_TTL"),
			OverviewTTL:  viper.GetDuration("CACHE_OVERVIEW_TTL"),
			HistoryTTL:   viper.GetDuration("CACHE_HISTORY_TTL"),
			IndicatorTTL: viper.GetDuration("CACHE_INDICATOR_TTL"),
		},
		Router: RouterConfig{
			DegradeAfter: viper.GetInt("ROUTER_DEGRADE_AFTER"),
			DownAfter:    viper.GetInt("ROUTER_DOWN_AFTER"),
			CooldownBase: viper.GetDuration("ROUTER_COOLDOWN_BASE"),
			CooldownMax:  viper.GetDuration("ROUTER_COOLDOWN_MAX"),
		},
		Retry: RetryConfig{
			Network:   retryClass("RETRY_NETWORK"),
			RateLimit: retryClass("RETRY_RATE_LIMIT"),
			Server:    retryClass("RETRY_SERVER"),
		},
		Aggregator: AggregatorConfig{
			FanOutConcurrency: viper.GetInt("AGGREGATOR_FANOUT_CONCURRENCY"),
			TaskTimeout:       viper.GetDuration("AGGREGATOR_TASK_TIMEOUT"),
			OverviewDeadline:  viper.GetDuration("AGGREGATOR_OVERVIEW_DEADLINE"),
			QuoteDeadline:     viper.GetDuration("AGGREGATOR_QUOTE_DEADLINE"),
			ClockSkew:         viper.GetDuration("AGGREGATOR_CLOCK_SKEW"),
		},
		History: HistoryConfig{
			BackfillConcurrency: viper.GetInt("HISTORY_BACKFILL_CONCURRENCY"),
			BackfillTimeout:     viper.GetDuration("HISTORY_BACKFILL_TIMEOUT"),
			MaxBarsPerRequest:   viper.GetInt("HISTORY_MAX_BARS_PER_REQUEST"),
			RetentionDays:       viper.GetInt("HISTORY_RETENTION_DAYS"),
		},
		Analysis: AnalysisConfig{
			Interval:     viper.GetString("ANALYSIS_INTERVAL"),
			LookbackDays: viper.GetInt("ANALYSIS_LOOKBACK_DAYS"),
		},
		Providers: ProvidersConfig{
			Enabled:   splitList(viper.GetString("PROVIDERS_ENABLED")),
			Binance:   provider("BINANCE"),
			OKX:       provider("OKX"),
			CoinGecko: provider("COINGECKO"),
		},
		Scheduler: SchedulerConfig{
			Enabled:          viper.GetBool("SCHEDULER_ENABLED"),
			Watchlist:        splitList(viper.GetString("SCHEDULER_WATCHLIST")),
			ProbeSymbol:      viper.GetString("SCHEDULER_PROBE_SYMBOL"),
			WarmupSpec:       viper.GetString("SCHEDULER_WARMUP_SPEC"),
			ProbeSpec:        viper.GetString("SCHEDULER_PROBE_SPEC"),
			BackfillSpec:     viper.GetString("SCHEDULER_BACKFILL_SPEC"),
			CleanupSpec:      viper.GetString("SCHEDULER_CLEANUP_SPEC"),
			BackfillLookback: viper.GetDuration("SCHEDULER_BACKFILL_LOOKBACK"),
		},
	}

	// Construct Postgres DSN (used by database/sql)
	AppConfig.Postgres.URL = fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		AppConfig.Postgres.User,
		AppConfig.Postgres.Password,
		AppConfig.Postgres.Host,
		AppConfig.Postgres.Port,
		AppConfig.Postgres.DBName,
		AppConfig.Postgres.SSLMode,
	)

	validateConfig()
}

func setDefaults() {
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SERVER_REQUEST_TIMEOUT", "10s")
	viper.SetDefault("SERVER_RATE_LIMIT_RPS", 1.0)
	viper.SetDefault("SERVER_RATE_LIMIT_BURST", 60)

	viper.SetDefault("POSTGRES_HOST", "localhost")
	viper.SetDefault("POSTGRES_PORT", 5432)
	viper.SetDefault("POSTGRES_USER", "postgres")
	viper.SetDefault("POSTGRES_PASSWORD", "postgres")
	viper.SetDefault("POSTGRES_DB", "coinpulse")
	viper.SetDefault("POSTGRES_SSLMODE", "disable")
	viper.SetDefault("POSTGRES_AUTO_MIGRATE", true)

	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_DB", 0)

	viper.SetDefault("CACHE_L1_SIZE", 1000)
	viper.SetDefault("CACHE_L1_TTL", "60s")
	viper.SetDefault("CACHE_L2_TTL", "1h")
	viper.SetDefault("CACHE_L3_TTL", "24h")
	viper.SetDefault("CACHE_L3_PATH", "./data/cache.db")
	viper.SetDefault("CACHE_QUOTE_TTL", "60s")
	viper.SetDefault("CACHE_OVERVIEW_TTL", "30s")
	viper.SetDefault("CACHE_HISTORY_TTL", "1h")
	viper.SetDefault("CACHE_INDICATOR_TTL", "10m")

	viper.SetDefault("ROUTER_DEGRADE_AFTER", 3)
	viper.SetDefault("ROUTER_DOWN_AFTER", 5)
	viper.SetDefault("ROUTER_COOLDOWN_BASE", "30s")
	viper.SetDefault("ROUTER_COOLDOWN_MAX", "10m")

	viper.SetDefault("RETRY_NETWORK_MAX_ATTEMPTS", 3)
	viper.SetDefault("RETRY_NETWORK_BACKOFF", "exponential")
	viper.SetDefault("RETRY_NETWORK_BASE_DELAY", "500ms")
	viper.SetDefault("RETRY_NETWORK_JITTER", "100ms")
	viper.SetDefault("RETRY_RATE_LIMIT_MAX_ATTEMPTS", 4)
	viper.SetDefault("RETRY_RATE_LIMIT_BACKOFF", "exponential")
	viper.SetDefault("RETRY_RATE_LIMIT_BASE_DELAY", "1s")
	viper.SetDefault("RETRY_RATE_LIMIT_JITTER", "250ms")
	viper.SetDefault("RETRY_SERVER_MAX_ATTEMPTS", 3)
	viper.SetDefault("RETRY_SERVER_BACKOFF", "linear")
	viper.SetDefault("RETRY_SERVER_BASE_DELAY", "500ms")
	viper.SetDefault("RETRY_SERVER_JITTER", "0s")

	viper.SetDefault("AGGREGATOR_FANOUT_CONCURRENCY", 8)
	viper.SetDefault("AGGREGATOR_TASK_TIMEOUT", "5s")
	viper.SetDefault("AGGREGATOR_OVERVIEW_DEADLINE", "8s")
	viper.SetDefault("AGGREGATOR_QUOTE_DEADLINE", "15s")
	viper.SetDefault("AGGREGATOR_CLOCK_SKEW", "5s")

	viper.SetDefault("HISTORY_BACKFILL_CONCURRENCY", 4)
	viper.SetDefault("HISTORY_BACKFILL_TIMEOUT", "30s")
	viper.SetDefault("HISTORY_MAX_BARS_PER_REQUEST", 1000)
	viper.SetDefault("HISTORY_RETENTION_DAYS", 90)

	viper.SetDefault("ANALYSIS_INTERVAL", "1h")
	viper.SetDefault("ANALYSIS_LOOKBACK_DAYS", 30)

	viper.SetDefault("PROVIDERS_ENABLED", "binance,okx,coingecko")
	viper.SetDefault("BINANCE_BASE_URL", "https://api.binance.com")
	viper.SetDefault("BINANCE_PRIORITY", 1)
	viper.SetDefault("BINANCE_RATE_LIMIT", 10.0)
	viper.SetDefault("BINANCE_TIMEOUT", "10s")
	viper.SetDefault("OKX_BASE_URL", "https://www.okx.com")
	viper.SetDefault("OKX_PRIORITY", 2)
	viper.SetDefault("OKX_RATE_LIMIT", 10.0)
	viper.SetDefault("OKX_TIMEOUT", "10s")
	viper.SetDefault("COINGECKO_BASE_URL", "https://api.coingecko.com")
	viper.SetDefault("COINGECKO_PRIORITY", 3)
	viper.SetDefault("COINGECKO_RATE_LIMIT", 0.5)
	viper.SetDefault("COINGECKO_TIMEOUT", "10s")

	viper.SetDefault("SCHEDULER_ENABLED", true)
	viper.SetDefault("SCHEDULER_WATCHLIST", "BTC/USDT,ETH/USDT,SOL/USDT,BNB/USDT,XRP/USDT")
	viper.SetDefault("SCHEDULER_PROBE_SYMBOL", "BTC/USDT")
	viper.SetDefault("SCHEDULER_WARMUP_SPEC", "@every 30s")
	viper.SetDefault("SCHEDULER_PROBE_SPEC", "@every 1m")
	viper.SetDefault("SCHEDULER_BACKFILL_SPEC", "@hourly")
	viper.SetDefault("SCHEDULER_CLEANUP_SPEC", "@daily")
	viper.SetDefault("SCHEDULER_BACKFILL_LOOKBACK", "48h")
}

func retryClass(prefix string) RetryClassConfig {
	return RetryClassConfig{
		MaxAttempts: viper.GetInt(prefix + "_MAX_ATTEMPTS"),
		Backoff:     viper.GetString(prefix + "_BACKOFF"),
		BaseDelay:   viper.GetDuration(prefix + "_BASE_DELAY"),
		Jitter:      viper.GetDuration(prefix + "_JITTER"),
	}
}

func provider(prefix string) ProviderConfig {
	return ProviderConfig{
		BaseURL:   viper.GetString(prefix + "_BASE_URL"),
		Priority:  viper.GetInt(prefix + "_PRIORITY"),
		RateLimit: viper.GetFloat64(prefix + "_RATE_LIMIT"),
		Timeout:   viper.GetDuration(prefix + "_TIMEOUT"),
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validateConfig ensures required variables are present and terminates
// the application if they are missing or inconsistent.
//
// Behavior:
//   - Checks each critical field of AppConfig.
//   - Checks cache tier TTL nesting (L1 <= L2 <= L3).
//   - If anything is wrong, logs it and terminates the app with log.Fatalf().
func validateConfig() {
	var missing []string

	if AppConfig.Server.Port == "" {
		missing = append(missing, "SERVER_PORT")
	}
	if AppConfig.Postgres.Host == "" {
		missing = append(missing, "POSTGRES_HOST")
	}
	if AppConfig.Postgres.Port == 0 {
		missing = append(missing, "POSTGRES_PORT")
	}
	if AppConfig.Postgres.User == "" {
		missing = append(missing, "POSTGRES_USER")
	}
	if AppConfig.Postgres.Password == "" {
		missing = append(missing, "POSTGRES_PASSWORD")
	}
	if AppConfig.Postgres.DBName == "" {
		missing = append(missing, "POSTGRES_DB")
	}
	if len(AppConfig.Providers.Enabled) == 0 {
		missing = append(missing, "PROVIDERS_ENABLED")
	}

	if len(missing) > 0 {
		log.Fatalf("❌ Missing required environment variables: %v\n", missing)
	}

	c := AppConfig.Cache
	if c.L1TTL <= 0 || c.L1TTL > c.L2TTL || c.L2TTL > c.L3TTL {
		log.Fatalf("❌ Cache TTLs must nest (0 < L1 <= L2 <= L3), got L1=%s L2=%s L3=%s\n", c.L1TTL, c.L2TTL, c.L3TTL)
	}
	if AppConfig.Router.DegradeAfter < 1 || AppConfig.Router.DownAfter < AppConfig.Router.DegradeAfter {
		log.Fatalf("❌ Router thresholds must satisfy 1 <= ROUTER_DEGRADE_AFTER <= ROUTER_DOWN_AFTER\n")
	}
}
