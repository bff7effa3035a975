package service

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/guttosm/coinpulse/config"
	"github.com/guttosm/coinpulse/internal/analysis"
	"github.com/guttosm/coinpulse/internal/cache"
	"github.com/guttosm/coinpulse/internal/domain/errs"
	"github.com/guttosm/coinpulse/internal/domain/models"
	"github.com/guttosm/coinpulse/internal/logger"
	"github.com/rs/zerolog"
)

// MarketService defines the read operations exposed over HTTP.
//
// Every operation normalizes its symbol input and reads through the
// multi-tier cache before touching the sources or the history store.
type MarketService interface {
	GetQuote(ctx context.Context, symbol string) (*models.Quote, error)
	GetOverview(ctx context.Context, symbols []string) (*models.Overview, error)
	GetHistory(ctx context.Context, symbol string, iv models.Interval, start, end time.Time) (*models.HistoricalSeries, error)
	GetIndicators(ctx context.Context, symbol string, indicators []string, window models.AnalysisWindow) (*models.TechnicalIndicatorSet, error)
	RefreshOverview(ctx context.Context, symbols []string) (*models.Overview, error)
	Symbols() []models.Asset
	Sources() []models.SourceHealth
	Stats(ctx context.Context) (*models.DataStats, error)
}

// QuoteSource is the live side of the pipeline (the aggregator).
type QuoteSource interface {
	GetQuote(ctx context.Context, symbol string) (models.Quote, error)
	GetOverview(ctx context.Context, symbols []string) (*models.Overview, error)
}

// HistorySource is the durable side of the pipeline (the history store).
type HistorySource interface {
	GetRange(ctx context.Context, symbol string, iv models.Interval, start, end time.Time) (*models.HistoricalSeries, error)
	Stats(ctx context.Context) (*models.DataStats, error)
}

// IndicatorSource computes indicator sets.
type IndicatorSource interface {
	Analyze(ctx context.Context, symbol string, kinds []analysis.Kind, window models.AnalysisWindow) (*models.TechnicalIndicatorSet, error)
	Window() models.AnalysisWindow
}

// HealthSource reports per-adapter health.
type HealthSource interface {
	Snapshot() []models.SourceHealth
}

// Deps groups the collaborators of the market service.
type Deps struct {
	Quotes     QuoteSource
	History    HistorySource
	Indicators IndicatorSource
	Health     HealthSource
	Cache      *cache.MultiTier
}

// TTLs are the per-operation cache lifetimes requested from the cache.
type TTLs struct {
	Quote     time.Duration
	Overview  time.Duration
	History   time.Duration
	Indicator time.Duration
}

// TTLsFromConfig maps the cache config section.
func TTLsFromConfig(c config.CacheConfig) TTLs {
	return TTLs{Quote: c.QuoteTTL, Overview: c.OverviewTTL, History: c.HistoryTTL, Indicator: c.IndicatorTTL}
}

type marketService struct {
	deps Deps
	ttl  TTLs
	now  func() time.Time
	log  zerolog.Logger
}

func NewMarketService(deps Deps, ttl TTLs) MarketService {
	return &marketService{deps: deps, ttl: ttl, now: time.Now, log: logger.With("service")}
}

func (s *marketService) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	sym, err := models.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	key := cache.Key("quote", sym)
	if q, ok := cache.GetJSON[models.Quote](ctx, s.deps.Cache, key); ok {
		return &q, nil
	}

	q, err := s.deps.Quotes.GetQuote(ctx, sym)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, q, s.ttl.Quote)
	return &q, nil
}

func (s *marketService) GetOverview(ctx context.Context, symbols []string) (*models.Overview, error) {
	syms, err := normalizeAll(symbols)
	if err != nil {
		return nil, err
	}
	if ov, ok := cache.GetJSON[models.Overview](ctx, s.deps.Cache, overviewKey(syms)); ok {
		return &ov, nil
	}
	return s.refreshOverview(ctx, syms)
}

// RefreshOverview skips the cache read and replaces the cached overview.
// The scheduler uses it to keep the watchlist warm.
func (s *marketService) RefreshOverview(ctx context.Context, symbols []string) (*models.Overview, error) {
	syms, err := normalizeAll(symbols)
	if err != nil {
		return nil, err
	}
	return s.refreshOverview(ctx, syms)
}

func (s *marketService) refreshOverview(ctx context.Context, syms []string) (*models.Overview, error) {
	ov, err := s.deps.Quotes.GetOverview(ctx, syms)
	if err != nil {
		return nil, err
	}
	// a partial overview is served but never cached
	if len(ov.Missing) == 0 {
		s.store(ctx, overviewKey(syms), ov, s.ttl.Overview)
	}
	for sym, q := range ov.Quotes {
		s.store(ctx, cache.Key("quote", sym), q, s.ttl.Quote)
	}
	return ov, nil
}

// GetHistory serves a bar range through the history store.
//
// Only complete series are cached. A range that reaches the bar in progress
// is cached with the quote TTL since its last bar is still moving.
func (s *marketService) GetHistory(ctx context.Context, symbol string, iv models.Interval, start, end time.Time) (*models.HistoricalSeries, error) {
	sym, err := models.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if !iv.Valid() {
		return nil, errs.Invalid("interval", "unsupported interval %q", iv)
	}
	start, end = iv.Truncate(start.UTC()), iv.Ceil(end.UTC())

	key := cache.Key("history", sym, iv.String(), unix(start), unix(end))
	if hs, ok := cache.GetJSON[models.HistoricalSeries](ctx, s.deps.Cache, key); ok {
		return &hs, nil
	}

	hs, err := s.deps.History.GetRange(ctx, sym, iv, start, end)
	if err != nil {
		return nil, err
	}
	if hs.Complete() {
		ttl := s.ttl.History
		if end.After(iv.Truncate(s.now().UTC())) {
			ttl = min(ttl, s.ttl.Quote)
		}
		s.store(ctx, key, hs, ttl)
	}
	return hs, nil
}

func (s *marketService) GetIndicators(ctx context.Context, symbol string, indicators []string, window models.AnalysisWindow) (*models.TechnicalIndicatorSet, error) {
	sym, err := models.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	kinds, err := analysis.ParseKinds(indicators)
	if err != nil {
		return nil, err
	}
	def := s.deps.Indicators.Window()
	if window.Interval == "" {
		window.Interval = def.Interval
	}
	if window.Lookback <= 0 {
		window.Lookback = def.Lookback
	}
	if !window.Interval.Valid() {
		return nil, errs.Invalid("interval", "unsupported interval %q", window.Interval)
	}

	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	sort.Strings(names)
	key := cache.Key("indicators", sym, window.Interval.String(), window.Lookback.String(), strings.Join(names, ","))
	if set, ok := cache.GetJSON[models.TechnicalIndicatorSet](ctx, s.deps.Cache, key); ok {
		return &set, nil
	}

	set, err := s.deps.Indicators.Analyze(ctx, sym, kinds, window)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, set, s.ttl.Indicator)
	return set, nil
}

func (s *marketService) Symbols() []models.Asset {
	return append([]models.Asset(nil), models.SupportedAssets...)
}

func (s *marketService) Sources() []models.SourceHealth {
	return s.deps.Health.Snapshot()
}

func (s *marketService) Stats(ctx context.Context) (*models.DataStats, error) {
	return s.deps.History.Stats(ctx)
}

func (s *marketService) store(ctx context.Context, key string, v any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := cache.SetJSON(ctx, s.deps.Cache, key, v, ttl); err != nil {
		s.log.Warn().Err(err).Msg("cache encode failed")
	}
}

// normalizeAll normalizes, dedupes and sorts symbols so equivalent requests
// share one cache key.
func normalizeAll(symbols []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, raw := range symbols {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		sym, err := models.NormalizeSymbol(raw)
		if err != nil {
			return nil, err
		}
		if !seen[sym] {
			seen[sym] = true
			out = append(out, sym)
		}
	}
	if len(out) == 0 {
		return nil, errs.Invalid("symbols", "at least one symbol is required")
	}
	sort.Strings(out)
	return out, nil
}

func overviewKey(syms []string) string { return cache.Key("overview", syms...) }

func unix(t time.Time) string { return strconv.FormatInt(t.Unix(), 10) }
