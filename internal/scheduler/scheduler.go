// Package scheduler runs the background maintenance jobs: overview warmup,
// health probes of Down sources, history backfill and retention cleanup.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/guttosm/coinpulse/config"
	"github.com/guttosm/coinpulse/internal/domain/models"
	"github.com/guttosm/coinpulse/internal/history"
	"github.com/guttosm/coinpulse/internal/logger"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// OverviewRefresher rebuilds the cached overview of a symbol set.
type OverviewRefresher interface {
	RefreshOverview(ctx context.Context, symbols []string) (*models.Overview, error)
}

// Prober sends one probe request to every source whose cooldown elapsed.
type Prober interface {
	Probe(ctx context.Context, symbol string) []string
}

// HistoryMaintainer backfills and trims stored history.
type HistoryMaintainer interface {
	Backfill(ctx context.Context, symbols []string, iv models.Interval, lookback time.Duration) ([]history.BackfillResult, error)
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

// Purger drops expired entries from a durable cache tier.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// Jobs are the collaborators the scheduled tasks call. Nil members disable
// the jobs that need them.
type Jobs struct {
	Overview OverviewRefresher
	Prober   Prober
	History  HistoryMaintainer
	Purger   Purger
}

// Settings configure what the jobs operate on.
type Settings struct {
	Watchlist        []string
	ProbeSymbol      string
	BackfillInterval models.Interval
	BackfillLookback time.Duration
	Retention        time.Duration
	JobTimeout       time.Duration
}

// SettingsFromConfig maps the scheduler and history config sections.
func SettingsFromConfig(s config.SchedulerConfig, h config.HistoryConfig, a config.AnalysisConfig) Settings {
	iv, err := models.ParseInterval(a.Interval)
	if err != nil {
		iv = models.Interval1h
	}
	return Settings{
		Watchlist:        s.Watchlist,
		ProbeSymbol:      s.ProbeSymbol,
		BackfillInterval: iv,
		BackfillLookback: s.BackfillLookback,
		Retention:        time.Duration(h.RetentionDays) * 24 * time.Hour,
		JobTimeout:       5 * time.Minute,
	}
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	cron     *cron.Cron
	jobs     Jobs
	settings Settings
	ctx      context.Context
	cancel   context.CancelFunc
	log      zerolog.Logger
}

// New creates a Scheduler. Jobs run with SkipIfStillRunning, so a slow
// backfill never overlaps with itself.
func New(jobs Jobs, settings Settings) *Scheduler {
	log := logger.With("scheduler")
	cl := cron.PrintfLogger(&log)
	ctx, cancel := context.WithCancel(context.Background())
	if settings.JobTimeout <= 0 {
		settings.JobTimeout = 5 * time.Minute
	}
	return &Scheduler{
		cron:     cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		jobs:     jobs,
		settings: settings,
		ctx:      ctx,
		cancel:   cancel,
		log:      log,
	}
}

// RegisterAll registers every job whose spec is non-empty and whose
// collaborator is present.
func (s *Scheduler) RegisterAll(cfg config.SchedulerConfig) error {
	entries := []struct {
		name    string
		spec    string
		enabled bool
		run     func(ctx context.Context) error
	}{
		{"warmup", cfg.WarmupSpec, s.jobs.Overview != nil && len(s.settings.Watchlist) > 0, s.Warmup},
		{"probe", cfg.ProbeSpec, s.jobs.Prober != nil && s.settings.ProbeSymbol != "", s.Probe},
		{"backfill", cfg.BackfillSpec, s.jobs.History != nil && len(s.settings.Watchlist) > 0, s.Backfill},
		{"cleanup", cfg.CleanupSpec, s.jobs.History != nil || s.jobs.Purger != nil, s.Cleanup},
	}
	for _, e := range entries {
		if e.spec == "" || !e.enabled {
			s.log.Info().Str("job", e.name).Msg("job disabled")
			continue
		}
		if _, err := s.cron.AddFunc(e.spec, s.wrap(e.name, e.run)); err != nil {
			return fmt.Errorf("register %s job: %w", e.name, err)
		}
		s.log.Info().Str("job", e.name).Str("spec", e.spec).Msg("job registered")
	}
	return nil
}

func (s *Scheduler) wrap(name string, run func(ctx context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.settings.JobTimeout)
		defer cancel()
		started := time.Now()
		if err := run(ctx); err != nil {
			s.log.Error().Err(err).Str("job", name).Dur("elapsed", time.Since(started)).Msg("job failed")
			return
		}
		s.log.Debug().Str("job", name).Dur("elapsed", time.Since(started)).Msg("job done")
	}
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop cancels running jobs and waits for them to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn().Msg("scheduler stop timed out")
	}
	s.log.Info().Msg("scheduler stopped")
}

// Warmup refreshes the watchlist overview so reads hit the cache.
func (s *Scheduler) Warmup(ctx context.Context) error {
	ov, err := s.jobs.Overview.RefreshOverview(ctx, s.settings.Watchlist)
	if err != nil {
		return fmt.Errorf("warmup overview: %w", err)
	}
	if len(ov.Missing) > 0 {
		s.log.Warn().Int("quotes", len(ov.Quotes)).Interface("missing", ov.Missing).Msg("warmup incomplete")
	}
	return nil
}

// Probe gives every Down source whose cooldown elapsed its half-open request.
func (s *Scheduler) Probe(ctx context.Context) error {
	if probed := s.jobs.Prober.Probe(ctx, s.settings.ProbeSymbol); len(probed) > 0 {
		s.log.Info().Strs("sources", probed).Msg("probed down sources")
	}
	return nil
}

// Backfill fills the trailing lookback window of every watchlist symbol.
func (s *Scheduler) Backfill(ctx context.Context) error {
	results, err := s.jobs.History.Backfill(ctx, s.settings.Watchlist, s.settings.BackfillInterval, s.settings.BackfillLookback)
	var bars, gaps int
	for _, r := range results {
		bars += r.Backfilled
		gaps += r.Gaps
	}
	s.log.Info().Int("symbols", len(results)).Int("backfilled", bars).Int("gaps", gaps).Msg("scheduled backfill")
	return err
}

// Cleanup applies history retention and purges expired durable cache entries.
func (s *Scheduler) Cleanup(ctx context.Context) error {
	if s.jobs.History != nil && s.settings.Retention > 0 {
		if _, err := s.jobs.History.Cleanup(ctx, s.settings.Retention); err != nil {
			return err
		}
	}
	if s.jobs.Purger != nil {
		n, err := s.jobs.Purger.Purge(ctx)
		if err != nil {
			return fmt.Errorf("purge durable cache: %w", err)
		}
		s.log.Info().Int64("purged", n).Msg("durable cache purged")
	}
	return nil
}
