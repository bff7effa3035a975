// Package router tracks per-adapter health and orders failover candidates.
//
// Health is shared by every caller. Each adapter's state lives in atomics and
// transitions with compare-and-set, so no lock is taken on the request path.
package router

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/guttosm/coinpulse/config"
	"github.com/guttosm/coinpulse/internal/domain/models"
	"github.com/guttosm/coinpulse/internal/logger"
	"github.com/guttosm/coinpulse/internal/metrics"
	"github.com/guttosm/coinpulse/internal/source"
	"github.com/rs/zerolog"
)

// Registration pairs an adapter with its priority rank (lower is preferred).
type Registration struct {
	Adapter  source.Adapter
	Priority int
}

// Thresholds configure the state machine.
type Thresholds struct {
	DegradeAfter int           // k
	DownAfter    int           // m
	CooldownBase time.Duration // first Down cooldown and Degraded probe delay
	CooldownMax  time.Duration
}

// DefaultThresholds are k=3, m=5, 30s base cooldown capped at 10m.
var DefaultThresholds = Thresholds{DegradeAfter: 3, DownAfter: 5, CooldownBase: 30 * time.Second, CooldownMax: 10 * time.Minute}

// ThresholdsFromConfig maps the router config section.
func ThresholdsFromConfig(c config.RouterConfig) Thresholds {
	t := Thresholds{DegradeAfter: c.DegradeAfter, DownAfter: c.DownAfter, CooldownBase: c.CooldownBase, CooldownMax: c.CooldownMax}
	if t.DegradeAfter < 1 {
		t.DegradeAfter = DefaultThresholds.DegradeAfter
	}
	if t.DownAfter < t.DegradeAfter {
		t.DownAfter = max(DefaultThresholds.DownAfter, t.DegradeAfter)
	}
	if t.CooldownBase <= 0 {
		t.CooldownBase = DefaultThresholds.CooldownBase
	}
	if t.CooldownMax < t.CooldownBase {
		t.CooldownMax = t.CooldownBase
	}
	return t
}

type entry struct {
	adapter  source.Adapter
	priority int

	state       atomic.Int32
	failures    atomic.Int32
	lastSuccess atomic.Int64 // unix nanos, 0 = never
	downUntil   atomic.Int64 // unix nanos
	cooldown    atomic.Int64 // current Down cooldown
	probeAt     atomic.Int64 // Degraded -> Healthy allowed after this
	probing     atomic.Bool  // half-open trial in flight
}

func (e *entry) State() models.HealthState { return models.HealthState(e.state.Load()) }

// Router owns the SourceHealth of every registered adapter.
type Router struct {
	entries []*entry
	byID    map[string]*entry
	th      Thresholds
	now     func() time.Time
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// Option customizes a Router.
type Option func(*Router)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(r *Router) { r.now = now } }

// WithMetrics publishes state changes as a gauge.
func WithMetrics(m *metrics.Metrics) Option { return func(r *Router) { r.metrics = m } }

// New registers adapters. Every adapter starts Healthy.
func New(regs []Registration, th Thresholds, opts ...Option) *Router {
	r := &Router{
		byID: make(map[string]*entry, len(regs)),
		th:   th,
		now:  time.Now,
		log:  logger.With("router"),
	}
	for _, o := range opts {
		o(r)
	}
	for _, reg := range regs {
		e := &entry{adapter: reg.Adapter, priority: reg.Priority}
		e.cooldown.Store(int64(th.CooldownBase))
		r.entries = append(r.entries, e)
		r.byID[reg.Adapter.ID()] = e
		r.metrics.SourceState(reg.Adapter.ID(), int32(models.Healthy))
	}
	return r
}

// Candidates returns adapters able to serve c, best first.
//
// Ordering:
//  1. Healthy before Degraded, both ranked by ascending priority, ties broken by
//     most recent success.
//  2. Down adapters whose cooldown elapsed trail the list as half-open probe
//     candidates; callers must pass Admit before calling them.
//
// Down adapters still cooling down are excluded.
func (r *Router) Candidates(c source.Capability) []source.Adapter {
	now := r.now().UnixNano()
	var live, probes []*entry
	for _, e := range r.entries {
		if !e.adapter.Supports(c) {
			continue
		}
		if e.State() == models.Down {
			if now >= e.downUntil.Load() && !e.probing.Load() {
				probes = append(probes, e)
			}
			continue
		}
		live = append(live, e)
	}
	sortEntries(live, true)
	sortEntries(probes, false)

	out := make([]source.Adapter, 0, len(live)+len(probes))
	for _, e := range live {
		out = append(out, e.adapter)
	}
	for _, e := range probes {
		out = append(out, e.adapter)
	}
	return out
}

func sortEntries(es []*entry, byState bool) {
	sort.SliceStable(es, func(i, j int) bool {
		a, b := es[i], es[j]
		if byState && a.State() != b.State() {
			return a.State() < b.State()
		}
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		return a.lastSuccess.Load() > b.lastSuccess.Load()
	})
}

// Admit gates a call to adapter id. Non-Down adapters are always admitted.
// A Down adapter is admitted once its cooldown has elapsed, and only for the
// single caller that wins the half-open slot.
func (r *Router) Admit(id string) bool {
	e, ok := r.byID[id]
	if !ok {
		return false
	}
	if e.State() != models.Down {
		return true
	}
	if r.now().UnixNano() < e.downUntil.Load() {
		return false
	}
	return e.probing.CompareAndSwap(false, true)
}

// Release gives back a half-open slot won through Admit when the trial ended
// without a verdict, e.g. the caller was cancelled.
func (r *Router) Release(id string) {
	if e, ok := r.byID[id]; ok {
		e.probing.Store(false)
	}
}

// RecordSuccess resets the failure counter. It promotes to Healthy only through
// the probe path: a won half-open trial for Down, or a success after the
// Degraded probe time.
func (r *Router) RecordSuccess(id string) {
	e, ok := r.byID[id]
	if !ok {
		return
	}
	now := r.now().UnixNano()
	e.failures.Store(0)
	e.lastSuccess.Store(now)

	switch e.State() {
	case models.Down:
		if e.probing.CompareAndSwap(true, false) && e.state.CompareAndSwap(int32(models.Down), int32(models.Healthy)) {
			e.cooldown.Store(int64(r.th.CooldownBase))
			r.transition(e, models.Down, models.Healthy, "probe succeeded")
		}
	case models.Degraded:
		if now >= e.probeAt.Load() && e.state.CompareAndSwap(int32(models.Degraded), int32(models.Healthy)) {
			r.transition(e, models.Degraded, models.Healthy, "recovered after probe delay")
		}
	}
}

// RecordFailure counts a failed fetch (after retries). fatal takes the adapter Down at once.
func (r *Router) RecordFailure(id string, fatal bool) {
	e, ok := r.byID[id]
	if !ok {
		return
	}
	now := r.now()
	n := int(e.failures.Add(1))
	state := e.State()

	if state == models.Down {
		if e.probing.CompareAndSwap(true, false) {
			next := min(time.Duration(e.cooldown.Load())*2, r.th.CooldownMax)
			e.cooldown.Store(int64(next))
			e.downUntil.Store(now.Add(next).UnixNano())
			r.log.Warn().Str("adapter", id).Dur("cooldown", next).Msg("probe failed, cooldown extended")
		}
		return
	}

	if fatal || n >= r.th.DownAfter {
		if e.state.CompareAndSwap(int32(state), int32(models.Down)) {
			base := time.Duration(e.cooldown.Load())
			e.downUntil.Store(now.Add(base).UnixNano())
			reason := "consecutive failures"
			if fatal {
				reason = "fatal error"
			}
			r.transition(e, state, models.Down, reason)
		}
		return
	}

	switch state {
	case models.Healthy:
		if n >= r.th.DegradeAfter && e.state.CompareAndSwap(int32(models.Healthy), int32(models.Degraded)) {
			e.probeAt.Store(now.Add(r.th.CooldownBase).UnixNano())
			r.transition(e, models.Healthy, models.Degraded, "consecutive failures")
		}
	case models.Degraded:
		if now.UnixNano() >= e.probeAt.Load() {
			e.probeAt.Store(now.Add(r.th.CooldownBase).UnixNano())
		}
	}
}

func (r *Router) transition(e *entry, from, to models.HealthState, reason string) {
	r.metrics.SourceState(e.adapter.ID(), int32(to))
	ev := r.log.Info()
	if to == models.Down {
		ev = r.log.Warn()
	}
	ev.Str("adapter", e.adapter.ID()).
		Str("from", from.String()).
		Str("to", to.String()).
		Int32("failures", e.failures.Load()).
		Str("reason", reason).
		Msg("source health changed")
}

// ProbeDue lists adapters whose recovery probe is due: Down adapters past their
// cooldown and Degraded adapters past their probe time.
func (r *Router) ProbeDue(c source.Capability) []source.Adapter {
	now := r.now().UnixNano()
	var out []source.Adapter
	for _, e := range r.entries {
		if !e.adapter.Supports(c) {
			continue
		}
		switch e.State() {
		case models.Down:
			if now >= e.downUntil.Load() && !e.probing.Load() {
				out = append(out, e.adapter)
			}
		case models.Degraded:
			if now >= e.probeAt.Load() {
				out = append(out, e.adapter)
			}
		}
	}
	return out
}

// Health returns the current view of one adapter.
func (r *Router) Health(id string) (models.SourceHealth, bool) {
	e, ok := r.byID[id]
	if !ok {
		return models.SourceHealth{}, false
	}
	return r.view(e), true
}

// Snapshot returns every adapter's health ordered by priority.
func (r *Router) Snapshot() []models.SourceHealth {
	out := make([]models.SourceHealth, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, r.view(e))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

func (r *Router) view(e *entry) models.SourceHealth {
	h := models.SourceHealth{
		AdapterID:           e.adapter.ID(),
		Priority:            e.priority,
		State:               e.State(),
		ConsecutiveFailures: int(e.failures.Load()),
	}
	if ns := e.lastSuccess.Load(); ns > 0 {
		t := time.Unix(0, ns).UTC()
		h.LastSuccess = &t
	}
	if h.State == models.Down {
		t := time.Unix(0, e.downUntil.Load()).UTC()
		h.DownUntil = &t
	}
	return h
}
