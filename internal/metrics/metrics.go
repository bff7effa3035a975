// Package metrics holds the Prometheus collectors for the pipeline.
//
// A nil *Metrics is valid and records nothing, so components can be built in
// tests without a registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector emitted by the core.
type Metrics struct {
	sourceRequests *prometheus.CounterVec
	sourceHealth   *prometheus.GaugeVec
	retries        *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	cacheErrors    *prometheus.CounterVec
	backfills      *prometheus.CounterVec
	indicatorFails *prometheus.CounterVec
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sourceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coinpulse",
			Name:      "source_requests_total",
			Help:      "Adapter calls by source, operation and outcome.",
		}, []string{"source", "op", "outcome"}),
		sourceHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "coinpulse",
			Name:      "source_health_state",
			Help:      "Adapter health state (0 healthy, 1 degraded, 2 down).",
		}, []string{"source"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coinpulse",
			Name:      "retry_attempts_total",
			Help:      "Retried attempts by error class.",
		}, []string{"class"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coinpulse",
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by tier and result.",
		}, []string{"tier", "result"}),
		cacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coinpulse",
			Name:      "cache_backend_errors_total",
			Help:      "Absorbed cache backend failures by tier and operation.",
		}, []string{"tier", "op"}),
		backfills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coinpulse",
			Name:      "backfill_ranges_total",
			Help:      "Backfilled sub-ranges by outcome.",
		}, []string{"outcome"}),
		indicatorFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coinpulse",
			Name:      "indicator_unavailable_total",
			Help:      "Indicators reported unavailable by name.",
		}, []string{"indicator"}),
	}
	reg.MustRegister(m.sourceRequests, m.sourceHealth, m.retries, m.cacheLookups, m.cacheErrors, m.backfills, m.indicatorFails)
	return m
}

func (m *Metrics) SourceRequest(source, op, outcome string) {
	if m == nil {
		return
	}
	m.sourceRequests.WithLabelValues(source, op, outcome).Inc()
}

func (m *Metrics) SourceState(source string, state int32) {
	if m == nil {
		return
	}
	m.sourceHealth.WithLabelValues(source).Set(float64(state))
}

func (m *Metrics) Retry(class string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(class).Inc()
}

func (m *Metrics) CacheLookup(tier string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(tier, result).Inc()
}

func (m *Metrics) CacheBackendError(tier, op string) {
	if m == nil {
		return
	}
	m.cacheErrors.WithLabelValues(tier, op).Inc()
}

func (m *Metrics) Backfill(outcome string) {
	if m == nil {
		return
	}
	m.backfills.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IndicatorUnavailable(name string) {
	if m == nil {
		return
	}
	m.indicatorFails.WithLabelValues(name).Inc()
}
