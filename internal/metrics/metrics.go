package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics centralizes Prometheus instrumentation for the aggregation path.
// All record methods tolerate a nil receiver so wiring stays optional in
// tests.
type Metrics struct {
	registry *prometheus.Registry

	cacheOps        *prometheus.CounterVec
	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	quotaDenials    *prometheus.CounterVec
	resolveSeconds  *prometheus.HistogramVec
}

// New builds a metrics container backed by the provided registry. If no
// registry is supplied, a new one is created.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{registry: reg}

	m.cacheOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ecomonitor_cache_ops_total",
		Help: "Cache lookups grouped by subject and outcome",
	}, []string{"subject", "outcome"})

	m.providerCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ecomonitor_provider_calls_total",
		Help: "Outbound provider invocations grouped by provider and outcome",
	}, []string{"provider", "outcome"})

	m.providerLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ecomonitor_provider_latency_seconds",
		Help:    "Provider fetch latency distributions",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	m.quotaDenials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ecomonitor_quota_denials_total",
		Help: "Reservations denied because the provider budget was spent",
	}, []string{"provider"})

	m.resolveSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ecomonitor_resolve_seconds",
		Help:    "End-to-end resolve durations",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})

	reg.MustRegister(m.cacheOps, m.providerCalls, m.providerLatency, m.quotaDenials, m.resolveSeconds)

	return m
}

// Registry exposes the underlying registry for mounting the scrape handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns the HTTP scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCacheOp counts a cache lookup outcome (hit, stale, miss, error).
func (m *Metrics) RecordCacheOp(subject, outcome string) {
	if m == nil {
		return
	}
	m.cacheOps.WithLabelValues(subject, outcome).Inc()
}

// RecordProviderCall counts one outbound invocation and its latency.
func (m *Metrics) RecordProviderCall(provider string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.providerCalls.WithLabelValues(provider, outcome).Inc()
	m.providerLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// RecordQuotaDenial counts a reservation denied by the local budget.
func (m *Metrics) RecordQuotaDenial(provider string) {
	if m == nil {
		return
	}
	m.quotaDenials.WithLabelValues(provider).Inc()
}

// ObserveResolve records one full resolve duration.
func (m *Metrics) ObserveResolve(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.resolveSeconds.WithLabelValues(status).Observe(elapsed.Seconds())
}
