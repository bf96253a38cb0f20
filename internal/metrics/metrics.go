// Package metrics exposes the ambient Prometheus instrumentation named in
// SPEC_FULL.md §1.1/§1.3, grounded on
// torrent-search/internal/metrics/metrics.go's CounterVec/HistogramVec usage.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every gauge/counter/histogram the aggregation core emits.
type Metrics struct {
	AdmissionsTotal     *prometheus.CounterVec
	CacheLookupsTotal   *prometheus.CounterVec
	CoordinatorJoins    prometheus.Counter
	CoordinatorExecutes prometheus.Counter
	DriverErrorStreak   *prometheus.GaugeVec
	RequestDuration     *prometheus.HistogramVec
}

// New registers and returns the metric set on reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated from the global default
// registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AdmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamx",
			Subsystem: "admission",
			Name:      "admissions_total",
			Help:      "Candidates admitted by the cache-admission engine, labeled by category and admission path.",
		}, []string{"category", "from"}),
		CacheLookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamx",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Persistent cache lookups, labeled by outcome (hit/miss/error).",
		}, []string{"outcome"}),
		CoordinatorJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamx",
			Subsystem: "coordinator",
			Name:      "joins_total",
			Help:      "Requests that joined an already-in-flight coordinated search.",
		}),
		CoordinatorExecutes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamx",
			Subsystem: "coordinator",
			Name:      "executes_total",
			Help:      "Coordinated searches actually executed (not joined).",
		}),
		DriverErrorStreak: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "streamx",
			Subsystem: "driver",
			Name:      "error_streak",
			Help:      "Current consecutive-error streak per upstream client.",
		}, []string{"upstream"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "streamx",
			Subsystem: "facade",
			Name:      "request_duration_seconds",
			Help:      "End-to-end aggregation request duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
	}

	reg.MustRegister(
		m.AdmissionsTotal,
		m.CacheLookupsTotal,
		m.CoordinatorJoins,
		m.CoordinatorExecutes,
		m.DriverErrorStreak,
		m.RequestDuration,
	)

	return m
}
