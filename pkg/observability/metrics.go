package observability

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Decision metrics
	DecisionsTotal *prometheus.CounterVec
	CheckDuration  *prometheus.HistogramVec

	// Cache metrics
	CacheRequestsTotal *prometheus.CounterVec
	CacheErrorsTotal   *prometheus.CounterVec

	// Mutation metrics
	RuleMutationsTotal *prometheus.CounterVec
	PathRebuildsTotal  prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_decisions_total",
				Help: "Total number of access decisions",
			},
			[]string{"result", "source"},
		),
		CheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_check_duration_seconds",
				Help:    "Permission check duration in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"kind"},
		),
		CacheRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_cache_requests_total",
				Help: "Decision cache lookups by result",
			},
			[]string{"result"},
		),
		CacheErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_cache_errors_total",
				Help: "Decision cache backend failures by operation",
			},
			[]string{"operation"},
		),
		RuleMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_rule_mutations_total",
				Help: "Rule create and remove operations by status",
			},
			[]string{"operation", "status"},
		),
		PathRebuildsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_path_rebuilds_total",
				Help: "Folder materialized paths rewritten",
			},
		),
	}

	registry.MustRegister(
		m.DecisionsTotal,
		m.CheckDuration,
		m.CacheRequestsTotal,
		m.CacheErrorsTotal,
		m.RuleMutationsTotal,
		m.PathRebuildsTotal,
	)

	return m
}

// RecordDecision counts a decision. source is one of admin, cache, rules, owner, inherited.
func (m *Metrics) RecordDecision(allowed bool, source string) {
	if m == nil {
		return
	}
	result := "deny"
	if allowed {
		result = "allow"
	}
	m.DecisionsTotal.WithLabelValues(result, source).Inc()
}

// ObserveCheck records the duration of a check of the given kind
func (m *Metrics) ObserveCheck(kind string, start time.Time) {
	if m == nil {
		return
	}
	m.CheckDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// RecordCache counts a cache lookup as hit or miss
func (m *Metrics) RecordCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheRequestsTotal.WithLabelValues("hit").Inc()
		return
	}
	m.CacheRequestsTotal.WithLabelValues("miss").Inc()
}

// RecordCacheError counts a failed cache operation (get, set, invalidate)
func (m *Metrics) RecordCacheError(operation string) {
	if m == nil {
		return
	}
	m.CacheErrorsTotal.WithLabelValues(operation).Inc()
}

// RecordRuleMutation counts a rule create or remove
func (m *Metrics) RecordRuleMutation(operation string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RuleMutationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordPathRebuilds adds n rewritten folder paths
func (m *Metrics) RecordPathRebuilds(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PathRebuildsTotal.Add(float64(n))
}

// RegisterDBStats exports connection pool statistics of db
func RegisterDBStats(registry *prometheus.Registry, db *sql.DB, name string) {
	registry.MustRegister(collectors.NewDBStatsCollector(db, name))
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
