// Package metrics exposes GraphLite's Prometheus instrumentation: request
// counters and latency histograms, plus periodically collected catalog
// gauges.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueriesTotal counts coordinator.Process calls by statement kind and
	// outcome ("ok", "error").
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphlite_queries_total",
			Help: "Total number of processed queries by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graphlite_query_duration_seconds",
			Help:    "Query processing duration in seconds by kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	RowsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "graphlite_rows_returned",
			Help:    "Number of rows returned per query",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphlite_transactions_total",
			Help: "Total number of transactions by outcome",
		},
		[]string{"outcome"}, // committed, rolled_back, conflict
	)

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "graphlite_sessions_active",
			Help: "Number of currently open sessions",
		},
	)

	StorageApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "graphlite_storage_apply_duration_seconds",
			Help:    "Time taken for storage.Engine.Apply to commit a write batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	WALAppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "graphlite_wal_append_duration_seconds",
			Help:    "Time taken to append and fsync a WAL record",
			Buckets: prometheus.DefBuckets,
		},
	)

	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "graphlite_cache_hits_total",
			Help: "Total number of record cache hits",
		},
	)

	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "graphlite_cache_misses_total",
			Help: "Total number of record cache misses",
		},
	)

	PlannerFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "graphlite_planner_cartesian_fallback_total",
			Help: "Total number of times the planner fell back to a cartesian product",
		},
	)
)

func init() {
	prometheus.MustRegister(
		QueriesTotal,
		QueryDuration,
		RowsReturned,
		TransactionsTotal,
		SessionsActive,
		StorageApplyDuration,
		WALAppendDuration,
		CacheHits,
		CacheMisses,
		PlannerFallbacks,
	)
}

// Handler returns the Prometheus HTTP handler, for hosts that expose it.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer { return &Timer{start: time.Now()} }

func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(h prometheus.ObserverVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration { return time.Since(t.start) }
