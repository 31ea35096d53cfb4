package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics must be global for registration
var (
	// CacheHits counts results served from the cache
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resthub_cache_hits_total",
			Help: "Total number of query results served from the cache",
		},
	)

	// CacheMisses counts lookups that required an execution
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resthub_cache_misses_total",
			Help: "Total number of cache lookups that triggered an execution",
		},
	)

	// CacheEvictions counts removed cache entries
	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resthub_cache_evictions_total",
			Help: "Total number of evicted cache entries",
		},
	)

	// CacheSize tracks the number of cached results
	CacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resthub_cache_entries",
			Help: "Number of cached query results",
		},
	)

	// QueryExecutions counts executions of the underlying SQL
	QueryExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resthub_query_executions_total",
			Help: "Total number of query executions",
		},
		[]string{"connection", "status"}, // status: success, error, timeout
	)

	// QueryExecutionDuration measures execution time of the underlying SQL
	QueryExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resthub_query_execution_duration_seconds",
			Help:    "Query execution time in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{"connection"},
	)

	// QueryRowsTruncated counts executions cut at the rows limit
	QueryRowsTruncated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resthub_query_rows_truncated_total",
			Help: "Total number of executions truncated at the rows limit",
		},
		[]string{"connection"},
	)

	// QueriesLive tracks registered queries
	QueriesLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resthub_queries_live",
			Help: "Number of registered queries",
		},
	)

	// QueriesRemoved counts removed queries
	QueriesRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resthub_queries_removed_total",
			Help: "Total number of removed queries",
		},
		[]string{"reason"}, // reason: deleted, idle
	)

	// SweepsTotal counts cleanup sweeps
	SweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resthub_sweeps_total",
			Help: "Total number of cleanup sweeps",
		},
		[]string{"status"},
	)

	// ErrorsTotal counts total number of errors
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resthub_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordCacheHit records a cache hit
func RecordCacheHit() {
	CacheHits.Inc()
}

// RecordCacheMiss records a cache miss
func RecordCacheMiss() {
	CacheMisses.Inc()
}

// RecordCacheEviction records an evicted entry
func RecordCacheEviction() {
	CacheEvictions.Inc()
}

// SetCacheSize records the number of cached results
func SetCacheSize(size int) {
	CacheSize.Set(float64(size))
}

// RecordQueryExecution records one execution of the underlying SQL
func RecordQueryExecution(connection, status string, duration float64) {
	QueryExecutions.WithLabelValues(connection, status).Inc()
	QueryExecutionDuration.WithLabelValues(connection).Observe(duration)
}

// RecordRowsTruncated records an execution cut at the rows limit
func RecordRowsTruncated(connection string) {
	QueryRowsTruncated.WithLabelValues(connection).Inc()
}

// SetQueriesLive records the number of registered queries
func SetQueriesLive(n int) {
	QueriesLive.Set(float64(n))
}

// RecordQueryRemoved records a removed query
func RecordQueryRemoved(reason string) {
	QueriesRemoved.WithLabelValues(reason).Inc()
}

// RecordSweep records a cleanup sweep
func RecordSweep(status string) {
	SweepsTotal.WithLabelValues(status).Inc()
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
