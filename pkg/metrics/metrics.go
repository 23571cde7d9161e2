package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "askdb_build_info",
			Help: "Build information of the askdb service",
		},
		[]string{"version", "commit", "date"},
	)

	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_queries_total",
			Help: "Processed queries by outcome (answered, clarification, error)",
		},
		[]string{"outcome"},
	)

	QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_query_duration_seconds",
			Help:    "End-to-end query processing latency",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_response_cache_hits_total",
			Help: "Responses served from the fingerprint cache",
		},
	)

	GenerationAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_generation_attempts",
			Help:    "SQL generation attempts per request",
			Buckets: []float64{1, 2, 3},
		},
	)

	ValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_validation_failures_total",
			Help: "Validation failures by rule id",
		},
		[]string{"rule"},
	)

	CircuitState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "askdb_circuit_state",
			Help: "Execution circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
	)

	ExecutionRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_execution_retries_total",
			Help: "Transient execution errors retried",
		},
	)
)
