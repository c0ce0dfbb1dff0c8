package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Executions counts processed executions.
	// Labels: disposition (skipped, materialized, learning, notified, failed)
	Executions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outcomed",
			Subsystem: "pipeline",
			Name:      "executions_total",
			Help:      "Total executions processed by disposition",
		},
		[]string{"disposition"},
	)

	// ExecutionDuration tracks per-execution processing time.
	// Labels: disposition
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "outcomed",
			Subsystem: "pipeline",
			Name:      "execution_duration_seconds",
			Help:      "Time to process one execution",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"disposition"},
	)

	// Batches counts batch runs.
	// Labels: result (complete, partial)
	Batches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outcomed",
			Subsystem: "pipeline",
			Name:      "batches_total",
			Help:      "Total batch runs by result",
		},
		[]string{"result"},
	)

	// BatchDuration tracks whole-batch time.
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "outcomed",
			Subsystem: "pipeline",
			Name:      "batch_duration_seconds",
			Help:      "Time to run one tenant batch",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		},
	)
)
