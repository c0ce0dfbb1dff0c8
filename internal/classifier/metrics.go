package classifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Classifications counts final results.
	// Labels: layer, metric_key
	Classifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outcomed",
			Subsystem: "classifier",
			Name:      "classifications_total",
			Help:      "Total executions classified by winning layer and metric key",
		},
		[]string{"layer", "metric_key"},
	)

	// LayerDuration tracks time spent in each layer.
	// Labels: layer, result (hit, pass)
	LayerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "outcomed",
			Subsystem: "classifier",
			Name:      "layer_duration_seconds",
			Help:      "Duration of classification layer attempts in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"layer", "result"},
	)

	// Redactions counts secrets removed from evidence before the AI layer.
	Redactions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "outcomed",
			Subsystem: "classifier",
			Name:      "llm_redactions_total",
			Help:      "Total secrets redacted from evidence sent to the LLM",
		},
	)
)
