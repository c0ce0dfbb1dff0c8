package llm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks extraction latency including retries.
	// Labels: provider, result (success, error)
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "outcomed",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Duration of LLM extraction calls in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "result"},
	)
)

func observeRequest(provider string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	RequestDuration.WithLabelValues(provider, result).Observe(time.Since(start).Seconds())
}
