package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SearchDuration tracks anchor search latency.
	// Labels: provider, result (success, error)
	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "outcomed",
			Subsystem: "vectorstore",
			Name:      "search_duration_seconds",
			Help:      "Duration of anchor similarity searches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "result"},
	)

	// SearchMatches counts anchors returned above the similarity floor.
	SearchMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outcomed",
			Subsystem: "vectorstore",
			Name:      "search_matches_total",
			Help:      "Total anchors returned by similarity searches",
		},
		[]string{"provider"},
	)

	// AnchorsMirrored counts anchors copied into an external index.
	AnchorsMirrored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outcomed",
			Subsystem: "vectorstore",
			Name:      "anchors_mirrored_total",
			Help:      "Total anchors upserted into an external index",
		},
		[]string{"provider"},
	)
)

func observeSearch(provider string, start time.Time, matches int, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	SearchDuration.WithLabelValues(provider, result).Observe(time.Since(start).Seconds())
	if matches > 0 {
		SearchMatches.WithLabelValues(provider).Add(float64(matches))
	}
}
