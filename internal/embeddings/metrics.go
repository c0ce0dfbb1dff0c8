package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outcomed/internal/logging"
)

const embeddingsInstrumentationName = "github.com/fyrsmithlabs/outcomed/internal/embeddings"

// Metrics records embedding calls. Every instrument carries the provider,
// the model and the input kind (execution or anchor).
type Metrics struct {
	provider  string
	logger    *logging.Logger
	duration  metric.Float64Histogram
	texts     metric.Int64Histogram
	truncated metric.Int64Counter
	errors    metric.Int64Counter
}

// NewMetrics creates the instruments for provider on the global meter.
func NewMetrics(provider string, logger *logging.Logger) *Metrics {
	return newMetrics(provider, otel.Meter(embeddingsInstrumentationName), logger)
}

func newMetrics(provider string, meter metric.Meter, logger *logging.Logger) *Metrics {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Metrics{provider: provider, logger: logger}

	var err error
	m.duration, err = meter.Float64Histogram(
		"outcomed.embedding.duration_seconds",
		metric.WithDescription("Embedding latency. Execution embeddings sit on the classification path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	m.warn(err, "duration")

	m.texts, err = meter.Int64Histogram(
		"outcomed.embedding.texts",
		metric.WithDescription("Descriptions per embedding call. Anchor seeding sends batches."),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 8, 16, 32, 64, 128),
	)
	m.warn(err, "texts")

	m.truncated, err = meter.Int64Counter(
		"outcomed.embedding.truncated_total",
		metric.WithDescription("Descriptions cut to embeddings.max_input_chars before embedding."),
		metric.WithUnit("{text}"),
	)
	m.warn(err, "truncated")

	m.errors, err = meter.Int64Counter(
		"outcomed.embedding.errors_total",
		metric.WithDescription("Failed embedding calls. A failed execution embedding makes the vector layer pass."),
		metric.WithUnit("{error}"),
	)
	m.warn(err, "errors")
	return m
}

func (m *Metrics) warn(err error, instrument string) {
	if err != nil {
		m.logger.Warn(context.Background(), "failed to create embedding instrument",
			zap.String("instrument", instrument),
			zap.Error(err),
		)
	}
}

// RecordGeneration records one embedding call of n texts, cut of which
// were truncated.
func (m *Metrics) RecordGeneration(ctx context.Context, model, kind string, elapsed time.Duration, n, cut int, err error) {
	attrs := metric.WithAttributes(
		attribute.String("provider", m.provider),
		attribute.String("model", model),
		attribute.String("kind", kind),
	)
	if m.duration != nil {
		m.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
	if n > 0 && m.texts != nil {
		m.texts.Record(ctx, int64(n), attrs)
	}
	if cut > 0 && m.truncated != nil {
		m.truncated.Add(ctx, int64(cut), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}
