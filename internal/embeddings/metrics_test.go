package embeddings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T, provider string) (*Metrics, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	return newMetrics(provider, mp.Meter(embeddingsInstrumentationName), nil), reader
}

// sums returns counter totals per kind for the named instrument.
func sums(t *testing.T, rm metricdata.ResourceMetrics, name string) map[string]int64 {
	t.Helper()
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != name {
				continue
			}
			data, ok := md.Data.(metricdata.Sum[int64])
			require.True(t, ok, name)
			for _, dp := range data.DataPoints {
				kind, _ := dp.Attributes.Value(attribute.Key("kind"))
				out[kind.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestMetrics_RecordGeneration(t *testing.T) {
	m, reader := newTestMetrics(t, "tei")
	ctx := context.Background()

	m.RecordGeneration(ctx, "BAAI/bge-small-en-v1.5", KindAnchor, 100*time.Millisecond, 32, 2, nil)
	m.RecordGeneration(ctx, "BAAI/bge-small-en-v1.5", KindExecution, 20*time.Millisecond, 1, 0, nil)
	m.RecordGeneration(ctx, "BAAI/bge-small-en-v1.5", KindExecution, 5*time.Second, 1, 1, errors.New("timeout"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	assert.Equal(t, map[string]int64{KindAnchor: 2, KindExecution: 1}, sums(t, rm, "outcomed.embedding.truncated_total"))
	assert.Equal(t, map[string]int64{KindExecution: 1}, sums(t, rm, "outcomed.embedding.errors_total"))

	var durations uint64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "outcomed.embedding.duration_seconds" {
				continue
			}
			for _, dp := range md.Data.(metricdata.Histogram[float64]).DataPoints {
				provider, _ := dp.Attributes.Value(attribute.Key("provider"))
				assert.Equal(t, "tei", provider.AsString())
				durations += dp.Count
			}
		}
	}
	assert.Equal(t, uint64(3), durations)
}
