// Package classifier decides which business outcome an execution produced.
//
// The Engine runs an ordered list of layers. Each layer either returns a
// result or passes; the first result wins and the terminal fallback is
// (unknown, 0, none). Layers share a per-classification Attempt so the vector
// layer can park a weak candidate for the held layer further down.
//
// Classification writes nothing except the usage statistics of an accepted
// vector anchor, and that write is suppressed for contexts marked with
// WithDryRun.
package classifier

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outcomed/internal/logging"
	"github.com/fyrsmithlabs/outcomed/internal/outcome"
)

// Layer is one classification strategy.
type Layer interface {
	// Name is used for spans, metrics and logs.
	Name() string
	// Attempt returns a result, or nil to pass to the next layer.
	Attempt(ctx context.Context, at *Attempt) *outcome.Result
}

// Attempt is the state of one classification.
type Attempt struct {
	Evidence *outcome.Evidence

	// Held is a vector candidate below the accept threshold but above the
	// floor. The held layer returns it when nothing stronger was found.
	Held *outcome.Result
}

type dryRunKey struct{}

// WithDryRun marks ctx so layers skip their side effects.
func WithDryRun(ctx context.Context) context.Context {
	return context.WithValue(ctx, dryRunKey{}, true)
}

// IsDryRun reports whether ctx was marked with WithDryRun.
func IsDryRun(ctx context.Context) bool {
	v, _ := ctx.Value(dryRunKey{}).(bool)
	return v
}

// Engine runs layers in order.
type Engine struct {
	layers []Layer
	logger *logging.Logger
	tracer trace.Tracer
}

// NewEngine creates an engine over layers, evaluated in the order given.
func NewEngine(logger *logging.Logger, layers ...Layer) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		layers: layers,
		logger: logger.Named("classifier"),
		tracer: otel.Tracer("outcomed/classifier"),
	}
}

// Layers returns the layer names in evaluation order.
func (e *Engine) Layers() []string {
	names := make([]string, len(e.layers))
	for i, l := range e.layers {
		names[i] = l.Name()
	}
	return names
}

// Classify returns the first layer result, normalized and enriched with the
// evidence signals. It never returns nil.
func (e *Engine) Classify(ctx context.Context, ev *outcome.Evidence) *outcome.Result {
	ctx, span := e.tracer.Start(ctx, "classifier.Classify", trace.WithAttributes(
		attribute.String("workflow_id", ev.Workflow.ID),
	))
	defer span.End()

	at := &Attempt{Evidence: ev}
	for _, layer := range e.layers {
		res := e.run(ctx, layer, at)
		if res == nil {
			continue
		}
		e.finish(ctx, span, layer.Name(), res, ev)
		return res
	}

	res := outcome.UnknownResult()
	e.finish(ctx, span, string(outcome.LayerNone), res, ev)
	return res
}

func (e *Engine) run(ctx context.Context, layer Layer, at *Attempt) *outcome.Result {
	ctx, span := e.tracer.Start(ctx, "classifier.layer."+layer.Name())
	defer span.End()

	start := time.Now()
	res := layer.Attempt(ctx, at)
	hit := res != nil
	LayerDuration.WithLabelValues(layer.Name(), boolLabel(hit)).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Bool("hit", hit))

	e.logger.Trace(ctx, "layer attempted",
		zap.String("layer", layer.Name()),
		zap.Bool("hit", hit),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res
}

func (e *Engine) finish(ctx context.Context, span trace.Span, layer string, res *outcome.Result, ev *outcome.Evidence) {
	res.Normalize()
	res.WithEvidence(ev)

	Classifications.WithLabelValues(layer, string(res.MetricKey)).Inc()
	span.SetAttributes(
		attribute.String("metric_key", string(res.MetricKey)),
		attribute.String("detection_layer", string(res.Layer)),
		attribute.Float64("confidence", res.Confidence),
	)
	e.logger.Debug(ctx, "execution classified",
		zap.String("metric_key", string(res.MetricKey)),
		zap.String("layer", string(res.Layer)),
		zap.Float64("confidence", res.Confidence),
	)
}

func boolLabel(b bool) string {
	if b {
		return "hit"
	}
	return "pass"
}
