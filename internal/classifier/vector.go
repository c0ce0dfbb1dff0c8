package classifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outcomed/internal/embeddings"
	"github.com/fyrsmithlabs/outcomed/internal/logging"
	"github.com/fyrsmithlabs/outcomed/internal/outcome"
	"github.com/fyrsmithlabs/outcomed/internal/vectorstore"
)

const (
	descriptionFields     = 5
	descriptionValueLimit = 60
)

// UsageRecorder applies the atomic usage-stat update to an accepted anchor.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, id string, similarity float64) error
}

// VectorOptions tunes the vector layer.
type VectorOptions struct {
	Accept        float64
	Floor         float64
	Limit         int
	EmbedTimeout  time.Duration
	SearchTimeout time.Duration
}

// VectorLayer embeds a description of the execution and compares it with
// the labelled anchors.
type VectorLayer struct {
	embedder embeddings.Embedder
	index    vectorstore.Index
	usage    UsageRecorder
	opts     VectorOptions
	logger   *logging.Logger
}

// NewVectorLayer creates the vector-semantic layer.
func NewVectorLayer(embedder embeddings.Embedder, index vectorstore.Index, usage UsageRecorder, opts VectorOptions, logger *logging.Logger) *VectorLayer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &VectorLayer{
		embedder: embedder,
		index:    index,
		usage:    usage,
		opts:     opts,
		logger:   logger.Named("vector"),
	}
}

func (v *VectorLayer) Name() string { return string(outcome.LayerVectorSemantic) }

// Attempt accepts the best anchor at or above Accept and holds one in
// [Floor, Accept) for the held layer. Embedding and search errors pass.
func (v *VectorLayer) Attempt(ctx context.Context, at *Attempt) *outcome.Result {
	ev := at.Evidence
	desc := Describe(ev)

	vec, err := v.embed(ctx, desc)
	if err != nil {
		v.logger.Warn(ctx, "embedding failed, skipping vector layer", zap.Error(err))
		return nil
	}

	matches, err := v.search(ctx, ev.TenantID, vec)
	if err != nil {
		v.logger.Warn(ctx, "anchor search failed, skipping vector layer",
			zap.String("provider", v.index.Provider()),
			zap.Error(err),
		)
		return nil
	}
	if len(matches) == 0 {
		return nil
	}

	best := matches[0]
	for _, m := range matches[1:] {
		if m.Similarity > best.Similarity {
			best = m
		}
	}
	if best.Similarity < v.opts.Floor {
		return nil
	}

	res := &outcome.Result{
		MetricKey:  best.MetricKey,
		Confidence: best.Similarity,
		Layer:      outcome.LayerVectorSemantic,
		Metadata: outcome.Metadata{
			EmbeddingID: best.ID,
			Similarity:  best.Similarity,
			Reasoning:   fmt.Sprintf("similar to anchor %q (%.2f)", best.Description, best.Similarity),
		},
	}

	if best.Similarity < v.opts.Accept {
		at.Held = res
		v.logger.Debug(ctx, "holding vector candidate",
			zap.String("anchor_id", best.ID),
			zap.Float64("similarity", best.Similarity),
		)
		return nil
	}

	if !IsDryRun(ctx) && v.usage != nil {
		if err := v.usage.RecordUsage(ctx, best.ID, best.Similarity); err != nil {
			v.logger.Warn(ctx, "recording anchor usage failed",
				zap.String("anchor_id", best.ID),
				zap.Error(err),
			)
		}
	}
	return res
}

func (v *VectorLayer) embed(ctx context.Context, text string) ([]float32, error) {
	if v.opts.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.opts.EmbedTimeout)
		defer cancel()
	}
	return v.embedder.EmbedQuery(ctx, text)
}

func (v *VectorLayer) search(ctx context.Context, tenantID string, vec []float32) ([]outcome.AnchorMatch, error) {
	if v.opts.SearchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.opts.SearchTimeout)
		defer cancel()
	}
	return v.index.Search(ctx, tenantID, vec, v.opts.Floor, v.opts.Limit)
}

// Describe renders the text embedded for an execution: the workflow name,
// the node names, and up to five scalar field values.
func Describe(ev *outcome.Evidence) string {
	var b strings.Builder
	b.WriteString(ev.Workflow.Name)

	if names := ev.NodeNames(); len(names) > 0 {
		b.WriteString(". Steps: ")
		b.WriteString(strings.Join(names, ", "))
	}

	var values []string
	seen := make(map[string]bool)
	for _, f := range ev.Fields {
		if len(values) >= descriptionFields {
			break
		}
		if seen[f.Key] || (f.Value.Type != gjson.String && f.Value.Type != gjson.Number) {
			continue
		}
		if f.String() == "" {
			continue
		}
		seen[f.Key] = true
		values = append(values, f.FormatValue(descriptionValueLimit))
	}
	if len(values) > 0 {
		b.WriteString(". Fields: ")
		b.WriteString(strings.Join(values, "; "))
	}
	return b.String()
}

// HeldLayer returns the candidate the vector layer parked.
type HeldLayer struct{}

func (HeldLayer) Name() string { return "held_vector" }

func (HeldLayer) Attempt(_ context.Context, at *Attempt) *outcome.Result {
	return at.Held
}
