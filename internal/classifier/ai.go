package classifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outcomed/internal/llm"
	"github.com/fyrsmithlabs/outcomed/internal/logging"
	"github.com/fyrsmithlabs/outcomed/internal/outcome"
	"github.com/fyrsmithlabs/outcomed/internal/secrets"
)

// AIOptions tunes the AI layer.
type AIOptions struct {
	// Minimum is the confidence below which the answer becomes unknown.
	Minimum     float64
	SampleNodes int
	SampleBytes int
	Timeout     time.Duration
}

// AILayer asks a language model for a structured label. Node outputs are
// scrubbed of secrets before they leave the process.
type AILayer struct {
	extractor llm.Extractor
	scrubber  secrets.Scrubber
	opts      AIOptions
	logger    *logging.Logger
}

// NewAILayer creates the AI layer. A nil scrubber sends evidence as is.
func NewAILayer(extractor llm.Extractor, scrubber secrets.Scrubber, opts AIOptions, logger *logging.Logger) *AILayer {
	if logger == nil {
		logger = logging.NewNop()
	}
	if scrubber == nil {
		scrubber = secrets.NoopScrubber{}
	}
	return &AILayer{
		extractor: extractor,
		scrubber:  scrubber,
		opts:      opts,
		logger:    logger.Named("ai"),
	}
}

func (a *AILayer) Name() string { return string(outcome.LayerAI) }

// Attempt calls the extractor. Transport and parse errors pass.
func (a *AILayer) Attempt(ctx context.Context, at *Attempt) *outcome.Result {
	if a.extractor == nil || a.extractor.Provider() == "none" {
		return nil
	}

	req := a.buildRequest(ctx, at.Evidence)

	callCtx := ctx
	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}
	ext, err := a.extractor.Extract(callCtx, req)
	if err != nil {
		a.logger.Warn(ctx, "llm extraction failed",
			zap.String("provider", a.extractor.Provider()),
			zap.Error(err),
		)
		return nil
	}

	// Unknown never carries confidence, or the router would confirm it.
	key, confidence := ext.MetricKey, ext.Confidence
	if confidence < a.opts.Minimum || key == outcome.Unknown {
		key, confidence = outcome.Unknown, 0
	}
	res := &outcome.Result{
		MetricKey:  key,
		Confidence: confidence,
		Layer:      outcome.LayerAI,
		Metadata: outcome.Metadata{
			Reasoning: ext.Reasoning,
		},
	}
	applyExtractedData(&res.Metadata, ext.ExtractedData)
	return res
}

func (a *AILayer) buildRequest(ctx context.Context, ev *outcome.Evidence) *llm.Request {
	samples, redacted := a.scrubber.ScrubFields(ev.SampleOutputs(a.opts.SampleNodes, a.opts.SampleBytes))

	lastNode, lastItem := ev.LastOutput()
	last := a.scrubber.Scrub(outcome.Truncate(string(lastItem), a.opts.SampleBytes))
	redacted += last.TotalFindings()

	if redacted > 0 {
		Redactions.Add(float64(redacted))
		a.logger.Info(ctx, "redacted secrets from llm evidence",
			zap.Int("redactions", redacted),
			zap.Strings("rules", last.RuleIDs()),
		)
	}

	return &llm.Request{
		WorkflowName: ev.Workflow.Name,
		NodeNames:    ev.NodeNames(),
		Samples:      samples,
		LastNode:     lastNode,
		LastOutput:   last.Scrubbed,
	}
}

func applyExtractedData(md *outcome.Metadata, data map[string]interface{}) {
	str := func(k string) string {
		if v, ok := data[k]; ok && v != nil {
			return strings.TrimSpace(fmt.Sprint(v))
		}
		return ""
	}
	if v := str("email"); v != "" {
		md.ContactEmail = strings.ToLower(v)
	}
	if v := str("phone"); v != "" {
		md.ContactPhone = outcome.NormalizePhone(v)
	}
	if v := str("name"); v != "" {
		md.ContactName = v
	}
	if v := str("ticketId"); v != "" {
		md.TicketID = v
	}
	if v := str("scheduledAt"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			t = t.UTC()
			md.ScheduledAt = &t
		}
	}
}
