// Package llm asks a language model to label an execution when the cheaper
// classification layers gave up. Both providers force a single tool call so
// the answer arrives as schema-shaped JSON.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outcomed/internal/config"
	"github.com/fyrsmithlabs/outcomed/internal/logging"
	"github.com/fyrsmithlabs/outcomed/internal/outcome"
)

var (
	// ErrUnavailable is returned by the no-op extractor.
	ErrUnavailable = errors.New("llm extraction not configured")

	// ErrNoToolCall is returned when the model answered without the tool.
	ErrNoToolCall = errors.New("model returned no tool call")
)

const (
	toolName        = "record_outcome"
	toolDescription = "Record which business outcome the workflow execution produced."

	defaultMaxTokens   = 512
	defaultMaxRetries  = 2
	defaultBaseBackoff = 500 * time.Millisecond
	defaultRateBurst   = 5
)

// Request is the evidence handed to the model. Samples and LastOutput must
// already be scrubbed of secrets.
type Request struct {
	WorkflowName string
	NodeNames    []string
	// Samples maps node name to a truncated JSON rendering of its output.
	Samples    map[string]string
	LastNode   string
	LastOutput string
}

// Extraction is the model's structured answer.
type Extraction struct {
	MetricKey     outcome.MetricKey      `json:"metricKey"`
	Confidence    float64                `json:"confidence"`
	Reasoning     string                 `json:"reasoning"`
	ExtractedData map[string]interface{} `json:"extractedData,omitempty"`
}

// Extractor labels an execution.
type Extractor interface {
	Extract(ctx context.Context, req *Request) (*Extraction, error)
	// Provider names the backend; "none" for the no-op.
	Provider() string
}

// New creates the extractor named by cfg.Provider, or a no-op when the
// fallback is disabled.
func New(cfg config.LLMConfig, logger *logging.Logger) (Extractor, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if !cfg.APIKey.IsSet() {
		logger.Warn(context.Background(), "llm fallback enabled without api key, disabling",
			zap.String("provider", cfg.Provider))
		return Noop{}, nil
	}
	switch cfg.Provider {
	case "anthropic", "":
		a, err := NewAnthropic(cfg, logger)
		if err != nil {
			return nil, err
		}
		return a, nil
	case "openai":
		o, err := NewOpenAI(cfg, logger)
		if err != nil {
			return nil, err
		}
		return o, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// systemPrompt spells out the evidence each key needs. The classifier
// treats anything under 0.6 as unknown regardless of the label.
const systemPrompt = `You classify executions of business automation workflows (n8n, Zapier-style) by the real-world outcome they produced.

Choose exactly one metricKey:
- meeting_booked: a meeting, call, demo or appointment was scheduled. Evidence: a start time or date, attendees or an invitee, a calendar or booking tool.
- lead_created: a new prospect or contact entered a CRM or list. Evidence: an email or phone with a name, a CRM create step, a form submission.
- ticket_created: a support ticket, issue or case was opened. Evidence: a ticket id with an open or new status, a helpdesk tool.
- ticket_resolved: a ticket was closed or solved. Evidence: a ticket id with a closed, solved or resolved status.
- email_sent: an email was delivered to a recipient. Evidence: a recipient address and a subject, a mail tool's send step.
- deal_won: a sales deal or opportunity was won. Evidence: a deal stage of won or closed won.
- unknown: none of the above is supported by the data.

Rules:
- Judge only from the data shown. Node names alone are weak evidence; field values are strong evidence.
- Internal notifications (Slack messages, logs) do not count as email_sent.
- If your confidence is below 0.6, return unknown.
- Put the contact email, phone, name, scheduled time or ticket id you relied on into extractedData.
- Always answer by calling the record_outcome tool.`

// toolSchema is the JSON schema for the tool input.
func toolSchema() map[string]interface{} {
	keys := make([]string, 0, len(outcome.MetricKeys))
	for _, k := range outcome.MetricKeys {
		keys = append(keys, string(k))
	}

	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"metricKey": map[string]interface{}{
				"type": "string",
				"enum": keys,
			},
			"confidence": map[string]interface{}{
				"type":    "number",
				"minimum": 0,
				"maximum": 1,
			},
			"reasoning": map[string]interface{}{
				"type":        "string",
				"description": "One or two sentences citing the fields used.",
			},
			"extractedData": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"email":       map[string]interface{}{"type": "string"},
					"phone":       map[string]interface{}{"type": "string"},
					"name":        map[string]interface{}{"type": "string"},
					"scheduledAt": map[string]interface{}{"type": "string"},
					"ticketId":    map[string]interface{}{"type": "string"},
				},
			},
		},
		"required": []string{"metricKey", "confidence", "reasoning"},
	}
}

// userContent renders the request as the user turn.
func userContent(req *Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Workflow: %s\n", req.WorkflowName)
	fmt.Fprintf(&b, "Nodes (in order): %s\n", strings.Join(req.NodeNames, " -> "))

	if len(req.Samples) > 0 {
		b.WriteString("\nNode outputs:\n")
		names := make([]string, 0, len(req.Samples))
		for name := range req.Samples {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "[%s] %s\n", name, req.Samples[name])
		}
	}
	if req.LastOutput != "" {
		fmt.Fprintf(&b, "\nFinal node %q output:\n%s\n", req.LastNode, req.LastOutput)
	}
	return b.String()
}

// parseExtraction decodes tool input. Unknown keys become unknown and the
// confidence is clamped to [0,1].
func parseExtraction(raw []byte) (*Extraction, error) {
	var ext Extraction
	if err := json.Unmarshal(raw, &ext); err != nil {
		return nil, fmt.Errorf("parsing tool input: %w", err)
	}
	key, err := outcome.ParseMetricKey(string(ext.MetricKey))
	if err != nil {
		key = outcome.Unknown
	}
	ext.MetricKey = key
	switch {
	case ext.Confidence < 0:
		ext.Confidence = 0
	case ext.Confidence > 1:
		ext.Confidence = 1
	}
	return &ext, nil
}

// Noop never extracts.
type Noop struct{}

// Extract returns ErrUnavailable.
func (Noop) Extract(context.Context, *Request) (*Extraction, error) {
	return nil, ErrUnavailable
}

// Provider returns "none".
func (Noop) Provider() string { return "none" }
