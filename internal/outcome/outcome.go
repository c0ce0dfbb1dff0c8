// Package outcome defines the domain types shared by the classification
// pipeline: metric keys, detection layers, classification results, and the
// execution evidence they are derived from.
package outcome

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// MetricKey is the business-outcome category assigned to an execution.
type MetricKey string

// Metric keys, in tie-break declaration order.
const (
	MeetingBooked  MetricKey = "meeting_booked"
	LeadCreated    MetricKey = "lead_created"
	TicketCreated  MetricKey = "ticket_created"
	TicketResolved MetricKey = "ticket_resolved"
	EmailSent      MetricKey = "email_sent"
	DealWon        MetricKey = "deal_won"
	Unknown        MetricKey = "unknown"
)

// MetricKeys lists every metric key, unknown last.
var MetricKeys = []MetricKey{
	MeetingBooked,
	LeadCreated,
	TicketCreated,
	TicketResolved,
	EmailSent,
	DealWon,
	Unknown,
}

// Valid reports whether k is a known metric key.
func (k MetricKey) Valid() bool {
	for _, known := range MetricKeys {
		if k == known {
			return true
		}
	}
	return false
}

func (k MetricKey) String() string { return string(k) }

// ParseMetricKey parses s case-insensitively.
func ParseMetricKey(s string) (MetricKey, error) {
	k := MetricKey(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown metric key %q", s)
	}
	return k, nil
}

// Layer identifies which stage of the engine produced a result.
type Layer string

const (
	LayerUserConfirmed  Layer = "user_confirmed"
	LayerDeterministic  Layer = "deterministic"
	LayerVectorSemantic Layer = "vector_semantic"
	LayerHeuristic      Layer = "heuristic"
	LayerAI             Layer = "ai"
	// LayerNone tags the terminal unknown result.
	LayerNone Layer = "none"
)

// Confidence ceilings per layer.
const (
	DeterministicCeiling = 0.95
	HeuristicCeiling     = 0.75
)

// Ceiling returns the highest confidence l may claim.
func (l Layer) Ceiling() float64 {
	switch l {
	case LayerDeterministic:
		return DeterministicCeiling
	case LayerHeuristic:
		return HeuristicCeiling
	case LayerNone:
		return 0
	default:
		return 1
	}
}

// Status is the audit status of a routed classification.
type Status string

const (
	StatusConfirmed     Status = "confirmed"
	StatusLearning      Status = "learning"
	StatusPendingReview Status = "pending_review"
)

// Metadata carries fields extracted while classifying.
type Metadata struct {
	ContactEmail string     `json:"contactEmail,omitempty"`
	ContactPhone string     `json:"contactPhone,omitempty"`
	ContactName  string     `json:"contactName,omitempty"`
	ScheduledAt  *time.Time `json:"scheduledAt,omitempty"`
	TicketID     string     `json:"ticketId,omitempty"`
	EmbeddingID  string     `json:"embeddingId,omitempty"`
	Similarity   float64    `json:"similarity,omitempty"`
	Reasoning    string     `json:"reasoning,omitempty"`
	NodeNames    []string   `json:"nodeNames,omitempty"`
	// Signature names the vendor or structural rule that matched.
	Signature string            `json:"signature,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Result is the engine's verdict for one execution.
type Result struct {
	MetricKey  MetricKey `json:"metricKey"`
	Confidence float64   `json:"confidence"`
	Layer      Layer     `json:"detectionLayer"`
	Metadata   Metadata  `json:"metadata"`
}

// UnknownResult is the terminal fallback.
func UnknownResult() *Result {
	return &Result{MetricKey: Unknown, Confidence: 0, Layer: LayerNone}
}

// Normalize clamps confidence into [0, ceiling] for the result's layer and
// rounds it to four decimals so threshold comparisons are stable. An
// unknown result always carries zero confidence.
func (r *Result) Normalize() {
	c := r.Confidence
	if math.IsNaN(c) || c < 0 {
		c = 0
	}
	if ceiling := r.Layer.Ceiling(); c > ceiling {
		c = ceiling
	}
	if r.MetricKey == "" {
		r.MetricKey = Unknown
	}
	if r.MetricKey == Unknown {
		c = 0
	}
	r.Confidence = math.Round(c*10000) / 10000
}

// WithEvidence fills metadata gaps from the evidence signals.
func (r *Result) WithEvidence(ev *Evidence) {
	if ev == nil {
		return
	}
	md := &r.Metadata
	s := ev.Signals
	if md.ContactEmail == "" {
		md.ContactEmail = s.Email
	}
	if md.ContactPhone == "" {
		md.ContactPhone = s.Phone
	}
	if md.ContactName == "" {
		md.ContactName = s.Name
	}
	if md.ScheduledAt == nil && s.Timestamp != nil {
		t := *s.Timestamp
		md.ScheduledAt = &t
	}
	if md.TicketID == "" {
		md.TicketID = s.TicketID
	}
	if len(md.NodeNames) == 0 {
		md.NodeNames = ev.NodeNames()
	}
}
