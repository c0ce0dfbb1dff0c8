package classifier

import (
	"context"
	"strings"

	"github.com/fyrsmithlabs/outcomed/internal/outcome"
)

// Deterministic confidences. A vendor node backed by the matching payload
// shape is the strongest evidence short of a human decision.
const (
	vendorAndStructure = 0.95
	vendorOnly         = 0.85
)

// vendor is a node signature with a known outcome.
type vendor struct {
	name     string
	patterns []string // compacted, matched as substrings of node name or type
	key      outcome.MetricKey
	// skipTriggers ignores trigger nodes, e.g. a Gmail trigger reads mail
	// rather than sending it.
	skipTriggers bool
}

var vendors = []vendor{
	{name: "Google Calendar", patterns: []string{"googlecalendar"}, key: outcome.MeetingBooked},
	{name: "Calendly", patterns: []string{"calendly"}, key: outcome.MeetingBooked},
	{name: "Cal.com", patterns: []string{"calcom"}, key: outcome.MeetingBooked},
	{name: "HubSpot", patterns: []string{"hubspot"}, key: outcome.LeadCreated},
	{name: "Pipedrive", patterns: []string{"pipedrive"}, key: outcome.LeadCreated},
	{name: "Salesforce", patterns: []string{"salesforce"}, key: outcome.LeadCreated},
	{name: "Zendesk", patterns: []string{"zendesk"}, key: outcome.TicketCreated},
	{name: "Freshdesk", patterns: []string{"freshdesk"}, key: outcome.TicketCreated},
	{name: "Jira", patterns: []string{"jira"}, key: outcome.TicketCreated},
	{name: "Gmail", patterns: []string{"gmail"}, key: outcome.EmailSent, skipTriggers: true},
	{name: "SendGrid", patterns: []string{"sendgrid"}, key: outcome.EmailSent, skipTriggers: true},
	{name: "Mailgun", patterns: []string{"mailgun"}, key: outcome.EmailSent, skipTriggers: true},
	{name: "Outlook", patterns: []string{"microsoftoutlook", "outlook"}, key: outcome.EmailSent, skipTriggers: true},
}

// structuralRule is a field combination that implies an outcome on its own.
type structuralRule struct {
	name       string
	key        outcome.MetricKey
	confidence float64
	match      func(s outcome.Signals) bool
}

// Ordered most specific first.
var structuralRules = []structuralRule{
	{
		name:       "deal stage won",
		key:        outcome.DealWon,
		confidence: 0.90,
		match:      func(s outcome.Signals) bool { return s.DealWon },
	},
	{
		name:       "ticket id with closed status",
		key:        outcome.TicketResolved,
		confidence: 0.90,
		match:      func(s outcome.Signals) bool { return s.TicketID != "" && s.TicketClosed },
	},
	{
		name:       "ticket id with status",
		key:        outcome.TicketCreated,
		confidence: 0.88,
		match:      func(s outcome.Signals) bool { return s.TicketID != "" && s.HasStatus },
	},
	{
		name:       "start time with attendees",
		key:        outcome.MeetingBooked,
		confidence: 0.90,
		match:      func(s outcome.Signals) bool { return s.Timestamp != nil && s.HasAttendees },
	},
	{
		name:       "recipient with subject",
		key:        outcome.EmailSent,
		confidence: 0.86,
		match:      func(s outcome.Signals) bool { return s.Recipient != "" && s.Subject != "" },
	},
	{
		name:       "contact with name",
		key:        outcome.LeadCreated,
		confidence: 0.86,
		match:      func(s outcome.Signals) bool { return s.HasContact() && s.Name != "" },
	},
}

// DeterministicLayer matches vendor signatures and structural field
// combinations.
type DeterministicLayer struct{}

// NewDeterministicLayer creates the deterministic layer.
func NewDeterministicLayer() *DeterministicLayer { return &DeterministicLayer{} }

func (d *DeterministicLayer) Name() string { return string(outcome.LayerDeterministic) }

// Attempt prefers a vendor confirmed by a compatible structure, then a
// structure alone, then a vendor alone.
func (d *DeterministicLayer) Attempt(_ context.Context, at *Attempt) *outcome.Result {
	ev := at.Evidence
	s := ev.Signals

	var matched []structuralRule
	for _, r := range structuralRules {
		if r.match(s) {
			matched = append(matched, r)
		}
	}
	found := matchVendors(ev)

	for _, v := range found {
		for _, r := range matched {
			if compatible(v.key, r.key) {
				return deterministicResult(r.key, vendorAndStructure, v.name,
					v.name+" node with "+r.name)
			}
		}
	}
	if len(matched) > 0 {
		r := matched[0]
		return deterministicResult(r.key, r.confidence, r.name, r.name)
	}
	if len(found) > 0 {
		v := found[0]
		return deterministicResult(refineVendorKey(v.key, s), vendorOnly, v.name, v.name+" node")
	}
	return nil
}

func deterministicResult(key outcome.MetricKey, confidence float64, signature, reasoning string) *outcome.Result {
	return &outcome.Result{
		MetricKey:  key,
		Confidence: confidence,
		Layer:      outcome.LayerDeterministic,
		Metadata: outcome.Metadata{
			Signature: signature,
			Reasoning: reasoning,
		},
	}
}

// matchVendors returns the vendors present, in node order, without repeats.
func matchVendors(ev *outcome.Evidence) []vendor {
	if ev.Execution == nil {
		return nil
	}
	var out []vendor
	seen := make(map[string]bool)
	for _, n := range ev.Execution.Nodes {
		sigs := []string{outcome.CompactName(n.Name)}
		if n.Type != "" {
			sigs = append(sigs, outcome.CompactName(n.Type))
		}
		trigger := isTrigger(sigs)
		for _, v := range vendors {
			if seen[v.name] || (v.skipTriggers && trigger) {
				continue
			}
			if matchesAny(sigs, v.patterns) {
				seen[v.name] = true
				out = append(out, v)
			}
		}
	}
	return out
}

func matchesAny(sigs, patterns []string) bool {
	for _, sig := range sigs {
		for _, p := range patterns {
			if strings.Contains(sig, p) {
				return true
			}
		}
	}
	return false
}

func isTrigger(sigs []string) bool {
	for _, sig := range sigs {
		if strings.HasSuffix(sig, "trigger") {
			return true
		}
	}
	return false
}

// compatible reports whether a structural key confirms a vendor's category.
// Helpdesks also close tickets and CRMs also win deals.
func compatible(vendorKey, structKey outcome.MetricKey) bool {
	switch {
	case vendorKey == structKey:
		return true
	case vendorKey == outcome.TicketCreated && structKey == outcome.TicketResolved:
		return true
	case vendorKey == outcome.LeadCreated && structKey == outcome.DealWon:
		return true
	}
	return false
}

func refineVendorKey(key outcome.MetricKey, s outcome.Signals) outcome.MetricKey {
	switch {
	case key == outcome.TicketCreated && s.TicketClosed:
		return outcome.TicketResolved
	case key == outcome.LeadCreated && s.DealWon:
		return outcome.DealWon
	}
	return key
}
