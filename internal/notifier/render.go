package notifier

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/outcomed/internal/outcome"
)

// DefaultMaxNodeNames caps the node names listed in a message.
const DefaultMaxNodeNames = 5

var keyLabels = map[outcome.MetricKey]string{
	outcome.MeetingBooked:  "a booked meeting",
	outcome.LeadCreated:    "a new lead",
	outcome.TicketCreated:  "a new support ticket",
	outcome.TicketResolved: "a resolved support ticket",
	outcome.EmailSent:      "a sent email",
	outcome.DealWon:        "a won deal",
}

// Label is the human phrase for a metric key.
func Label(k outcome.MetricKey) string {
	if l, ok := keyLabels[k]; ok {
		return l
	}
	return "an unrecognized outcome"
}

// Rendered is the text of a review notification.
type Rendered struct {
	Subject  string
	Message  string
	Severity string
}

// Render explains a low-confidence result: what the engine believes
// happened, why, and which nodes it saw.
func Render(wf outcome.WorkflowDefinition, res *outcome.Result, maxNames int) Rendered {
	name := wf.Name
	if name == "" {
		name = wf.ID
	}
	pct := fmt.Sprintf("%.0f%%", res.Confidence*100)
	label := Label(res.MetricKey)

	var why string
	switch res.Layer {
	case outcome.LayerDeterministic:
		why = fmt.Sprintf("Its output fields look like %s (%s confidence)", label, pct)
		if res.Metadata.Signature != "" {
			why += fmt.Sprintf(", matched on %s", res.Metadata.Signature)
		}
		why += "."
	case outcome.LayerVectorSemantic:
		why = fmt.Sprintf("It resembles a known pattern for %s (%.0f%% similar, %s confidence).",
			label, res.Metadata.Similarity*100, pct)
	case outcome.LayerHeuristic:
		why = fmt.Sprintf("Keywords in the workflow and its output point to %s, but only with %s confidence.", label, pct)
	case outcome.LayerAI:
		why = fmt.Sprintf("The AI fallback suggests %s with %s confidence.", label, pct)
		if r := strings.TrimSpace(res.Metadata.Reasoning); r != "" {
			why += " Reasoning: " + r
			if !strings.HasSuffix(r, ".") {
				why += "."
			}
		}
	case outcome.LayerUserConfirmed:
		why = fmt.Sprintf("A confirmed mapping says %s.", label)
	default:
		why = "None of the detection layers could tell what it accomplished."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "We could not confirm what workflow %q did in this run. %s", name, why)
	if nodes := NodeList(res.Metadata.NodeNames, maxNames); nodes != "" {
		fmt.Fprintf(&b, " Steps seen: %s.", nodes)
	}
	if res.MetricKey == outcome.Unknown {
		b.WriteString(" Tell us what this workflow does so future runs are recorded automatically.")
	} else {
		b.WriteString(" Approve to record it, or pick the right outcome.")
	}

	severity := "info"
	if res.MetricKey == outcome.Unknown {
		severity = "warning"
	}

	return Rendered{
		Subject:  fmt.Sprintf("Review needed: %s", name),
		Message:  b.String(),
		Severity: severity,
	}
}

// NodeList joins up to max names and appends "+N more" for the rest.
func NodeList(names []string, max int) string {
	if max <= 0 {
		max = DefaultMaxNodeNames
	}
	if len(names) <= max {
		return strings.Join(names, ", ")
	}
	return fmt.Sprintf("%s +%d more", strings.Join(names[:max], ", "), len(names)-max)
}
