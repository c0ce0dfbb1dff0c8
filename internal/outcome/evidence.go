package outcome

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"
)

const (
	maxWalkDepth   = 8
	maxFields      = 2000
	maxCorpusValue = 200
)

// Field is one leaf (or container) found in a node's json payload.
type Field struct {
	Node  string
	Path  string // gjson path inside the item
	Key   string // normalized last key, e.g. "scheduled_at"
	Value gjson.Result
}

// String returns the field value as text.
func (f Field) String() string { return strings.TrimSpace(f.Value.String()) }

// Evidence is the read-only view of one execution the layers classify.
// Lookups are presence-checked; nothing assumes a field exists.
type Evidence struct {
	TenantID  string
	Workflow  WorkflowDefinition
	Execution *Execution
	Fields    []Field
	Signals   Signals

	corpus string
}

// NewEvidence flattens the node-output graph and detects known signals.
func NewEvidence(tenantID string, wf WorkflowDefinition, ex *Execution) *Evidence {
	ev := &Evidence{TenantID: tenantID, Workflow: wf, Execution: ex}
	if ex != nil {
		for _, node := range ex.Nodes {
			for _, run := range node.Runs {
				for _, item := range run.Items {
					if !gjson.ValidBytes(item) {
						continue
					}
					ev.walk(node.Name, "", "", gjson.ParseBytes(item), 0)
				}
			}
		}
	}
	ev.Signals = detectSignals(ev)
	ev.corpus = buildCorpus(ev)
	return ev
}

func (ev *Evidence) walk(node, path, key string, v gjson.Result, depth int) {
	if len(ev.Fields) >= maxFields || depth > maxWalkDepth {
		return
	}
	if key != "" {
		ev.Fields = append(ev.Fields, Field{Node: node, Path: path, Key: key, Value: v})
	}
	if !v.IsObject() && !v.IsArray() {
		return
	}
	isArray := v.IsArray()
	var idx int
	v.ForEach(func(k, child gjson.Result) bool {
		childKey := key
		segment := ""
		if isArray {
			segment = strconv.Itoa(idx)
			idx++
		} else {
			segment = escapePath(k.String())
			childKey = NormalizeKey(k.String())
		}
		childPath := segment
		if path != "" {
			childPath = path + "." + segment
		}
		ev.walk(node, childPath, childKey, child, depth+1)
		return len(ev.Fields) < maxFields
	})
}

// Lookup returns the first field whose normalized key is one of keys, in key
// priority order.
func (ev *Evidence) Lookup(keys ...string) (Field, bool) {
	for _, k := range keys {
		for _, f := range ev.Fields {
			if f.Key == k {
				return f, true
			}
		}
	}
	return Field{}, false
}

// NodeNames returns node names in execution order.
func (ev *Evidence) NodeNames() []string {
	if ev.Execution == nil {
		return nil
	}
	names := make([]string, 0, len(ev.Execution.Nodes))
	for _, n := range ev.Execution.Nodes {
		names = append(names, n.Name)
	}
	return names
}

// HasPhrase reports whether the normalized phrase occurs as whole words in
// the workflow name, node names and types, field keys, or string values.
func (ev *Evidence) HasPhrase(phrase string) bool {
	p := normalizeText(phrase)
	if p == "" {
		return false
	}
	return strings.Contains(ev.corpus, " "+p+" ")
}

// LastOutput returns the final item of the last node that produced output.
func (ev *Evidence) LastOutput() (string, json.RawMessage) {
	if ev.Execution == nil {
		return "", nil
	}
	for i := len(ev.Execution.Nodes) - 1; i >= 0; i-- {
		n := ev.Execution.Nodes[i]
		if item, ok := n.LastItem(); ok {
			return n.Name, item
		}
	}
	return "", nil
}

// SampleOutputs returns the last item of up to max nodes, keyed by node name,
// each truncated to limit bytes.
func (ev *Evidence) SampleOutputs(max, limit int) map[string]string {
	out := make(map[string]string)
	if ev.Execution == nil {
		return out
	}
	for _, n := range ev.Execution.Nodes {
		if len(out) >= max {
			break
		}
		if item, ok := n.LastItem(); ok {
			out[n.Name] = Truncate(string(item), limit)
		}
	}
	return out
}

// Truncate cuts s to at most n bytes on a rune boundary.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }

// NormalizeKey lower-cases a json key and converts camelCase, dashes,
// dots and spaces to snake_case.
func NormalizeKey(k string) string {
	var b strings.Builder
	runes := []rune(strings.TrimSpace(k))
	for i, r := range runes {
		switch {
		case r == '-' || r == ' ' || r == '.':
			b.WriteByte('_')
		case unicode.IsUpper(r):
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func escapePath(k string) string {
	var b strings.Builder
	for _, r := range k {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func buildCorpus(ev *Evidence) string {
	parts := []string{ev.Workflow.Name}
	parts = append(parts, ev.Workflow.Tags...)
	if ev.Execution != nil {
		for _, n := range ev.Execution.Nodes {
			parts = append(parts, n.Name, nodeTypeName(n.Type))
		}
	}
	for _, f := range ev.Fields {
		parts = append(parts, f.Key)
		if f.Value.Type == gjson.String {
			parts = append(parts, Truncate(f.Value.Str, maxCorpusValue))
		}
	}
	return " " + normalizeText(strings.Join(parts, " ")) + " "
}

// normalizeText lower-cases s and collapses every non letter/digit run into
// a single space.
func normalizeText(s string) string {
	var b strings.Builder
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// nodeTypeName strips the package prefix from an upstream node type, e.g.
// "n8n-nodes-base.googleCalendar" becomes "googleCalendar".
func nodeTypeName(t string) string {
	if i := strings.LastIndex(t, "."); i >= 0 {
		return t[i+1:]
	}
	return t
}

// CompactName lower-cases s and drops everything but letters and digits, so
// "Google Calendar", "googleCalendar" and "google-calendar" compare equal.
func CompactName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NodeSignatures returns the compacted name and type of every node.
func (ev *Evidence) NodeSignatures() []string {
	if ev.Execution == nil {
		return nil
	}
	out := make([]string, 0, 2*len(ev.Execution.Nodes))
	for _, n := range ev.Execution.Nodes {
		out = append(out, CompactName(n.Name))
		if n.Type != "" {
			out = append(out, CompactName(nodeTypeName(n.Type)))
		}
	}
	return out
}
