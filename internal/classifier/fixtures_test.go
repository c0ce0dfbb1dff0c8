package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/fyrsmithlabs/outcomed/internal/llm"
	"github.com/fyrsmithlabs/outcomed/internal/outcome"
	"github.com/fyrsmithlabs/outcomed/internal/store"
)

const testTenant = "tenant-1"

func node(name, typ string, items ...string) outcome.NodeOutput {
	raw := make([]json.RawMessage, len(items))
	for i, it := range items {
		raw[i] = json.RawMessage(it)
	}
	return outcome.NodeOutput{Name: name, Type: typ, Runs: []outcome.NodeRun{{Items: raw}}}
}

func evidence(workflowID, workflowName string, nodes ...outcome.NodeOutput) *outcome.Evidence {
	finished := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	ex := &outcome.Execution{
		ID:         "exec-1",
		WorkflowID: workflowID,
		Status:     outcome.ExecutionSuccess,
		StartedAt:  finished.Add(-time.Second),
		FinishedAt: &finished,
		Nodes:      nodes,
	}
	wf := outcome.WorkflowDefinition{ID: workflowID, Name: workflowName, IsActive: true}
	return outcome.NewEvidence(testTenant, wf, ex)
}

// calendarEvidence is a Google Calendar event with a start time and attendees.
func calendarEvidence() *outcome.Evidence {
	return evidence("wf-cal", "Demo requests",
		node("Webhook", "n8n-nodes-base.webhook", `{"body":{"source":"website"}}`),
		node("Google Calendar", "n8n-nodes-base.googleCalendar",
			`{"id":"evt_1","summary":"Product demo","start_time":"2025-03-04T15:00:00Z","attendees":[{"email":"Jane@Acme.com"}]}`),
	)
}

// bookingEvidence has no vendor nodes: "Booking confirmed" and a
// scheduled_at field score meeting 2 keywords + 3.
func bookingEvidence() *outcome.Evidence {
	return evidence("wf-book", "Website intake",
		node("Webhook", "n8n-nodes-base.webhook", `{"ok":true}`),
		node("Format reply", "n8n-nodes-base.set",
			`{"scheduled_at":"2025-03-04T15:00:00Z","note":"Booking confirmed"}`),
	)
}

// ambiguousEvidence matches no deterministic rule and scores low.
func ambiguousEvidence() *outcome.Evidence {
	return evidence("wf-amb", "Nightly sync",
		node("Cron", "n8n-nodes-base.cron", `{"timestamp":"now"}`),
		node("HTTP Request", "n8n-nodes-base.httpRequest", `{"result":"ok","count":3}`),
	)
}

type mockMappings struct {
	mock.Mock
}

func (m *mockMappings) GetMapping(ctx context.Context, tenantID, workflowID string) (*store.Mapping, error) {
	args := m.Called(ctx, tenantID, workflowID)
	if mp, ok := args.Get(0).(*store.Mapping); ok {
		return mp, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockUsage struct {
	mock.Mock
}

func (m *mockUsage) RecordUsage(ctx context.Context, id string, similarity float64) error {
	return m.Called(ctx, id, similarity).Error(0)
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.vec != nil {
		return f.vec, nil
	}
	return []float32{1, 0, 0}, nil
}

// fakeIndex returns canned matches, honoring the floor the way real
// indexes do.
type fakeIndex struct {
	matches []outcome.AnchorMatch
	err     error
	floors  []float64
}

func (f *fakeIndex) Search(_ context.Context, _ string, _ []float32, floor float64, limit int) ([]outcome.AnchorMatch, error) {
	f.floors = append(f.floors, floor)
	if f.err != nil {
		return nil, f.err
	}
	var out []outcome.AnchorMatch
	for _, m := range f.matches {
		if m.Similarity >= floor && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeIndex) Upsert(context.Context, []outcome.Anchor) error { return nil }
func (f *fakeIndex) Provider() string                             { return "fake" }
func (f *fakeIndex) Close() error                                 { return nil }

type fakeExtractor struct {
	ext  *llm.Extraction
	err  error
	reqs []*llm.Request
}

func (f *fakeExtractor) Extract(_ context.Context, req *llm.Request) (*llm.Extraction, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.ext, nil
}

func (f *fakeExtractor) Provider() string { return "fake" }

var errAPI = errors.New("api unavailable")

// stubLayer returns a fixed result.
type stubLayer struct {
	name  string
	res   *outcome.Result
	calls int
}

func (s *stubLayer) Name() string { return s.name }

func (s *stubLayer) Attempt(context.Context, *Attempt) *outcome.Result {
	s.calls++
	return s.res
}
