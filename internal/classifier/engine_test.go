package classifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/outcomed/internal/config"
	"github.com/fyrsmithlabs/outcomed/internal/llm"
	"github.com/fyrsmithlabs/outcomed/internal/outcome"
	"github.com/fyrsmithlabs/outcomed/internal/store"
)

func TestEngine_FirstResultWins(t *testing.T) {
	first := &stubLayer{name: "first"}
	second := &stubLayer{name: "second", res: &outcome.Result{
		MetricKey: outcome.LeadCreated, Confidence: 0.8, Layer: outcome.LayerVectorSemantic,
	}}
	third := &stubLayer{name: "third", res: &outcome.Result{
		MetricKey: outcome.DealWon, Confidence: 0.99, Layer: outcome.LayerAI,
	}}

	e := NewEngine(nil, first, second, third)
	res := e.Classify(context.Background(), ambiguousEvidence())

	assert.Equal(t, outcome.LeadCreated, res.MetricKey)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Equal(t, 0, third.calls)
	assert.Equal(t, []string{"first", "second", "third"}, e.Layers())
}

func TestEngine_TerminalFallback(t *testing.T) {
	e := NewEngine(nil, &stubLayer{name: "empty"})
	res := e.Classify(context.Background(), ambiguousEvidence())

	assert.Equal(t, outcome.Unknown, res.MetricKey)
	assert.Equal(t, 0.0, res.Confidence)
	assert.Equal(t, outcome.LayerNone, res.Layer)
	assert.Equal(t, []string{"Cron", "HTTP Request"}, res.Metadata.NodeNames)
}

func TestEngine_NormalizesToLayerCeiling(t *testing.T) {
	e := NewEngine(nil, &stubLayer{name: "greedy", res: &outcome.Result{
		MetricKey: outcome.MeetingBooked, Confidence: 1.4, Layer: outcome.LayerDeterministic,
	}})
	res := e.Classify(context.Background(), calendarEvidence())

	assert.Equal(t, outcome.DeterministicCeiling, res.Confidence)
	assert.Equal(t, "jane@acme.com", res.Metadata.ContactEmail)
	require.NotNil(t, res.Metadata.ScheduledAt)
}

func TestDryRun(t *testing.T) {
	ctx := context.Background()
	assert.False(t, IsDryRun(ctx))
	assert.True(t, IsDryRun(WithDryRun(ctx)))
}

func TestNewDefault_LayerOrder(t *testing.T) {
	cfg := config.Default()

	full := NewDefault(cfg, Dependencies{
		Mappings:  &mockMappings{},
		Embedder:  &fakeEmbedder{},
		Index:     &fakeIndex{},
		Extractor: &fakeExtractor{},
	}, nil)
	assert.Equal(t, []string{"cache", "deterministic", "vector_semantic", "heuristic", "held_vector", "ai"}, full.Layers())

	minimal := NewDefault(cfg, Dependencies{}, nil)
	assert.Equal(t, []string{"deterministic", "heuristic"}, minimal.Layers())
}

func TestCacheLayer(t *testing.T) {
	t.Run("override wins", func(t *testing.T) {
		m := &mockMappings{}
		m.On("GetMapping", mock.Anything, testTenant, "wf-cal").
			Return(&store.Mapping{MetricKey: outcome.TicketCreated, ConfirmedBy: "ops@acme.com"}, nil)

		res := NewCacheLayer(m, nil).Attempt(context.Background(), &Attempt{Evidence: calendarEvidence()})
		require.NotNil(t, res)
		assert.Equal(t, outcome.TicketCreated, res.MetricKey)
		assert.Equal(t, 1.0, res.Confidence)
		assert.Equal(t, outcome.LayerUserConfirmed, res.Layer)
		m.AssertExpectations(t)
	})

	t.Run("not found passes", func(t *testing.T) {
		m := &mockMappings{}
		m.On("GetMapping", mock.Anything, mock.Anything, mock.Anything).Return(nil, store.ErrNotFound)
		assert.Nil(t, NewCacheLayer(m, nil).Attempt(context.Background(), &Attempt{Evidence: calendarEvidence()}))
	})

	t.Run("lookup error passes", func(t *testing.T) {
		m := &mockMappings{}
		m.On("GetMapping", mock.Anything, mock.Anything, mock.Anything).Return(nil, errAPI)
		assert.Nil(t, NewCacheLayer(m, nil).Attempt(context.Background(), &Attempt{Evidence: calendarEvidence()}))
	})

	t.Run("invalid stored key passes", func(t *testing.T) {
		m := &mockMappings{}
		m.On("GetMapping", mock.Anything, mock.Anything, mock.Anything).
			Return(&store.Mapping{MetricKey: "invoice_paid"}, nil)
		assert.Nil(t, NewCacheLayer(m, nil).Attempt(context.Background(), &Attempt{Evidence: calendarEvidence()}))
	})
}

// fullEngine wires every layer with fakes. The index and extractor are
// returned for per-test tuning.
func fullEngine(t *testing.T, mappings *mockMappings, index *fakeIndex, extractor llm.Extractor) *Engine {
	t.Helper()
	usage := &mockUsage{}
	usage.On("RecordUsage", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	return NewDefault(config.Default(), Dependencies{
		Mappings:  mappings,
		Embedder:  &fakeEmbedder{},
		Index:     index,
		Usage:     usage,
		Extractor: extractor,
	}, nil)
}

func noMapping() *mockMappings {
	m := &mockMappings{}
	m.On("GetMapping", mock.Anything, mock.Anything, mock.Anything).Return(nil, store.ErrNotFound)
	return m
}

func TestClassify_CalendarNodeIsDeterministicMeeting(t *testing.T) {
	e := fullEngine(t, noMapping(), &fakeIndex{}, &fakeExtractor{err: errAPI})

	res := e.Classify(context.Background(), calendarEvidence())

	assert.Equal(t, outcome.MeetingBooked, res.MetricKey)
	assert.Equal(t, outcome.LayerDeterministic, res.Layer)
	assert.GreaterOrEqual(t, res.Confidence, 0.90)
	assert.Equal(t, "jane@acme.com", res.Metadata.ContactEmail)
	require.NotNil(t, res.Metadata.ScheduledAt)
	assert.Equal(t, "2025-03-04T15:00:00Z", res.Metadata.ScheduledAt.Format("2006-01-02T15:04:05Z07:00"))
}

func TestClassify_BookingTextIsHeuristicMeeting(t *testing.T) {
	e := fullEngine(t, noMapping(), &fakeIndex{}, &fakeExtractor{err: errAPI})

	res := e.Classify(context.Background(), bookingEvidence())

	assert.Equal(t, outcome.MeetingBooked, res.MetricKey)
	assert.Equal(t, outcome.LayerHeuristic, res.Layer)
	assert.GreaterOrEqual(t, res.Confidence, 0.6)
	assert.Less(t, res.Confidence, 0.75)
	assert.Equal(t, 0.7, res.Confidence)
}

func TestClassify_AmbiguousFallsThroughToUnknown(t *testing.T) {
	index := &fakeIndex{matches: []outcome.AnchorMatch{
		{ID: "a1", MetricKey: outcome.LeadCreated, Similarity: 0.68},
	}}
	extractor := &fakeExtractor{err: errAPI}
	e := fullEngine(t, noMapping(), index, extractor)

	res := e.Classify(context.Background(), ambiguousEvidence())

	assert.Equal(t, outcome.Unknown, res.MetricKey)
	assert.Equal(t, 0.0, res.Confidence)
	assert.Equal(t, outcome.LayerNone, res.Layer)
	assert.Len(t, extractor.reqs, 1, "AI fallback must be invoked")
	assert.Equal(t, []float64{0.70}, index.floors)
}

func TestClassify_ConfirmedMappingBeatsContradictoryEvidence(t *testing.T) {
	m := &mockMappings{}
	m.On("GetMapping", mock.Anything, testTenant, "wf-cal").
		Return(&store.Mapping{TenantID: testTenant, WorkflowID: "wf-cal", MetricKey: outcome.TicketCreated}, nil)
	extractor := &fakeExtractor{}
	e := fullEngine(t, m, &fakeIndex{}, extractor)

	res := e.Classify(context.Background(), calendarEvidence())

	assert.Equal(t, outcome.TicketCreated, res.MetricKey)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, outcome.LayerUserConfirmed, res.Layer)
	assert.Empty(t, extractor.reqs)
}

func TestMonotonicity_DeterministicAboveHeuristic(t *testing.T) {
	for _, ev := range []*outcome.Evidence{calendarEvidence(), bookingEvidence(), ambiguousEvidence()} {
		det := NewDeterministicLayer().Attempt(context.Background(), &Attempt{Evidence: ev})
		heu := NewHeuristicLayer(0).Attempt(context.Background(), &Attempt{Evidence: ev})
		if det == nil || heu == nil {
			continue
		}
		assert.GreaterOrEqual(t, det.Confidence, heu.Confidence)
	}
}
