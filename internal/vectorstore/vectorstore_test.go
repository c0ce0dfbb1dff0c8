package vectorstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/outcomed/internal/config"
	"github.com/fyrsmithlabs/outcomed/internal/outcome"
)

type fakeSource struct {
	anchors []outcome.Anchor
	err     error
}

func (f *fakeSource) ListAnchors(context.Context, string) ([]outcome.Anchor, error) {
	return f.anchors, f.err
}

type fakeSearcher struct {
	calls int
}

func (f *fakeSearcher) SearchAnchors(_ context.Context, _ string, _ []float32, floor float64, _ int) ([]outcome.AnchorMatch, error) {
	f.calls++
	return []outcome.AnchorMatch{{ID: "a", MetricKey: outcome.MeetingBooked, Similarity: floor}}, nil
}

func testAnchors() []outcome.Anchor {
	return []outcome.Anchor{
		{ID: "11111111-1111-1111-1111-111111111111", Description: "meeting booked via calendar", Vector: []float32{1, 0, 0}, MetricKey: outcome.MeetingBooked, Language: "en"},
		{ID: "22222222-2222-2222-2222-222222222222", Description: "support ticket opened", Vector: []float32{0, 1, 0}, MetricKey: outcome.TicketCreated, Language: "en"},
		{ID: "33333333-3333-3333-3333-333333333333", TenantID: "tenant-a", Description: "demo call scheduled", Vector: []float32{0.9, 0.1, 0}, MetricKey: outcome.MeetingBooked, Language: "en", UsageCount: 4, AverageSimilarity: 0.81},
		{ID: "44444444-4444-4444-4444-444444444444", TenantID: "tenant-b", Description: "other tenant meeting", Vector: []float32{1, 0, 0}, MetricKey: outcome.LeadCreated, Language: "en"},
	}
}

func newChromem(t *testing.T) *ChromemIndex {
	t.Helper()
	idx, err := NewChromemIndex(config.ChromemConfig{}, "anchors", nil)
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(context.Background(), testAnchors()))
	return idx
}

func TestChromemIndex_SearchScopesTenant(t *testing.T) {
	idx := newChromem(t)
	ctx := context.Background()

	matches, err := idx.Search(ctx, "tenant-a", []float32{1, 0, 0}, 0.70, 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, "11111111-1111-1111-1111-111111111111", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-5)
	assert.Equal(t, "33333333-3333-3333-3333-333333333333", matches[1].ID)
	assert.Equal(t, int64(4), matches[1].UsageCount)
	assert.InDelta(t, 0.81, matches[1].AverageSimilarity, 1e-9)
	assert.Equal(t, outcome.MeetingBooked, matches[1].MetricKey)

	for _, m := range matches {
		assert.NotEqual(t, outcome.LeadCreated, m.MetricKey, "tenant-b anchor leaked")
	}
}

func TestChromemIndex_FloorAndLimit(t *testing.T) {
	idx := newChromem(t)
	ctx := context.Background()

	matches, err := idx.Search(ctx, "", []float32{1, 0, 0}, 0.70, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1, "only global anchors without a tenant")

	matches, err = idx.Search(ctx, "tenant-a", []float32{1, 0, 0}, 0.70, 1)
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	matches, err = idx.Search(ctx, "tenant-a", []float32{0, 0, 1}, 0.70, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)

	_, err = idx.Search(ctx, "tenant-a", nil, 0.70, 5)
	assert.ErrorIs(t, err, ErrEmptyVector)
}

func TestChromemIndex_UpsertReplaces(t *testing.T) {
	idx := newChromem(t)
	ctx := context.Background()
	assert.Equal(t, 4, idx.Count())

	a := testAnchors()[1]
	a.Vector = []float32{1, 0, 0}
	require.NoError(t, idx.Upsert(ctx, []outcome.Anchor{a}))
	assert.Equal(t, 4, idx.Count())

	matches, err := idx.Search(ctx, "", []float32{1, 0, 0}, 0.99, 5)
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	assert.Error(t, idx.Upsert(ctx, []outcome.Anchor{{Description: "no id"}}))
}

func TestChromemIndex_Persistent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	idx, err := NewChromemIndex(config.ChromemConfig{Path: dir, Compress: true}, "anchors", nil)
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(ctx, testAnchors()))

	reopened, err := NewChromemIndex(config.ChromemConfig{Path: dir, Compress: true}, "anchors", nil)
	require.NoError(t, err)
	assert.Equal(t, 4, reopened.Count())
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	idx, err := New(ctx, config.VectorStoreConfig{Provider: "pgvector"}, &fakeSearcher{}, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, "pgvector", idx.Provider())

	_, err = New(ctx, config.VectorStoreConfig{Provider: "pgvector"}, nil, 3, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	idx, err = New(ctx, config.VectorStoreConfig{Provider: "chromem", Collection: "anchors"}, nil, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, "chromem", idx.Provider())

	_, err = New(ctx, config.VectorStoreConfig{Provider: "faiss"}, nil, 3, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(ctx, config.VectorStoreConfig{Provider: "qdrant", Collection: "anchors"}, nil, 3, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPGIndex_Search(t *testing.T) {
	s := &fakeSearcher{}
	idx := NewPGIndex(s)

	matches, err := idx.Search(context.Background(), "t", []float32{1}, 0.7, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 1, s.calls)

	_, err = idx.Search(context.Background(), "t", []float32{1}, 0.7, 0)
	assert.Error(t, err)
	assert.Equal(t, 1, s.calls)
}

func TestMirror(t *testing.T) {
	ctx := context.Background()

	idx, err := NewChromemIndex(config.ChromemConfig{}, "anchors", nil)
	require.NoError(t, err)

	n, err := Mirror(ctx, &fakeSource{anchors: testAnchors()}, idx, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 4, idx.Count())

	_, err = Mirror(ctx, &fakeSource{err: errors.New("db down")}, idx, nil)
	assert.Error(t, err)

	n, err = Mirror(ctx, &fakeSource{anchors: testAnchors()}, NewPGIndex(&fakeSearcher{}), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQdrantPayloadRoundTrip(t *testing.T) {
	a := testAnchors()[2]
	payload := anchorPayload(a)
	assert.Equal(t, "tenant-a", payload[metaTenant].GetStringValue())
	assert.Equal(t, globalTenant, anchorPayload(testAnchors()[0])[metaTenant].GetStringValue())

	f := tenantFilter("tenant-a")
	assert.Len(t, f.GetShould(), 2)
	assert.Len(t, tenantFilter("").GetShould(), 1)
}
