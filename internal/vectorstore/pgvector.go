package vectorstore

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/outcomed/internal/outcome"
)

// AnchorSearcher is the Postgres-side search, implemented by store.Store.
type AnchorSearcher interface {
	SearchAnchors(ctx context.Context, tenantID string, vec []float32, floor float64, limit int) ([]outcome.AnchorMatch, error)
}

// PGIndex searches the anchor table directly with the pgvector <=> operator.
type PGIndex struct {
	searcher AnchorSearcher
}

// NewPGIndex wraps the store's search.
func NewPGIndex(searcher AnchorSearcher) *PGIndex {
	return &PGIndex{searcher: searcher}
}

// Search delegates to the store.
func (p *PGIndex) Search(ctx context.Context, tenantID string, vec []float32, floor float64, limit int) ([]outcome.AnchorMatch, error) {
	start := time.Now()
	if err := validateQuery(vec, limit); err != nil {
		return nil, err
	}
	matches, err := p.searcher.SearchAnchors(ctx, tenantID, vec, floor, limit)
	observeSearch(p.Provider(), start, len(matches), err)
	return matches, err
}

// Upsert is a no-op; the anchor table is the source.
func (p *PGIndex) Upsert(context.Context, []outcome.Anchor) error { return nil }

// Provider returns "pgvector".
func (p *PGIndex) Provider() string { return "pgvector" }

// Close is a no-op; the store owns the pool.
func (p *PGIndex) Close() error { return nil }
