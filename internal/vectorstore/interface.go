// Package vectorstore searches outcome anchors by vector similarity.
//
// Postgres (pgvector) is the system of record for anchors and their usage
// statistics. The chromem and qdrant indexes are mirrors that can serve the
// similarity query instead; Mirror copies anchors into them at startup and
// after seeding.
package vectorstore

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/outcomed/internal/outcome"
)

// globalTenant marks anchors shared by every tenant in external indexes,
// which cannot store a NULL tenant.
const globalTenant = "_global"

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid vectorstore configuration")

	// ErrEmptyVector is returned for a search without a query vector.
	ErrEmptyVector = errors.New("query vector is empty")

	// ErrConnectionFailed indicates the index could not be reached.
	ErrConnectionFailed = errors.New("vectorstore connection failed")
)

// Index answers nearest-anchor queries.
type Index interface {
	// Search returns anchors visible to tenantID (its own and global ones)
	// with cosine similarity >= floor, best first, at most limit.
	Search(ctx context.Context, tenantID string, vec []float32, floor float64, limit int) ([]outcome.AnchorMatch, error)

	// Upsert writes anchors by ID. Anchors without a tenant are global.
	Upsert(ctx context.Context, anchors []outcome.Anchor) error

	// Provider names the backend for logs and metrics.
	Provider() string

	Close() error
}

// AnchorSource is the system of record Mirror reads from.
type AnchorSource interface {
	ListAnchors(ctx context.Context, tenantID string) ([]outcome.Anchor, error)
}

func tenantKey(tenantID string) string {
	if tenantID == "" {
		return globalTenant
	}
	return tenantID
}

func validateQuery(vec []float32, limit int) error {
	if len(vec) == 0 {
		return ErrEmptyVector
	}
	if limit <= 0 {
		return errors.New("limit must be positive")
	}
	return nil
}
