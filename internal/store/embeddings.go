package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fyrsmithlabs/outcomed/internal/outcome"
)

// SearchAnchors returns the tenant's and the global anchors whose cosine
// similarity to vec is at least floor, best first.
func (s *Store) SearchAnchors(ctx context.Context, tenantID string, vec []float32, floor float64, limit int) ([]outcome.AnchorMatch, error) {
	ctx, span := s.startSpan(ctx, "SearchAnchors", attribute.Int("limit", limit))
	var err error
	defer func() { endSpan(span, err) }()

	if err = s.checkDimension(vec); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, metric_key, description, usage_count, average_similarity,
		       1 - (embedding <=> $1) AS similarity
		FROM outcome_embeddings
		WHERE (tenant_id = $2 OR tenant_id IS NULL)
		  AND 1 - (embedding <=> $1) >= $3
		ORDER BY embedding <=> $1
		LIMIT $4`,
		pgvector.NewVector(vec), tenantID, floor, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching anchors: %w", err)
	}
	defer rows.Close()

	var out []outcome.AnchorMatch
	for rows.Next() {
		var (
			m   outcome.AnchorMatch
			key string
		)
		if err = rows.Scan(&m.ID, &key, &m.Description, &m.UsageCount, &m.AverageSimilarity, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scanning anchor: %w", err)
		}
		m.MetricKey = outcome.MetricKey(key)
		out = append(out, m)
	}
	err = rows.Err()
	return out, err
}

// RecordUsage bumps an anchor's usage statistics in a single statement.
// All right-hand expressions see the pre-update row, so the running mean is
// computed against the old count without a read-modify-write round trip.
func (s *Store) RecordUsage(ctx context.Context, id string, similarity float64) error {
	ctx, span := s.startSpan(ctx, "RecordUsage", attribute.String("anchor_id", id))
	var err error
	defer func() { endSpan(span, err) }()

	tag, err := s.pool.Exec(ctx, `
		UPDATE outcome_embeddings
		SET usage_count = usage_count + 1,
		    average_similarity = (average_similarity * usage_count + $2) / (usage_count + 1),
		    last_used_at = now()
		WHERE id = $1`,
		id, similarity,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		err = ErrNotFound
	}
	return err
}

// InsertAnchor stores a new anchor. Re-seeding the same description for the
// same key and tenant is a no-op; the returned bool reports an insert.
func (s *Store) InsertAnchor(ctx context.Context, a *outcome.Anchor) (bool, error) {
	ctx, span := s.startSpan(ctx, "InsertAnchor", attribute.String("metric_key", string(a.MetricKey)))
	var err error
	defer func() { endSpan(span, err) }()

	if err = s.checkDimension(a.Vector); err != nil {
		return false, err
	}
	lang := a.Language
	if lang == "" {
		lang = "en"
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO outcome_embeddings (tenant_id, description, embedding, metric_key, language)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING
		RETURNING id`,
		nullable(a.TenantID), a.Description, pgvector.NewVector(a.Vector), string(a.MetricKey), lang,
	).Scan(&a.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inserting anchor: %w", err)
	}
	return true, nil
}

// ListAnchors returns every anchor with its vector, for mirroring into an
// external index. An empty tenantID lists all anchors.
func (s *Store) ListAnchors(ctx context.Context, tenantID string) ([]outcome.Anchor, error) {
	ctx, span := s.startSpan(ctx, "ListAnchors")
	var err error
	defer func() { endSpan(span, err) }()

	rows, err := s.pool.Query(ctx, `
		SELECT id, COALESCE(tenant_id, ''), description, embedding, metric_key, language,
		       usage_count, average_similarity, last_used_at
		FROM outcome_embeddings
		WHERE $1 = '' OR tenant_id = $1 OR tenant_id IS NULL
		ORDER BY created_at`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing anchors: %w", err)
	}
	defer rows.Close()

	var out []outcome.Anchor
	for rows.Next() {
		var (
			a   outcome.Anchor
			vec pgvector.Vector
			key string
		)
		if err = rows.Scan(&a.ID, &a.TenantID, &a.Description, &vec, &key, &a.Language,
			&a.UsageCount, &a.AverageSimilarity, &a.LastUsedAt); err != nil {
			return nil, fmt.Errorf("scanning anchor: %w", err)
		}
		a.Vector = vec.Slice()
		a.MetricKey = outcome.MetricKey(key)
		out = append(out, a)
	}
	err = rows.Err()
	return out, err
}

// GetAnchor loads a single anchor's statistics.
func (s *Store) GetAnchor(ctx context.Context, id string) (*outcome.Anchor, error) {
	a := &outcome.Anchor{ID: id}
	var key string
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(tenant_id, ''), description, metric_key, language,
		       usage_count, average_similarity, last_used_at
		FROM outcome_embeddings WHERE id = $1`, id,
	).Scan(&a.TenantID, &a.Description, &key, &a.Language, &a.UsageCount, &a.AverageSimilarity, &a.LastUsedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	a.MetricKey = outcome.MetricKey(key)
	return a, nil
}

func (s *Store) checkDimension(vec []float32) error {
	if s.vectorLength > 0 && len(vec) != s.vectorLength {
		return fmt.Errorf("%w: got %d, want %d", ErrDimension, len(vec), s.vectorLength)
	}
	return nil
}
