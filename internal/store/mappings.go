package store

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/fyrsmithlabs/outcomed/internal/outcome"
)

// GetMapping returns the confirmed override for a workflow, or ErrNotFound.
func (s *Store) GetMapping(ctx context.Context, tenantID, workflowID string) (*Mapping, error) {
	ctx, span := s.startSpan(ctx, "GetMapping", attribute.String("workflow_id", workflowID))
	var err error
	defer func() { endSpan(span, err) }()

	m := &Mapping{TenantID: tenantID, WorkflowID: workflowID}
	var key string
	err = mapErr(s.pool.QueryRow(ctx, `
		SELECT metric_key, confirmed_by, confirmed_at
		FROM outcome_mappings
		WHERE tenant_id = $1 AND workflow_id = $2`,
		tenantID, workflowID,
	).Scan(&key, &m.ConfirmedBy, &m.ConfirmedAt))
	if err != nil {
		return nil, err
	}
	m.MetricKey = outcome.MetricKey(key)
	return m, nil
}

// UpsertMapping creates or replaces the override for a workflow.
func (s *Store) UpsertMapping(ctx context.Context, m Mapping) error {
	ctx, span := s.startSpan(ctx, "UpsertMapping", attribute.String("workflow_id", m.WorkflowID))
	_, err := s.pool.Exec(ctx, upsertMappingSQL, m.TenantID, m.WorkflowID, string(m.MetricKey), m.ConfirmedBy)
	endSpan(span, err)
	return err
}

const upsertMappingSQL = `
	INSERT INTO outcome_mappings (tenant_id, workflow_id, metric_key, confirmed_by, confirmed_at)
	VALUES ($1, $2, $3, $4, now())
	ON CONFLICT (tenant_id, workflow_id) DO UPDATE
	SET metric_key = EXCLUDED.metric_key,
	    confirmed_by = EXCLUDED.confirmed_by,
	    confirmed_at = EXCLUDED.confirmed_at`
