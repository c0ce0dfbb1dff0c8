package store

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// ClaimExecution takes the processing claim for an execution. It returns
// false when another worker holds a live claim or the execution is done.
// Failed claims, and claims older than stale, can be re-taken.
func (s *Store) ClaimExecution(ctx context.Context, tenantID, executionID, workflowID string, stale time.Duration) (bool, error) {
	ctx, span := s.startSpan(ctx, "ClaimExecution", attribute.String("execution_id", executionID))
	var err error
	defer func() { endSpan(span, err) }()

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO execution_claims (tenant_id, execution_id, workflow_id, state, claimed_at)
		VALUES ($1, $2, $3, 'claimed', now())
		ON CONFLICT (tenant_id, execution_id) DO UPDATE
		SET state = 'claimed',
		    attempts = execution_claims.attempts + 1,
		    claimed_at = now(),
		    completed_at = NULL
		WHERE execution_claims.state = 'failed'
		   OR (execution_claims.state = 'claimed'
		       AND execution_claims.claimed_at < now() - make_interval(secs => $4))`,
		tenantID, executionID, workflowID, stale.Seconds(),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteClaim moves a claim to done or failed.
func (s *Store) CompleteClaim(ctx context.Context, tenantID, executionID string, state ClaimState) error {
	ctx, span := s.startSpan(ctx, "CompleteClaim", attribute.String("state", string(state)))
	var err error
	defer func() { endSpan(span, err) }()

	_, err = s.pool.Exec(ctx, `
		UPDATE execution_claims
		SET state = $3, completed_at = now()
		WHERE tenant_id = $1 AND execution_id = $2`,
		tenantID, executionID, string(state),
	)
	return err
}
