package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fyrsmithlabs/outcomed/internal/outcome"
)

// InsertNotification stores a pending notification unless one already
// exists for the execution. inserted is false for the duplicate case.
func (s *Store) InsertNotification(ctx context.Context, n *Notification) (bool, error) {
	ctx, span := s.startSpan(ctx, "InsertNotification", attribute.String("execution_id", n.ExecutionID))
	var err error
	defer func() { endSpan(span, err) }()

	if n.Status == "" {
		n.Status = NotificationPending
	}
	if n.Severity == "" {
		n.Severity = "info"
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO review_notifications (tenant_id, workflow_id, execution_id, suggested_metric_key,
			confidence, detection_layer, subject, message, severity, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tenant_id, execution_id) DO NOTHING
		RETURNING id, created_at`,
		n.TenantID, n.WorkflowID, n.ExecutionID, string(n.SuggestedKey), n.Confidence,
		string(n.Layer), n.Subject, n.Message, n.Severity, string(n.Status),
	).Scan(&n.ID, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inserting notification: %w", err)
	}
	return true, nil
}

const notificationSelect = `
	SELECT id, tenant_id, workflow_id, execution_id, suggested_metric_key, confidence, detection_layer,
	       subject, message, severity, status, COALESCE(resolved_metric_key, ''), COALESCE(resolved_by, ''),
	       created_at, resolved_at
	FROM review_notifications`

func scanNotification(row pgx.Row) (*Notification, error) {
	var (
		n                              Notification
		suggested, layer, status, rKey string
	)
	err := row.Scan(&n.ID, &n.TenantID, &n.WorkflowID, &n.ExecutionID, &suggested, &n.Confidence, &layer,
		&n.Subject, &n.Message, &n.Severity, &status, &rKey, &n.ResolvedBy, &n.CreatedAt, &n.ResolvedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	n.SuggestedKey = outcome.MetricKey(suggested)
	n.Layer = outcome.Layer(layer)
	n.Status = NotificationStatus(status)
	n.ResolvedKey = outcome.MetricKey(rKey)
	return &n, nil
}

// GetNotification loads one notification.
func (s *Store) GetNotification(ctx context.Context, tenantID, id string) (*Notification, error) {
	return scanNotification(s.pool.QueryRow(ctx, notificationSelect+`
		WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

// GetNotificationByExecution loads the notification for an execution.
func (s *Store) GetNotificationByExecution(ctx context.Context, tenantID, executionID string) (*Notification, error) {
	return scanNotification(s.pool.QueryRow(ctx, notificationSelect+`
		WHERE tenant_id = $1 AND execution_id = $2`, tenantID, executionID))
}

// ListNotifications returns notifications newest first. An empty status
// lists every state.
func (s *Store) ListNotifications(ctx context.Context, tenantID string, status NotificationStatus, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, notificationSelect+`
		WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3`, tenantID, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ApproveNotification resolves a pending notification and writes the
// confirmed mapping for its workflow in one transaction. key overrides the
// suggested metric key when set.
func (s *Store) ApproveNotification(ctx context.Context, tenantID, id string, key outcome.MetricKey, by string) (*Notification, error) {
	ctx, span := s.startSpan(ctx, "ApproveNotification", attribute.String("notification_id", id))
	var (
		n   *Notification
		err error
	)
	defer func() { endSpan(span, err) }()

	err = s.inTx(ctx, func(tx pgx.Tx) error {
		var txErr error
		n, txErr = s.resolve(ctx, tx, tenantID, id, NotificationApproved, key, by)
		if txErr != nil {
			return txErr
		}
		_, txErr = tx.Exec(ctx, upsertMappingSQL, tenantID, n.WorkflowID, string(n.ResolvedKey), by)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

// DismissNotification resolves a pending notification without feedback.
func (s *Store) DismissNotification(ctx context.Context, tenantID, id, by string) (*Notification, error) {
	ctx, span := s.startSpan(ctx, "DismissNotification", attribute.String("notification_id", id))
	var (
		n   *Notification
		err error
	)
	defer func() { endSpan(span, err) }()

	err = s.inTx(ctx, func(tx pgx.Tx) error {
		var txErr error
		n, txErr = s.resolve(ctx, tx, tenantID, id, NotificationDismissed, "", by)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

// resolve locks the row and moves it out of pending. Terminal rows are
// immutable.
func (s *Store) resolve(ctx context.Context, tx pgx.Tx, tenantID, id string, to NotificationStatus, key outcome.MetricKey, by string) (*Notification, error) {
	n, err := scanNotification(tx.QueryRow(ctx, notificationSelect+`
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE`, tenantID, id))
	if err != nil {
		return nil, err
	}
	if n.Status != NotificationPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrTerminal, id, n.Status)
	}

	if to == NotificationApproved && key == "" {
		key = n.SuggestedKey
	}
	err = tx.QueryRow(ctx, `
		UPDATE review_notifications
		SET status = $3, resolved_metric_key = NULLIF($4, ''), resolved_by = $5, resolved_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING resolved_at`,
		tenantID, id, string(to), string(key), by,
	).Scan(&n.ResolvedAt)
	if err != nil {
		return nil, err
	}
	n.Status = to
	n.ResolvedKey = key
	n.ResolvedBy = by
	return n, nil
}
