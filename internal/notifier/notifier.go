// Package notifier creates review notifications for low-confidence
// classifications and applies reviewer feedback.
//
// A notification is stored once per execution. Fan-out happens only after
// a successful insert and is best effort: dispatch failures are logged and
// never undo the stored notification. Approving a notification writes the
// confirmed workflow mapping that the classifier's cache layer reads.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outcomed/internal/config"
	"github.com/fyrsmithlabs/outcomed/internal/logging"
	"github.com/fyrsmithlabs/outcomed/internal/outcome"
	"github.com/fyrsmithlabs/outcomed/internal/store"
)

var (
	// ErrKeyRequired is returned when approving a notification whose
	// suggestion is unknown without naming the real outcome.
	ErrKeyRequired = errors.New("metric key required: suggestion is unknown")

	// ErrInvalidKey is returned for a metric key that cannot be mapped.
	ErrInvalidKey = errors.New("invalid metric key")
)

// Store is the notification and mapping persistence the notifier needs.
type Store interface {
	NotificationExists(ctx context.Context, tenantID, executionID string) (bool, error)
	InsertNotification(ctx context.Context, n *store.Notification) (bool, error)
	GetNotification(ctx context.Context, tenantID, id string) (*store.Notification, error)
	ListNotifications(ctx context.Context, tenantID string, status store.NotificationStatus, limit int) ([]*store.Notification, error)
	ApproveNotification(ctx context.Context, tenantID, id string, key outcome.MetricKey, by string) (*store.Notification, error)
	DismissNotification(ctx context.Context, tenantID, id, by string) (*store.Notification, error)
	UpsertMapping(ctx context.Context, m store.Mapping) error
}

var (
	// Created counts notification attempts.
	// Labels: result (created, duplicate, error)
	Created = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outcomed",
			Subsystem: "notifier",
			Name:      "notifications_total",
			Help:      "Total review notification attempts by result",
		},
		[]string{"result"},
	)

	// DispatchFailures counts failed fan-out publishes.
	DispatchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "outcomed",
			Subsystem: "notifier",
			Name:      "dispatch_failures_total",
			Help:      "Total notification fan-out failures",
		},
	)

	// Resolutions counts reviewer decisions.
	// Labels: status (approved, dismissed)
	Resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outcomed",
			Subsystem: "notifier",
			Name:      "resolutions_total",
			Help:      "Total review notifications resolved",
		},
		[]string{"status"},
	)
)

// Request is one low-confidence classification to review.
type Request struct {
	TenantID  string
	Workflow  outcome.WorkflowDefinition
	Execution *outcome.Execution
	Result    *outcome.Result
}

// Notifier stores notifications and fans them out.
type Notifier struct {
	store      Store
	dispatcher Dispatcher
	cfg        config.NotifierConfig
	logger     *logging.Logger
}

// New creates a notifier. A nil dispatcher disables fan-out.
func New(s Store, d Dispatcher, cfg config.NotifierConfig, logger *logging.Logger) *Notifier {
	if d == nil {
		d = NoopDispatcher{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.MaxNodeNames <= 0 {
		cfg.MaxNodeNames = DefaultMaxNodeNames
	}
	return &Notifier{store: s, dispatcher: d, cfg: cfg, logger: logger.Named("notifier")}
}

// Notify stores the review notification for the execution. created is
// false when one already exists, which is not an error.
func (n *Notifier) Notify(ctx context.Context, req Request) (*store.Notification, bool, error) {
	exists, err := n.store.NotificationExists(ctx, req.TenantID, req.Execution.ID)
	if err != nil {
		Created.WithLabelValues("error").Inc()
		return nil, false, fmt.Errorf("checking notification: %w", err)
	}
	if exists {
		Created.WithLabelValues("duplicate").Inc()
		n.logger.Debug(ctx, "notification already exists for execution")
		return nil, false, nil
	}

	text := Render(req.Workflow, req.Result, n.cfg.MaxNodeNames)
	rec := &store.Notification{
		TenantID:     req.TenantID,
		WorkflowID:   req.Execution.WorkflowID,
		ExecutionID:  req.Execution.ID,
		SuggestedKey: req.Result.MetricKey,
		Confidence:   req.Result.Confidence,
		Layer:        req.Result.Layer,
		Subject:      text.Subject,
		Message:      text.Message,
		Severity:     text.Severity,
		Status:       store.NotificationPending,
	}
	inserted, err := n.store.InsertNotification(ctx, rec)
	if err != nil {
		Created.WithLabelValues("error").Inc()
		return nil, false, err
	}
	if !inserted {
		// Lost the race to another worker.
		Created.WithLabelValues("duplicate").Inc()
		return nil, false, nil
	}
	Created.WithLabelValues("created").Inc()
	n.logger.Info(ctx, "review notification created",
		zap.String("notification_id", rec.ID),
		zap.String("suggested_key", string(rec.SuggestedKey)),
		zap.Float64("confidence", rec.Confidence),
	)

	n.dispatch(ctx, rec)
	return rec, true, nil
}

func (n *Notifier) dispatch(ctx context.Context, rec *store.Notification) {
	err := n.dispatcher.Dispatch(ctx, Payload{
		TenantID:  rec.TenantID,
		Subject:   rec.Subject,
		Message:   rec.Message,
		Severity:  rec.Severity,
		ActionURL: n.ActionURL(rec),
	})
	if err != nil {
		DispatchFailures.Inc()
		n.logger.Warn(ctx, "notification fan-out failed",
			zap.String("notification_id", rec.ID),
			zap.Error(err),
		)
	}
}

// ActionURL links to the review screen for rec.
func (n *Notifier) ActionURL(rec *store.Notification) string {
	return strings.TrimRight(n.cfg.ActionBaseURL, "/") + "/" + rec.ID
}

// List returns a tenant's notifications, newest first.
func (n *Notifier) List(ctx context.Context, tenantID string, status store.NotificationStatus, limit int) ([]*store.Notification, error) {
	return n.store.ListNotifications(ctx, tenantID, status, limit)
}

// Approve confirms a notification. key overrides the suggestion when set;
// approving an unknown suggestion requires an override.
func (n *Notifier) Approve(ctx context.Context, tenantID, id string, key outcome.MetricKey, by string) (*store.Notification, error) {
	if key != "" {
		if !key.Valid() || key == outcome.Unknown {
			return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	} else {
		cur, err := n.store.GetNotification(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		if cur.Status == store.NotificationPending && cur.SuggestedKey == outcome.Unknown {
			return nil, ErrKeyRequired
		}
	}

	rec, err := n.store.ApproveNotification(ctx, tenantID, id, key, by)
	if err != nil {
		return nil, err
	}
	Resolutions.WithLabelValues(string(store.NotificationApproved)).Inc()
	n.logger.Info(ctx, "notification approved",
		zap.String("notification_id", id),
		zap.String("workflow_id", rec.WorkflowID),
		zap.String("metric_key", string(rec.ResolvedKey)),
	)
	return rec, nil
}

// Dismiss closes a notification without feedback.
func (n *Notifier) Dismiss(ctx context.Context, tenantID, id, by string) (*store.Notification, error) {
	rec, err := n.store.DismissNotification(ctx, tenantID, id, by)
	if err != nil {
		return nil, err
	}
	Resolutions.WithLabelValues(string(store.NotificationDismissed)).Inc()
	n.logger.Info(ctx, "notification dismissed", zap.String("notification_id", id))
	return rec, nil
}

// ConfirmMapping records a workflow's outcome directly, without a
// notification.
func (n *Notifier) ConfirmMapping(ctx context.Context, tenantID, workflowID string, key outcome.MetricKey, by string) error {
	if !key.Valid() || key == outcome.Unknown {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if err := n.store.UpsertMapping(ctx, store.Mapping{
		TenantID:    tenantID,
		WorkflowID:  workflowID,
		MetricKey:   key,
		ConfirmedBy: by,
	}); err != nil {
		return fmt.Errorf("confirming mapping: %w", err)
	}
	n.logger.Info(ctx, "workflow mapping confirmed",
		zap.String("workflow_id", workflowID),
		zap.String("metric_key", string(key)),
	)
	return nil
}
