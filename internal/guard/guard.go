// Package guard keeps an execution from producing side effects twice.
//
// Check is the cheap pre-classification test: an execution is processed
// when a meeting, a task or a review notification already references it.
// Claim is the race-safe step taken after Check passes; it inserts the
// execution claim under a unique key so concurrent workers cannot both
// proceed.
package guard

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outcomed/internal/config"
	"github.com/fyrsmithlabs/outcomed/internal/logging"
	"github.com/fyrsmithlabs/outcomed/internal/store"
)

// Lookup reports existing side effects for an execution.
type Lookup interface {
	MeetingExists(ctx context.Context, tenantID, executionID string) (bool, error)
	TaskExists(ctx context.Context, tenantID, executionID string) (bool, error)
	NotificationExists(ctx context.Context, tenantID, executionID string) (bool, error)
}

// Claimer takes and releases execution claims.
type Claimer interface {
	ClaimExecution(ctx context.Context, tenantID, executionID, workflowID string, stale time.Duration) (bool, error)
	CompleteClaim(ctx context.Context, tenantID, executionID string, state store.ClaimState) error
}

// Skip reasons.
const (
	ReasonMeeting      = "meeting"
	ReasonTask         = "task"
	ReasonNotification = "notification"
	ReasonLookupError  = "lookup_error"
	ReasonClaimed      = "claimed"
)

// Skips counts executions the guard stopped.
// Labels: reason
var Skips = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "outcomed",
		Subsystem: "guard",
		Name:      "skips_total",
		Help:      "Total executions skipped as already processed",
	},
	[]string{"reason"},
)

// Checker runs the idempotency checks.
type Checker struct {
	lookup      Lookup
	claims      Claimer
	skipOnError bool
	staleAfter  time.Duration
	logger      *logging.Logger
}

// New creates a checker. claims may be nil, in which case Claim always
// succeeds.
func New(lookup Lookup, claims Claimer, cfg config.GuardConfig, logger *logging.Logger) *Checker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Checker{
		lookup:      lookup,
		claims:      claims,
		skipOnError: cfg.OnError == config.GuardSkipOnError,
		staleAfter:  cfg.StaleClaim.Duration(),
		logger:      logger.Named("guard"),
	}
}

// Check reports whether the execution was already processed, and why.
func (c *Checker) Check(ctx context.Context, tenantID, executionID string) (bool, string) {
	checks := []struct {
		reason string
		fn     func(context.Context, string, string) (bool, error)
	}{
		{ReasonMeeting, c.lookup.MeetingExists},
		{ReasonTask, c.lookup.TaskExists},
		{ReasonNotification, c.lookup.NotificationExists},
	}

	for _, chk := range checks {
		found, err := chk.fn(ctx, tenantID, executionID)
		if err != nil {
			c.logger.Warn(ctx, "idempotency lookup failed",
				zap.String("check", chk.reason),
				zap.Bool("skip_on_error", c.skipOnError),
				zap.Error(err),
			)
			if c.skipOnError {
				Skips.WithLabelValues(ReasonLookupError).Inc()
				return true, ReasonLookupError
			}
			continue
		}
		if found {
			Skips.WithLabelValues(chk.reason).Inc()
			return true, chk.reason
		}
	}
	return false, ""
}

// Claim takes the processing claim and reports whether the caller may
// proceed. A claim held by another worker returns false. Claim errors
// follow the same policy as lookup errors.
func (c *Checker) Claim(ctx context.Context, tenantID, executionID, workflowID string) bool {
	if c.claims == nil {
		return true
	}
	ok, err := c.claims.ClaimExecution(ctx, tenantID, executionID, workflowID, c.staleAfter)
	if err != nil {
		c.logger.Warn(ctx, "execution claim failed", zap.Error(err))
		if c.skipOnError {
			Skips.WithLabelValues(ReasonLookupError).Inc()
			return false
		}
		return true
	}
	if !ok {
		Skips.WithLabelValues(ReasonClaimed).Inc()
	}
	return ok
}

// Release marks the claim done or failed. Failed claims can be re-taken.
func (c *Checker) Release(ctx context.Context, tenantID, executionID string, state store.ClaimState) {
	if c.claims == nil {
		return
	}
	if err := c.claims.CompleteClaim(ctx, tenantID, executionID, state); err != nil {
		c.logger.Warn(ctx, "releasing execution claim failed",
			zap.String("state", string(state)),
			zap.Error(err),
		)
	}
}
