// Package pipeline drives executions through the guard, the classifier,
// the router and the materializer or notifier.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outcomed/internal/logging"
	"github.com/fyrsmithlabs/outcomed/internal/materializer"
	"github.com/fyrsmithlabs/outcomed/internal/notifier"
	"github.com/fyrsmithlabs/outcomed/internal/outcome"
	"github.com/fyrsmithlabs/outcomed/internal/router"
	"github.com/fyrsmithlabs/outcomed/internal/store"
)

// Guard is the idempotency check.
type Guard interface {
	Check(ctx context.Context, tenantID, executionID string) (bool, string)
	Claim(ctx context.Context, tenantID, executionID, workflowID string) bool
	Release(ctx context.Context, tenantID, executionID string, state store.ClaimState)
}

// Classifier assigns a metric key to evidence.
type Classifier interface {
	Classify(ctx context.Context, ev *outcome.Evidence) *outcome.Result
}

// Router maps confidence to a decision.
type Router interface {
	Route(confidence float64) router.Decision
}

// Materializer writes business records.
type Materializer interface {
	Materialize(ctx context.Context, job materializer.Job) materializer.Report
}

// Notifier creates review notifications.
type Notifier interface {
	Notify(ctx context.Context, req notifier.Request) (*store.Notification, bool, error)
}

// Disposition is what happened to one execution.
type Disposition string

const (
	Skipped      Disposition = "skipped"
	Materialized Disposition = "materialized"
	Learning     Disposition = "learning"
	Notified     Disposition = "notified"
	Failed       Disposition = "failed"
)

// ExecutionResult describes one processed execution.
type ExecutionResult struct {
	ExecutionID string           `json:"executionId"`
	WorkflowID  string           `json:"workflowId"`
	Disposition Disposition      `json:"disposition"`
	SkipReason  string           `json:"skipReason,omitempty"`
	Result      *outcome.Result  `json:"result,omitempty"`
	Decision    *router.Decision `json:"decision,omitempty"`
}

// Processor handles one execution at a time. It is safe for concurrent use.
type Processor struct {
	guard        Guard
	classifier   Classifier
	router       Router
	materializer Materializer
	notifier     Notifier
	timeout      time.Duration
	logger       *logging.Logger
}

// NewProcessor wires a processor. timeout bounds each execution; zero
// means no bound beyond the caller's context.
func NewProcessor(g Guard, c Classifier, r Router, m Materializer, n Notifier, timeout time.Duration, logger *logging.Logger) *Processor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Processor{
		guard:        g,
		classifier:   c,
		router:       r,
		materializer: m,
		notifier:     n,
		timeout:      timeout,
		logger:       logger.Named("processor"),
	}
}

// Process runs one execution end to end. Failures are reported in the
// result and never returned.
func (p *Processor) Process(ctx context.Context, tenantID string, wf outcome.WorkflowDefinition, ex *outcome.Execution) ExecutionResult {
	start := time.Now()
	out := ExecutionResult{ExecutionID: ex.ID, WorkflowID: ex.WorkflowID}
	if out.WorkflowID == "" {
		out.WorkflowID = wf.ID
		ex.WorkflowID = wf.ID
	}
	defer func() {
		Executions.WithLabelValues(string(out.Disposition)).Inc()
		ExecutionDuration.WithLabelValues(string(out.Disposition)).Observe(time.Since(start).Seconds())
	}()

	ctx = logging.WithTenant(ctx, tenantID)
	ctx = logging.WithExecution(ctx, out.WorkflowID, ex.ID)

	if ex.Status != outcome.ExecutionSuccess {
		out.Disposition, out.SkipReason = Skipped, "status_"+string(ex.Status)
		return out
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if done, reason := p.guard.Check(ctx, tenantID, ex.ID); done {
		out.Disposition, out.SkipReason = Skipped, reason
		p.logger.Debug(ctx, "execution already processed", zap.String("reason", reason))
		return out
	}
	if !p.guard.Claim(ctx, tenantID, ex.ID, out.WorkflowID) {
		out.Disposition, out.SkipReason = Skipped, "claimed"
		return out
	}

	state := store.ClaimDone
	defer func() {
		p.guard.Release(context.WithoutCancel(ctx), tenantID, ex.ID, state)
	}()

	res := p.classifier.Classify(ctx, outcome.NewEvidence(tenantID, wf, ex))
	dec := p.router.Route(res.Confidence)
	out.Result, out.Decision = res, &dec

	rep := p.materializer.Materialize(ctx, materializer.Job{
		TenantID:  tenantID,
		Execution: ex,
		Result:    res,
		Decision:  dec,
	})

	switch {
	case dec.Notify:
		_, _, err := p.notifier.Notify(ctx, notifier.Request{
			TenantID:  tenantID,
			Workflow:  wf,
			Execution: ex,
			Result:    res,
		})
		if err != nil {
			p.logger.Error(ctx, "creating review notification failed", zap.Error(err))
			out.Disposition, state = Failed, store.ClaimFailed
			return out
		}
		out.Disposition = Notified
	case dec.Status == outcome.StatusLearning:
		out.Disposition = Learning
	default:
		out.Disposition = Materialized
	}

	if rep.Failures > 0 {
		out.Disposition, state = Failed, store.ClaimFailed
	}

	p.logger.Info(ctx, "execution processed",
		zap.String("metric_key", string(res.MetricKey)),
		zap.Float64("confidence", res.Confidence),
		zap.String("layer", string(res.Layer)),
		zap.String("status", string(dec.Status)),
		zap.String("disposition", string(out.Disposition)),
	)
	return out
}
