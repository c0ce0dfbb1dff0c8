package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/outcomed/internal/config"
	"github.com/fyrsmithlabs/outcomed/internal/logging"
	"github.com/fyrsmithlabs/outcomed/internal/outcome"
)

// Source lists workflows and streams their successful executions.
type Source interface {
	ActiveWorkflows(ctx context.Context, tenantID string) ([]outcome.WorkflowDefinition, error)
	Executions(ctx context.Context, tenantID, workflowID string, fn func(*outcome.Execution) error) error
}

// BatchResult summarizes one tenant batch. Partial is set when fetching
// stopped early; the counts cover what was processed before that.
type BatchResult struct {
	TenantID     string        `json:"tenantId"`
	Fetched      int           `json:"fetched"`
	Processed    int           `json:"processed"`
	Skipped      int           `json:"skipped"`
	Materialized int           `json:"materialized"`
	Learning     int           `json:"learning"`
	Notified     int           `json:"notified"`
	Failed       int           `json:"failed"`
	Partial      bool          `json:"partial"`
	Duration     time.Duration `json:"durationNs"`
}

// Add folds one execution result into the summary.
func (b *BatchResult) Add(r ExecutionResult) {
	switch r.Disposition {
	case Skipped:
		b.Skipped++
		return
	case Materialized:
		b.Materialized++
	case Learning:
		b.Learning++
	case Notified:
		b.Notified++
	case Failed:
		b.Failed++
	}
	b.Processed++
}

// Item is one fetched execution with its workflow.
type Item struct {
	Workflow  outcome.WorkflowDefinition `json:"workflow"`
	Execution *outcome.Execution         `json:"execution"`
}

// Runner syncs a tenant's executions through a bounded worker pool.
type Runner struct {
	source       Source
	proc         *Processor
	workers      int
	batchTimeout time.Duration
	logger       *logging.Logger
}

// NewRunner creates a runner.
func NewRunner(source Source, proc *Processor, cfg config.PipelineConfig, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Runner{
		source:       source,
		proc:         proc,
		workers:      workers,
		batchTimeout: cfg.BatchTimeout.Duration(),
		logger:       logger.Named("runner"),
	}
}

// Processor returns the runner's processor.
func (r *Runner) Processor() *Processor { return r.proc }

// Run fetches and processes every successful execution of the tenant's
// active workflows. Only fetch errors are returned; the result is still
// valid and marked partial in that case.
func (r *Runner) Run(ctx context.Context, tenantID string) (*BatchResult, error) {
	start := time.Now()
	ctx = logging.WithTenant(ctx, tenantID)
	if r.batchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.batchTimeout)
		defer cancel()
	}

	var (
		mu  sync.Mutex
		res = &BatchResult{TenantID: tenantID}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	fetchErr := r.each(gctx, tenantID, func(wf outcome.WorkflowDefinition, ex *outcome.Execution) {
		mu.Lock()
		res.Fetched++
		mu.Unlock()

		g.Go(func() error {
			out := r.proc.Process(gctx, tenantID, wf, ex)
			mu.Lock()
			res.Add(out)
			mu.Unlock()
			return nil
		})
	})
	_ = g.Wait()

	res.Duration = time.Since(start)
	BatchDuration.Observe(res.Duration.Seconds())

	fields := []zap.Field{
		zap.Int("fetched", res.Fetched),
		zap.Int("processed", res.Processed),
		zap.Int("skipped", res.Skipped),
		zap.Int("materialized", res.Materialized),
		zap.Int("learning", res.Learning),
		zap.Int("notified", res.Notified),
		zap.Int("failed", res.Failed),
		zap.Duration("duration", res.Duration),
	}
	if fetchErr != nil {
		res.Partial = true
		Batches.WithLabelValues("partial").Inc()
		r.logger.Error(ctx, "batch aborted by fetch error", append(fields, zap.Error(fetchErr))...)
		return res, fetchErr
	}
	Batches.WithLabelValues("complete").Inc()
	r.logger.Info(ctx, "batch complete", fields...)
	return res, nil
}

// Fetch collects the tenant's executions without processing them.
func (r *Runner) Fetch(ctx context.Context, tenantID string) ([]Item, error) {
	var items []Item
	err := r.each(ctx, tenantID, func(wf outcome.WorkflowDefinition, ex *outcome.Execution) {
		items = append(items, Item{Workflow: wf, Execution: ex})
	})
	return items, err
}

func (r *Runner) each(ctx context.Context, tenantID string, fn func(outcome.WorkflowDefinition, *outcome.Execution)) error {
	workflows, err := r.source.ActiveWorkflows(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("listing workflows: %w", err)
	}
	for _, wf := range workflows {
		err := r.source.Executions(ctx, tenantID, wf.ID, func(ex *outcome.Execution) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn(wf, ex)
			return nil
		})
		if err != nil {
			return fmt.Errorf("fetching executions for workflow %s: %w", wf.ID, err)
		}
	}
	return nil
}
