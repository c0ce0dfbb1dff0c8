// Package workflows provides the Temporal workflow that syncs a tenant's
// executions on a durable schedule.
package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/outcomed/internal/pipeline"
)

// DefaultMaxConcurrent bounds in-flight process activities.
const DefaultMaxConcurrent = 4

// OutcomeSyncInput configures one sync run.
type OutcomeSyncInput struct {
	TenantID      string
	MaxConcurrent int
}

// OutcomeSyncResult is the batch summary plus recorded errors.
type OutcomeSyncResult struct {
	pipeline.BatchResult
	Errors []string
}

// OutcomeSyncWorkflow fetches a tenant's executions and processes each in
// its own activity.
//
// A fetch failure is critical: the workflow returns a partial result and
// the error. A process failure is recorded and the sync continues.
func OutcomeSyncWorkflow(ctx workflow.Context, in OutcomeSyncInput) (*OutcomeSyncResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting outcome sync", "tenant", in.TenantID)
	started := workflow.Now(ctx)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})

	var a *Activities
	result := &OutcomeSyncResult{BatchResult: pipeline.BatchResult{TenantID: in.TenantID}}

	var items []pipeline.Item
	err := workflow.ExecuteActivity(ctx, a.FetchExecutionsActivity, FetchExecutionsInput{TenantID: in.TenantID}).
		Get(ctx, &items)
	if err != nil {
		result.Partial = true
		result.Errors = append(result.Errors, FormatErrorForResult("failed to fetch executions", err))
		return result, NewWorkflowError("fetch_executions", ErrorSeverityCritical, err, in.TenantID)
	}
	result.Fetched = len(items)
	logger.Info("Fetched executions", "count", len(items))

	limit := in.MaxConcurrent
	if limit <= 0 {
		limit = DefaultMaxConcurrent
	}

	for start := 0; start < len(items); start += limit {
		end := start + limit
		if end > len(items) {
			end = len(items)
		}

		futures := make([]workflow.Future, 0, end-start)
		for _, item := range items[start:end] {
			futures = append(futures, workflow.ExecuteActivity(ctx, a.ProcessExecutionActivity, ProcessExecutionInput{
				TenantID: in.TenantID,
				Item:     item,
			}))
		}

		for i, f := range futures {
			var res pipeline.ExecutionResult
			if err := f.Get(ctx, &res); err != nil {
				exID := items[start+i].Execution.ID
				logger.Error("Processing execution failed", "execution_id", exID, "error", err)
				result.Errors = append(result.Errors, FormatErrorForResult("failed to process execution "+exID, err))
				result.Add(pipeline.ExecutionResult{ExecutionID: exID, Disposition: pipeline.Failed})
				continue
			}
			result.Add(res)
		}
	}

	result.Duration = workflow.Now(ctx).Sub(started)
	logger.Info("Outcome sync complete",
		"processed", result.Processed,
		"skipped", result.Skipped,
		"notified", result.Notified,
		"failed", result.Failed)
	return result, nil
}
