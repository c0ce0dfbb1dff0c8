package workflows

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/outcomed/internal/pipeline"
)

// FetchExecutionsInput selects the tenant to fetch.
type FetchExecutionsInput struct {
	TenantID string
}

// ProcessExecutionInput is one fetched execution.
type ProcessExecutionInput struct {
	TenantID string
	Item     pipeline.Item
}

// Activities run the pipeline on behalf of the sync workflow.
type Activities struct {
	runner *pipeline.Runner
}

// NewActivities creates the activity set.
func NewActivities(runner *pipeline.Runner) *Activities {
	return &Activities{runner: runner}
}

// FetchExecutionsActivity lists the tenant's successful executions.
func (a *Activities) FetchExecutionsActivity(ctx context.Context, in FetchExecutionsInput) ([]pipeline.Item, error) {
	start := time.Now()
	items, err := a.runner.Fetch(ctx, in.TenantID)
	recordActivity(ctx, "fetch_executions", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch executions: %w", err)
	}
	return items, nil
}

// ProcessExecutionActivity runs one execution through the pipeline. A
// failed execution returns an error so Temporal retries it; the guard makes
// retries safe.
func (a *Activities) ProcessExecutionActivity(ctx context.Context, in ProcessExecutionInput) (*pipeline.ExecutionResult, error) {
	start := time.Now()
	res := a.runner.Processor().Process(ctx, in.TenantID, in.Item.Workflow, in.Item.Execution)

	var err error
	if res.Disposition == pipeline.Failed {
		err = fmt.Errorf("execution %s failed", res.ExecutionID)
	}
	recordActivity(ctx, "process_execution", start, err)
	if err != nil {
		return nil, err
	}
	return &res, nil
}
