package workflows

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outcomed/internal/config"
	"github.com/fyrsmithlabs/outcomed/internal/logging"
	"github.com/fyrsmithlabs/outcomed/internal/tenant"
)

// Register adds the sync workflow and its activities to a worker.
func Register(r worker.Registry, a *Activities) {
	r.RegisterWorkflow(OutcomeSyncWorkflow)
	r.RegisterActivity(a)
}

// Worker is a running Temporal worker with its client.
type Worker struct {
	client client.Client
	worker worker.Worker
	queue  string
}

// Dial connects to Temporal without polling. The result can only trigger
// syncs.
func Dial(cfg config.TemporalConfig) (*Worker, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}
	return &Worker{client: c, queue: cfg.TaskQueue}, nil
}

// StartWorker dials Temporal and starts polling the configured task queue.
func StartWorker(ctx context.Context, cfg config.TemporalConfig, a *Activities, logger *logging.Logger) (*Worker, error) {
	d, err := Dial(cfg)
	if err != nil {
		return nil, err
	}
	c := d.client
	logger.Info(ctx, "temporal client connected", zap.String("host", cfg.HostPort))

	w := worker.New(c, cfg.TaskQueue, worker.Options{})
	Register(w, a)
	if err := w.Start(); err != nil {
		c.Close()
		return nil, fmt.Errorf("starting temporal worker: %w", err)
	}
	logger.Info(ctx, "worker configured", zap.String("task_queue", cfg.TaskQueue))
	return &Worker{client: c, worker: w, queue: cfg.TaskQueue}, nil
}

// TriggerSync starts a sync run for the tenant. A run already in flight
// for the tenant is reused.
func (w *Worker) TriggerSync(ctx context.Context, tenantID string) (string, error) {
	run, err := w.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        tenant.SyncWorkflowID(tenantID),
		TaskQueue: w.queue,
	}, OutcomeSyncWorkflow, OutcomeSyncInput{TenantID: tenantID})
	if err != nil {
		return "", fmt.Errorf("starting sync workflow: %w", err)
	}
	return run.GetRunID(), nil
}

// Stop stops the worker and closes the client.
func (w *Worker) Stop() {
	if w.worker != nil {
		w.worker.Stop()
	}
	w.client.Close()
}
