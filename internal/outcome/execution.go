package outcome

import (
	"encoding/json"
	"time"
)

// WorkflowDefinition is a tenant-scoped automatable process.
type WorkflowDefinition struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	IsActive bool     `json:"active"`
	Tags     []string `json:"tags,omitempty"`
}

// ExecutionStatus is the upstream run status.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionError   ExecutionStatus = "error"
	ExecutionRunning ExecutionStatus = "running"
)

// Execution is one completed run of a workflow. Nodes keep upstream
// document order.
type Execution struct {
	ID         string          `json:"id"`
	WorkflowID string          `json:"workflowId"`
	Status     ExecutionStatus `json:"status"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt *time.Time      `json:"stoppedAt,omitempty"`
	Nodes      []NodeOutput    `json:"nodes"`
}

// NodeOutput holds the runs of a single node.
type NodeOutput struct {
	Name string    `json:"name"`
	Type string    `json:"type,omitempty"`
	Runs []NodeRun `json:"runs"`
}

// NodeRun is one attempt of a node. Items are the raw json payloads.
type NodeRun struct {
	Items []json.RawMessage `json:"items"`
}

// ItemCount returns the number of output items across all runs.
func (n NodeOutput) ItemCount() int {
	var c int
	for _, r := range n.Runs {
		c += len(r.Items)
	}
	return c
}

// LastItem returns the final output item of the node, if any.
func (n NodeOutput) LastItem() (json.RawMessage, bool) {
	for i := len(n.Runs) - 1; i >= 0; i-- {
		items := n.Runs[i].Items
		if len(items) > 0 {
			return items[len(items)-1], true
		}
	}
	return nil, false
}

// CompletedAt returns the finish time, or the start time when unknown.
func (e *Execution) CompletedAt() time.Time {
	if e.FinishedAt != nil {
		return *e.FinishedAt
	}
	return e.StartedAt
}
