package http

import (
	"encoding/json"

	"github.com/fyrsmithlabs/outcomed/internal/outcome"
	"github.com/fyrsmithlabs/outcomed/internal/pipeline"
	"github.com/fyrsmithlabs/outcomed/internal/router"
	"github.com/fyrsmithlabs/outcomed/internal/store"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ScrubRequest is the request body for POST /api/v1/scrub.
type ScrubRequest struct {
	Content string `json:"content" validate:"required"`
}

// ScrubResponse is the response body for POST /api/v1/scrub.
type ScrubResponse struct {
	Content       string   `json:"content"`
	FindingsCount int      `json:"findings_count"`
	Rules         []string `json:"rules,omitempty"`
}

// SyncResponse is the response body for POST .../sync. Error is set when
// the batch stopped early.
type SyncResponse struct {
	Result *pipeline.BatchResult `json:"result"`
	Error  string                `json:"error,omitempty"`
}

// ClassifyRequest is the request body for POST .../classify. Execution is
// an upstream execution document.
type ClassifyRequest struct {
	Workflow  WorkflowRef     `json:"workflow" validate:"required"`
	Execution json.RawMessage `json:"execution" validate:"required"`
}

// WorkflowRef identifies the workflow an execution belongs to.
type WorkflowRef struct {
	ID   string   `json:"id" validate:"required"`
	Name string   `json:"name"`
	Tags []string `json:"tags,omitempty"`
}

// ClassifyResponse is the dry-run verdict.
type ClassifyResponse struct {
	ExecutionID string          `json:"executionId"`
	Result      *outcome.Result `json:"result"`
	Decision    router.Decision `json:"decision"`
}

// NotificationsResponse lists notifications.
type NotificationsResponse struct {
	Notifications []*store.Notification `json:"notifications"`
}

// ApproveRequest is the request body for POST .../approve. An empty
// MetricKey accepts the suggestion.
type ApproveRequest struct {
	MetricKey string `json:"metricKey" validate:"omitempty,metrickey"`
}

// MappingRequest is the request body for PUT .../mappings/:workflowId.
type MappingRequest struct {
	MetricKey string `json:"metricKey" validate:"required,metrickey"`
}

// MappingResponse echoes a confirmed mapping.
type MappingResponse struct {
	WorkflowID string            `json:"workflowId"`
	MetricKey  outcome.MetricKey `json:"metricKey"`
}
