package store

import (
	"time"

	"github.com/fyrsmithlabs/outcomed/internal/outcome"
)

// Record kinds that carry an execution back-reference.
const (
	KindMeeting = "meeting"
	KindTask    = "task"
	KindLead    = "lead"
	KindContact = "contact"
)

// Contact is a person known to the tenant's CRM.
type Contact struct {
	ID          string
	TenantID    string
	Name        string
	Email       string
	Phone       string
	WorkflowID  string
	ExecutionID string
	CreatedAt   time.Time
}

// Meeting is a scheduled meeting or viewing.
type Meeting struct {
	ID          string
	TenantID    string
	ContactID   string
	LeadID      string
	ScheduledAt time.Time
	Note        string
	WorkflowID  string
	ExecutionID string
}

// Task statuses and sources.
const (
	TaskOpen       = "open"
	TaskCompleted  = "completed"
	TaskAutomation = "automation"
)

// Task is a follow-up item.
type Task struct {
	ID          string
	TenantID    string
	Title       string
	DueAt       *time.Time
	Status      string
	Source      string
	ContactID   string
	MeetingID   string
	WorkflowID  string
	ExecutionID string
}

// LeadStageNew is the pipeline stage of a freshly created lead.
const LeadStageNew = "NEW"

// Lead is a pipeline entry for a contact.
type Lead struct {
	ID          string
	TenantID    string
	ContactID   string
	Stage       string
	WorkflowID  string
	ExecutionID string
}

// OutcomeRecord is the audit row written for every routed classification.
type OutcomeRecord struct {
	ID          string
	TenantID    string
	WorkflowID  string
	ExecutionID string
	MetricKey   outcome.MetricKey
	Value       float64
	Confidence  float64
	Layer       outcome.Layer
	Status      outcome.Status
	ContactID   string
	MeetingID   string
	TaskID      string
	LeadID      string
	Metadata    outcome.Metadata
	CreatedAt   time.Time
}

// NotificationStatus is the lifecycle state of a review notification.
type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "pending"
	NotificationApproved  NotificationStatus = "approved"
	NotificationDismissed NotificationStatus = "dismissed"
)

// Notification is a pending-review item.
type Notification struct {
	ID           string             `json:"id"`
	TenantID     string             `json:"tenantId"`
	WorkflowID   string             `json:"workflowId"`
	ExecutionID  string             `json:"executionId"`
	SuggestedKey outcome.MetricKey  `json:"suggestedMetricKey"`
	Confidence   float64            `json:"confidence"`
	Layer        outcome.Layer      `json:"detectionLayer"`
	Subject      string             `json:"subject"`
	Message      string             `json:"message"`
	Severity     string             `json:"severity"`
	Status       NotificationStatus `json:"status"`
	ResolvedKey  outcome.MetricKey  `json:"resolvedMetricKey,omitempty"`
	ResolvedBy   string             `json:"resolvedBy,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
	ResolvedAt   *time.Time         `json:"resolvedAt,omitempty"`
}

// Mapping is a confirmed per-workflow override.
type Mapping struct {
	TenantID    string            `json:"tenantId"`
	WorkflowID  string            `json:"workflowId"`
	MetricKey   outcome.MetricKey `json:"metricKey"`
	ConfirmedBy string            `json:"confirmedBy"`
	ConfirmedAt time.Time         `json:"confirmedAt"`
}

// ClaimState is the processing state of an execution claim.
type ClaimState string

const (
	ClaimClaimed ClaimState = "claimed"
	ClaimDone    ClaimState = "done"
	ClaimFailed  ClaimState = "failed"
)
