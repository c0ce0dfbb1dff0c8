package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fyrsmithlabs/outcomed/internal/outcome"
)

// MeetingExists reports whether a meeting references the execution.
func (s *Store) MeetingExists(ctx context.Context, tenantID, executionID string) (bool, error) {
	return s.exists(ctx, "meetings", tenantID, executionID)
}

// TaskExists reports whether a task references the execution.
func (s *Store) TaskExists(ctx context.Context, tenantID, executionID string) (bool, error) {
	return s.exists(ctx, "tasks", tenantID, executionID)
}

// NotificationExists reports whether a review notification references the
// execution, in any state.
func (s *Store) NotificationExists(ctx context.Context, tenantID, executionID string) (bool, error) {
	return s.exists(ctx, "review_notifications", tenantID, executionID)
}

// exists runs an indexed equality lookup on execution_id. table is always a
// package constant.
func (s *Store) exists(ctx context.Context, table, tenantID, executionID string) (bool, error) {
	ctx, span := s.startSpan(ctx, "Exists", attribute.String("table", table))
	var (
		found bool
		err   error
	)
	defer func() { endSpan(span, err) }()

	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+table+` WHERE tenant_id = $1 AND execution_id = $2)`,
		tenantID, executionID,
	).Scan(&found)
	return found, err
}

// FindContact matches by case-insensitive email. The phone is only matched
// when no email is given.
func (s *Store) FindContact(ctx context.Context, tenantID, email, phone string) (*Contact, error) {
	ctx, span := s.startSpan(ctx, "FindContact")
	var err error
	defer func() { endSpan(span, err) }()

	email = strings.ToLower(strings.TrimSpace(email))
	var c *Contact
	if email != "" {
		c, err = s.scanContact(s.pool.QueryRow(ctx, contactSelect+`
			WHERE tenant_id = $1 AND email_normalized = $2`, tenantID, email))
		return c, err
	}
	if phone != "" {
		c, err = s.scanContact(s.pool.QueryRow(ctx, contactSelect+`
			WHERE tenant_id = $1 AND phone = $2
			ORDER BY created_at LIMIT 1`, tenantID, phone))
		return c, err
	}
	err = ErrNotFound
	return nil, err
}

// ResolveContact returns the existing contact for the email or phone, or
// creates one. created reports whether this call inserted it; a concurrent
// insert of the same contact resolves to the winner's row.
func (s *Store) ResolveContact(ctx context.Context, c *Contact) (*Contact, bool, error) {
	if c.Email == "" && c.Phone == "" {
		return nil, false, errors.New("contact requires an email or phone")
	}
	existing, err := s.FindContact(ctx, c.TenantID, c.Email, c.Phone)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	ctx, span := s.startSpan(ctx, "CreateContact")
	out := *c
	err = s.pool.QueryRow(ctx, `
		INSERT INTO contacts (tenant_id, name, email, email_normalized, phone, workflow_id, execution_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
		RETURNING id, created_at`,
		c.TenantID, c.Name, c.Email, strings.ToLower(strings.TrimSpace(c.Email)), c.Phone,
		nullable(c.WorkflowID), nullable(c.ExecutionID),
	).Scan(&out.ID, &out.CreatedAt)
	endSpan(span, err)

	if errors.Is(err, pgx.ErrNoRows) {
		existing, err := s.FindContact(ctx, c.TenantID, c.Email, c.Phone)
		if err != nil {
			return nil, false, fmt.Errorf("resolving contact after conflict: %w", err)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("creating contact: %w", err)
	}
	return &out, true, nil
}

const contactSelect = `
	SELECT id, tenant_id, name, email, phone, COALESCE(workflow_id, ''), COALESCE(execution_id, ''), created_at
	FROM contacts`

func (s *Store) scanContact(row pgx.Row) (*Contact, error) {
	var c Contact
	if err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Email, &c.Phone, &c.WorkflowID, &c.ExecutionID, &c.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

// CreateMeeting inserts a meeting. A second meeting for the same execution
// returns ErrDuplicate.
func (s *Store) CreateMeeting(ctx context.Context, m *Meeting) error {
	ctx, span := s.startSpan(ctx, "CreateMeeting", attribute.String("execution_id", m.ExecutionID))
	err := mapErr(s.pool.QueryRow(ctx, `
		INSERT INTO meetings (tenant_id, contact_id, lead_id, scheduled_at, note, workflow_id, execution_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		m.TenantID, nullable(m.ContactID), nullable(m.LeadID), m.ScheduledAt, m.Note, m.WorkflowID, m.ExecutionID,
	).Scan(&m.ID))
	endSpan(span, err)
	return err
}

// CreateTask inserts an automation task unless an open automation task with
// the same title already exists for the workflow. created is false when the
// task was deduplicated; ErrDuplicate means the execution already has a task.
func (s *Store) CreateTask(ctx context.Context, t *Task) (bool, error) {
	ctx, span := s.startSpan(ctx, "CreateTask", attribute.String("execution_id", t.ExecutionID))
	var err error
	defer func() { endSpan(span, err) }()

	if t.Status == "" {
		t.Status = TaskOpen
	}
	if t.Source == "" {
		t.Source = TaskAutomation
	}

	existing, err := s.FindOpenAutomationTask(ctx, t.TenantID, t.WorkflowID, t.Title)
	if err == nil {
		t.ID = existing.ID
		return false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, err
	}

	// The execution_id constraint surfaces as an error; a title race with
	// another execution hits the partial index and is absorbed here.
	err = s.pool.QueryRow(ctx, `
		INSERT INTO tasks (tenant_id, title, due_at, status, source, contact_id, meeting_id, workflow_id, execution_id)
		SELECT $1::text, $2::text, $3::timestamptz, $4::text, $5::text, $6::uuid, $7::uuid, $8::text, $9::text
		WHERE NOT EXISTS (
			SELECT 1 FROM tasks
			WHERE tenant_id = $1 AND execution_id = $9
		)
		ON CONFLICT (tenant_id, workflow_id, title) WHERE source = 'automation' AND status <> 'completed'
		DO NOTHING
		RETURNING id`,
		t.TenantID, t.Title, t.DueAt, t.Status, t.Source,
		nullable(t.ContactID), nullable(t.MeetingID), nullable(t.WorkflowID), nullable(t.ExecutionID),
	).Scan(&t.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		var has bool
		if has, err = s.TaskExists(ctx, t.TenantID, t.ExecutionID); err != nil {
			return false, err
		}
		if has {
			err = ErrDuplicate
			return false, err
		}
		return false, nil
	}
	if err != nil {
		err = mapErr(err)
		return false, err
	}
	return true, nil
}

// FindOpenAutomationTask matches by exact title among non-completed
// automation tasks of the workflow.
func (s *Store) FindOpenAutomationTask(ctx context.Context, tenantID, workflowID, title string) (*Task, error) {
	var t Task
	var contactID, meetingID, executionID, workflowIDCol *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, due_at, status, source, contact_id, meeting_id, workflow_id, execution_id
		FROM tasks
		WHERE tenant_id = $1 AND workflow_id = $2 AND title = $3
		  AND source = 'automation' AND status <> 'completed'
		LIMIT 1`,
		tenantID, workflowID, title,
	).Scan(&t.ID, &t.Title, &t.DueAt, &t.Status, &t.Source, &contactID, &meetingID, &workflowIDCol, &executionID)
	if err != nil {
		return nil, mapErr(err)
	}
	t.TenantID = tenantID
	t.ContactID = deref(contactID)
	t.MeetingID = deref(meetingID)
	t.WorkflowID = deref(workflowIDCol)
	t.ExecutionID = deref(executionID)
	return &t, nil
}

// CreateLead inserts a lead in stage NEW. ErrDuplicate means the contact or
// the execution already has a lead.
func (s *Store) CreateLead(ctx context.Context, l *Lead) error {
	ctx, span := s.startSpan(ctx, "CreateLead", attribute.String("execution_id", l.ExecutionID))
	if l.Stage == "" {
		l.Stage = LeadStageNew
	}
	err := mapErr(s.pool.QueryRow(ctx, `
		INSERT INTO leads (tenant_id, contact_id, stage, workflow_id, execution_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		l.TenantID, l.ContactID, l.Stage, l.WorkflowID, l.ExecutionID,
	).Scan(&l.ID))
	endSpan(span, err)
	return err
}

// RecordOutcome appends the audit row. ErrDuplicate means the execution was
// already recorded.
func (s *Store) RecordOutcome(ctx context.Context, r *OutcomeRecord) error {
	ctx, span := s.startSpan(ctx, "RecordOutcome", attribute.String("status", string(r.Status)))
	var err error
	defer func() { endSpan(span, err) }()

	md, err := json.Marshal(r.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	value := r.Value
	if value == 0 {
		value = 1
	}
	err = mapErr(s.pool.QueryRow(ctx, `
		INSERT INTO automation_outcomes (tenant_id, workflow_id, execution_id, metric_key, value, confidence,
			detection_layer, status, contact_id, meeting_id, task_id, lead_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at`,
		r.TenantID, r.WorkflowID, r.ExecutionID, string(r.MetricKey), value, r.Confidence,
		string(r.Layer), string(r.Status),
		nullable(r.ContactID), nullable(r.MeetingID), nullable(r.TaskID), nullable(r.LeadID), md,
	).Scan(&r.ID, &r.CreatedAt))
	return err
}

// GetOutcome loads the audit row for an execution.
func (s *Store) GetOutcome(ctx context.Context, tenantID, executionID string) (*OutcomeRecord, error) {
	r := &OutcomeRecord{TenantID: tenantID, ExecutionID: executionID}
	var (
		key, layer, status                   string
		contactID, meetingID, taskID, leadID *string
		md                                   []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, workflow_id, metric_key, value, confidence, detection_layer, status,
		       contact_id, meeting_id, task_id, lead_id, metadata, created_at
		FROM automation_outcomes
		WHERE tenant_id = $1 AND execution_id = $2`,
		tenantID, executionID,
	).Scan(&r.ID, &r.WorkflowID, &key, &r.Value, &r.Confidence, &layer, &status,
		&contactID, &meetingID, &taskID, &leadID, &md, &r.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	r.MetricKey = outcome.MetricKey(key)
	r.Layer = outcome.Layer(layer)
	r.Status = outcome.Status(status)
	r.ContactID, r.MeetingID, r.TaskID, r.LeadID = deref(contactID), deref(meetingID), deref(taskID), deref(leadID)
	if len(md) > 0 {
		if err := json.Unmarshal(md, &r.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	return r, nil
}

// CountLeads returns the number of leads for a contact.
func (s *Store) CountLeads(ctx context.Context, tenantID, contactID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM leads WHERE tenant_id = $1 AND contact_id = $2`,
		tenantID, contactID,
	).Scan(&n)
	return n, err
}
