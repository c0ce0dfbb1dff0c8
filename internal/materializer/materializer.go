// Package materializer turns routed classifications into business records.
//
// Writes are additive and idempotent: every record carries the execution
// it came from and the store enforces one record per (execution, kind).
// Failures are logged per record and never returned, so one bad execution
// cannot stop a batch.
package materializer

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outcomed/internal/logging"
	"github.com/fyrsmithlabs/outcomed/internal/outcome"
	"github.com/fyrsmithlabs/outcomed/internal/router"
	"github.com/fyrsmithlabs/outcomed/internal/store"
)

// Store is the subset of the business store the materializer writes to.
type Store interface {
	ResolveContact(ctx context.Context, c *store.Contact) (*store.Contact, bool, error)
	CreateMeeting(ctx context.Context, m *store.Meeting) error
	CreateTask(ctx context.Context, t *store.Task) (bool, error)
	CreateLead(ctx context.Context, l *store.Lead) error
	RecordOutcome(ctx context.Context, r *store.OutcomeRecord) error
}

// RecordsCreated counts business records written.
// Labels: kind (contact, meeting, task, lead, outcome)
var RecordsCreated = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "outcomed",
		Subsystem: "materializer",
		Name:      "records_created_total",
		Help:      "Total business records created from classified executions",
	},
	[]string{"kind"},
)

// Job is one routed classification.
type Job struct {
	TenantID  string
	Execution *outcome.Execution
	Result    *outcome.Result
	Decision  router.Decision
}

// Report lists what was written. Empty IDs mean nothing was written for
// that kind.
type Report struct {
	ContactID      string
	ContactCreated bool
	MeetingID      string
	TaskID         string
	TaskCreated    bool
	LeadID         string
	Recorded       bool
	Failures       int
}

// Materializer writes business records.
type Materializer struct {
	store  Store
	logger *logging.Logger
}

// New creates a materializer.
func New(s Store, logger *logging.Logger) *Materializer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Materializer{store: s, logger: logger.Named("materializer")}
}

// Materialize writes the records the decision calls for and always appends
// the audit row.
func (m *Materializer) Materialize(ctx context.Context, job Job) Report {
	var rep Report
	if job.Decision.Materialize() {
		switch job.Result.MetricKey {
		case outcome.MeetingBooked:
			m.meeting(ctx, job, &rep)
		case outcome.LeadCreated:
			m.lead(ctx, job, &rep)
		}
	}
	m.record(ctx, job, &rep)
	return rep
}

func (m *Materializer) meeting(ctx context.Context, job Job, rep *Report) {
	md := job.Result.Metadata
	if md.ContactEmail == "" && md.ContactPhone == "" {
		m.logger.Info(ctx, "meeting has no contact email or phone, skipping records")
		return
	}

	contact, ok := m.contact(ctx, job, rep)
	if !ok {
		return
	}

	scheduled := job.Execution.CompletedAt()
	if md.ScheduledAt != nil {
		scheduled = *md.ScheduledAt
	}

	meeting := &store.Meeting{
		TenantID:    job.TenantID,
		ContactID:   contact.ID,
		ScheduledAt: scheduled,
		Note:        provenance(job),
		WorkflowID:  job.Execution.WorkflowID,
		ExecutionID: job.Execution.ID,
	}
	if err := m.store.CreateMeeting(ctx, meeting); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			m.logger.Debug(ctx, "meeting already recorded for execution")
			return
		}
		m.fail(ctx, rep, "creating meeting", err)
		return
	}
	rep.MeetingID = meeting.ID
	RecordsCreated.WithLabelValues(store.KindMeeting).Inc()

	due := scheduled
	task := &store.Task{
		TenantID:    job.TenantID,
		Title:       "Prepare for meeting with " + contactLabel(contact, md),
		DueAt:       &due,
		Status:      store.TaskOpen,
		Source:      store.TaskAutomation,
		ContactID:   contact.ID,
		MeetingID:   meeting.ID,
		WorkflowID:  job.Execution.WorkflowID,
		ExecutionID: job.Execution.ID,
	}
	created, err := m.store.CreateTask(ctx, task)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			m.logger.Debug(ctx, "task already recorded for execution")
			return
		}
		m.fail(ctx, rep, "creating prep task", err)
		return
	}
	rep.TaskID = task.ID
	rep.TaskCreated = created
	if created {
		RecordsCreated.WithLabelValues(store.KindTask).Inc()
	}
}

func (m *Materializer) lead(ctx context.Context, job Job, rep *Report) {
	md := job.Result.Metadata
	if md.ContactEmail == "" && md.ContactPhone == "" {
		m.logger.Info(ctx, "lead has no contact email or phone, skipping records")
		return
	}

	contact, ok := m.contact(ctx, job, rep)
	if !ok {
		return
	}
	// A contact inserted by an earlier attempt of this execution still
	// gets its lead; any other existing contact does not.
	if !rep.ContactCreated && contact.ExecutionID != job.Execution.ID {
		return
	}

	lead := &store.Lead{
		TenantID:    job.TenantID,
		ContactID:   contact.ID,
		Stage:       store.LeadStageNew,
		WorkflowID:  job.Execution.WorkflowID,
		ExecutionID: job.Execution.ID,
	}
	if err := m.store.CreateLead(ctx, lead); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			m.logger.Debug(ctx, "lead already recorded")
			return
		}
		m.fail(ctx, rep, "creating lead", err)
		return
	}
	rep.LeadID = lead.ID
	RecordsCreated.WithLabelValues(store.KindLead).Inc()
}

func (m *Materializer) contact(ctx context.Context, job Job, rep *Report) (*store.Contact, bool) {
	md := job.Result.Metadata
	contact, created, err := m.store.ResolveContact(ctx, &store.Contact{
		TenantID:    job.TenantID,
		Name:        md.ContactName,
		Email:       md.ContactEmail,
		Phone:       md.ContactPhone,
		WorkflowID:  job.Execution.WorkflowID,
		ExecutionID: job.Execution.ID,
	})
	if err != nil {
		m.fail(ctx, rep, "resolving contact", err)
		return nil, false
	}
	rep.ContactID = contact.ID
	rep.ContactCreated = created
	if created {
		RecordsCreated.WithLabelValues(store.KindContact).Inc()
	}
	return contact, true
}

func (m *Materializer) record(ctx context.Context, job Job, rep *Report) {
	r := &store.OutcomeRecord{
		TenantID:    job.TenantID,
		WorkflowID:  job.Execution.WorkflowID,
		ExecutionID: job.Execution.ID,
		MetricKey:   job.Result.MetricKey,
		Value:       1,
		Confidence:  job.Result.Confidence,
		Layer:       job.Result.Layer,
		Status:      job.Decision.Status,
		ContactID:   rep.ContactID,
		MeetingID:   rep.MeetingID,
		TaskID:      rep.TaskID,
		LeadID:      rep.LeadID,
		Metadata:    job.Result.Metadata,
	}
	if err := m.store.RecordOutcome(ctx, r); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			m.logger.Debug(ctx, "outcome already recorded for execution")
			return
		}
		m.fail(ctx, rep, "recording outcome", err)
		return
	}
	rep.Recorded = true
	RecordsCreated.WithLabelValues("outcome").Inc()
}

func (m *Materializer) fail(ctx context.Context, rep *Report, op string, err error) {
	rep.Failures++
	m.logger.Error(ctx, "materialization failed", zap.String("op", op), zap.Error(err))
}

func provenance(job Job) string {
	return fmt.Sprintf("Booked by workflow %s (execution %s), detected by %s at %.2f",
		job.Execution.WorkflowID, job.Execution.ID, job.Result.Layer, job.Result.Confidence)
}

func contactLabel(c *store.Contact, md outcome.Metadata) string {
	switch {
	case c.Name != "":
		return c.Name
	case md.ContactName != "":
		return md.ContactName
	case c.Email != "":
		return c.Email
	case md.ContactEmail != "":
		return md.ContactEmail
	case c.Phone != "":
		return c.Phone
	default:
		return md.ContactPhone
	}
}
