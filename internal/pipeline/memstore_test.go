package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/outcomed/internal/outcome"
	"github.com/fyrsmithlabs/outcomed/internal/store"
)

// memStore is an in-memory store with the same uniqueness rules as the
// Postgres schema.
type memStore struct {
	mu            sync.Mutex
	seq           int
	contacts      []*store.Contact
	meetings      map[string]*store.Meeting
	tasks         map[string]*store.Task
	leads         map[string]*store.Lead
	outcomes      map[string]*store.OutcomeRecord
	notifications map[string]*store.Notification
	notifByExec   map[string]string
	mappings      map[string]outcome.MetricKey
	claims        map[string]store.ClaimState
	failLookups   error
}

func newMemStore() *memStore {
	return &memStore{
		meetings:      map[string]*store.Meeting{},
		tasks:         map[string]*store.Task{},
		leads:         map[string]*store.Lead{},
		outcomes:      map[string]*store.OutcomeRecord{},
		notifications: map[string]*store.Notification{},
		notifByExec:   map[string]string{},
		mappings:      map[string]outcome.MetricKey{},
		claims:        map[string]store.ClaimState{},
	}
}

func key(tenantID, id string) string { return tenantID + "/" + id }

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) MeetingExists(_ context.Context, tenantID, executionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLookups != nil {
		return false, m.failLookups
	}
	_, ok := m.meetings[key(tenantID, executionID)]
	return ok, nil
}

func (m *memStore) TaskExists(_ context.Context, tenantID, executionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tasks[key(tenantID, executionID)]
	return ok, nil
}

func (m *memStore) NotificationExists(_ context.Context, tenantID, executionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.notifByExec[key(tenantID, executionID)]
	return ok, nil
}

func (m *memStore) ClaimExecution(_ context.Context, tenantID, executionID, _ string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(tenantID, executionID)
	if st, ok := m.claims[k]; ok && st != store.ClaimFailed {
		return false, nil
	}
	m.claims[k] = store.ClaimClaimed
	return true, nil
}

func (m *memStore) CompleteClaim(_ context.Context, tenantID, executionID string, state store.ClaimState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims[key(tenantID, executionID)] = state
	return nil
}

func (m *memStore) ResolveContact(_ context.Context, c *store.Contact) (*store.Contact, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.contacts {
		if existing.TenantID != c.TenantID {
			continue
		}
		if c.Email != "" && strings.EqualFold(existing.Email, c.Email) {
			return existing, false, nil
		}
		if c.Email == "" && c.Phone != "" && existing.Phone == c.Phone {
			return existing, false, nil
		}
	}
	cp := *c
	cp.Email = strings.ToLower(cp.Email)
	cp.ID = m.nextID("contact")
	m.contacts = append(m.contacts, &cp)
	return &cp, true, nil
}

func (m *memStore) CreateMeeting(_ context.Context, mt *store.Meeting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(mt.TenantID, mt.ExecutionID)
	if _, ok := m.meetings[k]; ok {
		return store.ErrDuplicate
	}
	mt.ID = m.nextID("meeting")
	m.meetings[k] = mt
	return nil
}

func (m *memStore) CreateTask(_ context.Context, t *store.Task) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(t.TenantID, t.ExecutionID)
	if _, ok := m.tasks[k]; ok {
		return false, store.ErrDuplicate
	}
	for _, existing := range m.tasks {
		if existing.TenantID == t.TenantID && existing.WorkflowID == t.WorkflowID &&
			existing.Title == t.Title && existing.Status != store.TaskCompleted {
			t.ID = existing.ID
			return false, nil
		}
	}
	t.ID = m.nextID("task")
	m.tasks[k] = t
	return true, nil
}

func (m *memStore) CreateLead(_ context.Context, l *store.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(l.TenantID, l.ExecutionID)
	if _, ok := m.leads[k]; ok {
		return store.ErrDuplicate
	}
	l.ID = m.nextID("lead")
	m.leads[k] = l
	return nil
}

func (m *memStore) RecordOutcome(_ context.Context, r *store.OutcomeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(r.TenantID, r.ExecutionID)
	if _, ok := m.outcomes[k]; ok {
		return store.ErrDuplicate
	}
	r.ID = m.nextID("outcome")
	m.outcomes[k] = r
	return nil
}

func (m *memStore) InsertNotification(_ context.Context, n *store.Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(n.TenantID, n.ExecutionID)
	if _, ok := m.notifByExec[k]; ok {
		return false, nil
	}
	n.ID = m.nextID("notif")
	n.CreatedAt = time.Now()
	m.notifications[n.ID] = n
	m.notifByExec[k] = n.ID
	return true, nil
}

func (m *memStore) GetNotification(_ context.Context, tenantID, id string) (*store.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return n, nil
}

func (m *memStore) ListNotifications(_ context.Context, tenantID string, status store.NotificationStatus, _ int) ([]*store.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Notification
	for _, n := range m.notifications {
		if n.TenantID == tenantID && (status == "" || n.Status == status) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memStore) ApproveNotification(ctx context.Context, tenantID, id string, k outcome.MetricKey, by string) (*store.Notification, error) {
	n, err := m.resolve(ctx, tenantID, id, store.NotificationApproved, k, by)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.mappings[key(tenantID, n.WorkflowID)] = n.ResolvedKey
	m.mu.Unlock()
	return n, nil
}

func (m *memStore) DismissNotification(ctx context.Context, tenantID, id, by string) (*store.Notification, error) {
	return m.resolve(ctx, tenantID, id, store.NotificationDismissed, "", by)
}

func (m *memStore) resolve(_ context.Context, tenantID, id string, to store.NotificationStatus, k outcome.MetricKey, by string) (*store.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	if n.Status != store.NotificationPending {
		return nil, store.ErrTerminal
	}
	if to == store.NotificationApproved && k == "" {
		k = n.SuggestedKey
	}
	now := time.Now()
	n.Status, n.ResolvedKey, n.ResolvedBy, n.ResolvedAt = to, k, by, &now
	return n, nil
}

func (m *memStore) UpsertMapping(_ context.Context, mp store.Mapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mappings[key(mp.TenantID, mp.WorkflowID)] = mp.MetricKey
	return nil
}

func (m *memStore) GetMapping(_ context.Context, tenantID, workflowID string) (*store.Mapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.mappings[key(tenantID, workflowID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &store.Mapping{TenantID: tenantID, WorkflowID: workflowID, MetricKey: k}, nil
}

func (m *memStore) counts() (meetings, tasks, leads, outcomes, notifications, contacts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.meetings), len(m.tasks), len(m.leads), len(m.outcomes), len(m.notifications), len(m.contacts)
}
