package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/outcomed/internal/config"
	"github.com/fyrsmithlabs/outcomed/internal/logging"
	"github.com/fyrsmithlabs/outcomed/internal/store"
)

type mockLookup struct {
	mock.Mock
}

func (m *mockLookup) MeetingExists(ctx context.Context, tenantID, executionID string) (bool, error) {
	args := m.Called(ctx, tenantID, executionID)
	return args.Bool(0), args.Error(1)
}

func (m *mockLookup) TaskExists(ctx context.Context, tenantID, executionID string) (bool, error) {
	args := m.Called(ctx, tenantID, executionID)
	return args.Bool(0), args.Error(1)
}

func (m *mockLookup) NotificationExists(ctx context.Context, tenantID, executionID string) (bool, error) {
	args := m.Called(ctx, tenantID, executionID)
	return args.Bool(0), args.Error(1)
}

type mockClaimer struct {
	mock.Mock
}

func (m *mockClaimer) ClaimExecution(ctx context.Context, tenantID, executionID, workflowID string, stale time.Duration) (bool, error) {
	args := m.Called(ctx, tenantID, executionID, workflowID, stale)
	return args.Bool(0), args.Error(1)
}

func (m *mockClaimer) CompleteClaim(ctx context.Context, tenantID, executionID string, state store.ClaimState) error {
	return m.Called(ctx, tenantID, executionID, state).Error(0)
}

var errDB = errors.New("connection refused")

func guardConfig(onError string) config.GuardConfig {
	return config.GuardConfig{OnError: onError, StaleClaim: config.Duration(2 * time.Minute)}
}

func TestCheck_Order(t *testing.T) {
	t.Run("meeting short-circuits", func(t *testing.T) {
		l := &mockLookup{}
		l.On("MeetingExists", mock.Anything, "t1", "e1").Return(true, nil)

		processed, reason := New(l, nil, guardConfig(config.GuardProceedOnError), nil).Check(context.Background(), "t1", "e1")
		assert.True(t, processed)
		assert.Equal(t, ReasonMeeting, reason)
		l.AssertNotCalled(t, "TaskExists", mock.Anything, mock.Anything, mock.Anything)
		l.AssertNotCalled(t, "NotificationExists", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("notification found last", func(t *testing.T) {
		l := &mockLookup{}
		l.On("MeetingExists", mock.Anything, "t1", "e1").Return(false, nil)
		l.On("TaskExists", mock.Anything, "t1", "e1").Return(false, nil)
		l.On("NotificationExists", mock.Anything, "t1", "e1").Return(true, nil)

		processed, reason := New(l, nil, guardConfig(config.GuardProceedOnError), nil).Check(context.Background(), "t1", "e1")
		assert.True(t, processed)
		assert.Equal(t, ReasonNotification, reason)
		l.AssertExpectations(t)
	})

	t.Run("nothing found", func(t *testing.T) {
		l := &mockLookup{}
		l.On("MeetingExists", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
		l.On("TaskExists", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
		l.On("NotificationExists", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)

		processed, _ := New(l, nil, guardConfig(config.GuardProceedOnError), nil).Check(context.Background(), "t1", "e1")
		assert.False(t, processed)
	})
}

func TestCheck_ErrorPolicy(t *testing.T) {
	newLookup := func() *mockLookup {
		l := &mockLookup{}
		l.On("MeetingExists", mock.Anything, mock.Anything, mock.Anything).Return(false, errDB)
		l.On("TaskExists", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
		l.On("NotificationExists", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
		return l
	}

	t.Run("proceed treats error as not found", func(t *testing.T) {
		logger := logging.NewTestLogger()
		processed, _ := New(newLookup(), nil, guardConfig(config.GuardProceedOnError), logger.Logger).
			Check(context.Background(), "t1", "e1")
		assert.False(t, processed)
		logger.AssertLogged(t, zapcore.WarnLevel, "idempotency lookup failed")
	})

	t.Run("skip treats error as processed", func(t *testing.T) {
		l := newLookup()
		processed, reason := New(l, nil, guardConfig(config.GuardSkipOnError), nil).
			Check(context.Background(), "t1", "e1")
		assert.True(t, processed)
		assert.Equal(t, ReasonLookupError, reason)
		l.AssertNotCalled(t, "TaskExists", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestClaim(t *testing.T) {
	t.Run("claim taken", func(t *testing.T) {
		c := &mockClaimer{}
		c.On("ClaimExecution", mock.Anything, "t1", "e1", "w1", 2*time.Minute).Return(true, nil)
		assert.True(t, New(&mockLookup{}, c, guardConfig(config.GuardProceedOnError), nil).Claim(context.Background(), "t1", "e1", "w1"))
		c.AssertExpectations(t)
	})

	t.Run("claim held elsewhere", func(t *testing.T) {
		c := &mockClaimer{}
		c.On("ClaimExecution", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
		assert.False(t, New(&mockLookup{}, c, guardConfig(config.GuardProceedOnError), nil).Claim(context.Background(), "t1", "e1", "w1"))
	})

	t.Run("claim error follows policy", func(t *testing.T) {
		c := &mockClaimer{}
		c.On("ClaimExecution", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, errDB)
		assert.True(t, New(&mockLookup{}, c, guardConfig(config.GuardProceedOnError), nil).Claim(context.Background(), "t1", "e1", "w1"))
		assert.False(t, New(&mockLookup{}, c, guardConfig(config.GuardSkipOnError), nil).Claim(context.Background(), "t1", "e1", "w1"))
	})

	t.Run("nil claimer always proceeds", func(t *testing.T) {
		assert.True(t, New(&mockLookup{}, nil, guardConfig(config.GuardProceedOnError), nil).Claim(context.Background(), "t1", "e1", "w1"))
	})
}

func TestRelease(t *testing.T) {
	c := &mockClaimer{}
	c.On("CompleteClaim", mock.Anything, "t1", "e1", store.ClaimDone).Return(nil).Once()
	c.On("CompleteClaim", mock.Anything, "t1", "e2", store.ClaimFailed).Return(errDB).Once()

	logger := logging.NewTestLogger()
	g := New(&mockLookup{}, c, guardConfig(config.GuardProceedOnError), logger.Logger)
	g.Release(context.Background(), "t1", "e1", store.ClaimDone)
	g.Release(context.Background(), "t1", "e2", store.ClaimFailed)

	c.AssertExpectations(t)
	logger.AssertLogged(t, zapcore.WarnLevel, "releasing execution claim failed")
}
