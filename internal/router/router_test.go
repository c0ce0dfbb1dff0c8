package router

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/outcomed/internal/config"
	"github.com/fyrsmithlabs/outcomed/internal/outcome"
)

func defaultRouter() *Router {
	return New(config.Default().Router)
}

func TestRoute_Boundaries(t *testing.T) {
	tests := []struct {
		confidence float64
		action     Action
		status     outcome.Status
	}{
		{1.0, ActionMaterialize, outcome.StatusConfirmed},
		{0.95, ActionMaterialize, outcome.StatusConfirmed},
		{0.90, ActionMaterialize, outcome.StatusConfirmed},
		{0.8999, ActionMaterialize, outcome.StatusLearning},
		{0.75, ActionMaterialize, outcome.StatusLearning},
		{0.70, ActionMaterialize, outcome.StatusLearning},
		{0.6999, ActionNotify, outcome.StatusPendingReview},
		{0.6, ActionNotify, outcome.StatusPendingReview},
		{0.0, ActionNotify, outcome.StatusPendingReview},
	}

	r := defaultRouter()
	for _, tt := range tests {
		d := r.Route(tt.confidence)
		assert.Equal(t, tt.action, d.Action, "confidence %v", tt.confidence)
		assert.Equal(t, tt.status, d.Status, "confidence %v", tt.confidence)
		assert.Equal(t, tt.action == ActionNotify, d.Notify)
		assert.Equal(t, tt.action == ActionMaterialize, d.Materialize())
	}
}

func TestRoute_NeverMaterializesBelowLearn(t *testing.T) {
	r := defaultRouter()
	for c := 0.0; c < 0.70; c += 0.01 {
		assert.False(t, r.Route(c).Materialize(), "confidence %v", c)
	}
}

func TestSetThresholds(t *testing.T) {
	r := defaultRouter()

	require.NoError(t, r.SetThresholds(config.RouterConfig{ConfirmThreshold: 0.8, LearnThreshold: 0.5}))
	assert.Equal(t, outcome.StatusConfirmed, r.Route(0.8).Status)
	assert.Equal(t, outcome.StatusLearning, r.Route(0.5).Status)
	assert.Equal(t, 0.8, r.Thresholds().ConfirmThreshold)

	err := r.SetThresholds(config.RouterConfig{ConfirmThreshold: 0.5, LearnThreshold: 0.8})
	require.Error(t, err)
	assert.Equal(t, 0.8, r.Thresholds().ConfirmThreshold, "invalid thresholds are not applied")
}

func TestRoute_ConcurrentReload(t *testing.T) {
	r := defaultRouter()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = r.Route(0.85)
			}
		}()
		go func(i int) {
			defer wg.Done()
			_ = r.SetThresholds(config.RouterConfig{ConfirmThreshold: 0.9, LearnThreshold: 0.6 + float64(i)/100})
		}(i)
	}
	wg.Wait()
}
