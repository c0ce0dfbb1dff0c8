// Package router maps a classification confidence to what happens next:
// silent materialization, materialization marked for learning, or a
// review notification. Lower bounds are inclusive.
package router

import (
	"sync"

	"github.com/fyrsmithlabs/outcomed/internal/config"
	"github.com/fyrsmithlabs/outcomed/internal/outcome"
)

// Action is the routed side effect.
type Action string

const (
	ActionMaterialize Action = "materialize"
	ActionNotify      Action = "notify"
)

// Decision is the router output for one result.
type Decision struct {
	Action Action         `json:"action"`
	Status outcome.Status `json:"status"`
	Notify bool           `json:"notify"`
}

// Materialize reports whether business records should be written.
func (d Decision) Materialize() bool { return d.Action == ActionMaterialize }

// Router holds the thresholds. SetThresholds may be called concurrently
// with Route, e.g. from a config watcher.
type Router struct {
	mu      sync.RWMutex
	confirm float64
	learn   float64
}

// New creates a router from validated thresholds.
func New(cfg config.RouterConfig) *Router {
	return &Router{confirm: cfg.ConfirmThreshold, learn: cfg.LearnThreshold}
}

// Route maps confidence to a decision.
func (r *Router) Route(confidence float64) Decision {
	r.mu.RLock()
	confirm, learn := r.confirm, r.learn
	r.mu.RUnlock()

	switch {
	case confidence >= confirm:
		return Decision{Action: ActionMaterialize, Status: outcome.StatusConfirmed}
	case confidence >= learn:
		return Decision{Action: ActionMaterialize, Status: outcome.StatusLearning}
	default:
		return Decision{Action: ActionNotify, Status: outcome.StatusPendingReview, Notify: true}
	}
}

// SetThresholds replaces the thresholds after validating them.
func (r *Router) SetThresholds(cfg config.RouterConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.confirm, r.learn = cfg.ConfirmThreshold, cfg.LearnThreshold
	r.mu.Unlock()
	return nil
}

// Thresholds returns the current thresholds.
func (r *Router) Thresholds() config.RouterConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return config.RouterConfig{ConfirmThreshold: r.confirm, LearnThreshold: r.learn}
}
