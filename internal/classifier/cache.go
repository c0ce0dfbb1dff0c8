package classifier

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outcomed/internal/logging"
	"github.com/fyrsmithlabs/outcomed/internal/outcome"
	"github.com/fyrsmithlabs/outcomed/internal/store"
)

// MappingLookup reads confirmed per-workflow overrides.
type MappingLookup interface {
	GetMapping(ctx context.Context, tenantID, workflowID string) (*store.Mapping, error)
}

// CacheLayer returns the human-confirmed mapping for the workflow.
type CacheLayer struct {
	mappings MappingLookup
	logger   *logging.Logger
}

// NewCacheLayer creates the mapping-cache layer.
func NewCacheLayer(mappings MappingLookup, logger *logging.Logger) *CacheLayer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CacheLayer{mappings: mappings, logger: logger.Named("cache")}
}

func (c *CacheLayer) Name() string { return "cache" }

// Attempt looks up the override. Lookup errors pass to the next layer.
func (c *CacheLayer) Attempt(ctx context.Context, at *Attempt) *outcome.Result {
	ev := at.Evidence
	m, err := c.mappings.GetMapping(ctx, ev.TenantID, ev.Workflow.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.Warn(ctx, "mapping lookup failed", zap.Error(err))
		}
		return nil
	}
	if !m.MetricKey.Valid() {
		c.logger.Warn(ctx, "ignoring mapping with invalid metric key", zap.String("metric_key", string(m.MetricKey)))
		return nil
	}

	return &outcome.Result{
		MetricKey:  m.MetricKey,
		Confidence: 1.0,
		Layer:      outcome.LayerUserConfirmed,
		Metadata: outcome.Metadata{
			Reasoning: "workflow mapping confirmed by " + confirmedBy(m),
		},
	}
}

func confirmedBy(m *store.Mapping) string {
	if m.ConfirmedBy == "" {
		return "a reviewer"
	}
	return m.ConfirmedBy
}
