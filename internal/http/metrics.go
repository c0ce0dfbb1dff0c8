package http

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outcomed/internal/logging"
	"github.com/fyrsmithlabs/outcomed/internal/outcome"
	"github.com/fyrsmithlabs/outcomed/internal/pipeline"
	"github.com/fyrsmithlabs/outcomed/internal/router"
)

const (
	httpInstrumentationName = "github.com/fyrsmithlabs/outcomed/internal/http"

	// routeUnmatched labels requests that hit no registered route.
	routeUnmatched = "unmatched"
)

// APIMetrics instruments the API. Request metrics are labeled by route
// template and status class only: tenant, notification and workflow IDs
// are path parameters and never become label values.
type APIMetrics struct {
	logger         *logging.Logger
	requests       metric.Int64Counter
	duration       metric.Float64Histogram
	active         metric.Int64UpDownCounter
	classification metric.Int64Counter
	syncBatches    metric.Int64Counter
	syncExecutions metric.Int64Counter

	routesOnce sync.Once
	routes     map[string]bool
}

// NewAPIMetrics creates the instruments on the global meter.
func NewAPIMetrics(logger *logging.Logger) *APIMetrics {
	return newAPIMetrics(otel.Meter(httpInstrumentationName), logger)
}

func newAPIMetrics(meter metric.Meter, logger *logging.Logger) *APIMetrics {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &APIMetrics{logger: logger}

	var err error
	m.requests, err = meter.Int64Counter(
		"outcomed.http.requests_total",
		metric.WithDescription("API requests by method, route template (/api/v1/tenants/:tenant/sync) and status class."),
		metric.WithUnit("{request}"),
	)
	m.warn(err, "requests")

	m.duration, err = meter.Float64Histogram(
		"outcomed.http.request_duration_seconds",
		metric.WithDescription("API latency by method, route template and status class. Sync requests run a whole tenant batch."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	m.warn(err, "duration")

	m.active, err = meter.Int64UpDownCounter(
		"outcomed.http.active_requests",
		metric.WithDescription("API requests in flight."),
		metric.WithUnit("{request}"),
	)
	m.warn(err, "active")

	m.classification, err = meter.Int64Counter(
		"outcomed.api.classifications_total",
		metric.WithDescription("Dry-run classifications by metric key, detection layer and routed status."),
		metric.WithUnit("{execution}"),
	)
	m.warn(err, "classifications")

	m.syncBatches, err = meter.Int64Counter(
		"outcomed.api.sync_batches_total",
		metric.WithDescription("Sync batches triggered over the API by result: ok, partial or failed."),
		metric.WithUnit("{batch}"),
	)
	m.warn(err, "sync_batches")

	m.syncExecutions, err = meter.Int64Counter(
		"outcomed.api.sync_executions_total",
		metric.WithDescription("Executions handled by API-triggered sync batches, by disposition."),
		metric.WithUnit("{execution}"),
	)
	m.warn(err, "sync_executions")
	return m
}

func (m *APIMetrics) warn(err error, instrument string) {
	if err != nil {
		m.logger.Warn(context.Background(), "failed to create api instrument",
			zap.String("instrument", instrument),
			zap.Error(err),
		)
	}
}

// Middleware records request count, latency and concurrency.
func (m *APIMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()
			if m.active != nil {
				m.active.Add(ctx, 1)
				defer m.active.Add(ctx, -1)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				status = he.Code
			}
			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", m.routeLabel(c)),
				attribute.String("status_class", statusClass(status)),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			return err
		}
	}
}

// routeLabel returns the matched route template, or routeUnmatched when
// echo found no route and would otherwise report the raw path.
func (m *APIMetrics) routeLabel(c echo.Context) string {
	m.routesOnce.Do(func() {
		m.routes = make(map[string]bool)
		for _, r := range c.Echo().Routes() {
			m.routes[r.Path] = true
		}
	})
	if path := c.Path(); m.routes[path] {
		return path
	}
	return routeUnmatched
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}

// RecordClassification counts one dry-run verdict.
func (m *APIMetrics) RecordClassification(ctx context.Context, res *outcome.Result, d router.Decision) {
	if m.classification == nil || res == nil {
		return
	}
	m.classification.Add(ctx, 1, metric.WithAttributes(
		attribute.String("metric_key", string(res.MetricKey)),
		attribute.String("layer", string(res.Layer)),
		attribute.String("status", string(d.Status)),
	))
}

// RecordSync counts one API-triggered batch and its executions.
func (m *APIMetrics) RecordSync(ctx context.Context, res *pipeline.BatchResult, err error) {
	result := "ok"
	switch {
	case res == nil:
		result = "failed"
	case err != nil || res.Partial:
		result = "partial"
	}
	if m.syncBatches != nil {
		m.syncBatches.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}
	if res == nil || m.syncExecutions == nil {
		return
	}
	for disposition, n := range map[string]int{
		"materialized": res.Materialized,
		"learning":     res.Learning,
		"notified":     res.Notified,
		"failed":       res.Failed,
		"skipped":      res.Skipped,
	} {
		if n > 0 {
			m.syncExecutions.Add(ctx, int64(n), metric.WithAttributes(attribute.String("disposition", disposition)))
		}
	}
}
