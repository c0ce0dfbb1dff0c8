// Package http provides the HTTP API for outcomed: batch sync, dry-run
// classification, review notifications and workflow mappings.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outcomed/internal/config"
	"github.com/fyrsmithlabs/outcomed/internal/logging"
	"github.com/fyrsmithlabs/outcomed/internal/outcome"
	"github.com/fyrsmithlabs/outcomed/internal/pipeline"
	"github.com/fyrsmithlabs/outcomed/internal/router"
	"github.com/fyrsmithlabs/outcomed/internal/secrets"
	"github.com/fyrsmithlabs/outcomed/internal/store"
	"github.com/fyrsmithlabs/outcomed/internal/tenant"
)

// Syncer runs a tenant batch.
type Syncer interface {
	Run(ctx context.Context, tenantID string) (*pipeline.BatchResult, error)
}

// Classifier classifies evidence without side effects.
type Classifier interface {
	Classify(ctx context.Context, ev *outcome.Evidence) *outcome.Result
}

// Router maps confidence to a decision.
type Router interface {
	Route(confidence float64) router.Decision
}

// Reviewer lists and resolves review notifications.
type Reviewer interface {
	List(ctx context.Context, tenantID string, status store.NotificationStatus, limit int) ([]*store.Notification, error)
	Approve(ctx context.Context, tenantID, id string, key outcome.MetricKey, by string) (*store.Notification, error)
	Dismiss(ctx context.Context, tenantID, id, by string) (*store.Notification, error)
	ConfirmMapping(ctx context.Context, tenantID, workflowID string, key outcome.MetricKey, by string) error
}

// Deps are the services behind the API.
type Deps struct {
	Syncer     Syncer
	Classifier Classifier
	Router     Router
	Reviewer   Reviewer
	Scrubber   secrets.Scrubber
}

// Server provides HTTP endpoints for outcomed.
type Server struct {
	echo    *echo.Echo
	deps    Deps
	metrics *APIMetrics
	logger  *logging.Logger
	config  config.ServerConfig
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *logging.Logger, cfg config.ServerConfig) (*Server, error) {
	if deps.Syncer == nil || deps.Classifier == nil || deps.Router == nil || deps.Reviewer == nil {
		return nil, fmt.Errorf("syncer, classifier, router and reviewer are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if deps.Scrubber == nil {
		deps.Scrubber = secrets.NoopScrubber{}
	}
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newRequestValidator()
	e.HTTPErrorHandler = errorHandler(e)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	metrics := NewAPIMetrics(logger)
	e.Use(metrics.Middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			reqID := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), reqID)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	})

	s := &Server{
		echo:    e,
		deps:    deps,
		metrics: metrics,
		logger:  logger,
		config:  cfg,
	}
	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/scrub", s.handleScrub)

	t := v1.Group("/tenants/:tenant", validTenant)
	t.POST("/sync", s.handleSync)
	t.POST("/classify", s.handleClassify)
	t.GET("/notifications", s.handleListNotifications)
	t.POST("/notifications/:id/approve", s.handleApprove)
	t.POST("/notifications/:id/dismiss", s.handleDismiss)
	t.PUT("/mappings/:workflowId", s.handleConfirmMapping)
}

// validTenant rejects malformed tenant IDs before any handler runs.
func validTenant(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := tenant.Validate(c.Param("tenant")); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return next(c)
	}
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
