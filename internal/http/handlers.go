package http

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outcomed/internal/classifier"
	"github.com/fyrsmithlabs/outcomed/internal/logging"
	"github.com/fyrsmithlabs/outcomed/internal/outcome"
	"github.com/fyrsmithlabs/outcomed/internal/store"
	"github.com/fyrsmithlabs/outcomed/internal/upstream"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	// HeaderReviewer names the person resolving a notification.
	HeaderReviewer = "X-Reviewer"
)

func reviewer(c echo.Context) string {
	if by := c.Request().Header.Get(HeaderReviewer); by != "" {
		return by
	}
	return "api"
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleScrub previews what secret scrubbing does to content before it is
// sent to the LLM.
func (s *Server) handleScrub(c echo.Context) error {
	var req ScrubRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	result := s.deps.Scrubber.Scrub(req.Content)
	s.logger.Debug(c.Request().Context(), "scrubbed content",
		zap.Int("findings", result.TotalFindings()),
		zap.Duration("duration", result.Duration),
	)

	return c.JSON(http.StatusOK, ScrubResponse{
		Content:       result.Scrubbed,
		FindingsCount: result.TotalFindings(),
		Rules:         result.RuleIDs(),
	})
}

// handleSync runs a batch for the tenant.
func (s *Server) handleSync(c echo.Context) error {
	tenantID := c.Param("tenant")
	ctx := logging.WithTenant(c.Request().Context(), tenantID)

	res, err := s.deps.Syncer.Run(ctx, tenantID)
	s.metrics.RecordSync(ctx, res, err)
	if err != nil {
		s.logger.Warn(ctx, "sync stopped early", zap.Error(err))
		return c.JSON(http.StatusBadGateway, SyncResponse{Result: res, Error: err.Error()})
	}
	return c.JSON(http.StatusOK, SyncResponse{Result: res})
}

// handleClassify classifies a posted execution without side effects.
func (s *Server) handleClassify(c echo.Context) error {
	tenantID := c.Param("tenant")
	var req ClassifyRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	ex, err := upstream.ParseExecution(req.Execution)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if ex.WorkflowID == "" {
		ex.WorkflowID = req.Workflow.ID
	}
	wf := outcome.WorkflowDefinition{ID: req.Workflow.ID, Name: req.Workflow.Name, IsActive: true, Tags: req.Workflow.Tags}

	ctx := logging.WithExecution(logging.WithTenant(c.Request().Context(), tenantID), wf.ID, ex.ID)
	res := s.deps.Classifier.Classify(classifier.WithDryRun(ctx), outcome.NewEvidence(tenantID, wf, ex))
	decision := s.deps.Router.Route(res.Confidence)
	s.metrics.RecordClassification(ctx, res, decision)

	return c.JSON(http.StatusOK, ClassifyResponse{
		ExecutionID: ex.ID,
		Result:      res,
		Decision:    decision,
	})
}

// handleListNotifications lists a tenant's notifications, pending by
// default.
func (s *Server) handleListNotifications(c echo.Context) error {
	status := store.NotificationStatus(c.QueryParam("status"))
	switch status {
	case "":
		status = store.NotificationPending
	case "all":
		status = ""
	case store.NotificationPending, store.NotificationApproved, store.NotificationDismissed:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "status must be pending, approved, dismissed or all")
	}

	limit := defaultListLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxListLimit {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 500")
		}
		limit = n
	}

	ns, err := s.deps.Reviewer.List(c.Request().Context(), c.Param("tenant"), status, limit)
	if err != nil {
		return err
	}
	if ns == nil {
		ns = []*store.Notification{}
	}
	return c.JSON(http.StatusOK, NotificationsResponse{Notifications: ns})
}

// handleApprove confirms a notification, optionally overriding its key.
func (s *Server) handleApprove(c echo.Context) error {
	var req ApproveRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	var key outcome.MetricKey
	if req.MetricKey != "" {
		key, _ = outcome.ParseMetricKey(req.MetricKey)
	}

	n, err := s.deps.Reviewer.Approve(c.Request().Context(), c.Param("tenant"), c.Param("id"), key, reviewer(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, n)
}

// handleDismiss closes a notification.
func (s *Server) handleDismiss(c echo.Context) error {
	n, err := s.deps.Reviewer.Dismiss(c.Request().Context(), c.Param("tenant"), c.Param("id"), reviewer(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, n)
}

// handleConfirmMapping records a workflow's outcome directly.
func (s *Server) handleConfirmMapping(c echo.Context) error {
	var req MappingRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	key, _ := outcome.ParseMetricKey(req.MetricKey)
	workflowID := c.Param("workflowId")

	if err := s.deps.Reviewer.ConfirmMapping(c.Request().Context(), c.Param("tenant"), workflowID, key, reviewer(c)); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MappingResponse{WorkflowID: workflowID, MetricKey: key})
}
