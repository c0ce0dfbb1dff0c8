// Package upstream fetches workflow definitions and completed executions
// from the workflow-automation platform.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/outcomed/internal/config"
	"github.com/fyrsmithlabs/outcomed/internal/logging"
	"github.com/fyrsmithlabs/outcomed/internal/outcome"
)

const (
	defaultBaseBackoff = 500 * time.Millisecond
	defaultMaxRetries  = 3
	maxResponseBytes   = 32 << 20
	apiKeyHeader       = "X-N8N-API-KEY"
)

var (
	// ErrUnauthorized is returned when the platform rejects the API key.
	ErrUnauthorized = errors.New("upstream rejected credentials")

	// ErrMalformed is returned when a response does not have the expected shape.
	ErrMalformed = errors.New("malformed upstream response")

	// ErrNoCredentials is returned when a tenant has no upstream credentials.
	ErrNoCredentials = errors.New("no upstream credentials for tenant")
)

// Credentials locate a tenant's upstream instance.
type Credentials struct {
	BaseURL string
	APIKey  config.Secret
}

// CredentialSource resolves per-tenant credentials. The vault behind it is
// owned by another service.
type CredentialSource interface {
	Credentials(ctx context.Context, tenantID string) (Credentials, error)
}

// StaticCredentials serves the same credentials to every tenant.
type StaticCredentials Credentials

// Credentials implements CredentialSource.
func (s StaticCredentials) Credentials(_ context.Context, _ string) (Credentials, error) {
	if s.BaseURL == "" || !s.APIKey.IsSet() {
		return Credentials{}, ErrNoCredentials
	}
	return Credentials(s), nil
}

// Client is a paginated, rate-limited platform client.
type Client struct {
	creds      CredentialSource
	httpClient *http.Client
	limiter    *rate.Limiter
	pageSize   int
	maxPages   int
	maxRetries int
	logger     *logging.Logger
}

// NewClient creates a client from the upstream config section.
func NewClient(cfg config.UpstreamConfig, creds CredentialSource, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Client{
		creds:      creds,
		httpClient: &http.Client{Timeout: cfg.Timeout.Duration()},
		limiter:    rate.NewLimiter(limit, 1),
		pageSize:   pageSize,
		maxPages:   cfg.MaxPages,
		maxRetries: defaultMaxRetries,
		logger:     logger.Named("upstream"),
	}
}

// ActiveWorkflows lists the tenant's active workflows.
func (c *Client) ActiveWorkflows(ctx context.Context, tenantID string) ([]outcome.WorkflowDefinition, error) {
	var out []outcome.WorkflowDefinition
	err := c.paginate(ctx, tenantID, "/api/v1/workflows", url.Values{"active": {"true"}}, func(page []byte) error {
		wfs, err := parseWorkflows(page)
		if err != nil {
			return err
		}
		for _, wf := range wfs {
			if wf.IsActive {
				out = append(out, wf)
			}
		}
		return nil
	})
	return out, err
}

// Executions calls fn for every successful execution of workflowID, page by
// page, in upstream order. Returning an error from fn stops pagination.
func (c *Client) Executions(ctx context.Context, tenantID, workflowID string, fn func(*outcome.Execution) error) error {
	q := url.Values{
		"workflowId":  {workflowID},
		"status":      {string(outcome.ExecutionSuccess)},
		"includeData": {"true"},
	}
	return c.paginate(ctx, tenantID, "/api/v1/executions", q, func(page []byte) error {
		execs, err := parseExecutions(page)
		if err != nil {
			return err
		}
		for _, ex := range execs {
			if ex.WorkflowID == "" {
				ex.WorkflowID = workflowID
			}
			if err := fn(ex); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Client) paginate(ctx context.Context, tenantID, path string, q url.Values, handle func([]byte) error) error {
	creds, err := c.creds.Credentials(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("resolving credentials: %w", err)
	}

	q.Set("limit", strconv.Itoa(c.pageSize))
	cursor := ""
	for page := 0; c.maxPages <= 0 || page < c.maxPages; page++ {
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		body, err := c.get(ctx, creds, path, q)
		if err != nil {
			return err
		}
		if err := handle(body); err != nil {
			return err
		}
		cursor = nextCursor(body)
		if cursor == "" {
			return nil
		}
	}
	c.logger.Warn(ctx, "pagination stopped at max pages",
		zap.String("path", path),
		zap.Int("max_pages", c.maxPages),
	)
	return nil
}

func (c *Client) get(ctx context.Context, creds Credentials, path string, q url.Values) ([]byte, error) {
	endpoint := strings.TrimRight(creds.BaseURL, "/") + path + "?" + q.Encode()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultBaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		body, err := c.doRequest(ctx, creds, endpoint)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return nil, err
		}
		c.logger.Debug(ctx, "retrying upstream request",
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doRequest(ctx context.Context, creds Credentials, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(apiKeyHeader, creds.APIKey.Value())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("failed to read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w (%d)", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &retryableError{err: fmt.Errorf("rate limited (429)")}
	case resp.StatusCode >= 500:
		return nil, &retryableError{err: fmt.Errorf("server error (%d)", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status (%d): %s", resp.StatusCode, outcome.Truncate(string(body), 200))
	}
	return body, nil
}

// retryableError wraps an error to indicate it can be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }

func (e *retryableError) Unwrap() error { return e.err }

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
