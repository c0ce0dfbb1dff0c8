package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	httpserver "github.com/fyrsmithlabs/outcomed/internal/http"
	"github.com/fyrsmithlabs/outcomed/internal/outcome"
	"github.com/fyrsmithlabs/outcomed/internal/store"
	"github.com/fyrsmithlabs/outcomed/internal/tenant"
)

var (
	reviewTenant string
	reviewBy     string
	reviewStatus string
	reviewLimit  int
	reviewKey    string
)

func init() {
	reviewCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9191", "outcomed server URL")
	reviewCmd.PersistentFlags().StringVar(&reviewTenant, "tenant", "", "tenant (required)")
	reviewCmd.PersistentFlags().StringVar(&reviewBy, "by", "cli", "reviewer name recorded on resolution")
	_ = reviewCmd.MarkPersistentFlagRequired("tenant")

	reviewListCmd.Flags().StringVar(&reviewStatus, "status", "pending", "pending, approved, dismissed or all")
	reviewListCmd.Flags().IntVar(&reviewLimit, "limit", 50, "maximum notifications to show")
	reviewApproveCmd.Flags().StringVar(&reviewKey, "key", "", "metric key overriding the suggestion")

	reviewCmd.AddCommand(reviewListCmd, reviewApproveCmd, reviewDismissCmd)
	rootCmd.AddCommand(reviewCmd)
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "List and resolve review notifications",
	Long: `List and resolve review notifications through the outcomed API.

Examples:
  # Show pending notifications
  outcomed review list --tenant acme

  # Accept the suggested outcome
  outcomed review approve 6f1c... --tenant acme

  # Correct it instead
  outcomed review approve 6f1c... --tenant acme --key ticket_created

  # Close without an outcome
  outcomed review dismiss 6f1c... --tenant acme`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return tenant.Validate(reviewTenant)
	},
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notifications",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		q.Set("status", reviewStatus)
		q.Set("limit", strconv.Itoa(reviewLimit))

		var resp httpserver.NotificationsResponse
		if err := newAPIClient().do(cmd.Context(), http.MethodGet, tenantPath("notifications")+"?"+q.Encode(), nil, &resp); err != nil {
			return err
		}
		if len(resp.Notifications) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No notifications")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderNotifications(resp.Notifications))
		return nil
	},
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a notification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var n store.Notification
		body := httpserver.ApproveRequest{MetricKey: reviewKey}
		if err := newAPIClient().do(cmd.Context(), http.MethodPost, tenantPath("notifications", args[0], "approve"), body, &n); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Approved %s as %s\n", n.ID, n.ResolvedKey)
		return nil
	},
}

var reviewDismissCmd = &cobra.Command{
	Use:   "dismiss <id>",
	Short: "Dismiss a notification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var n store.Notification
		if err := newAPIClient().do(cmd.Context(), http.MethodPost, tenantPath("notifications", args[0], "dismiss"), nil, &n); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Dismissed %s\n", n.ID)
		return nil
	},
}

func tenantPath(parts ...string) string {
	p := "/api/v1/tenants/" + url.PathEscape(reviewTenant)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

// apiClient calls the outcomed HTTP API.
type apiClient struct {
	baseURL string
	by      string
	http    *http.Client
}

func newAPIClient() *apiClient {
	return &apiClient{
		baseURL: serverURL,
		by:      reviewBy,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(httpserver.HeaderReviewer, c.by)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr httpserver.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned status %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().
			Padding(0, 1)

	unknownStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Padding(0, 1)
)

// renderNotifications draws notifications as a bordered table.
func renderNotifications(ns []*store.Notification) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("238"))).
		Headers("ID", "WORKFLOW", "EXECUTION", "SUGGESTED", "CONFIDENCE", "STATUS", "CREATED")

	for _, n := range ns {
		t.Row(
			n.ID,
			n.WorkflowID,
			n.ExecutionID,
			string(n.SuggestedKey),
			fmt.Sprintf("%.0f%%", n.Confidence*100),
			string(n.Status),
			n.CreatedAt.Format(time.RFC3339),
		)
	}

	t.StyleFunc(func(row, col int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return headerStyle
		case col == 3 && row >= 0 && row < len(ns) && ns[row].SuggestedKey == outcome.Unknown:
			return unknownStyle
		default:
			return cellStyle
		}
	})
	return t.Render()
}
