package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpserver "github.com/fyrsmithlabs/outcomed/internal/http"
	"github.com/fyrsmithlabs/outcomed/internal/outcome"
	"github.com/fyrsmithlabs/outcomed/internal/store"
)

// setReviewFlags points the review commands at url and restores the
// globals afterwards.
func setReviewFlags(t *testing.T, url string) {
	t.Helper()
	prevURL, prevTenant, prevBy := serverURL, reviewTenant, reviewBy
	prevStatus, prevLimit, prevKey := reviewStatus, reviewLimit, reviewKey
	t.Cleanup(func() {
		serverURL, reviewTenant, reviewBy = prevURL, prevTenant, prevBy
		reviewStatus, reviewLimit, reviewKey = prevStatus, prevLimit, prevKey
	})
	serverURL, reviewTenant, reviewBy = url, "acme", "ana"
	reviewStatus, reviewLimit, reviewKey = "pending", 50, ""
}

func TestReviewList(t *testing.T) {
	t.Run("renders a table", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/tenants/acme/notifications", r.URL.Path)
			assert.Equal(t, "pending", r.URL.Query().Get("status"))
			assert.Equal(t, "50", r.URL.Query().Get("limit"))
			assert.Equal(t, "ana", r.Header.Get(httpserver.HeaderReviewer))

			_ = json.NewEncoder(w).Encode(httpserver.NotificationsResponse{Notifications: []*store.Notification{{
				ID:           "n1",
				WorkflowID:   "wf-1",
				ExecutionID:  "exec-1",
				SuggestedKey: outcome.Unknown,
				Confidence:   0.42,
				Status:       store.NotificationPending,
				CreatedAt:    time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
			}}})
		}))
		defer srv.Close()
		setReviewFlags(t, srv.URL)

		var out bytes.Buffer
		reviewListCmd.SetOut(&out)
		reviewListCmd.SetContext(context.Background())
		require.NoError(t, reviewListCmd.RunE(reviewListCmd, nil))

		assert.Contains(t, out.String(), "SUGGESTED")
		assert.Contains(t, out.String(), "exec-1")
		assert.Contains(t, out.String(), "42%")
		assert.Contains(t, out.String(), "2025-03-01T09:00:00Z")
	})

	t.Run("empty", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"notifications":[]}`))
		}))
		defer srv.Close()
		setReviewFlags(t, srv.URL)

		var out bytes.Buffer
		reviewListCmd.SetOut(&out)
		reviewListCmd.SetContext(context.Background())
		require.NoError(t, reviewListCmd.RunE(reviewListCmd, nil))
		assert.Equal(t, "No notifications\n", out.String())
	})
}

func TestReviewApprove(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/tenants/acme/notifications/n1/approve", r.URL.Path)

		var req httpserver.ApproveRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ticket_created", req.MetricKey)

		_ = json.NewEncoder(w).Encode(store.Notification{ID: "n1", ResolvedKey: outcome.TicketCreated})
	}))
	defer srv.Close()
	setReviewFlags(t, srv.URL)
	reviewKey = "ticket_created"

	var out bytes.Buffer
	reviewApproveCmd.SetOut(&out)
	reviewApproveCmd.SetContext(context.Background())
	require.NoError(t, reviewApproveCmd.RunE(reviewApproveCmd, []string{"n1"}))
	assert.Equal(t, "Approved n1 as ticket_created\n", out.String())
}

func TestReviewDismiss_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"notification is terminal: n1 is approved"}`))
	}))
	defer srv.Close()
	setReviewFlags(t, srv.URL)

	reviewDismissCmd.SetContext(context.Background())
	err := reviewDismissCmd.RunE(reviewDismissCmd, []string{"n1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "terminal")
}

func TestTenantPath(t *testing.T) {
	setReviewFlags(t, "")
	reviewTenant = "a/b"
	assert.Equal(t, "/api/v1/tenants/a%2Fb/notifications/x", tenantPath("notifications", "x"))
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, out.String(), "Version:    dev")
}
