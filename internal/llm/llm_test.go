package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/outcomed/internal/config"
	"github.com/fyrsmithlabs/outcomed/internal/logging"
	"github.com/fyrsmithlabs/outcomed/internal/outcome"
)

func testRequest() *Request {
	return &Request{
		WorkflowName: "Inbound demo requests",
		NodeNames:    []string{"Webhook", "Calendly", "Slack"},
		Samples:      map[string]string{"Calendly": `{"start_time":"2025-03-01T10:00:00Z"}`},
		LastNode:     "Slack",
		LastOutput:   `{"ok":true}`,
	}
}

func anthropicConfig(baseURL string) config.LLMConfig {
	return config.LLMConfig{
		Enabled:    true,
		Provider:   "anthropic",
		BaseURL:    baseURL,
		APIKey:     "sk-ant-test",
		Timeout:    config.Duration(5 * time.Second),
		MaxRetries: 2,
	}
}

func toolUseResponse(input string) string {
	return `{
		"content": [
			{"type": "text", "text": "Looking at the data."},
			{"type": "tool_use", "id": "toolu_1", "name": "record_outcome", "input": ` + input + `}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 120, "output_tokens": 40}
	}`
}

func TestNew(t *testing.T) {
	t.Run("disabled returns noop", func(t *testing.T) {
		ext, err := New(config.LLMConfig{Enabled: false}, nil)
		require.NoError(t, err)
		assert.Equal(t, "none", ext.Provider())
	})

	t.Run("missing key degrades to noop", func(t *testing.T) {
		logger := logging.NewTestLogger()
		ext, err := New(config.LLMConfig{Enabled: true, Provider: "anthropic"}, logger.Logger)
		require.NoError(t, err)
		assert.Equal(t, "none", ext.Provider())
		logger.AssertLogged(t, zapcore.WarnLevel, "without api key")
	})

	t.Run("anthropic", func(t *testing.T) {
		ext, err := New(anthropicConfig(""), nil)
		require.NoError(t, err)
		assert.Equal(t, "anthropic", ext.Provider())
	})

	t.Run("openai", func(t *testing.T) {
		ext, err := New(config.LLMConfig{Enabled: true, Provider: "openai", APIKey: "sk-test", Model: "gpt-4o-mini"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "openai", ext.Provider())
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := New(config.LLMConfig{Enabled: true, Provider: "bogus", APIKey: "k"}, nil)
		require.Error(t, err)
	})
}

func TestNoop(t *testing.T) {
	_, err := Noop{}.Extract(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestToolSchema_EnumListsEveryKeyOnce(t *testing.T) {
	schema := toolSchema()
	props := schema["properties"].(map[string]interface{})
	enum := props["metricKey"].(map[string]interface{})["enum"].([]string)

	assert.Len(t, enum, len(outcome.MetricKeys))
	assert.Contains(t, enum, "unknown")
	assert.Contains(t, enum, "meeting_booked")
}

func TestUserContent(t *testing.T) {
	content := userContent(testRequest())
	assert.Contains(t, content, "Workflow: Inbound demo requests")
	assert.Contains(t, content, "Webhook -> Calendly -> Slack")
	assert.Contains(t, content, "[Calendly]")
	assert.Contains(t, content, `Final node "Slack" output`)
}

func TestParseExtraction(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantKey  outcome.MetricKey
		wantConf float64
		wantErr  bool
	}{
		{name: "valid", raw: `{"metricKey":"lead_created","confidence":0.8,"reasoning":"r"}`, wantKey: outcome.LeadCreated, wantConf: 0.8},
		{name: "unknown key", raw: `{"metricKey":"invoice_paid","confidence":0.9,"reasoning":"r"}`, wantKey: outcome.Unknown, wantConf: 0.9},
		{name: "clamped high", raw: `{"metricKey":"deal_won","confidence":1.7}`, wantKey: outcome.DealWon, wantConf: 1},
		{name: "clamped low", raw: `{"metricKey":"deal_won","confidence":-0.2}`, wantKey: outcome.DealWon, wantConf: 0},
		{name: "malformed", raw: `{"metricKey":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, err := parseExtraction([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKey, ext.MetricKey)
			assert.InDelta(t, tt.wantConf, ext.Confidence, 1e-9)
		})
	}
}

func TestAnthropic_Extract(t *testing.T) {
	var captured anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("X-API-Key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("Anthropic-Version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(toolUseResponse(`{"metricKey":"meeting_booked","confidence":0.82,"reasoning":"Calendly start_time present","extractedData":{"scheduledAt":"2025-03-01T10:00:00Z"}}`)))
	}))
	defer server.Close()

	a, err := NewAnthropic(anthropicConfig(server.URL), nil)
	require.NoError(t, err)

	ext, err := a.Extract(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, outcome.MeetingBooked, ext.MetricKey)
	assert.InDelta(t, 0.82, ext.Confidence, 1e-9)
	assert.Equal(t, "2025-03-01T10:00:00Z", ext.ExtractedData["scheduledAt"])

	assert.Equal(t, "tool", captured.ToolChoice.Type)
	assert.Equal(t, toolName, captured.ToolChoice.Name)
	require.Len(t, captured.Tools, 1)
	assert.Equal(t, systemPrompt, captured.System)
	require.Len(t, captured.Messages, 1)
	assert.Contains(t, captured.Messages[0].Content, "Calendly")
}

func TestAnthropic_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(toolUseResponse(`{"metricKey":"email_sent","confidence":0.7,"reasoning":"r"}`)))
	}))
	defer server.Close()

	a, err := NewAnthropic(anthropicConfig(server.URL), nil)
	require.NoError(t, err)
	a.backoff = time.Millisecond

	ext, err := a.Extract(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, outcome.EmailSent, ext.MetricKey)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestAnthropic_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad tool schema"}}`))
	}))
	defer server.Close()

	a, err := NewAnthropic(anthropicConfig(server.URL), nil)
	require.NoError(t, err)
	a.backoff = time.Millisecond

	_, err = a.Extract(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad tool schema")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestAnthropic_NoToolUse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"I think it is a meeting."}],"stop_reason":"end_turn"}`))
	}))
	defer server.Close()

	a, err := NewAnthropic(anthropicConfig(server.URL), nil)
	require.NoError(t, err)

	_, err = a.Extract(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrNoToolCall)
}

func TestAnthropic_RequiresKey(t *testing.T) {
	cfg := anthropicConfig("")
	cfg.APIKey = ""
	_, err := NewAnthropic(cfg, nil)
	require.Error(t, err)
}

// fakeModel is an llms.Model returning canned responses.
type fakeModel struct {
	responses []*llms.ContentResponse
	errs      []error
	calls     int
	lastOpts  llms.CallOptions
}

func (f *fakeModel) GenerateContent(_ context.Context, _ []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	i := f.calls
	f.calls++
	f.lastOpts = llms.CallOptions{}
	for _, opt := range options {
		opt(&f.lastOpts)
	}
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return f.responses[len(f.responses)-1], nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func toolCallResponse(args string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		ToolCalls: []llms.ToolCall{{
			ID:   "call_1",
			Type: "function",
			FunctionCall: &llms.FunctionCall{
				Name:      toolName,
				Arguments: args,
			},
		}},
	}}}
}

func TestOpenAI_ToolCall(t *testing.T) {
	model := &fakeModel{responses: []*llms.ContentResponse{
		toolCallResponse(`{"metricKey":"ticket_created","confidence":0.77,"reasoning":"ticket id with status open"}`),
	}}
	o := newOpenAIWithModel(model, config.LLMConfig{MaxRetries: 1}, logging.NewNop())

	ext, err := o.Extract(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, outcome.TicketCreated, ext.MetricKey)
	require.Len(t, model.lastOpts.Tools, 1)
	assert.Equal(t, toolName, model.lastOpts.Tools[0].Function.Name)
}

func TestOpenAI_ContentFallback(t *testing.T) {
	model := &fakeModel{responses: []*llms.ContentResponse{{Choices: []*llms.ContentChoice{{
		Content: ` {"metricKey":"deal_won","confidence":0.9,"reasoning":"stage closedwon"}`,
	}}}}}
	o := newOpenAIWithModel(model, config.LLMConfig{}, logging.NewNop())

	ext, err := o.Extract(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, outcome.DealWon, ext.MetricKey)
}

func TestOpenAI_RetriesThenSucceeds(t *testing.T) {
	model := &fakeModel{
		errs: []error{errors.New("connection reset")},
		responses: []*llms.ContentResponse{
			nil,
			toolCallResponse(`{"metricKey":"lead_created","confidence":0.65,"reasoning":"r"}`),
		},
	}
	o := newOpenAIWithModel(model, config.LLMConfig{MaxRetries: 2}, logging.NewNop())
	o.backoff = time.Millisecond

	ext, err := o.Extract(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, outcome.LeadCreated, ext.MetricKey)
	assert.Equal(t, 2, model.calls)
}

func TestOpenAI_NoToolCall(t *testing.T) {
	model := &fakeModel{responses: []*llms.ContentResponse{{Choices: []*llms.ContentChoice{{Content: "no idea"}}}}}
	o := newOpenAIWithModel(model, config.LLMConfig{}, logging.NewNop())

	_, err := o.Extract(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrNoToolCall)
}

func TestWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := withRetry(ctx, newLimiter(0), 3, 50*time.Millisecond, func() error {
		calls++
		cancel()
		return &retryableError{err: errors.New("temporary")}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestNewLimiter(t *testing.T) {
	assert.True(t, newLimiter(0).Allow())
	lim := newLimiter(60)
	assert.InDelta(t, 1.0, float64(lim.Limit()), 1e-9)
	assert.Equal(t, defaultRateBurst, lim.Burst())
}
