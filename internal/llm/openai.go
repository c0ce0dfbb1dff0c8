package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/outcomed/internal/config"
	"github.com/fyrsmithlabs/outcomed/internal/logging"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIExtractor uses function calling on any OpenAI-compatible chat API.
type OpenAIExtractor struct {
	model      llms.Model
	timeout    time.Duration
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	logger     *logging.Logger
}

// NewOpenAI creates an OpenAI extractor through langchaingo.
func NewOpenAI(cfg config.LLMConfig, logger *logging.Logger) (*OpenAIExtractor, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("openai API key required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	opts := []openai.Option{
		openai.WithModel(model),
		openai.WithToken(cfg.APIKey.Value()),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}
	return newOpenAIWithModel(client, cfg, logger), nil
}

func newOpenAIWithModel(model llms.Model, cfg config.LLMConfig, logger *logging.Logger) *OpenAIExtractor {
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	return &OpenAIExtractor{
		model:      model,
		timeout:    cfg.Timeout.Duration(),
		limiter:    newLimiter(cfg.RatePerMin),
		maxRetries: maxRetries,
		backoff:    defaultBaseBackoff,
		logger:     logger.Named("openai"),
	}
}

// Extract asks the model to call record_outcome. A plain JSON text answer
// is accepted as a fallback for servers that ignore tools.
func (o *OpenAIExtractor) Extract(ctx context.Context, req *Request) (*Extraction, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userContent(req)),
	}
	tools := []llms.Tool{{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        toolName,
			Description: toolDescription,
			Parameters:  toolSchema(),
		},
	}}

	var ext *Extraction
	start := time.Now()
	err := withRetry(ctx, o.limiter, o.maxRetries, o.backoff, func() error {
		callCtx := ctx
		if o.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, o.timeout)
			defer cancel()
		}
		resp, err := o.model.GenerateContent(callCtx, messages,
			llms.WithTools(tools),
			llms.WithTemperature(0),
			llms.WithMaxTokens(defaultMaxTokens),
		)
		if err != nil {
			// langchaingo does not expose status codes; treat transport
			// failures as transient and let the retry budget bound them.
			return &retryableError{err: err}
		}
		ext, err = o.parse(ctx, resp)
		return err
	})
	observeRequest(o.Provider(), start, err)
	if err != nil {
		return nil, err
	}
	return ext, nil
}

func (o *OpenAIExtractor) parse(ctx context.Context, resp *llms.ContentResponse) (*Extraction, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, ErrNoToolCall
	}
	choice := resp.Choices[0]
	for _, call := range choice.ToolCalls {
		if call.FunctionCall != nil && call.FunctionCall.Name == toolName {
			return parseExtraction([]byte(call.FunctionCall.Arguments))
		}
	}
	if text := strings.TrimSpace(choice.Content); strings.HasPrefix(text, "{") {
		o.logger.Debug(ctx, "model answered without tool call, parsing content", zap.Int("length", len(text)))
		return parseExtraction([]byte(text))
	}
	return nil, ErrNoToolCall
}

// Provider returns "openai".
func (o *OpenAIExtractor) Provider() string { return "openai" }
