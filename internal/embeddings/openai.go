package embeddings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fyrsmithlabs/outcomed/internal/config"
)

// OpenAIProvider embeds through any OpenAI-compatible /embeddings endpoint.
type OpenAIProvider struct {
	embedder  embeddings.Embedder
	model     string
	dimension int
	maxChars  int
	timeout   time.Duration
	metrics   *Metrics
}

// NewOpenAIProvider builds a langchaingo embedder for cfg.
func NewOpenAIProvider(cfg config.EmbeddingsConfig, metrics *Metrics) (*OpenAIProvider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if metrics == nil {
		metrics = NewMetrics("openai", nil)
	}

	// langchaingo refuses an empty token even for keyless local servers.
	token := cfg.APIKey.Value()
	if token == "" {
		token = "placeholder"
	}
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(token),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &OpenAIProvider{
		embedder:  embedder,
		model:     cfg.Model,
		dimension: detectDimensionFromModel(cfg.Model),
		maxChars:  cfg.MaxInputChars,
		timeout:   cfg.Timeout.Duration(),
		metrics:   metrics,
	}, nil
}

// EmbedDocuments embeds anchor descriptions.
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	start := time.Now()
	inputs, cut := prepare(texts, p.maxChars)
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	vectors, err := p.embedder.EmbedDocuments(ctx, inputs)
	if err == nil && len(vectors) != len(texts) {
		err = fmt.Errorf("got %d vectors for %d texts", len(vectors), len(texts))
	}
	p.metrics.RecordGeneration(ctx, p.model, KindAnchor, time.Since(start), len(texts), cut, err)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vectors, nil
}

// EmbedQuery embeds one execution description.
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}

	start := time.Now()
	inputs, cut := prepare([]string{text}, p.maxChars)
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	vector, err := p.embedder.EmbedQuery(ctx, inputs[0])
	p.metrics.RecordGeneration(ctx, p.model, KindExecution, time.Since(start), 1, cut, err)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vector, nil
}

func (p *OpenAIProvider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

// Dimension returns the embedding dimension for the configured model.
func (p *OpenAIProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op; the client holds no long-lived resources.
func (p *OpenAIProvider) Close() error {
	return nil
}
