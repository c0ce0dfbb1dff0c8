package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fyrsmithlabs/outcomed/internal/config"
)

// Service talks to a Text Embeddings Inference server.
type Service struct {
	baseURL  string
	model    string
	apiKey   config.Secret
	maxChars int
	client   *http.Client
	metrics  *Metrics
}

// NewService creates a TEI client. cfg.Timeout bounds every request.
func NewService(cfg config.EmbeddingsConfig, metrics *Metrics) (*Service, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if metrics == nil {
		metrics = NewMetrics("tei", nil)
	}
	return &Service{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		maxChars: cfg.MaxInputChars,
		client:   &http.Client{Timeout: cfg.Timeout.Duration()},
		metrics:  metrics,
	}, nil
}

// teiRequest is the request body for TEI embed endpoint.
type teiRequest struct {
	Inputs   []string `json:"inputs"`
	Truncate bool     `json:"truncate"`
}

// EmbedDocuments embeds anchor descriptions.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	return s.record(ctx, KindAnchor, texts)
}

// EmbedQuery embeds one execution description.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vectors, err := s.record(ctx, KindExecution, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (s *Service) record(ctx context.Context, kind string, texts []string) ([][]float32, error) {
	start := time.Now()
	inputs, cut := prepare(texts, s.maxChars)

	vectors, err := s.embed(ctx, inputs)
	if err == nil && len(vectors) != len(texts) {
		err = fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(texts))
	}
	s.metrics.RecordGeneration(ctx, s.model, kind, time.Since(start), len(texts), cut, err)
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

func (s *Service) embed(ctx context.Context, inputs []string) ([][]float32, error) {
	body, err := json.Marshal(teiRequest{Inputs: inputs, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey.IsSet() {
		req.Header.Set("Authorization", "Bearer "+s.apiKey.Value())
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrEmbeddingFailed, err)
	}
	return vectors, nil
}
