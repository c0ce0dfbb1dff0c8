//go:build cgo

package embeddings

import (
	"context"
	"fmt"
	"sync"
	"time"

	fastembed "github.com/anush008/fastembed-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outcomed/internal/config"
	"github.com/fyrsmithlabs/outcomed/internal/logging"
)

const (
	defaultFastEmbedMaxLength = 512
	defaultFastEmbedBatch     = 32
)

var fastEmbedModels = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-small-zh-v1.5":                 fastembed.BGESmallZH,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

var fastEmbedDimensions = map[fastembed.EmbeddingModel]int{
	fastembed.BGESmallENV15: 384,
	fastembed.BGEBaseENV15:  768,
	fastembed.BGESmallZH:    512,
	fastembed.AllMiniLML6V2: 384,
}

// FastEmbedProvider embeds with a local ONNX model.
//
// Execution descriptions and anchors are short texts of the same kind, so
// both sides are embedded through Embed with the configured prefixes rather
// than fastembed's asymmetric "query: " and "passage: " helpers. Both
// prefixes default to empty, which is how BGE and MiniLM models expect
// symmetric similarity input.
type FastEmbedProvider struct {
	model          *fastembed.FlagEmbedding
	modelName      string
	dimension      int
	batchSize      int
	maxChars       int
	queryPrefix    string
	documentPrefix string
	metrics        *Metrics
	logger         *logging.Logger
	mu             sync.RWMutex
}

// NewFastEmbedProvider loads cfg.Model, downloading it into the cache
// directory on first use.
func NewFastEmbedProvider(cfg config.EmbeddingsConfig, metrics *Metrics, logger *logging.Logger) (*FastEmbedProvider, error) {
	model, ok := fastEmbedModels[cfg.Model]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported fastembed model %q", ErrInvalidConfig, cfg.Model)
	}
	if metrics == nil {
		metrics = NewMetrics("fastembed", nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	maxLength := cfg.MaxLength
	if maxLength == 0 {
		maxLength = defaultFastEmbedMaxLength
	}
	batch := cfg.BatchSize
	if batch == 0 {
		batch = defaultFastEmbedBatch
	}
	cacheDir := fastEmbedCacheDir(cfg.CacheDir)

	showProgress := false
	flagEmbed, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            maxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing fastembed %s in %s: %w", cfg.Model, cacheDir, err)
	}

	logger.Info(context.Background(), "fastembed model loaded",
		zap.String("model", cfg.Model),
		zap.String("cache_dir", cacheDir),
		zap.Int("max_length", maxLength),
	)
	return &FastEmbedProvider{
		model:          flagEmbed,
		modelName:      cfg.Model,
		dimension:      fastEmbedDimensions[model],
		batchSize:      batch,
		maxChars:       cfg.MaxInputChars,
		queryPrefix:    cfg.QueryPrefix,
		documentPrefix: cfg.DocumentPrefix,
		metrics:        metrics,
		logger:         logger,
	}, nil
}

// EmbedDocuments embeds anchor descriptions.
func (p *FastEmbedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	return p.embed(ctx, KindAnchor, p.documentPrefix, texts)
}

// EmbedQuery embeds one execution description.
func (p *FastEmbedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vectors, err := p.embed(ctx, KindExecution, p.queryPrefix, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *FastEmbedProvider) embed(ctx context.Context, kind, prefix string, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	inputs, cut := prepare(texts, p.maxChars)

	p.mu.RLock()
	vectors, err := p.model.Embed(withPrefix(prefix, inputs), p.batchSize)
	p.mu.RUnlock()

	if err == nil && len(vectors) != len(texts) {
		err = fmt.Errorf("got %d vectors for %d texts", len(vectors), len(texts))
	}
	p.metrics.RecordGeneration(ctx, p.modelName, kind, time.Since(start), len(texts), cut, err)
	if err != nil {
		p.logger.Warn(ctx, "fastembed embedding failed",
			zap.String("kind", kind),
			zap.Int("texts", len(texts)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	p.logger.Debug(ctx, "fastembed embedded",
		zap.String("kind", kind),
		zap.Int("texts", len(texts)),
		zap.Int("truncated", cut),
		zap.Duration("elapsed", time.Since(start)),
	)
	return vectors, nil
}

// Dimension returns the vector size of the loaded model.
func (p *FastEmbedProvider) Dimension() int {
	return p.dimension
}

// Close releases the ONNX session.
func (p *FastEmbedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.model != nil {
		err := p.model.Destroy()
		p.model = nil
		return err
	}
	return nil
}
