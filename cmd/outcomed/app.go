package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outcomed/internal/classifier"
	"github.com/fyrsmithlabs/outcomed/internal/config"
	"github.com/fyrsmithlabs/outcomed/internal/embeddings"
	"github.com/fyrsmithlabs/outcomed/internal/guard"
	"github.com/fyrsmithlabs/outcomed/internal/llm"
	"github.com/fyrsmithlabs/outcomed/internal/logging"
	"github.com/fyrsmithlabs/outcomed/internal/materializer"
	"github.com/fyrsmithlabs/outcomed/internal/notifier"
	"github.com/fyrsmithlabs/outcomed/internal/pipeline"
	"github.com/fyrsmithlabs/outcomed/internal/router"
	"github.com/fyrsmithlabs/outcomed/internal/secrets"
	"github.com/fyrsmithlabs/outcomed/internal/store"
	"github.com/fyrsmithlabs/outcomed/internal/upstream"
	"github.com/fyrsmithlabs/outcomed/internal/vectorstore"
)

// app holds every wired component. It is shared by serve and sync.
type app struct {
	store      *store.Store
	embedder   embeddings.Provider
	index      vectorstore.Index
	dispatcher notifier.Dispatcher
	scrubber   secrets.Scrubber
	classifier *classifier.Engine
	router     *router.Router
	notifier   *notifier.Notifier
	runner     *pipeline.Runner
	logger     *logging.Logger
}

// newApp connects to the infrastructure and builds the pipeline.
//
// This function:
//  1. Opens Postgres (migrating when enabled)
//  2. Creates the embedding provider and the anchor index
//  3. Creates the LLM extractor and the secret scrubber
//  4. Builds the classifier, router, guard, materializer and notifier
//  5. Builds the batch runner over the upstream client
func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*app, error) {
	a := &app{logger: logger}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	var err error
	a.store, err = store.Open(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	a.embedder, err = embeddings.NewProvider(cfg.Embeddings, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}
	if dim := a.embedder.Dimension(); dim != cfg.Postgres.VectorLength {
		return nil, fmt.Errorf("embedding dimension %d does not match postgres.vector_length %d", dim, cfg.Postgres.VectorLength)
	}

	a.index, err = vectorstore.New(ctx, cfg.VectorStore, a.store, a.embedder.Dimension(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector index: %w", err)
	}
	if _, err = vectorstore.Mirror(ctx, a.store, a.index, logger); err != nil {
		return nil, fmt.Errorf("failed to mirror anchors: %w", err)
	}

	extractor, err := llm.New(cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm extractor: %w", err)
	}

	a.scrubber, err = secrets.New(secrets.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create scrubber: %w", err)
	}

	a.dispatcher, err = notifier.NewDispatcher(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	a.classifier = classifier.NewDefault(cfg, classifier.Dependencies{
		Mappings:  a.store,
		Embedder:  a.embedder,
		Index:     a.index,
		Usage:     a.store,
		Extractor: extractor,
		Scrubber:  a.scrubber,
	}, logger)
	a.router = router.New(cfg.Router)
	a.notifier = notifier.New(a.store, a.dispatcher, cfg.Notifier, logger)

	proc := pipeline.NewProcessor(
		guard.New(a.store, a.store, cfg.Guard, logger),
		a.classifier,
		a.router,
		materializer.New(a.store, logger),
		a.notifier,
		cfg.Pipeline.ExecutionTimeout.Duration(),
		logger,
	)
	client := upstream.NewClient(cfg.Upstream, upstream.StaticCredentials{
		BaseURL: cfg.Upstream.BaseURL,
		APIKey:  cfg.Upstream.APIKey,
	}, logger)
	a.runner = pipeline.NewRunner(client, proc, cfg.Pipeline, logger)

	logger.Info(ctx, "components initialized",
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.String("vectorstore", a.index.Provider()),
		zap.String("llm", extractor.Provider()),
		zap.String("dispatcher", cfg.Notifier.Dispatcher),
	)
	ready = true
	return a, nil
}

// Close releases all infrastructure resources.
func (a *app) Close() {
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			a.logger.Warn(context.Background(), "closing vector index", zap.Error(err))
		}
	}
	if a.embedder != nil {
		if err := a.embedder.Close(); err != nil {
			a.logger.Warn(context.Background(), "closing embedder", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
}

// startupTimeout bounds connecting to the infrastructure.
const startupTimeout = 60 * time.Second
