package vectorstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outcomed/internal/config"
	"github.com/fyrsmithlabs/outcomed/internal/logging"
)

// New creates the index named by cfg.Provider:
//   - "pgvector" (default): queries the anchor table in Postgres
//   - "chromem": embedded index, in memory or persisted under cfg.Chromem.Path
//   - "qdrant": remote index over gRPC
//
// External indexes start empty; call Mirror to load them.
func New(ctx context.Context, cfg config.VectorStoreConfig, searcher AnchorSearcher, dimension int, logger *logging.Logger) (Index, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	switch cfg.Provider {
	case "pgvector", "":
		if searcher == nil {
			return nil, fmt.Errorf("%w: pgvector index needs the store", ErrInvalidConfig)
		}
		return NewPGIndex(searcher), nil
	case "chromem":
		return NewChromemIndex(cfg.Chromem, cfg.Collection, logger)
	case "qdrant":
		return NewQdrantIndex(ctx, cfg.Qdrant, cfg.Collection, dimension, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// Mirror copies every anchor from src into idx. It is a no-op for the
// pgvector index.
func Mirror(ctx context.Context, src AnchorSource, idx Index, logger *logging.Logger) (int, error) {
	if _, ok := idx.(*PGIndex); ok {
		return 0, nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	anchors, err := src.ListAnchors(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("listing anchors: %w", err)
	}
	if err := idx.Upsert(ctx, anchors); err != nil {
		return 0, err
	}

	AnchorsMirrored.WithLabelValues(idx.Provider()).Add(float64(len(anchors)))
	logger.Info(ctx, "mirrored anchors",
		zap.String("provider", idx.Provider()),
		zap.Int("count", len(anchors)),
	)
	return len(anchors), nil
}
