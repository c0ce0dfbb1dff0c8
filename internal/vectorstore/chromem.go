package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outcomed/internal/config"
	"github.com/fyrsmithlabs/outcomed/internal/logging"
	"github.com/fyrsmithlabs/outcomed/internal/outcome"
)

var chromemTracer = otel.Tracer("github.com/fyrsmithlabs/outcomed/internal/vectorstore/chromem")

// errNoEmbedder is returned if chromem ever tries to embed on its own.
// Every document and query carries its vector.
var errNoEmbedder = errors.New("chromem: vectors must be supplied by the caller")

// Metadata keys stored with each chromem document.
const (
	metaTenant     = "tenant_id"
	metaMetricKey  = "metric_key"
	metaLanguage   = "language"
	metaUsageCount = "usage_count"
	metaAvgSim     = "average_similarity"
)

// ChromemIndex is an embedded anchor index. With a path it persists to
// disk (gob files, optionally gzip-compressed).
type ChromemIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	logger     *logging.Logger
}

// NewChromemIndex opens or creates the collection.
func NewChromemIndex(cfg config.ChromemConfig, collection string, logger *logging.Logger) (*ChromemIndex, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if collection == "" {
		return nil, fmt.Errorf("%w: collection name required", ErrInvalidConfig)
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandChromemPath(cfg.Path)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("creating chromem directory: %w", err)
		}
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem db at %s: %w", path, err)
		}
	}

	col, err := db.GetOrCreateCollection(collection, nil, func(context.Context, string) ([]float32, error) {
		return nil, errNoEmbedder
	})
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", collection, err)
	}

	return &ChromemIndex{db: db, collection: col, logger: logger.Named("chromem")}, nil
}

// expandChromemPath expands a leading ~ to the home directory.
func expandChromemPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// Search queries the tenant's anchors and the global anchors separately
// (chromem filters are AND-only) and merges them.
func (c *ChromemIndex) Search(ctx context.Context, tenantID string, vec []float32, floor float64, limit int) ([]outcome.AnchorMatch, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("limit", limit))

	start := time.Now()
	matches, err := c.search(ctx, tenantID, vec, floor, limit)
	observeSearch(c.Provider(), start, len(matches), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("results_count", len(matches)))
	return matches, nil
}

func (c *ChromemIndex) search(ctx context.Context, tenantID string, vec []float32, floor float64, limit int) ([]outcome.AnchorMatch, error) {
	if err := validateQuery(vec, limit); err != nil {
		return nil, err
	}

	// chromem requires nResults <= document count.
	n := limit
	if count := c.collection.Count(); count == 0 {
		return nil, nil
	} else if n > count {
		n = count
	}

	scopes := []string{globalTenant}
	if tenantID != "" {
		scopes = append([]string{tenantID}, scopes...)
	}

	var out []outcome.AnchorMatch
	for _, scope := range scopes {
		results, err := c.collection.QueryEmbedding(ctx, vec, n, map[string]string{metaTenant: scope}, nil)
		if err != nil {
			return nil, fmt.Errorf("querying chromem: %w", err)
		}
		for _, r := range results {
			if float64(r.Similarity) < floor {
				continue
			}
			out = append(out, matchFromChromem(r))
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matchFromChromem(r chromem.Result) outcome.AnchorMatch {
	usage, _ := strconv.ParseInt(r.Metadata[metaUsageCount], 10, 64)
	avg, _ := strconv.ParseFloat(r.Metadata[metaAvgSim], 64)
	return outcome.AnchorMatch{
		ID:                r.ID,
		MetricKey:         outcome.MetricKey(r.Metadata[metaMetricKey]),
		Description:       r.Content,
		Similarity:        float64(r.Similarity),
		UsageCount:        usage,
		AverageSimilarity: avg,
	}
}

// Upsert adds or replaces anchors by ID.
func (c *ChromemIndex) Upsert(ctx context.Context, anchors []outcome.Anchor) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("anchor_count", len(anchors)))

	for _, a := range anchors {
		if a.ID == "" || len(a.Vector) == 0 {
			return fmt.Errorf("anchor %q: id and vector are required", a.Description)
		}
		doc := chromem.Document{
			ID:        a.ID,
			Content:   a.Description,
			Embedding: a.Vector,
			Metadata: map[string]string{
				metaTenant:     tenantKey(a.TenantID),
				metaMetricKey:  string(a.MetricKey),
				metaLanguage:   a.Language,
				metaUsageCount: strconv.FormatInt(a.UsageCount, 10),
				metaAvgSim:     strconv.FormatFloat(a.AverageSimilarity, 'f', -1, 64),
			},
		}
		if err := c.collection.AddDocument(ctx, doc); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("adding anchor %s: %w", a.ID, err)
		}
	}

	c.logger.Debug(ctx, "upserted anchors into chromem", zap.Int("count", len(anchors)))
	return nil
}

// Count returns the number of stored anchors.
func (c *ChromemIndex) Count() int {
	return c.collection.Count()
}

// Provider returns "chromem".
func (c *ChromemIndex) Provider() string { return "chromem" }

// Close is a no-op; persistent chromem writes through on every add.
func (c *ChromemIndex) Close() error { return nil }
