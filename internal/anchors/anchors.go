// Package anchors loads and seeds outcome anchors, the labeled descriptions
// the vector layer compares executions against.
package anchors

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/outcomed/internal/embeddings"
	"github.com/fyrsmithlabs/outcomed/internal/logging"
	"github.com/fyrsmithlabs/outcomed/internal/outcome"
)

//go:embed default.yaml
var defaultAnchors []byte

const batchSize = 32

// AnchorsSeeded counts anchors inserted by seeding.
// Labels: metric_key
var AnchorsSeeded = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "outcomed",
		Subsystem: "anchors",
		Name:      "seeded_total",
		Help:      "Total outcome anchors inserted by seeding",
	},
	[]string{"metric_key"},
)

// Entry is one anchor before embedding. An empty TenantID seeds a global
// anchor.
type Entry struct {
	Description string `yaml:"description" validate:"required,max=1000"`
	MetricKey   string `yaml:"metric_key" validate:"required,metrickey"`
	Language    string `yaml:"language" validate:"omitempty,bcp47_language_tag"`
	TenantID    string `yaml:"tenant_id"`
}

type file struct {
	Anchors []Entry `yaml:"anchors" validate:"required,min=1,dive"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("metrickey", func(fl validator.FieldLevel) bool {
		k, err := outcome.ParseMetricKey(fl.Field().String())
		return err == nil && k != outcome.Unknown
	})
	return v
}

// Default returns the built-in multilingual anchor set.
func Default() ([]Entry, error) {
	return Parse(defaultAnchors)
}

// Load reads anchors from a YAML file.
func Load(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading anchors file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates an anchors document.
func Parse(data []byte) ([]Entry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing anchors: %w", err)
	}
	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return nil, fmt.Errorf("invalid anchors: %s failed %q", fe.Namespace(), fe.Tag())
		}
		return nil, fmt.Errorf("invalid anchors: %w", err)
	}
	return f.Anchors, nil
}

// Store persists anchors.
type Store interface {
	InsertAnchor(ctx context.Context, a *outcome.Anchor) (bool, error)
}

// Report counts seeding results.
type Report struct {
	Inserted int `json:"inserted"`
	Existing int `json:"existing"`
}

// Seeder embeds entries and writes them to the store.
type Seeder struct {
	embedder embeddings.Embedder
	store    Store
	logger   *logging.Logger
}

// NewSeeder creates a seeder.
func NewSeeder(embedder embeddings.Embedder, s Store, logger *logging.Logger) *Seeder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Seeder{embedder: embedder, store: s, logger: logger.Named("anchors")}
}

// Seed embeds entries in batches and inserts them. Entries already present
// are counted as existing, so seeding is repeatable.
func (s *Seeder) Seed(ctx context.Context, entries []Entry) (Report, error) {
	var rep Report
	for start := 0; start < len(entries); start += batchSize {
		end := min(start+batchSize, len(entries))
		batch := entries[start:end]

		texts := make([]string, len(batch))
		for i, e := range batch {
			texts[i] = e.Description
		}
		vecs, err := s.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return rep, fmt.Errorf("embedding anchors %d-%d: %w", start, end, err)
		}
		if len(vecs) != len(batch) {
			return rep, fmt.Errorf("embedder returned %d vectors for %d anchors", len(vecs), len(batch))
		}

		for i, e := range batch {
			key, _ := outcome.ParseMetricKey(e.MetricKey)
			a := &outcome.Anchor{
				TenantID:    e.TenantID,
				Description: e.Description,
				Vector:      vecs[i],
				MetricKey:   key,
				Language:    e.Language,
			}
			inserted, err := s.store.InsertAnchor(ctx, a)
			if err != nil {
				return rep, fmt.Errorf("inserting anchor %q: %w", e.Description, err)
			}
			if inserted {
				rep.Inserted++
				AnchorsSeeded.WithLabelValues(string(key)).Inc()
			} else {
				rep.Existing++
			}
		}
	}

	s.logger.Info(ctx, "anchors seeded",
		zap.Int("inserted", rep.Inserted),
		zap.Int("existing", rep.Existing),
	)
	return rep, nil
}
