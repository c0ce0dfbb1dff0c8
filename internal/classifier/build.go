package classifier

import (
	"github.com/fyrsmithlabs/outcomed/internal/config"
	"github.com/fyrsmithlabs/outcomed/internal/embeddings"
	"github.com/fyrsmithlabs/outcomed/internal/llm"
	"github.com/fyrsmithlabs/outcomed/internal/logging"
	"github.com/fyrsmithlabs/outcomed/internal/secrets"
	"github.com/fyrsmithlabs/outcomed/internal/vectorstore"
)

// Dependencies are the collaborators of the standard layer stack. A nil
// Mappings drops the cache layer. A nil Embedder or Index drops both vector
// layers. A nil Extractor drops the AI layer.
type Dependencies struct {
	Mappings  MappingLookup
	Embedder  embeddings.Embedder
	Index     vectorstore.Index
	Usage     UsageRecorder
	Extractor llm.Extractor
	Scrubber  secrets.Scrubber
}

// NewDefault builds the engine with the standard layer order:
// cache, deterministic, vector, heuristic, held vector, AI.
func NewDefault(cfg *config.Config, deps Dependencies, logger *logging.Logger) *Engine {
	c := cfg.Classifier
	var layers []Layer
	if deps.Mappings != nil {
		layers = append(layers, NewCacheLayer(deps.Mappings, logger))
	}
	layers = append(layers, NewDeterministicLayer())

	vector := deps.Embedder != nil && deps.Index != nil
	if vector {
		layers = append(layers, NewVectorLayer(deps.Embedder, deps.Index, deps.Usage, VectorOptions{
			Accept:        c.VectorAccept,
			Floor:         c.VectorFloor,
			Limit:         c.VectorLimit,
			EmbedTimeout:  cfg.Embeddings.Timeout.Duration(),
			SearchTimeout: cfg.VectorStore.Timeout.Duration(),
		}, logger))
	}

	layers = append(layers, NewHeuristicLayer(c.HeuristicMinimum))
	if vector {
		layers = append(layers, HeldLayer{})
	}

	if deps.Extractor != nil {
		scrubber := deps.Scrubber
		if !cfg.Secrets.ScrubBeforeLLM {
			scrubber = secrets.NoopScrubber{}
		}
		layers = append(layers, NewAILayer(deps.Extractor, scrubber, AIOptions{
			Minimum:     c.AIMinimum,
			SampleNodes: c.SampleNodes,
			SampleBytes: c.SampleBytes,
			Timeout:     cfg.LLM.Timeout.Duration(),
		}, logger))
	}

	return NewEngine(logger, layers...)
}
