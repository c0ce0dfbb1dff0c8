package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/fyrsmithlabs/outcomed/internal/config"
	"github.com/fyrsmithlabs/outcomed/internal/logging"
	"github.com/fyrsmithlabs/outcomed/internal/outcome"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/outcomed/internal/vectorstore/qdrant")

// Payload keys stored with each qdrant point.
const (
	payloadDescription = "description"
)

// maxMessageSize bounds gRPC messages in both directions.
const maxMessageSize = 16 * 1024 * 1024

// QdrantIndex mirrors anchors into a qdrant collection over gRPC.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dimension  int
	logger     *logging.Logger
}

// NewQdrantIndex connects, health-checks, and creates the collection with
// cosine distance when missing.
func NewQdrantIndex(ctx context.Context, cfg config.QdrantConfig, collection string, dimension int, logger *logging.Logger) (*QdrantIndex, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, fmt.Errorf("%w: qdrant host and port required", ErrInvalidConfig)
	}
	if collection == "" || dimension <= 0 {
		return nil, fmt.Errorf("%w: collection and dimension required", ErrInvalidConfig)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey.Value(),
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(maxMessageSize),
				grpc.MaxCallSendMsgSize(maxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	idx := &QdrantIndex{
		client:     client,
		collection: collection,
		dimension:  dimension,
		logger:     logger.Named("qdrant"),
	}
	if !cfg.UseTLS {
		idx.logger.Warn(ctx, "qdrant gRPC using plaintext (TLS disabled)")
	}

	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}
	if err := idx.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return idx, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", q.collection, err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", q.collection, err)
	}
	q.logger.Info(ctx, "created qdrant collection",
		zap.String("collection", q.collection),
		zap.Int("dimension", q.dimension),
	)
	return nil
}

// Search runs a filtered cosine query with the floor as score threshold.
func (q *QdrantIndex) Search(ctx context.Context, tenantID string, vec []float32, floor float64, limit int) ([]outcome.AnchorMatch, error) {
	ctx, span := tracer.Start(ctx, "QdrantIndex.Search")
	defer span.End()
	span.SetAttributes(attribute.String("collection", q.collection), attribute.Int("limit", limit))

	start := time.Now()
	matches, err := q.search(ctx, tenantID, vec, floor, limit)
	observeSearch(q.Provider(), start, len(matches), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return matches, nil
}

func (q *QdrantIndex) search(ctx context.Context, tenantID string, vec []float32, floor float64, limit int) ([]outcome.AnchorMatch, error) {
	if err := validateQuery(vec, limit); err != nil {
		return nil, err
	}
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vec...),
		Filter:         tenantFilter(tenantID),
		Limit:          qdrant.PtrOf(uint64(limit)),
		ScoreThreshold: qdrant.PtrOf(float32(floor)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("querying qdrant: %w", err)
	}

	out := make([]outcome.AnchorMatch, 0, len(points))
	for _, p := range points {
		out = append(out, matchFromPoint(p))
	}
	return out, nil
}

// tenantFilter matches the tenant's anchors or the global ones.
func tenantFilter(tenantID string) *qdrant.Filter {
	scopes := []string{globalTenant}
	if tenantID != "" {
		scopes = append(scopes, tenantID)
	}
	should := make([]*qdrant.Condition, 0, len(scopes))
	for _, scope := range scopes {
		should = append(should, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: metaTenant,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: scope},
					},
				},
			},
		})
	}
	return &qdrant.Filter{Should: should}
}

func matchFromPoint(p *qdrant.ScoredPoint) outcome.AnchorMatch {
	payload := p.GetPayload()
	return outcome.AnchorMatch{
		ID:                p.GetId().GetUuid(),
		MetricKey:         outcome.MetricKey(payload[metaMetricKey].GetStringValue()),
		Description:       payload[payloadDescription].GetStringValue(),
		Similarity:        float64(p.GetScore()),
		UsageCount:        payload[metaUsageCount].GetIntegerValue(),
		AverageSimilarity: payload[metaAvgSim].GetDoubleValue(),
	}
}

func anchorPayload(a outcome.Anchor) map[string]*qdrant.Value {
	return map[string]*qdrant.Value{
		metaTenant:         {Kind: &qdrant.Value_StringValue{StringValue: tenantKey(a.TenantID)}},
		metaMetricKey:      {Kind: &qdrant.Value_StringValue{StringValue: string(a.MetricKey)}},
		metaLanguage:       {Kind: &qdrant.Value_StringValue{StringValue: a.Language}},
		payloadDescription: {Kind: &qdrant.Value_StringValue{StringValue: a.Description}},
		metaUsageCount:     {Kind: &qdrant.Value_IntegerValue{IntegerValue: a.UsageCount}},
		metaAvgSim:         {Kind: &qdrant.Value_DoubleValue{DoubleValue: a.AverageSimilarity}},
	}
}

// Upsert writes anchors as points keyed by their UUID.
func (q *QdrantIndex) Upsert(ctx context.Context, anchors []outcome.Anchor) error {
	ctx, span := tracer.Start(ctx, "QdrantIndex.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("anchor_count", len(anchors)))

	if len(anchors) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(anchors))
	for _, a := range anchors {
		if len(a.Vector) != q.dimension {
			return fmt.Errorf("anchor %s: vector length %d, collection expects %d", a.ID, len(a.Vector), q.dimension)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(a.ID),
			Vectors: qdrant.NewVectors(a.Vector...),
			Payload: anchorPayload(a),
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting anchors: %w", err)
	}
	return nil
}

// Provider returns "qdrant".
func (q *QdrantIndex) Provider() string { return "qdrant" }

// Close closes the gRPC connection.
func (q *QdrantIndex) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}
