package storage

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"localmind/internal/config"
	apperrors "localmind/internal/errors"
	"localmind/internal/logging"
)

// QdrantStore implements VectorStore against a remote Qdrant server.
type QdrantStore struct {
	client *qdrant.Client
	config *config.QdrantConfig
	logger logging.Logger
}

// NewQdrantStore connects to the configured Qdrant endpoint. The
// connection is verified with a ListCollections probe so callers can
// distinguish connection-class failures (fallback) from fatal ones.
func NewQdrantStore(ctx context.Context, cfg *config.QdrantConfig, logger logging.Logger) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:                   cfg.Host,
		Port:                   cfg.Port,
		APIKey:                 cfg.APIKey,
		UseTLS:                 cfg.UseTLS,
		SkipCompatibilityCheck: true,
	})
	if err != nil {
		return nil, apperrors.StorageUnavailable("failed to create qdrant client", err)
	}

	qs := &QdrantStore{
		client: client,
		config: cfg,
		logger: logger.WithComponent("qdrant"),
	}

	if _, err := client.ListCollections(ctx); err != nil {
		return nil, apperrors.StorageUnavailable(
			fmt.Sprintf("qdrant probe failed at %s:%d", cfg.Host, cfg.Port), err)
	}

	qs.logger.Info("Connected to Qdrant server", "host", cfg.Host, "port", cfg.Port)
	return qs, nil
}

// SetupCollection creates a single-vector cosine collection if absent.
func (qs *QdrantStore) SetupCollection(ctx context.Context, name string, dim int) error {
	collections, err := qs.client.ListCollections(ctx)
	if err != nil {
		return apperrors.StorageUnavailable("failed to list collections", err)
	}
	for _, existing := range collections {
		if existing == name {
			return nil
		}
	}

	err = qs.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim), //nolint:gosec // dim is validated positive
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return apperrors.StorageUnavailable(fmt.Sprintf("failed to create collection %s", name), err)
	}

	qs.logger.Info("Created collection", "collection", name, "dim", dim)
	return nil
}

// AddPoints upserts points into the collection.
func (qs *QdrantStore) AddPoints(ctx context.Context, name string, points []Point) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}

	qdrantPoints := make([]*qdrant.PointStruct, 0, len(points))
	for i := range points {
		qdrantPoints = append(qdrantPoints, &qdrant.PointStruct{
			Id:      &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: points[i].ID}},
			Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: points[i].Vector}}},
			Payload: payloadToValues(points[i].Payload),
		})
	}

	_, err := qs.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Points:         qdrantPoints,
	})
	if err != nil {
		return 0, apperrors.StorageUnavailable(fmt.Sprintf("failed to upsert into %s", name), err)
	}

	qs.logger.Debug("Upserted points", "collection", name, "count", len(points))
	return len(points), nil
}

// QueryPoints searches the collection by vector.
func (qs *QdrantStore) QueryPoints(ctx context.Context, name string, vector []float32, filter Filter, limit int) ([]Hit, error) {
	if limit < 0 {
		limit = 0
	}

	results, err := qs.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(vector...),
		Filter:         buildFilter(filter),
		Limit:          qdrant.PtrOf(uint64(limit)), //nolint:gosec // bounds-checked above
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, apperrors.StorageUnavailable(fmt.Sprintf("search failed in %s", name), err)
	}

	hits := make([]Hit, 0, len(results))
	for _, point := range results {
		hits = append(hits, Hit{
			ID:      pointIDToString(point.GetId()),
			Score:   point.GetScore(),
			Payload: valuesToPayload(point.GetPayload()),
		})
	}
	return hits, nil
}

// Count returns the number of points matching the filter.
func (qs *QdrantStore) Count(ctx context.Context, name string, filter Filter) (uint64, error) {
	count, err := qs.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: name,
		Filter:         buildFilter(filter),
	})
	if err != nil {
		return 0, apperrors.StorageUnavailable(fmt.Sprintf("count failed in %s", name), err)
	}
	return count, nil
}

// DeleteByFilter removes all points whose payload matches the filter.
func (qs *QdrantStore) DeleteByFilter(ctx context.Context, name string, filter Filter) error {
	_, err := qs.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: buildFilter(filter)},
		},
	})
	if err != nil {
		return apperrors.StorageUnavailable(fmt.Sprintf("delete-by-filter failed in %s", name), err)
	}

	qs.logger.Debug("Deleted points by filter", "collection", name, "filter", filter)
	return nil
}

// DeleteCollection drops the collection.
func (qs *QdrantStore) DeleteCollection(ctx context.Context, name string) error {
	if err := qs.client.DeleteCollection(ctx, name); err != nil {
		return apperrors.StorageUnavailable(fmt.Sprintf("failed to delete collection %s", name), err)
	}
	qs.logger.Info("Deleted collection", "collection", name)
	return nil
}

// ListCollections names all collections.
func (qs *QdrantStore) ListCollections(ctx context.Context) ([]string, error) {
	collections, err := qs.client.ListCollections(ctx)
	if err != nil {
		return nil, apperrors.StorageUnavailable("failed to list collections", err)
	}
	return collections, nil
}

// HealthCheck verifies the server is reachable.
func (qs *QdrantStore) HealthCheck(ctx context.Context) error {
	if _, err := qs.client.ListCollections(ctx); err != nil {
		return apperrors.StorageUnavailable("qdrant health check failed", err)
	}
	return nil
}

// Close releases the underlying gRPC connection.
func (qs *QdrantStore) Close() error {
	return qs.client.Close()
}

// buildFilter converts an equality filter to a Qdrant must-match filter.
func buildFilter(filter Filter) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}

	conditions := make([]*qdrant.Condition, 0, len(filter))
	for key, value := range filter {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: key,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: value},
					},
				},
			},
		})
	}
	return &qdrant.Filter{Must: conditions}
}

// payloadToValues converts a payload map to Qdrant protobuf values.
// Unknown types are stringified rather than dropped.
func payloadToValues(payload map[string]interface{}) map[string]*qdrant.Value {
	values := make(map[string]*qdrant.Value, len(payload))
	for key, raw := range payload {
		switch v := raw.(type) {
		case string:
			values[key] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
		case int:
			values[key] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(v)}}
		case int64:
			values[key] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: v}}
		case float64:
			values[key] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: v}}
		case bool:
			values[key] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: v}}
		default:
			values[key] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", v)}}
		}
	}
	return values
}

// valuesToPayload converts Qdrant protobuf values back to a payload map.
func valuesToPayload(values map[string]*qdrant.Value) map[string]interface{} {
	payload := make(map[string]interface{}, len(values))
	for key, value := range values {
		switch kind := value.GetKind().(type) {
		case *qdrant.Value_StringValue:
			payload[key] = kind.StringValue
		case *qdrant.Value_IntegerValue:
			payload[key] = kind.IntegerValue
		case *qdrant.Value_DoubleValue:
			payload[key] = kind.DoubleValue
		case *qdrant.Value_BoolValue:
			payload[key] = kind.BoolValue
		}
	}
	return payload
}

func pointIDToString(id *qdrant.PointId) string {
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return fmt.Sprintf("%d", id.GetNum())
}
