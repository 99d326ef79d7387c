// Package storage provides the shared vector-store driver used by the
// Library and Journal collections. Two implementations exist: a remote
// Qdrant-backed store and an embedded in-process store. The vector store
// is a derived index, never a system of record.
package storage

import "context"

// Point is a single vector plus its payload, addressed by a UUID.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}

// Hit is a scored search result. Scores are cosine similarities in
// descending order.
type Hit struct {
	ID      string
	Score   float32
	Payload map[string]interface{}
}

// Text returns the chunk text carried in the payload, if any.
func (h Hit) Text() string {
	if s, ok := h.Payload["text"].(string); ok {
		return s
	}
	return ""
}

// Filter is an equality predicate over payload fields. All entries must
// match (AND semantics). Used with keys like blob_id and session_id.
type Filter map[string]string

// ScoredText is the (text, score) pair retrievers hand to the context
// assembler, ordered by descending score.
type ScoredText struct {
	Text  string
	Score float32
}

// VectorStore is the driver interface shared by both collections.
type VectorStore interface {
	// SetupCollection creates the collection if absent. Idempotent.
	SetupCollection(ctx context.Context, name string, dim int) error

	// AddPoints upserts points and returns how many were written.
	AddPoints(ctx context.Context, name string, points []Point) (int, error)

	// QueryPoints searches by vector, optionally filtered, returning at
	// most limit hits in descending score order.
	QueryPoints(ctx context.Context, name string, vector []float32, filter Filter, limit int) ([]Hit, error)

	// Count returns the number of points matching the filter (all points
	// when filter is nil).
	Count(ctx context.Context, name string, filter Filter) (uint64, error)

	// DeleteByFilter removes every point whose payload matches the filter.
	DeleteByFilter(ctx context.Context, name string, filter Filter) error

	// DeleteCollection drops the collection and its points.
	DeleteCollection(ctx context.Context, name string) error

	// ListCollections names every existing collection.
	ListCollections(ctx context.Context) ([]string, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
