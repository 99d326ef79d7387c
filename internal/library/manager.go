// Package library implements the document side of the dual index: the
// ingestion worker that turns uploaded blobs into Library vectors, and
// the retriever that serves chat-time context from them.
package library

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"localmind/internal/blob"
	"localmind/internal/chunking"
	"localmind/internal/config"
	"localmind/internal/documents"
	apperrors "localmind/internal/errors"
	"localmind/internal/embeddings"
	"localmind/internal/logging"
	"localmind/internal/queue"
	"localmind/internal/storage"
)

// FunctionProcessDocument is the queue function name for blob ingestion.
const FunctionProcessDocument = "process_document"

// IngestResult summarizes one blob ingestion.
type IngestResult struct {
	BlobID           string `json:"blob_id"`
	ChunksIndexed    int    `json:"chunks_indexed"`
	FileType         string `json:"file_type"`
	OriginalFilename string `json:"original_filename"`
	PageCount        int    `json:"page_count"`
}

// Manager owns the Library collection.
type Manager struct {
	store      storage.VectorStore
	blobs      *blob.Store
	parser     *documents.Parser
	embedder   embeddings.Service
	collection string
	chunkSize  int
	overlap    int
	logOutput  bool
	logger     logging.Logger
}

// NewManager wires the Library pipeline. Setup must be called before
// ingestion or retrieval.
func NewManager(store storage.VectorStore, blobs *blob.Store, parser *documents.Parser, embedder embeddings.Service, cfg *config.Config, logger logging.Logger) *Manager {
	return &Manager{
		store:      store,
		blobs:      blobs,
		parser:     parser,
		embedder:   embedder,
		collection: cfg.Storage.LibraryCollectionName,
		chunkSize:  cfg.Chunking.LibraryChunkSize,
		overlap:    cfg.Chunking.LibraryChunkOverlap,
		logOutput:  cfg.Logging.LogOutput,
		logger:     logger.WithComponent("library"),
	}
}

// Setup creates the Library collection if needed.
func (m *Manager) Setup(ctx context.Context) error {
	return m.store.SetupCollection(ctx, m.collection, m.embedder.GetDimension())
}

// ProcessBlob runs the full ingestion pipeline for one blob: resolve,
// parse, preprocess, chunk, embed, then replace any vectors a previous
// run left for this blob before upserting fresh ones. Re-running with
// the same blob id therefore converges on the same set of chunks.
func (m *Manager) ProcessBlob(ctx context.Context, blobID string) (*IngestResult, error) {
	if blobID == "" {
		return nil, apperrors.Validation("blob_id must not be empty")
	}
	m.logger.Info("Starting document ingestion", "blob_id", blobID)

	path, err := m.blobs.Get(blobID)
	if err != nil {
		return nil, err
	}
	info, err := m.blobs.GetInfo(blobID)
	if err != nil {
		return nil, err
	}

	parsed, err := m.parser.Parse(path, info.OriginalFilename)
	if err != nil {
		return nil, err
	}
	m.logger.Info("Parsed document",
		"blob_id", blobID,
		"file_type", parsed.FileType,
		"chars", len(parsed.Text),
		"pages", parsed.PageCount,
	)

	text := documents.Preprocess(parsed.Text)
	chunks := chunking.Chunk(text, m.chunkSize, m.overlap)
	if len(chunks) == 0 {
		return nil, apperrors.ParseFailure(fmt.Sprintf("document %s contains no indexable text", blobID), nil)
	}
	m.logger.Info("Chunked document", "blob_id", blobID, "chunks", len(chunks))

	vectors, err := m.embedder.GenerateBatchEmbeddings(ctx, chunks)
	if err != nil {
		return nil, err
	}

	// Replace-then-upsert keeps retries exactly-once in effect: vector
	// ids are fresh per run, so stale chunks must go first.
	if err := m.store.DeleteByFilter(ctx, m.collection, storage.Filter{"blob_id": blobID}); err != nil {
		return nil, err
	}

	ingestedAt := time.Now().UTC().Format("2006-01-02T15:04:05.000000Z07:00")
	points := make([]storage.Point, len(chunks))
	for i, chunkText := range chunks {
		points[i] = storage.Point{
			ID:     uuid.NewString(),
			Vector: vectors[i],
			Payload: map[string]interface{}{
				"text":              chunkText,
				"doc_id":            i,
				"chunk_id":          i,
				"blob_id":           blobID,
				"original_filename": info.OriginalFilename,
				"ingested_at":       ingestedAt,
			},
		}
	}

	count, err := m.store.AddPoints(ctx, m.collection, points)
	if err != nil {
		return nil, err
	}

	m.logger.Info("Document ingestion complete", "blob_id", blobID, "chunks_indexed", count)
	return &IngestResult{
		BlobID:           blobID,
		ChunksIndexed:    count,
		FileType:         parsed.FileType,
		OriginalFilename: parsed.OriginalFilename,
		PageCount:        parsed.PageCount,
	}, nil
}

// DeleteBlobChunks removes every Library vector derived from the blob.
// Called by the upload surface after a blob delete.
func (m *Manager) DeleteBlobChunks(ctx context.Context, blobID string) (uint64, error) {
	count, err := m.store.Count(ctx, m.collection, storage.Filter{"blob_id": blobID})
	if err != nil {
		return 0, err
	}
	if err := m.store.DeleteByFilter(ctx, m.collection, storage.Filter{"blob_id": blobID}); err != nil {
		return 0, err
	}
	return count, nil
}

// GetContextForChat embeds the query, searches the Library collection,
// and returns the hits at or above the threshold in descending score
// order.
func (m *Manager) GetContextForChat(ctx context.Context, query string, topK int, threshold float64) ([]storage.ScoredText, error) {
	vector, err := m.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := m.store.QueryPoints(ctx, m.collection, vector, nil, topK)
	if err != nil {
		return nil, err
	}

	results := make([]storage.ScoredText, 0, len(hits))
	for _, hit := range hits {
		if float64(hit.Score) >= threshold {
			results = append(results, storage.ScoredText{Text: hit.Text(), Score: hit.Score})
		}
	}

	if m.logOutput {
		m.logger.Info("Library retrieval",
			"query", truncate(query, 100),
			"top_k", topK,
			"threshold", threshold,
			"retrieved", len(hits),
			"filtered", len(results),
		)
	}
	return results, nil
}

// Stats reports the collection point count.
func (m *Manager) Stats(ctx context.Context) (uint64, error) {
	return m.store.Count(ctx, m.collection, nil)
}

// RegisterHandlers installs the Library queue functions on a worker.
func (m *Manager) RegisterHandlers(w *queue.Worker) {
	w.Register(FunctionProcessDocument, func(ctx context.Context, args map[string]interface{}) error {
		var req struct {
			BlobID string `json:"blob_id"`
		}
		if err := queue.DecodeArgs(args, &req); err != nil {
			return err
		}
		_, err := m.ProcessBlob(ctx, req.BlobID)
		return err
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
