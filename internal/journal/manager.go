// Package journal implements the conversation side of the dual index:
// exporting sessions from the session store, re-chunking and
// re-embedding them into the Journal collection, and retrieving past
// conversation context at chat time.
package journal

import (
	"context"
	"time"

	"github.com/google/uuid"

	"localmind/internal/blob"
	"localmind/internal/chunking"
	"localmind/internal/config"
	apperrors "localmind/internal/errors"
	"localmind/internal/embeddings"
	"localmind/internal/logging"
	"localmind/internal/queue"
	"localmind/internal/sessionstore"
	"localmind/internal/storage"
)

// FunctionIngestSession is the queue function name for session ingestion.
const FunctionIngestSession = "ingest_session"

const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// IngestResult summarizes one session ingestion.
type IngestResult struct {
	SessionID     string `json:"session_id"`
	ChunksCreated int    `json:"chunks_created"`
	BlobPath      string `json:"blob_path"`
	IngestedAt    string `json:"ingested_at"`
	MessageCount  int    `json:"message_count"`
}

// Entry is the legacy retrieval shape for callers that need role and
// timestamp fields. Chunked payloads report role assistant and the
// chunk's ingestion time.
type Entry struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`
}

// IngestionStatus describes where a session stands relative to the
// Journal collection.
type IngestionStatus struct {
	Exists         bool    `json:"exists"`
	SessionID      string  `json:"session_id,omitempty"`
	Ingested       bool    `json:"ingested,omitempty"`
	IngestedAt     *string `json:"ingested_at,omitempty"`
	HasNewMessages bool    `json:"has_new_messages,omitempty"`
	ChunkCount     uint64  `json:"chunk_count,omitempty"`
	HasBlob        bool    `json:"has_blob,omitempty"`
	MessageCount   int     `json:"message_count,omitempty"`
}

// Manager owns the Journal collection.
type Manager struct {
	store      storage.VectorStore
	sessions   *sessionstore.Store
	exports    *blob.JournalStore
	embedder   embeddings.Service
	collection string
	chunkSize  int
	overlap    int
	logOutput  bool
	logger     logging.Logger
}

// NewManager wires the Journal pipeline. Setup must be called before
// ingestion or retrieval.
func NewManager(store storage.VectorStore, sessions *sessionstore.Store, exports *blob.JournalStore, embedder embeddings.Service, cfg *config.Config, logger logging.Logger) *Manager {
	return &Manager{
		store:      store,
		sessions:   sessions,
		exports:    exports,
		embedder:   embedder,
		collection: cfg.Storage.JournalCollectionName,
		chunkSize:  cfg.Chunking.JournalChunkSize,
		overlap:    cfg.Chunking.JournalChunkOverlap,
		logOutput:  cfg.Logging.LogOutput,
		logger:     logger.WithComponent("journal"),
	}
}

// Setup creates the Journal collection if needed.
func (m *Manager) Setup(ctx context.Context) error {
	return m.store.SetupCollection(ctx, m.collection, m.embedder.GetDimension())
}

// IngestSession rebuilds the session's Journal chunks: export the
// snapshot, drop the old chunks, re-chunk and re-embed the canonical
// conversation text, upsert, then stamp the watermark. A failure after
// the delete leaves the watermark untouched, so the session stays stale
// and the next run is a complete retry.
func (m *Manager) IngestSession(ctx context.Context, sessionID string) (*IngestResult, error) {
	if sessionID == "" {
		return nil, apperrors.Validation("session_id must not be empty")
	}
	m.logger.Info("Starting session ingestion", "session_id", sessionID)

	bundle, err := m.sessions.GetSessionWithMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(bundle.Messages) == 0 {
		return nil, apperrors.Validation("session has no messages: " + sessionID)
	}

	exportMessages := make([]blob.JournalMessage, len(bundle.Messages))
	for i, msg := range bundle.Messages {
		exportMessages[i] = blob.JournalMessage{
			ID:        msg.ID,
			Role:      msg.Role,
			Content:   msg.Content,
			Timestamp: msg.Timestamp,
		}
	}

	blobPath, err := m.exports.ExportSession(sessionID, bundle.Name, bundle.CreatedAt, exportMessages)
	if err != nil {
		return nil, err
	}

	if err := m.store.DeleteByFilter(ctx, m.collection, storage.Filter{"session_id": sessionID}); err != nil {
		return nil, err
	}

	text := blob.FormatSessionText(bundle.Name, exportMessages)
	chunks := chunking.ChunkConversation(text, m.chunkSize, m.overlap)
	if len(chunks) == 0 {
		return nil, apperrors.Validation("session produced no chunks: " + sessionID)
	}
	m.logger.Info("Chunked conversation", "session_id", sessionID, "chunks", len(chunks), "messages", len(bundle.Messages))

	vectors, err := m.embedder.GenerateBatchEmbeddings(ctx, chunks)
	if err != nil {
		return nil, err
	}

	ingestedAt := time.Now().UTC().Format(timestampLayout)
	sessionName := ""
	if bundle.Name != nil {
		sessionName = *bundle.Name
	}

	points := make([]storage.Point, len(chunks))
	for i, chunkText := range chunks {
		points[i] = storage.Point{
			ID:     uuid.NewString(),
			Vector: vectors[i],
			Payload: map[string]interface{}{
				"text":          chunkText,
				"session_id":    sessionID,
				"session_name":  sessionName,
				"chunk_index":   i,
				"total_chunks":  len(chunks),
				"message_count": len(bundle.Messages),
				"ingested_at":   ingestedAt,
			},
		}
	}

	count, err := m.store.AddPoints(ctx, m.collection, points)
	if err != nil {
		return nil, err
	}

	if err := m.sessions.SetIngestedAt(ctx, sessionID, &ingestedAt); err != nil {
		return nil, err
	}

	m.logger.Info("Session ingestion complete", "session_id", sessionID, "chunks_created", count)
	return &IngestResult{
		SessionID:     sessionID,
		ChunksCreated: count,
		BlobPath:      blobPath,
		IngestedAt:    ingestedAt,
		MessageCount:  len(bundle.Messages),
	}, nil
}

// DeleteSessionChunks removes the session's vectors and returns how
// many existed beforehand.
func (m *Manager) DeleteSessionChunks(ctx context.Context, sessionID string) (uint64, error) {
	count, err := m.GetSessionChunkCount(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if err := m.store.DeleteByFilter(ctx, m.collection, storage.Filter{"session_id": sessionID}); err != nil {
		return 0, err
	}
	return count, nil
}

// GetSessionChunkCount counts the session's vectors in the collection.
func (m *Manager) GetSessionChunkCount(ctx context.Context, sessionID string) (uint64, error) {
	return m.store.Count(ctx, m.collection, storage.Filter{"session_id": sessionID})
}

// GetContextForChat embeds the query and searches the Journal
// collection. An empty sessionID searches across all sessions; passing
// one scopes retrieval to it.
func (m *Manager) GetContextForChat(ctx context.Context, query string, topK int, threshold float64, sessionID string) ([]storage.ScoredText, error) {
	vector, err := m.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}

	var filter storage.Filter
	if sessionID != "" {
		filter = storage.Filter{"session_id": sessionID}
	}

	hits, err := m.store.QueryPoints(ctx, m.collection, vector, filter, topK)
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
		m.logger.Info("Journal retrieval",
			"query", truncate(query, 100),
			"top_k", topK,
			"threshold", threshold,
			"session_filter", sessionID,
			"retrieved", len(hits),
			"filtered", len(results),
		)
	}
	return results, nil
}

// GetRecentContext returns relevant history in the legacy entry shape.
func (m *Manager) GetRecentContext(ctx context.Context, query, sessionID string, limit int) ([]Entry, error) {
	vector, err := m.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}

	var filter storage.Filter
	if sessionID != "" {
		filter = storage.Filter{"session_id": sessionID}
	}

	hits, err := m.store.QueryPoints(ctx, m.collection, vector, filter, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(hits))
	for _, hit := range hits {
		payload := hit.Payload
		if text, ok := payload["text"].(string); ok {
			// Chunked format: role and timestamp come from the chunk.
			entries = append(entries, Entry{
				Role:      "assistant",
				Content:   text,
				SessionID: payloadString(payload, "session_id"),
				Timestamp: payloadString(payload, "ingested_at"),
			})
			continue
		}
		entries = append(entries, Entry{
			Role:      payloadString(payload, "role"),
			Content:   payloadString(payload, "content"),
			SessionID: payloadString(payload, "session_id"),
			Timestamp: payloadString(payload, "timestamp"),
		})
	}
	return entries, nil
}

// GetIngestionStatus reports a session's standing across the session
// store, the export directory, and the Journal collection.
func (m *Manager) GetIngestionStatus(ctx context.Context, sessionID string) (*IngestionStatus, error) {
	sess, err := m.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return &IngestionStatus{Exists: false}, nil
		}
		return nil, err
	}

	chunkCount, err := m.GetSessionChunkCount(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	hasNew, err := m.sessions.HasNewMessagesSinceIngest(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &IngestionStatus{
		Exists:         true,
		SessionID:      sessionID,
		Ingested:       sess.IngestedAt != nil,
		IngestedAt:     sess.IngestedAt,
		HasNewMessages: hasNew,
		ChunkCount:     chunkCount,
		HasBlob:        m.exports.Exists(sessionID),
		MessageCount:   sess.MessageCount,
	}, nil
}

// DeleteSession removes all data for a session: vectors, export, and
// the session rows.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := m.DeleteSessionChunks(ctx, sessionID); err != nil {
		return err
	}
	if _, err := m.exports.DeleteSession(sessionID); err != nil {
		return err
	}
	if _, err := m.sessions.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	m.logger.Info("Deleted all session data", "session_id", sessionID)
	return nil
}

// ClearAll drops and recreates the Journal collection.
func (m *Manager) ClearAll(ctx context.Context) error {
	if err := m.store.DeleteCollection(ctx, m.collection); err != nil {
		return err
	}
	return m.Setup(ctx)
}

// Stats reports the collection point count.
func (m *Manager) Stats(ctx context.Context) (uint64, error) {
	return m.store.Count(ctx, m.collection, nil)
}

// RegisterHandlers installs the Journal queue functions on a worker.
func (m *Manager) RegisterHandlers(w *queue.Worker) {
	w.Register(FunctionIngestSession, func(ctx context.Context, args map[string]interface{}) error {
		var req struct {
			SessionID string `json:"session_id"`
		}
		if err := queue.DecodeArgs(args, &req); err != nil {
			return err
		}
		_, err := m.IngestSession(ctx, req.SessionID)
		return err
	})
}

func payloadString(payload map[string]interface{}, key string) string {
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
