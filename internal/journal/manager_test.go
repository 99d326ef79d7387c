package journal

import (
	"context"
	"hash/fnv"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localmind/internal/blob"
	"localmind/internal/config"
	apperrors "localmind/internal/errors"
	"localmind/internal/logging"
	"localmind/internal/sessionstore"
	"localmind/internal/storage"
)

type hashEmbedder struct{ dim int }

func (h *hashEmbedder) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dim)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, tok := range tokens {
		hasher := fnv.New32a()
		_, _ = hasher.Write([]byte(tok))
		vec[hasher.Sum32()%uint32(h.dim)]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

func (h *hashEmbedder) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := h.GenerateEmbedding(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (h *hashEmbedder) GetDimension() int                   { return h.dim }
func (h *hashEmbedder) GetModel() string                    { return "hash-test" }
func (h *hashEmbedder) HealthCheck(_ context.Context) error { return nil }

type fixture struct {
	manager  *Manager
	sessions *sessionstore.Store
	exports  *blob.JournalStore
	store    storage.VectorStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.Default()
	sessions, err := sessionstore.New(filepath.Join(t.TempDir(), "sessions.db"), logging.NewNoOp())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sessions.Close() })

	exports, err := blob.NewJournalStore(t.TempDir(), logging.NewNoOp())
	require.NoError(t, err)

	store := storage.NewEmbeddedStore(logging.NewNoOp())
	m := NewManager(store, sessions, exports, &hashEmbedder{dim: 64}, cfg, logging.NewNoOp())
	require.NoError(t, m.Setup(context.Background()))

	return &fixture{manager: m, sessions: sessions, exports: exports, store: store}
}

func (f *fixture) seedSession(t *testing.T, sessionID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.sessions.UpsertSession(ctx, sessionID, nil))
	_, err := f.sessions.AddMessage(ctx, sessionID, "user", "I like pears", nil)
	require.NoError(t, err)
	_, err = f.sessions.AddMessage(ctx, sessionID, "assistant", "Pears are sweet", nil)
	require.NoError(t, err)
}

func TestIngestSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSession(t, "s1")

	stale, err := f.sessions.HasNewMessagesSinceIngest(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, stale)

	result, err := f.manager.IngestSession(ctx, "s1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.ChunksCreated, 1)
	assert.Equal(t, 2, result.MessageCount)
	assert.FileExists(t, result.BlobPath)

	// Watermark invariant: ingest clears staleness.
	stale, err = f.sessions.HasNewMessagesSinceIngest(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, stale)

	// New activity flips it back.
	_, err = f.sessions.AddMessage(ctx, "s1", "user", "and apples", nil)
	require.NoError(t, err)
	stale, err = f.sessions.HasNewMessagesSinceIngest(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestIngestMissingOrEmptySession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.IngestSession(ctx, "ghost")
	assert.True(t, apperrors.IsNotFound(err))

	require.NoError(t, f.sessions.UpsertSession(ctx, "empty", nil))
	_, err = f.manager.IngestSession(ctx, "empty")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}

// Ingesting twice with no intervening messages yields the same set of
// vectors: same total, same text per chunk index.
func TestReingestIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSession(t, "s1")

	first, err := f.manager.IngestSession(ctx, "s1")
	require.NoError(t, err)
	firstChunks := f.collectChunks(t, "s1")

	second, err := f.manager.IngestSession(ctx, "s1")
	require.NoError(t, err)
	secondChunks := f.collectChunks(t, "s1")

	assert.Equal(t, first.ChunksCreated, second.ChunksCreated)
	assert.Equal(t, firstChunks, secondChunks)

	count, err := f.manager.GetSessionChunkCount(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, uint64(second.ChunksCreated), count)
}

// collectChunks maps chunk_index to text for every vector of a session.
func (f *fixture) collectChunks(t *testing.T, sessionID string) map[int64]string {
	t.Helper()
	probe := make([]float32, 64)
	probe[0] = 1
	hits, err := f.store.QueryPoints(context.Background(), "journal_sessions", probe,
		storage.Filter{"session_id": sessionID}, 1000)
	require.NoError(t, err)

	chunks := make(map[int64]string, len(hits))
	for _, hit := range hits {
		idx, ok := hit.Payload["chunk_index"].(int)
		var key int64
		if ok {
			key = int64(idx)
		} else if i64, ok := hit.Payload["chunk_index"].(int64); ok {
			key = i64
		}
		chunks[key] = hit.Text()
	}
	return chunks
}

// Re-ingest after the conversation changed replaces the chunks; no
// orphans from the first ingest survive.
func TestReingestReplacesChunks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSession(t, "s1")

	_, err := f.manager.IngestSession(ctx, "s1")
	require.NoError(t, err)

	_, err = f.sessions.AddMessage(ctx, "s1", "assistant", "Pears are actually my favorite", nil)
	require.NoError(t, err)

	second, err := f.manager.IngestSession(ctx, "s1")
	require.NoError(t, err)

	count, err := f.manager.GetSessionChunkCount(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, uint64(second.ChunksCreated), count)

	// All surviving chunks share the new ingest timestamp and total.
	probe := make([]float32, 64)
	probe[0] = 1
	hits, err := f.store.QueryPoints(ctx, "journal_sessions", probe, storage.Filter{"session_id": "s1"}, 1000)
	require.NoError(t, err)
	for _, hit := range hits {
		assert.Equal(t, second.IngestedAt, hit.Payload["ingested_at"])
	}
}

func TestGetContextForChatThresholdAndFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSession(t, "s1")
	_, err := f.manager.IngestSession(ctx, "s1")
	require.NoError(t, err)

	results, err := f.manager.GetContextForChat(ctx, "tell me about pears", 5, 0.1, "")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.GreaterOrEqual(t, float64(r.Score), 0.1)
	}
	assert.Contains(t, results[0].Text, "pears")

	// A session filter for another id returns nothing.
	results, err = f.manager.GetContextForChat(ctx, "tell me about pears", 5, 0.1, "other")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestGetRecentContextLegacyShape(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSession(t, "s1")
	result, err := f.manager.IngestSession(ctx, "s1")
	require.NoError(t, err)

	entries, err := f.manager.GetRecentContext(ctx, "pears", "s1", 5)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "assistant", entries[0].Role)
	assert.Equal(t, result.IngestedAt, entries[0].Timestamp)
	assert.Equal(t, "s1", entries[0].SessionID)
}

func TestGetIngestionStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	status, err := f.manager.GetIngestionStatus(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, status.Exists)

	f.seedSession(t, "s1")
	status, err = f.manager.GetIngestionStatus(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, status.Exists)
	assert.False(t, status.Ingested)
	assert.True(t, status.HasNewMessages)
	assert.False(t, status.HasBlob)

	_, err = f.manager.IngestSession(ctx, "s1")
	require.NoError(t, err)
	status, err = f.manager.GetIngestionStatus(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, status.Ingested)
	assert.False(t, status.HasNewMessages)
	assert.True(t, status.HasBlob)
	assert.Greater(t, status.ChunkCount, uint64(0))
	assert.Equal(t, 2, status.MessageCount)
}

func TestDeleteSessionRemovesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSession(t, "s1")
	_, err := f.manager.IngestSession(ctx, "s1")
	require.NoError(t, err)

	require.NoError(t, f.manager.DeleteSession(ctx, "s1"))

	count, err := f.manager.GetSessionChunkCount(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
	assert.False(t, f.exports.Exists("s1"))
	_, err = f.sessions.GetSession(ctx, "s1")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestClearAllRecreatesCollection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSession(t, "s1")
	_, err := f.manager.IngestSession(ctx, "s1")
	require.NoError(t, err)

	require.NoError(t, f.manager.ClearAll(ctx))

	count, err := f.manager.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}
