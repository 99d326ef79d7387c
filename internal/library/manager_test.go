package library

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localmind/internal/blob"
	"localmind/internal/config"
	"localmind/internal/documents"
	apperrors "localmind/internal/errors"
	"localmind/internal/logging"
	"localmind/internal/storage"
)

// hashEmbedder is a deterministic bag-of-words embedder: texts sharing
// tokens land near each other under cosine similarity.
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

func newTestManager(t *testing.T) (*Manager, *blob.Store, storage.VectorStore) {
	t.Helper()

	cfg := config.Default()
	cfg.Chunking.LibraryChunkSize = 40
	cfg.Chunking.LibraryChunkOverlap = 5

	blobs, err := blob.NewStore(t.TempDir(), logging.NewNoOp())
	require.NoError(t, err)
	store := storage.NewEmbeddedStore(logging.NewNoOp())
	m := NewManager(store, blobs, documents.NewParser(), &hashEmbedder{dim: 64}, cfg, logging.NewNoOp())
	require.NoError(t, m.Setup(context.Background()))
	return m, blobs, store
}

func TestUploadIngestSearchRoundTrip(t *testing.T) {
	m, blobs, store := newTestManager(t)
	ctx := context.Background()

	blobID, err := blobs.Save([]byte("Apples are red. Bananas are yellow. Cherries are dark red."), "fruits.txt")
	require.NoError(t, err)

	result, err := m.ProcessBlob(ctx, blobID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.ChunksIndexed, 2)
	assert.Equal(t, "txt", result.FileType)

	// Every chunk payload carries the producing blob id.
	count, err := store.Count(ctx, "library_docs", storage.Filter{"blob_id": blobID})
	require.NoError(t, err)
	assert.Equal(t, uint64(result.ChunksIndexed), count)

	results, err := m.GetContextForChat(ctx, "What color are bananas?", 2, 0.2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	found := false
	for _, r := range results {
		if strings.Contains(r.Text, "Bananas") {
			found = true
		}
	}
	assert.True(t, found, "expected a hit containing %q, got %v", "Bananas", results)
}

func TestThresholdContract(t *testing.T) {
	m, blobs, _ := newTestManager(t)
	ctx := context.Background()

	blobID, err := blobs.Save([]byte("Apples are red. Bananas are yellow. Cherries are dark red."), "fruits.txt")
	require.NoError(t, err)
	_, err = m.ProcessBlob(ctx, blobID)
	require.NoError(t, err)

	threshold := 0.2
	results, err := m.GetContextForChat(ctx, "What color are bananas?", 10, threshold)
	require.NoError(t, err)
	for _, r := range results {
		assert.GreaterOrEqual(t, float64(r.Score), threshold)
	}
}

// Re-processing the same blob must not duplicate vectors: stale chunks
// are dropped by blob_id before the fresh upsert.
func TestReprocessBlobIsIdempotent(t *testing.T) {
	m, blobs, store := newTestManager(t)
	ctx := context.Background()

	blobID, err := blobs.Save([]byte("Apples are red. Bananas are yellow. Cherries are dark red."), "fruits.txt")
	require.NoError(t, err)

	first, err := m.ProcessBlob(ctx, blobID)
	require.NoError(t, err)
	second, err := m.ProcessBlob(ctx, blobID)
	require.NoError(t, err)
	assert.Equal(t, first.ChunksIndexed, second.ChunksIndexed)

	count, err := store.Count(ctx, "library_docs", storage.Filter{"blob_id": blobID})
	require.NoError(t, err)
	assert.Equal(t, uint64(second.ChunksIndexed), count)
}

func TestProcessMissingBlobFailsPermanently(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.ProcessBlob(context.Background(), "blob_nonexistent")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestProcessUnsupportedExtension(t *testing.T) {
	m, blobs, _ := newTestManager(t)
	blobID, err := blobs.Save([]byte{0x89, 0x50, 0x4e, 0x47}, "image.png")
	require.NoError(t, err)

	_, err = m.ProcessBlob(context.Background(), blobID)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeParseFailure, apperrors.CodeOf(err))
}

func TestDeleteBlobChunks(t *testing.T) {
	m, blobs, store := newTestManager(t)
	ctx := context.Background()

	blobID, err := blobs.Save([]byte("Apples are red. Bananas are yellow. Cherries are dark red."), "fruits.txt")
	require.NoError(t, err)
	result, err := m.ProcessBlob(ctx, blobID)
	require.NoError(t, err)

	deleted, err := m.DeleteBlobChunks(ctx, blobID)
	require.NoError(t, err)
	assert.Equal(t, uint64(result.ChunksIndexed), deleted)

	count, err := store.Count(ctx, "library_docs", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}
