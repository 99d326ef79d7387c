package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "library_docs", cfg.Storage.LibraryCollectionName)
	assert.Equal(t, "journal_sessions", cfg.Storage.JournalCollectionName)
	assert.Greater(t, cfg.Chunking.JournalChunkSize, cfg.Chunking.LibraryChunkSize,
		"journal windows are larger because dialogue is denser")
}

func TestValidateRejectsOverlapNotBelowWindow(t *testing.T) {
	cfg := Default()
	cfg.Chunking.LibraryChunkOverlap = cfg.Chunking.LibraryChunkSize
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Chunking.JournalChunkOverlap = cfg.Chunking.JournalChunkSize + 1
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	cfg := Default()
	cfg.Chat.LibrarySimilarityThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Chat.JournalSimilarityThreshold = -0.1
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveTopK(t *testing.T) {
	cfg := Default()
	cfg.Chat.LibraryTopK = 0
	assert.Error(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LIBRARY_CHUNK_SIZE", "512")
	t.Setenv("LIBRARY_CHUNK_OVERLAP", "64")
	t.Setenv("STORAGE_USE_PERSISTENT", "true")
	t.Setenv("QDRANT_HOST", "qdrant.internal")
	t.Setenv("CHAT_LIBRARY_SIMILARITY_THRESHOLD", "0.42")
	t.Setenv("CHAT_LIBRARY_USE_CACHE", "false")
	t.Setenv("REDIS_PORT", "6380")

	cfg := Default()
	cfg.loadFromEnv()

	assert.Equal(t, 512, cfg.Chunking.LibraryChunkSize)
	assert.Equal(t, 64, cfg.Chunking.LibraryChunkOverlap)
	assert.True(t, cfg.Storage.UsePersistent)
	assert.Equal(t, "qdrant.internal", cfg.Qdrant.Host)
	assert.InDelta(t, 0.42, cfg.Chat.LibrarySimilarityThreshold, 1e-9)
	assert.False(t, cfg.Chat.LibraryUseCache)
	assert.Equal(t, 6380, cfg.Redis.Port)
}

func TestEnvIgnoresMalformedValues(t *testing.T) {
	t.Setenv("LIBRARY_CHUNK_SIZE", "not-a-number")
	cfg := Default()
	cfg.loadFromEnv()
	assert.Equal(t, Default().Chunking.LibraryChunkSize, cfg.Chunking.LibraryChunkSize)
}
