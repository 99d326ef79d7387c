// Package config provides typed configuration for the localmind core,
// loaded from environment variables, an optional .env file, and an
// optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full application configuration. The recognized option
// surface is fixed; unknown environment variables are ignored.
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Qdrant   QdrantConfig   `yaml:"qdrant"`
	Redis    RedisConfig    `yaml:"redis"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Chunking ChunkingConfig `yaml:"chunking"`
	Chat     ChatConfig     `yaml:"chat"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// StorageConfig holds filesystem and database paths.
type StorageConfig struct {
	BlobStoragePath        string `yaml:"blob_storage_path"`
	JournalBlobStoragePath string `yaml:"journal_blob_storage_path"`
	SessionDBPath          string `yaml:"session_db_path"`
	LibraryCollectionName  string `yaml:"library_collection_name"`
	JournalCollectionName  string `yaml:"journal_collection_name"`
	UsePersistent          bool   `yaml:"use_persistent"`
}

// QdrantConfig configures the remote vector store endpoint.
type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"-"`
	UseTLS bool   `yaml:"use_tls"`
}

// RedisConfig configures the job queue backend.
type RedisConfig struct {
	Host                 string `yaml:"host"`
	Port                 int    `yaml:"port"`
	WorkerJobTimeoutSecs int    `yaml:"worker_job_timeout_seconds"`
	WorkerMaxConcurrency int    `yaml:"worker_max_concurrent_jobs"`
}

// OpenAIConfig configures the embedding backend.
type OpenAIConfig struct {
	APIKey             string `yaml:"-"`
	LibraryModel       string `yaml:"library_embedding_model"`
	JournalModel       string `yaml:"journal_embedding_model"`
	EmbeddingDimension int    `yaml:"embedding_dimension"`
	RequestTimeoutSecs int    `yaml:"request_timeout_seconds"`
	RateLimitRPM       int    `yaml:"rate_limit_rpm"`
}

// ChunkingConfig holds the window and overlap parameters for both
// collections. Overlap must stay below the window size.
type ChunkingConfig struct {
	LibraryChunkSize    int `yaml:"library_chunk_size"`
	LibraryChunkOverlap int `yaml:"library_chunk_overlap"`
	JournalChunkSize    int `yaml:"journal_chunk_size"`
	JournalChunkOverlap int `yaml:"journal_chunk_overlap"`
}

// ChatConfig holds the context assembler's feature flags and cutoffs.
type ChatConfig struct {
	ContextEnabled             bool    `yaml:"context_enabled"`
	LibraryEnabled             bool    `yaml:"library_enabled"`
	JournalEnabled             bool    `yaml:"journal_enabled"`
	LibraryTopK                int     `yaml:"library_top_k"`
	JournalTopK                int     `yaml:"journal_top_k"`
	LibrarySimilarityThreshold float64 `yaml:"library_similarity_threshold"`
	JournalSimilarityThreshold float64 `yaml:"journal_similarity_threshold"`
	LibraryUseCache            bool    `yaml:"library_use_cache"`
}

// LoggingConfig controls log level and verbose retrieval logging.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	LogOutput bool   `yaml:"log_output"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			BlobStoragePath:        "./data/preindex_blob",
			JournalBlobStoragePath: "./data/journal_blob",
			SessionDBPath:          "./data/sessions.db",
			LibraryCollectionName:  "library_docs",
			JournalCollectionName:  "journal_sessions",
			UsePersistent:          false,
		},
		Qdrant: QdrantConfig{
			Host: "localhost",
			Port: 6334,
		},
		Redis: RedisConfig{
			Host:                 "localhost",
			Port:                 6379,
			WorkerJobTimeoutSecs: 300,
			WorkerMaxConcurrency: 10,
		},
		OpenAI: OpenAIConfig{
			LibraryModel:       "text-embedding-3-small",
			JournalModel:       "text-embedding-3-small",
			EmbeddingDimension: 1536,
			RequestTimeoutSecs: 30,
			RateLimitRPM:       60,
		},
		Chunking: ChunkingConfig{
			LibraryChunkSize:    1000,
			LibraryChunkOverlap: 100,
			JournalChunkSize:    1500,
			JournalChunkOverlap: 150,
		},
		Chat: ChatConfig{
			ContextEnabled:             true,
			LibraryEnabled:             true,
			JournalEnabled:             true,
			LibraryTopK:                3,
			JournalTopK:                5,
			LibrarySimilarityThreshold: 0.3,
			JournalSimilarityThreshold: 0.3,
			LibraryUseCache:            true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			LogOutput: false,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file
// named by LOCALMIND_CONFIG, a .env file, and environment variables,
// in increasing precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	cfg := Default()

	if path := os.Getenv("LOCALMIND_CONFIG"); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return fmt.Errorf("error reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("error parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadFromEnv() {
	c.Storage.BlobStoragePath = getEnv("BLOB_STORAGE_PATH", c.Storage.BlobStoragePath)
	c.Storage.JournalBlobStoragePath = getEnv("JOURNAL_BLOB_STORAGE_PATH", c.Storage.JournalBlobStoragePath)
	c.Storage.SessionDBPath = getEnv("SESSION_DB_PATH", c.Storage.SessionDBPath)
	c.Storage.LibraryCollectionName = getEnv("LIBRARY_COLLECTION_NAME", c.Storage.LibraryCollectionName)
	c.Storage.JournalCollectionName = getEnv("JOURNAL_COLLECTION_NAME", c.Storage.JournalCollectionName)
	c.Storage.UsePersistent = getEnvBool("STORAGE_USE_PERSISTENT", c.Storage.UsePersistent)

	c.Qdrant.Host = getEnv("QDRANT_HOST", c.Qdrant.Host)
	c.Qdrant.Port = getEnvInt("QDRANT_PORT", c.Qdrant.Port)
	c.Qdrant.APIKey = getEnv("QDRANT_API_KEY", c.Qdrant.APIKey)
	c.Qdrant.UseTLS = getEnvBool("QDRANT_USE_TLS", c.Qdrant.UseTLS)

	c.Redis.Host = getEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = getEnvInt("REDIS_PORT", c.Redis.Port)
	c.Redis.WorkerJobTimeoutSecs = getEnvInt("WORKER_JOB_TIMEOUT", c.Redis.WorkerJobTimeoutSecs)
	c.Redis.WorkerMaxConcurrency = getEnvInt("WORKER_MAX_CONCURRENT_JOBS", c.Redis.WorkerMaxConcurrency)

	c.OpenAI.APIKey = getEnv("OPENAI_API_KEY", c.OpenAI.APIKey)
	c.OpenAI.LibraryModel = getEnv("LIBRARY_EMBEDDING_MODEL", c.OpenAI.LibraryModel)
	c.OpenAI.JournalModel = getEnv("JOURNAL_EMBEDDING_MODEL", c.OpenAI.JournalModel)
	c.OpenAI.EmbeddingDimension = getEnvInt("EMBEDDING_DIMENSION", c.OpenAI.EmbeddingDimension)
	c.OpenAI.RequestTimeoutSecs = getEnvInt("OPENAI_REQUEST_TIMEOUT", c.OpenAI.RequestTimeoutSecs)
	c.OpenAI.RateLimitRPM = getEnvInt("OPENAI_RATE_LIMIT_RPM", c.OpenAI.RateLimitRPM)

	c.Chunking.LibraryChunkSize = getEnvInt("LIBRARY_CHUNK_SIZE", c.Chunking.LibraryChunkSize)
	c.Chunking.LibraryChunkOverlap = getEnvInt("LIBRARY_CHUNK_OVERLAP", c.Chunking.LibraryChunkOverlap)
	c.Chunking.JournalChunkSize = getEnvInt("JOURNAL_CHUNK_SIZE", c.Chunking.JournalChunkSize)
	c.Chunking.JournalChunkOverlap = getEnvInt("JOURNAL_CHUNK_OVERLAP", c.Chunking.JournalChunkOverlap)

	c.Chat.ContextEnabled = getEnvBool("CHAT_CONTEXT_ENABLED", c.Chat.ContextEnabled)
	c.Chat.LibraryEnabled = getEnvBool("CHAT_LIBRARY_ENABLED", c.Chat.LibraryEnabled)
	c.Chat.JournalEnabled = getEnvBool("CHAT_JOURNAL_ENABLED", c.Chat.JournalEnabled)
	c.Chat.LibraryTopK = getEnvInt("CHAT_LIBRARY_TOP_K", c.Chat.LibraryTopK)
	c.Chat.JournalTopK = getEnvInt("CHAT_JOURNAL_TOP_K", c.Chat.JournalTopK)
	c.Chat.LibrarySimilarityThreshold = getEnvFloat("CHAT_LIBRARY_SIMILARITY_THRESHOLD", c.Chat.LibrarySimilarityThreshold)
	c.Chat.JournalSimilarityThreshold = getEnvFloat("CHAT_JOURNAL_SIMILARITY_THRESHOLD", c.Chat.JournalSimilarityThreshold)
	c.Chat.LibraryUseCache = getEnvBool("CHAT_LIBRARY_USE_CACHE", c.Chat.LibraryUseCache)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.LogOutput = getEnvBool("LOG_OUTPUT", c.Logging.LogOutput)
}

// Validate checks the invariants the rest of the core relies on.
func (c *Config) Validate() error {
	if c.Storage.BlobStoragePath == "" {
		return errors.New("blob_storage_path must not be empty")
	}
	if c.Storage.JournalBlobStoragePath == "" {
		return errors.New("journal_blob_storage_path must not be empty")
	}
	if c.Storage.LibraryCollectionName == "" || c.Storage.JournalCollectionName == "" {
		return errors.New("collection names must not be empty")
	}
	if c.Chunking.LibraryChunkSize <= 0 || c.Chunking.JournalChunkSize <= 0 {
		return errors.New("chunk sizes must be positive")
	}
	if c.Chunking.LibraryChunkOverlap < 0 || c.Chunking.LibraryChunkOverlap >= c.Chunking.LibraryChunkSize {
		return fmt.Errorf("library chunk overlap %d must be in [0, %d)", c.Chunking.LibraryChunkOverlap, c.Chunking.LibraryChunkSize)
	}
	if c.Chunking.JournalChunkOverlap < 0 || c.Chunking.JournalChunkOverlap >= c.Chunking.JournalChunkSize {
		return fmt.Errorf("journal chunk overlap %d must be in [0, %d)", c.Chunking.JournalChunkOverlap, c.Chunking.JournalChunkSize)
	}
	if c.Chat.LibraryTopK <= 0 || c.Chat.JournalTopK <= 0 {
		return errors.New("top_k values must be positive")
	}
	if c.Chat.LibrarySimilarityThreshold < 0 || c.Chat.LibrarySimilarityThreshold > 1 {
		return errors.New("library similarity threshold must be in [0, 1]")
	}
	if c.Chat.JournalSimilarityThreshold < 0 || c.Chat.JournalSimilarityThreshold > 1 {
		return errors.New("journal similarity threshold must be in [0, 1]")
	}
	if c.OpenAI.EmbeddingDimension <= 0 {
		return errors.New("embedding dimension must be positive")
	}
	if c.Redis.WorkerMaxConcurrency <= 0 {
		return errors.New("worker_max_concurrent_jobs must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return defaultValue
}
