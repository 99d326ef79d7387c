// Package di provides the application container: every core component
// constructed eagerly at startup and threaded through as explicit
// dependencies. There are no package-level singletons; tests build
// fresh containers or inject fakes directly.
package di

import (
	"context"
	"fmt"

	"localmind/internal/blob"
	"localmind/internal/chat"
	"localmind/internal/config"
	"localmind/internal/documents"
	"localmind/internal/embeddings"
	"localmind/internal/journal"
	"localmind/internal/library"
	"localmind/internal/logging"
	"localmind/internal/queue"
	"localmind/internal/sessionstore"
	"localmind/internal/storage"
)

// Container holds every wired core component.
type Container struct {
	Config *config.Config
	Logger logging.Logger

	Blobs        *blob.Store
	JournalBlobs *blob.JournalStore
	Sessions     *sessionstore.Store
	VectorStore  storage.VectorStore

	LibraryEmbedder embeddings.Service
	JournalEmbedder embeddings.Service

	Library *library.Manager
	Journal *journal.Manager
	Chat    *chat.Service
	Queue   *queue.Queue
}

// NewContainer builds the full application graph. Construction is
// eager: a component that cannot start fails the whole container.
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	logger := logging.New(logging.ParseLevel(cfg.Logging.Level))

	blobs, err := blob.NewStore(cfg.Storage.BlobStoragePath, logger)
	if err != nil {
		return nil, fmt.Errorf("blob store: %w", err)
	}
	journalBlobs, err := blob.NewJournalStore(cfg.Storage.JournalBlobStoragePath, logger)
	if err != nil {
		return nil, fmt.Errorf("journal blob store: %w", err)
	}
	sessions, err := sessionstore.New(cfg.Storage.SessionDBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}

	vectorStore, err := storage.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}

	libraryEmbedder, err := embeddings.NewOpenAIService(&cfg.OpenAI, cfg.OpenAI.LibraryModel)
	if err != nil {
		return nil, fmt.Errorf("library embedder: %w", err)
	}
	journalEmbedder, err := embeddings.NewOpenAIService(&cfg.OpenAI, cfg.OpenAI.JournalModel)
	if err != nil {
		return nil, fmt.Errorf("journal embedder: %w", err)
	}

	libraryManager := library.NewManager(vectorStore, blobs, documents.NewParser(), libraryEmbedder, cfg, logger)
	if err := libraryManager.Setup(ctx); err != nil {
		return nil, fmt.Errorf("library collection: %w", err)
	}
	journalManager := journal.NewManager(vectorStore, sessions, journalBlobs, journalEmbedder, cfg, logger)
	if err := journalManager.Setup(ctx); err != nil {
		return nil, fmt.Errorf("journal collection: %w", err)
	}

	q, err := queue.New(&cfg.Redis, logger)
	if err != nil {
		return nil, fmt.Errorf("job queue: %w", err)
	}

	chatService := chat.NewService(cfg, libraryManager, journalManager, logger)

	logger.Info("Application container initialized",
		"library_collection", cfg.Storage.LibraryCollectionName,
		"journal_collection", cfg.Storage.JournalCollectionName,
	)

	return &Container{
		Config:          cfg,
		Logger:          logger,
		Blobs:           blobs,
		JournalBlobs:    journalBlobs,
		Sessions:        sessions,
		VectorStore:     vectorStore,
		LibraryEmbedder: libraryEmbedder,
		JournalEmbedder: journalEmbedder,
		Library:         libraryManager,
		Journal:         journalManager,
		Chat:            chatService,
		Queue:           q,
	}, nil
}

// NewWorker builds a queue worker with all core handlers registered.
func (c *Container) NewWorker() *queue.Worker {
	w := queue.NewWorker(c.Queue, &c.Config.Redis, c.Logger)
	c.Library.RegisterHandlers(w)
	c.Journal.RegisterHandlers(w)
	return w
}

// HealthCheck fans out to every backend and returns the first failure.
func (c *Container) HealthCheck(ctx context.Context) error {
	if err := c.Sessions.HealthCheck(ctx); err != nil {
		return err
	}
	if err := c.VectorStore.HealthCheck(ctx); err != nil {
		return err
	}
	if err := c.Queue.HealthCheck(ctx); err != nil {
		return err
	}
	if err := c.LibraryEmbedder.HealthCheck(ctx); err != nil {
		return err
	}
	if err := c.JournalEmbedder.HealthCheck(ctx); err != nil {
		return err
	}
	return nil
}

// Shutdown closes components in reverse construction order.
func (c *Container) Shutdown() {
	if err := c.Queue.Close(); err != nil {
		c.Logger.Warn("Failed to close queue", "error", err.Error())
	}
	if err := c.VectorStore.Close(); err != nil {
		c.Logger.Warn("Failed to close vector store", "error", err.Error())
	}
	if err := c.Sessions.Close(); err != nil {
		c.Logger.Warn("Failed to close session store", "error", err.Error())
	}
	c.Logger.Info("Application container shut down")
}
