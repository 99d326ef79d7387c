// Command demo walks the whole pipeline offline: save a document,
// ingest it into the Library, record a chat session, ingest it into the
// Journal, then assemble chat context from both. Everything runs
// against the embedded vector store and a local hashing embedder, so no
// servers or API keys are needed.
package main

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/fatih/color"

	"localmind/internal/blob"
	"localmind/internal/chat"
	"localmind/internal/config"
	"localmind/internal/documents"
	"localmind/internal/journal"
	"localmind/internal/library"
	"localmind/internal/logging"
	"localmind/internal/sessionstore"
	"localmind/internal/storage"
)

// localEmbedder is a dependency-free bag-of-words embedder, good enough
// to demonstrate retrieval without a model backend.
type localEmbedder struct{ dim int }

func (l *localEmbedder) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, l.dim)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, tok := range tokens {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%uint32(l.dim)]++
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

func (l *localEmbedder) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := l.GenerateEmbedding(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (l *localEmbedder) GetDimension() int                   { return l.dim }
func (l *localEmbedder) GetModel() string                    { return "local-hash" }
func (l *localEmbedder) HealthCheck(_ context.Context) error { return nil }

func main() {
	if err := run(); err != nil {
		color.Red("demo failed: %v", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	step := color.New(color.FgCyan, color.Bold)
	ok := color.New(color.FgGreen)

	root, err := os.MkdirTemp("", "localmind-demo-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(root) }()

	cfg := config.Default()
	cfg.Chunking.LibraryChunkSize = 60
	cfg.Chunking.LibraryChunkOverlap = 10
	cfg.Chat.LibrarySimilarityThreshold = 0.1
	cfg.Chat.JournalSimilarityThreshold = 0.1

	logger := logging.NewNoOp()
	embedder := &localEmbedder{dim: 128}
	store := storage.NewEmbeddedStore(logger)

	blobs, err := blob.NewStore(filepath.Join(root, "preindex_blob"), logger)
	if err != nil {
		return err
	}
	journalBlobs, err := blob.NewJournalStore(filepath.Join(root, "journal_blob"), logger)
	if err != nil {
		return err
	}
	sessions, err := sessionstore.New(filepath.Join(root, "sessions.db"), logger)
	if err != nil {
		return err
	}
	defer func() { _ = sessions.Close() }()

	lib := library.NewManager(store, blobs, documents.NewParser(), embedder, cfg, logger)
	if err := lib.Setup(ctx); err != nil {
		return err
	}
	jour := journal.NewManager(store, sessions, journalBlobs, embedder, cfg, logger)
	if err := jour.Setup(ctx); err != nil {
		return err
	}
	assembler := chat.NewService(cfg, lib, jour, logger)

	step.Println("1. Upload a document into the blob store")
	blobID, err := blobs.Save([]byte("Pears are sweet fruits. Apples are crisp. Bananas are yellow and soft."), "fruits.txt")
	if err != nil {
		return err
	}
	ok.Printf("   saved blob %s\n", blobID)

	step.Println("2. Ingest it into the Library collection")
	ingest, err := lib.ProcessBlob(ctx, blobID)
	if err != nil {
		return err
	}
	ok.Printf("   indexed %d chunks\n", ingest.ChunksIndexed)

	step.Println("3. Record a chat session")
	sessionID := "demo-session"
	name := "fruit preferences"
	if err := sessions.UpsertSession(ctx, sessionID, &name); err != nil {
		return err
	}
	if _, err := sessions.AddMessage(ctx, sessionID, "user", "I really enjoy eating pears", nil); err != nil {
		return err
	}
	if _, err := sessions.AddMessage(ctx, sessionID, "assistant", "Noted! Pears it is.", nil); err != nil {
		return err
	}
	ok.Println("   2 messages stored")

	step.Println("4. Ingest the session into the Journal collection")
	jResult, err := jour.IngestSession(ctx, sessionID)
	if err != nil {
		return err
	}
	ok.Printf("   created %d journal chunks (export: %s)\n", jResult.ChunksCreated, filepath.Base(jResult.BlobPath))

	step.Println("5. Assemble chat context from both collections")
	prepared := assembler.PrepareChatMessage(ctx, "tell me about pears", chat.Options{})
	ok.Printf("   library hits: %d, journal hits: %d\n", len(prepared.LibraryResults), len(prepared.JournalResults))

	fmt.Println()
	color.Yellow("--- formatted message ---")
	fmt.Println(prepared.FormattedMessage)
	return nil
}
