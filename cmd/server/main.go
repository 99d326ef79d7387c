// Command server exposes the core over a thin HTTP surface. Every
// handler is an adapter: it decodes the request, invokes a core
// operation or enqueues a job, and maps typed errors onto status codes.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"localmind/internal/chat"
	"localmind/internal/config"
	"localmind/internal/di"
	apperrors "localmind/internal/errors"
	"localmind/internal/journal"
	"localmind/internal/library"
	"localmind/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := di.NewContainer(ctx, cfg)
	if err != nil {
		os.Stderr.WriteString("startup error: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer container.Shutdown()

	srv := &server{c: container}
	addr := ":8080"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	container.Logger.Info("HTTP server listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		container.Logger.Error("HTTP server failed", "error", err.Error())
		os.Exit(1)
	}
}

type server struct {
	c *di.Container
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Post("/upload", s.handleUpload)
	r.Get("/blobs", s.handleListBlobs)
	r.Delete("/blobs/{blobID}", s.handleDeleteBlob)

	r.Get("/jobs/{jobID}", s.handleJobStatus)

	r.Post("/chat/prepare", s.handleChatPrepare)

	r.Get("/sessions", s.handleListSessions)
	r.Post("/sessions/{sessionID}/messages", s.handleAddMessage)
	r.Get("/sessions/{sessionID}", s.handleGetSession)
	r.Delete("/sessions/{sessionID}", s.handleDeleteSession)
	r.Post("/sessions/{sessionID}/ingest", s.handleIngestSession)
	r.Get("/sessions/{sessionID}/status", s.handleSessionStatus)

	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.c.HealthCheck(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, apperrors.Validation("multipart field 'file' is required"))
		return
	}
	defer func() { _ = file.Close() }()

	content, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, apperrors.Validation("failed to read uploaded file"))
		return
	}

	blobID, err := s.c.Blobs.Save(content, header.Filename)
	if err != nil {
		s.writeError(w, err)
		return
	}

	jobID, err := s.c.Queue.Enqueue(r.Context(), library.FunctionProcessDocument,
		map[string]interface{}{"blob_id": blobID})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{"blob_id": blobID, "job_id": jobID})
}

func (s *server) handleListBlobs(w http.ResponseWriter, _ *http.Request) {
	infos, err := s.c.Blobs.List()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, infos)
}

func (s *server) handleDeleteBlob(w http.ResponseWriter, r *http.Request) {
	blobID := chi.URLParam(r, "blobID")

	deleted, err := s.c.Blobs.Delete(blobID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !deleted {
		s.writeError(w, apperrors.NotFound("blob", blobID))
		return
	}

	// The blob store does not purge derived vectors; do it here.
	purged, err := s.c.Library.DeleteBlobChunks(r.Context(), blobID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": true, "chunks_purged": purged})
}

func (s *server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.c.Queue.Status(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if status.State == queue.StateNotFound {
		s.writeJSON(w, http.StatusNotFound, status)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *server) handleChatPrepare(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message             string   `json:"message"`
		SessionID           string   `json:"session_id"`
		UseLibrary          *bool    `json:"use_library"`
		UseJournal          *bool    `json:"use_journal"`
		LibraryTopK         *int     `json:"library_top_k"`
		JournalTopK         *int     `json:"journal_top_k"`
		SimilarityThreshold *float64 `json:"similarity_threshold"`
		PromptTemplate      string   `json:"prompt_template"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		s.writeError(w, apperrors.Validation("body must be JSON with a non-empty 'message'"))
		return
	}

	result := s.c.Chat.PrepareChatMessage(r.Context(), req.Message, chat.Options{
		UseLibrary:          req.UseLibrary,
		UseJournal:          req.UseJournal,
		SessionID:           req.SessionID,
		LibraryTopK:         req.LibraryTopK,
		JournalTopK:         req.JournalTopK,
		SimilarityThreshold: req.SimilarityThreshold,
		PromptTemplate:      req.PromptTemplate,
	})
	s.writeJSON(w, http.StatusOK, result)
}

func (s *server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.c.Sessions.ListSessions(r.Context(), 100)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sessions)
}

func (s *server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req struct {
		Role    string  `json:"role"`
		Content string  `json:"content"`
		Name    *string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperrors.Validation("body must be JSON with 'role' and 'content'"))
		return
	}

	if err := s.c.Sessions.UpsertSession(r.Context(), sessionID, req.Name); err != nil {
		s.writeError(w, err)
		return
	}
	messageID, err := s.c.Sessions.AddMessage(r.Context(), sessionID, req.Role, req.Content, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{"message_id": messageID})
}

func (s *server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	bundle, err := s.c.Sessions.GetSessionWithMessages(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, bundle)
}

func (s *server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.c.Journal.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *server) handleIngestSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	jobID, err := s.c.Queue.Enqueue(r.Context(), journal.FunctionIngestSession,
		map[string]interface{}{"session_id": sessionID})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.c.Journal.GetIngestionStatus(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the core taxonomy onto HTTP statuses: NotFound → 404,
// Validation → 400, everything else → 500.
func (s *server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperrors.CodeOf(err) {
	case apperrors.CodeNotFound:
		status = http.StatusNotFound
	case apperrors.CodeValidation:
		status = http.StatusBadRequest
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
