// Package chat implements the chat-time context assembler: it queries
// the Library and Journal retrievers concurrently, applies the
// near-duplicate query cache, and merges the evidence into a single
// prompt envelope.
package chat

import (
	"context"
	"strings"
	"sync"

	"localmind/internal/config"
	"localmind/internal/logging"
	"localmind/internal/storage"
)

const (
	libraryHeader = "[KNOWLEDGE BASE - Documents from your personal library]"
	journalHeader = "[PAST CONVERSATIONS - Previous chat history that may be relevant]"

	defaultEnvelope = `<CONTEXT_FOR_REFERENCE>
The following information is provided as reference context ONLY. It may or may not be relevant to answering the user's question below.

{context}
</CONTEXT_FOR_REFERENCE>

======================================
USER'S ACTUAL QUESTION (ANSWER THIS):
======================================
{user_message}`
)

// LibraryRetriever is the Library search surface the assembler needs.
type LibraryRetriever interface {
	GetContextForChat(ctx context.Context, query string, topK int, threshold float64) ([]storage.ScoredText, error)
}

// JournalRetriever is the Journal search surface the assembler needs.
type JournalRetriever interface {
	GetContextForChat(ctx context.Context, query string, topK int, threshold float64, sessionID string) ([]storage.ScoredText, error)
}

// Options are per-call overrides; nil fields fall back to config.
type Options struct {
	UseLibrary          *bool
	UseJournal          *bool
	SessionID           string // scopes the Journal search; empty searches all sessions
	LibraryTopK         *int
	JournalTopK         *int
	SimilarityThreshold *float64
	PromptTemplate      string // substitutes {rag_context} and {user_message}
}

// PreparedMessage is the assembler's result for one chat turn.
type PreparedMessage struct {
	FormattedMessage   string               `json:"formatted_message"`
	LibraryResults     []storage.ScoredText `json:"library_results"`
	LibraryContextText string               `json:"library_context_text,omitempty"`
	JournalResults     []storage.ScoredText `json:"journal_results"`
	JournalContextText string               `json:"journal_context_text,omitempty"`
}

// Service assembles chat context. One instance serves all chat turns;
// the query cache inside it is shared and mutex-guarded.
type Service struct {
	cfg     *config.Config
	library LibraryRetriever
	journal JournalRetriever
	cache   *queryCache
	logger  logging.Logger
}

// NewService wires the assembler.
func NewService(cfg *config.Config, library LibraryRetriever, journal JournalRetriever, logger logging.Logger) *Service {
	return &Service{
		cfg:     cfg,
		library: library,
		journal: journal,
		cache:   newQueryCache(),
		logger:  logger.WithComponent("chat"),
	}
}

// PrepareChatMessage builds the prompt for one chat turn. Library and
// Journal searches run concurrently; canceling ctx cancels both. A
// failed search degrades to its section being omitted.
func (s *Service) PrepareChatMessage(ctx context.Context, userMessage string, opts Options) *PreparedMessage {
	result := &PreparedMessage{
		FormattedMessage: userMessage,
		LibraryResults:   []storage.ScoredText{},
		JournalResults:   []storage.ScoredText{},
	}

	if !s.cfg.Chat.ContextEnabled {
		return result
	}

	useLibrary := s.cfg.Chat.LibraryEnabled
	if opts.UseLibrary != nil {
		useLibrary = *opts.UseLibrary
	}
	useJournal := s.cfg.Chat.JournalEnabled
	if opts.UseJournal != nil {
		useJournal = *opts.UseJournal
	}

	libraryTopK := s.cfg.Chat.LibraryTopK
	if opts.LibraryTopK != nil {
		libraryTopK = *opts.LibraryTopK
	}
	journalTopK := s.cfg.Chat.JournalTopK
	if opts.JournalTopK != nil {
		journalTopK = *opts.JournalTopK
	}

	libraryThreshold := s.cfg.Chat.LibrarySimilarityThreshold
	journalThreshold := s.cfg.Chat.JournalSimilarityThreshold
	if opts.SimilarityThreshold != nil {
		libraryThreshold = *opts.SimilarityThreshold
		journalThreshold = *opts.SimilarityThreshold
	}

	searchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if useLibrary {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result.LibraryResults = s.retrieveLibrary(searchCtx, userMessage, libraryTopK, libraryThreshold)
		}()
	}
	if useJournal {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result.JournalResults = s.retrieveJournal(searchCtx, userMessage, journalTopK, journalThreshold, opts.SessionID)
		}()
	}
	wg.Wait()

	result.LibraryContextText = joinResults(result.LibraryResults)
	result.JournalContextText = joinResults(result.JournalResults)

	merged := s.mergeContext(result.LibraryContextText, result.JournalContextText)
	result.FormattedMessage = s.formatUserMessage(userMessage, merged, opts.PromptTemplate)
	return result
}

// retrieveLibrary serves the Library side, consulting the query cache
// first when enabled. Only non-empty results are cached.
func (s *Service) retrieveLibrary(ctx context.Context, query string, topK int, threshold float64) []storage.ScoredText {
	if s.cfg.Chat.LibraryUseCache {
		if cached, sim, ok := s.cache.get(query); ok {
			if s.cfg.Logging.LogOutput {
				s.logger.Info("Library cache hit", "similarity", sim)
			}
			return cached
		}
	}

	results, err := s.library.GetContextForChat(ctx, query, topK, threshold)
	if err != nil {
		s.logger.Warn("Library retrieval failed", "error", err.Error())
		return []storage.ScoredText{}
	}

	if s.cfg.Chat.LibraryUseCache && len(results) > 0 {
		s.cache.put(query, results)
	}
	return results
}

func (s *Service) retrieveJournal(ctx context.Context, query string, topK int, threshold float64, sessionID string) []storage.ScoredText {
	results, err := s.journal.GetContextForChat(ctx, query, topK, threshold, sessionID)
	if err != nil {
		s.logger.Warn("Journal retrieval failed", "error", err.Error())
		return []storage.ScoredText{}
	}
	return results
}

// mergeContext combines the section texts in the fixed Library-then-
// Journal order, omitting empty sections.
func (s *Service) mergeContext(libraryContext, journalContext string) string {
	var parts []string
	if libraryContext != "" {
		parts = append(parts, libraryHeader+"\n"+libraryContext)
	}
	if journalContext != "" {
		parts = append(parts, journalHeader+"\n"+journalContext)
	}
	return strings.Join(parts, "\n\n")
}

// formatUserMessage wraps the user message with the merged context,
// using the caller's template when supplied. Without context the raw
// message passes through untouched.
func (s *Service) formatUserMessage(userMessage, mergedContext, template string) string {
	if mergedContext == "" {
		return userMessage
	}

	if template != "" {
		out := strings.ReplaceAll(template, "{rag_context}", mergedContext)
		return strings.ReplaceAll(out, "{user_message}", userMessage)
	}

	out := strings.ReplaceAll(defaultEnvelope, "{context}", mergedContext)
	return strings.ReplaceAll(out, "{user_message}", userMessage)
}

func joinResults(results []storage.ScoredText) string {
	if len(results) == 0 {
		return ""
	}
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Text
	}
	return strings.Join(texts, "\n\n")
}
