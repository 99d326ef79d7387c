package blob

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	apperrors "localmind/internal/errors"
	"localmind/internal/logging"
)

// JournalMessage is one message inside an exported session.
type JournalMessage struct {
	ID        int64  `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// JournalExport is the JSON document written per session. Exports are
// replaceable; the last writer wins.
type JournalExport struct {
	SessionID    string           `json:"session_id"`
	Name         *string          `json:"name"`
	CreatedAt    string           `json:"created_at"`
	ExportedAt   string           `json:"exported_at"`
	MessageCount int              `json:"message_count"`
	Messages     []JournalMessage `json:"messages"`
}

// JournalInfo summarizes one exported session for listings.
type JournalInfo struct {
	SessionID    string  `json:"session_id"`
	Name         *string `json:"name"`
	MessageCount int     `json:"message_count"`
	ExportedAt   string  `json:"exported_at"`
	StoragePath  string  `json:"storage_path"`
}

// JournalStore holds one JSON export per session under a dedicated
// directory. Filenames beginning with "_" are reserved for manifests
// and skipped by listings.
type JournalStore struct {
	root   string
	logger logging.Logger
}

// NewJournalStore creates the export directory if needed.
func NewJournalStore(root string, logger logging.Logger) (*JournalStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, apperrors.StorageUnavailable("failed to create journal storage directory", err)
	}
	return &JournalStore{root: root, logger: logger.WithComponent("journal_blob_store")}, nil
}

func (s *JournalStore) sessionPath(sessionID string) string {
	return filepath.Join(s.root, sessionID+".json")
}

// ExportSession writes the session snapshot, overwriting any previous
// export atomically. ExportedAt and MessageCount are stamped here.
func (s *JournalStore) ExportSession(sessionID string, name *string, createdAt string, messages []JournalMessage) (string, error) {
	export := JournalExport{
		SessionID:    sessionID,
		Name:         name,
		CreatedAt:    createdAt,
		ExportedAt:   time.Now().UTC().Format(timestampLayout),
		MessageCount: len(messages),
		Messages:     messages,
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return "", apperrors.StorageUnavailable("failed to encode session export", err)
	}

	target := s.sessionPath(sessionID)
	tmp, err := os.CreateTemp(s.root, "_export.tmp-*")
	if err != nil {
		return "", apperrors.StorageUnavailable("failed to create temp export", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", apperrors.StorageUnavailable("failed to write temp export", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", apperrors.StorageUnavailable("failed to close temp export", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		return "", apperrors.StorageUnavailable("failed to replace session export", err)
	}

	s.logger.Info("Exported session", "session_id", sessionID, "messages", len(messages), "path", target)
	return target, nil
}

// GetSession loads an exported session.
func (s *JournalStore) GetSession(sessionID string) (*JournalExport, error) {
	data, err := os.ReadFile(s.sessionPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NotFound("session export", sessionID)
		}
		return nil, apperrors.StorageUnavailable("failed to read session export", err)
	}

	var export JournalExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, apperrors.StorageUnavailable("session export is corrupt", err)
	}
	return &export, nil
}

// Exists reports whether an export is present for the session.
func (s *JournalStore) Exists(sessionID string) bool {
	_, err := os.Stat(s.sessionPath(sessionID))
	return err == nil
}

// DeleteSession removes an export. Returns false when none existed.
func (s *JournalStore) DeleteSession(sessionID string) (bool, error) {
	err := os.Remove(s.sessionPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, apperrors.StorageUnavailable("failed to delete session export", err)
	}
	s.logger.Info("Deleted session export", "session_id", sessionID)
	return true, nil
}

// ListSessions returns export summaries, newest first by exported_at.
// Unreadable files are skipped with a warning.
func (s *JournalStore) ListSessions() ([]JournalInfo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, apperrors.StorageUnavailable("failed to read journal storage directory", err)
	}

	sessions := make([]JournalInfo, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, "_") || !strings.HasSuffix(name, ".json") {
			continue
		}

		path := filepath.Join(s.root, name)
		data, err := os.ReadFile(path) // #nosec G304 -- path is inside the store root
		if err != nil {
			s.logger.Warn("Failed to read session export", "path", path, "error", err.Error())
			continue
		}

		var export JournalExport
		if err := json.Unmarshal(data, &export); err != nil {
			s.logger.Warn("Skipping corrupt session export", "path", path, "error", err.Error())
			continue
		}

		sessionID := export.SessionID
		if sessionID == "" {
			sessionID = strings.TrimSuffix(name, ".json")
		}
		sessions = append(sessions, JournalInfo{
			SessionID:    sessionID,
			Name:         export.Name,
			MessageCount: export.MessageCount,
			ExportedAt:   export.ExportedAt,
			StoragePath:  path,
		})
	}

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ExportedAt > sessions[j].ExportedAt })
	return sessions, nil
}

// GetSessionText renders an export in the canonical text form used both
// for embedding and for direct context injection.
func (s *JournalStore) GetSessionText(sessionID string) (string, error) {
	export, err := s.GetSession(sessionID)
	if err != nil {
		return "", err
	}
	return FormatSessionText(export.Name, export.Messages), nil
}

// FormatSessionText is the canonical session-to-text rendering:
//
//	Session: <name>
//
//	[USER] ...
//
//	[ASSISTANT] ...
func FormatSessionText(name *string, messages []JournalMessage) string {
	parts := make([]string, 0, len(messages)+1)
	if name != nil && *name != "" {
		parts = append(parts, "Session: "+*name)
	}
	for _, msg := range messages {
		parts = append(parts, fmt.Sprintf("[%s] %s", strings.ToUpper(msg.Role), msg.Content))
	}
	return strings.Join(parts, "\n\n")
}
