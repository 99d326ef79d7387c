// Package sessionstore provides the transactional SQLite store of chat
// sessions and their message history. It is the system of record for
// conversations; the Journal vector collection is derived from it.
package sessionstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	apperrors "localmind/internal/errors"
	"localmind/internal/logging"
)

// Session is one chat session row.
type Session struct {
	SessionID    string
	Name         *string
	CreatedAt    string
	LastActivity string
	MessageCount int
	IngestedAt   *string
}

// Message is one chat message row.
type Message struct {
	ID        int64
	SessionID string
	Role      string
	Content   string
	Timestamp string
}

// SessionWithMessages bundles a session and its ordered history.
type SessionWithMessages struct {
	Session
	Messages []Message
}

// Store wraps the SQLite database. Writes serialize at the database;
// readers are unconstrained.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

// New opens (creating if needed) the session database and applies the
// schema. Migrations are additive only, guarded by a column-presence
// check.
func New(dbPath string, logger logging.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, apperrors.StorageUnavailable("failed to create session db directory", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, apperrors.StorageUnavailable("failed to open session database", err)
	}

	s := &Store{db: db, logger: logger.WithComponent("session_store")}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.logger.Info("Session store initialized", "path", dbPath)
	return s, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			name TEXT,
			created_at TEXT NOT NULL,
			last_activity TEXT NOT NULL,
			message_count INTEGER DEFAULT 0,
			ingested_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_last_activity ON sessions(last_activity DESC)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(session_id, timestamp)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return apperrors.StorageUnavailable("failed to apply session schema", err)
		}
	}

	// Databases created before the watermark existed gain the column here.
	hasIngestedAt, err := s.hasColumn("sessions", "ingested_at")
	if err != nil {
		return err
	}
	if !hasIngestedAt {
		if _, err := s.db.Exec(`ALTER TABLE sessions ADD COLUMN ingested_at TEXT`); err != nil {
			return apperrors.StorageUnavailable("failed to add ingested_at column", err)
		}
		s.logger.Info("Migrated sessions table: added ingested_at column")
	}
	return nil
}

func (s *Store) hasColumn(table, column string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, apperrors.StorageUnavailable("failed to inspect table schema", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return false, apperrors.StorageUnavailable("failed to scan table schema", err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// timestampLayout has a fixed-width fraction so persisted timestamps
// order lexicographically the same as chronologically; the staleness
// check compares them as strings.
const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

func nowUTC() string {
	return time.Now().UTC().Format(timestampLayout)
}

// UpsertSession creates the session if absent, otherwise advances
// last_activity and optionally renames it.
func (s *Store) UpsertSession(ctx context.Context, sessionID string, name *string) error {
	if sessionID == "" {
		return apperrors.Validation("session_id must not be empty")
	}
	now := nowUTC()

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE session_id = ?`, sessionID).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO sessions (session_id, name, created_at, last_activity, message_count) VALUES (?, ?, ?, ?, 0)`,
			sessionID, name, now, now)
		if err != nil {
			return apperrors.StorageUnavailable("failed to insert session", err)
		}
		return nil
	case err != nil:
		return apperrors.StorageUnavailable("failed to look up session", err)
	}

	if name != nil {
		_, err = s.db.ExecContext(ctx, `UPDATE sessions SET last_activity = ?, name = ? WHERE session_id = ?`, now, *name, sessionID)
	} else {
		_, err = s.db.ExecContext(ctx, `UPDATE sessions SET last_activity = ? WHERE session_id = ?`, now, sessionID)
	}
	if err != nil {
		return apperrors.StorageUnavailable("failed to touch session", err)
	}
	return nil
}

// AddMessage appends a message in a single transaction that also
// increments message_count and advances last_activity.
func (s *Store) AddMessage(ctx context.Context, sessionID, role, content string, timestamp *string) (int64, error) {
	if role != "user" && role != "assistant" {
		return 0, apperrors.Validation(fmt.Sprintf("invalid role %q", role))
	}

	ts := nowUTC()
	if timestamp != nil && *timestamp != "" {
		ts = *timestamp
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperrors.StorageUnavailable("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, timestamp) VALUES (?, ?, ?, ?)`,
		sessionID, role, content, ts)
	if err != nil {
		return 0, apperrors.StorageUnavailable("failed to insert message", err)
	}
	messageID, err := res.LastInsertId()
	if err != nil {
		return 0, apperrors.StorageUnavailable("failed to read message id", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET message_count = message_count + 1, last_activity = ? WHERE session_id = ?`,
		nowUTC(), sessionID); err != nil {
		return 0, apperrors.StorageUnavailable("failed to update session counters", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, apperrors.StorageUnavailable("failed to commit message", err)
	}
	return messageID, nil
}

// GetSession returns a session row.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, name, created_at, last_activity, message_count, ingested_at FROM sessions WHERE session_id = ?`,
		sessionID)

	var sess Session
	err := row.Scan(&sess.SessionID, &sess.Name, &sess.CreatedAt, &sess.LastActivity, &sess.MessageCount, &sess.IngestedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("session", sessionID)
	}
	if err != nil {
		return nil, apperrors.StorageUnavailable("failed to read session", err)
	}
	return &sess, nil
}

// GetMessages returns all messages ordered by (timestamp, id), so ties
// fall back to insertion order.
func (s *Store) GetMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, timestamp FROM messages WHERE session_id = ? ORDER BY timestamp ASC, id ASC`,
		sessionID)
	if err != nil {
		return nil, apperrors.StorageUnavailable("failed to query messages", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, apperrors.StorageUnavailable("failed to scan message", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.StorageUnavailable("failed to iterate messages", err)
	}
	return messages, nil
}

// GetSessionWithMessages returns a session and its ordered history.
func (s *Store) GetSessionWithMessages(ctx context.Context, sessionID string) (*SessionWithMessages, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	messages, err := s.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionWithMessages{Session: *sess, Messages: messages}, nil
}

// GetFirstUserMessage returns the content of the earliest user message.
func (s *Store) GetFirstUserMessage(ctx context.Context, sessionID string) (string, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT content FROM messages WHERE session_id = ? AND role = 'user' ORDER BY timestamp ASC, id ASC LIMIT 1`,
		sessionID)

	var content string
	err := row.Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperrors.NotFound("user message", sessionID)
	}
	if err != nil {
		return "", apperrors.StorageUnavailable("failed to read first user message", err)
	}
	return content, nil
}

// ListSessions returns sessions ordered by last activity, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, name, created_at, last_activity, message_count, ingested_at
		 FROM sessions ORDER BY last_activity DESC LIMIT ?`, limit)
	if err != nil {
		return nil, apperrors.StorageUnavailable("failed to list sessions", err)
	}
	defer func() { _ = rows.Close() }()

	return scanSessions(rows)
}

// DeleteSession removes the session and cascades to its messages.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	// Explicit message delete keeps behavior identical even when the
	// connection was opened without foreign keys enabled.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return false, apperrors.StorageUnavailable("failed to delete messages", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return false, apperrors.StorageUnavailable("failed to delete session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.StorageUnavailable("failed to count deleted rows", err)
	}
	return n > 0, nil
}

// DeleteMessages removes all messages but keeps the session row.
func (s *Store) DeleteMessages(ctx context.Context, sessionID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, apperrors.StorageUnavailable("failed to delete messages", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.StorageUnavailable("failed to count deleted rows", err)
	}
	return n, nil
}

// SetSessionName renames a session.
func (s *Store) SetSessionName(ctx context.Context, sessionID, name string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET name = ? WHERE session_id = ?`, name, sessionID)
	if err != nil {
		return apperrors.StorageUnavailable("failed to set session name", err)
	}
	return nil
}

// SetIngestedAt stamps the ingestion watermark. A nil timestamp means
// now.
func (s *Store) SetIngestedAt(ctx context.Context, sessionID string, timestamp *string) error {
	ts := nowUTC()
	if timestamp != nil && *timestamp != "" {
		ts = *timestamp
	}
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET ingested_at = ? WHERE session_id = ?`, ts, sessionID)
	if err != nil {
		return apperrors.StorageUnavailable("failed to set ingested_at", err)
	}
	return nil
}

// ClearIngestedAt marks the session as never ingested.
func (s *Store) ClearIngestedAt(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET ingested_at = NULL WHERE session_id = ?`, sessionID)
	if err != nil {
		return apperrors.StorageUnavailable("failed to clear ingested_at", err)
	}
	return nil
}

// HasNewMessagesSinceIngest reports whether the session is stale for
// ingest: it has messages and was never ingested, or has activity newer
// than the watermark. Unknown sessions report false.
func (s *Store) HasNewMessagesSinceIngest(ctx context.Context, sessionID string) (bool, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	if sess.MessageCount == 0 {
		return false, nil
	}
	if sess.IngestedAt == nil {
		return true, nil
	}
	return sess.LastActivity > *sess.IngestedAt, nil
}

// GetSessionsNeedingIngest lists stale sessions, most recently active
// first.
func (s *Store) GetSessionsNeedingIngest(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, name, created_at, last_activity, message_count, ingested_at
		 FROM sessions
		 WHERE message_count > 0 AND (ingested_at IS NULL OR last_activity > ingested_at)
		 ORDER BY last_activity DESC LIMIT ?`, limit)
	if err != nil {
		return nil, apperrors.StorageUnavailable("failed to query stale sessions", err)
	}
	defer func() { _ = rows.Close() }()

	return scanSessions(rows)
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.StorageUnavailable("session database unreachable", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanSessions(rows *sql.Rows) ([]Session, error) {
	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.SessionID, &sess.Name, &sess.CreatedAt, &sess.LastActivity, &sess.MessageCount, &sess.IngestedAt); err != nil {
			return nil, apperrors.StorageUnavailable("failed to scan session", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.StorageUnavailable("failed to iterate sessions", err)
	}
	return sessions, nil
}
