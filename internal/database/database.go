// Package database is the durable transcript archive. Sessions live in
// memory while active; evicted sessions are flushed here so transcripts
// survive restarts and TTL expiry.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"souschef/internal/models"
)

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
}

// New opens the sqlite archive at path. The file is created on first use.
func New(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc sqlite serializes writes itself; one writer connection
	// avoids SQLITE_BUSY under concurrent evictions.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("✅ SQLite archive connected")

	return &DB{db}, nil
}

// Initialize creates all required tables
func (db *DB) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id          TEXT PRIMARY KEY,
		preferences TEXT NOT NULL DEFAULT '{}',
		created_at  TIMESTAMP NOT NULL,
		archived_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id         TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		agent_used TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		seq        INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
	CREATE INDEX IF NOT EXISTS idx_sessions_archived ON sessions(archived_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	log.Println("✅ Database initialized successfully")
	return nil
}

// ArchiveSession persists a full session transcript. Re-archiving the
// same session replaces the previous copy, so repeated evictions of a
// revived session stay consistent.
func (db *DB) ArchiveSession(ctx context.Context, session *models.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("cannot archive empty session")
	}

	prefs, err := json.Marshal(session.Preferences)
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, preferences, created_at, archived_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			preferences = excluded.preferences,
			archived_at = excluded.archived_at
	`, session.ID, string(prefs), session.CreatedAt, time.Now()); err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, session.ID); err != nil {
		return fmt.Errorf("failed to clear old transcript: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, agent_used, confidence, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, msg := range session.Messages {
		if _, err := stmt.ExecContext(ctx, msg.ID, session.ID, string(msg.Role), msg.Content,
			msg.AgentUsed, msg.Confidence, msg.Timestamp, i); err != nil {
			return fmt.Errorf("failed to insert message %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// LoadTranscript returns an archived session, or nil when none exists
func (db *DB) LoadTranscript(ctx context.Context, sessionID string) (*models.Session, error) {
	var prefs string
	session := &models.Session{ID: sessionID}

	err := db.QueryRowContext(ctx, `
		SELECT preferences, created_at FROM sessions WHERE id = ?
	`, sessionID).Scan(&prefs, &session.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if err := json.Unmarshal([]byte(prefs), &session.Preferences); err != nil {
		return nil, fmt.Errorf("failed to decode preferences: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, role, content, agent_used, confidence, created_at
		FROM messages WHERE session_id = ? ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg models.Message
		var role string
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &msg.AgentUsed, &msg.Confidence, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = models.Role(role)
		session.Messages = append(session.Messages, msg)
	}
	return session, rows.Err()
}

// DeleteSession removes an archived session and its transcript
func (db *DB) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// PruneBefore drops sessions archived before cutoff. Returns the number
// of sessions removed.
func (db *DB) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if _, err := db.ExecContext(ctx, `
		DELETE FROM messages WHERE session_id IN (
			SELECT id FROM sessions WHERE archived_at < ?
		)
	`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to prune transcripts: %w", err)
	}

	res, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE archived_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	return res.RowsAffected()
}
