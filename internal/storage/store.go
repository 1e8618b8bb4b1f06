// Package storage implements the durable chat history gateway backed by
// libsql. The schema mirrors the original template's messages table with an
// added failure marker for partial responses.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/wesh92/fastapi-websockets-llm-example/internal/chat"
)

var logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "storage"})

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	failed INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
`

// Store persists conversation turns keyed by session identifier. Appends are
// committed before returning, so an acknowledged write survives a crash.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("libsql", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logger.Debug("chat history database ready", "path", path)
	return &Store{db: db}, nil
}

// Append durably records one turn at the end of the session's history.
func (s *Store) Append(ctx context.Context, sessionID string, turn chat.Turn) error {
	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, failed, created_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, string(turn.Role), turn.Content, boolToInt(turn.Failed), createdAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append turn for session %s: %w", sessionID, err)
	}
	return nil
}

// Load returns the session's turns in append order. An unknown session
// yields an empty slice.
func (s *Store) Load(ctx context.Context, sessionID string) ([]chat.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, failed, created_at FROM messages WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	turns := []chat.Turn{}
	for rows.Next() {
		var (
			role      string
			content   string
			failed    int
			createdAt time.Time
		)
		if err := rows.Scan(&role, &content, &failed, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, chat.Turn{
			Role:      chat.Role(role),
			Content:   content,
			Failed:    failed != 0,
			CreatedAt: createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history for session %s: %w", sessionID, err)
	}
	return turns, nil
}

// Clear removes a session's persisted history.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to clear session %s: %w", sessionID, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
