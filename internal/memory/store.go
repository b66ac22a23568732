// Package memory provides the durable conversation log. Each owner's
// turns are appended in order and read back through a fixed-size window
// of the most recent turns.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DefaultWindow is the number of turns returned by [Store.History] when
// no window is configured.
const DefaultWindow = 40

// Conversation roles persisted in the log. Intermediate tool exchanges
// are never stored.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one stored message. Turns are immutable once appended.
type Turn struct {
	Sequence  int64     `json:"sequence"`
	OwnerKey  string    `json:"owner_key"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a SQLite-backed, append-only conversation log.
type Store struct {
	db     *sql.DB
	window int
}

// NewStore creates a conversation store over db. A window of zero or
// less selects [DefaultWindow].
func NewStore(db *sql.DB, window int) (*Store, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	s := &Store{db: db, window: window}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate messages: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_key  TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_owner ON messages(owner_key, id);
	`)
	return err
}

// Append stores a new turn for owner and returns it with its sequence
// number assigned.
func (s *Store) Append(ctx context.Context, owner, role, content string) (*Turn, error) {
	if role != RoleUser && role != RoleAssistant {
		return nil, fmt.Errorf("invalid role %q", role)
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (owner_key, role, content, created_at)
		VALUES (?, ?, ?, ?)
	`, owner, role, content, now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message sequence: %w", err)
	}

	return &Turn{
		Sequence:  seq,
		OwnerKey:  owner,
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}, nil
}

// History returns the owner's most recent turns, at most the configured
// window, in chronological order.
func (s *Store) History(ctx context.Context, owner string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_key, role, content, created_at FROM (
			SELECT id, owner_key, role, content, created_at
			FROM messages
			WHERE owner_key = ?
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC
	`, owner, s.window)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			t         Turn
			createdAt string
		)
		if err := rows.Scan(&t.Sequence, &t.OwnerKey, &t.Role, &t.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Clear deletes every turn for owner and returns how many were removed.
func (s *Store) Clear(ctx context.Context, owner string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE owner_key = ?`, owner)
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	return n, nil
}
