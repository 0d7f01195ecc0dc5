// Package store provides the relational session and transcript store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/linguabridge/linguabridge/pkg/types"
)

var (
	ErrNotFound = errors.New("not found")
)

// Store persists sessions and their append-only transcripts in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// New opens (or creates) the database under dataDir and runs migrations.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "linguabridge.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		topic TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_active ON sessions(active, created_at DESC);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		message_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, sess *types.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, topic, active, created_at)
		VALUES (?, ?, ?, ?)
	`, sess.ID, sess.Topic, sess.Active, sess.CreatedAt)
	return err
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*types.Session, error) {
	var sess types.Session
	err := s.db.QueryRowContext(ctx, `
		SELECT id, topic, active, created_at FROM sessions WHERE id = ?
	`, id).Scan(&sess.ID, &sess.Topic, &sess.Active, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// LatestActive returns the most recently created active session, or
// ErrNotFound when no session is active.
func (s *Store) LatestActive(ctx context.Context) (*types.Session, error) {
	var sess types.Session
	err := s.db.QueryRowContext(ctx, `
		SELECT id, topic, active, created_at FROM sessions
		WHERE active = 1 ORDER BY created_at DESC, id DESC LIMIT 1
	`).Scan(&sess.ID, &sess.Topic, &sess.Active, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// DeactivateAll clears the active flag on every session. Starting a new
// session calls this first so the single-active invariant holds.
func (s *Store) DeactivateAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET active = 0 WHERE active = 1`)
	return err
}

// Deactivate clears the active flag on one session.
func (s *Store) Deactivate(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET active = 0 WHERE id = ?`, id)
	return err
}

// Activate sets the active flag on one session. Callers deactivate the rest
// first so the single-active invariant holds.
func (s *Store) Activate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET active = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage appends a transcript message and fills in its Seq.
// Messages are immutable once written; there is no update path.
func (s *Store) AppendMessage(ctx context.Context, msg *types.Message) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (session_id, role, text, message_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.SessionID, msg.Role, msg.Text, msg.MessageID, msg.CreatedAt)
	if err != nil {
		return err
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return err
	}
	msg.Seq = seq
	return nil
}

// Messages returns the full transcript of a session in insertion order.
func (s *Store) Messages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, session_id, role, text, message_id, created_at
		FROM messages WHERE session_id = ? ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*types.Message
	for rows.Next() {
		var msg types.Message
		if err := rows.Scan(&msg.Seq, &msg.SessionID, &msg.Role, &msg.Text, &msg.MessageID, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// CountMessages returns the number of transcript messages in a session.
func (s *Store) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE session_id = ?
	`, sessionID).Scan(&n)
	return n, err
}
