package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/certline/messenger/internal/proto"
	"github.com/certline/messenger/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS session (
	id        INTEGER PRIMARY KEY CHECK (id = 1),
	token     TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	full_name TEXT NOT NULL DEFAULT '',
	role      TEXT NOT NULL DEFAULT '',
	saved_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY,
	content     TEXT NOT NULL DEFAULT '',
	sender_id   TEXT NOT NULL,
	sender_name TEXT NOT NULL DEFAULT '',
	sender_role TEXT NOT NULL DEFAULT '',
	sender_type TEXT NOT NULL,
	receiver    TEXT NOT NULL,
	read        INTEGER NOT NULL DEFAULT 0,
	read_at     TEXT,
	created_at  TEXT NOT NULL,
	attachments TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);
`

// New opens (and if needed creates) the local cache database at dbPath.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== SessionStore implementation ====

// SaveSession replaces the stored session.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess store.Session) error {
	query := `
		INSERT INTO session (id, token, user_id, full_name, role, saved_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			token = excluded.token,
			user_id = excluded.user_id,
			full_name = excluded.full_name,
			role = excluded.role,
			saved_at = excluded.saved_at
	`
	savedAt := sess.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}
	if _, err := s.db.ExecContext(ctx, query,
		sess.Token, sess.UserID, sess.FullName, sess.Role, savedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Session returns the stored session, or store.ErrNotFound when logged out.
func (s *SQLiteStore) Session(ctx context.Context) (*store.Session, error) {
	query := `SELECT token, user_id, full_name, role, saved_at FROM session WHERE id = 1`

	var sess store.Session
	var savedAt string
	err := s.db.QueryRowContext(ctx, query).Scan(
		&sess.Token, &sess.UserID, &sess.FullName, &sess.Role, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}

	if ts, parseErr := time.Parse(time.RFC3339Nano, savedAt); parseErr == nil {
		sess.SavedAt = ts
	}
	return &sess, nil
}

// ClearSession removes the stored session.
func (s *SQLiteStore) ClearSession(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session WHERE id = 1`); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// ==== MessageCache implementation ====

// ReplaceSnapshot atomically swaps the cached log for the given one.
func (s *SQLiteStore) ReplaceSnapshot(ctx context.Context, msgs []proto.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	insert := `
		INSERT INTO messages (id, content, sender_id, sender_name, sender_role,
			sender_type, receiver, read, read_at, created_at, attachments)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, m := range msgs {
		attachments, err := json.Marshal(m.Attachments)
		if err != nil {
			return fmt.Errorf("marshal attachments: %w", err)
		}
		var readAt any
		if m.ReadAt != nil {
			readAt = m.ReadAt.UTC().Format(time.RFC3339Nano)
		}
		if _, err := tx.ExecContext(ctx, insert,
			m.ID, m.Content, m.Sender.ID, m.Sender.FullName, m.Sender.Role,
			m.SenderType, m.Receiver, boolToInt(m.Read), readAt,
			m.CreatedAt.UTC().Format(time.RFC3339Nano), string(attachments)); err != nil {
			return fmt.Errorf("insert message %s: %w", m.ID, err)
		}
	}

	return tx.Commit()
}

// Snapshot returns the cached log in chronological order.
func (s *SQLiteStore) Snapshot(ctx context.Context) ([]proto.Message, error) {
	query := `
		SELECT id, content, sender_id, sender_name, sender_role, sender_type,
			receiver, read, read_at, created_at, attachments
		FROM messages
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	var msgs []proto.Message
	for rows.Next() {
		var m proto.Message
		var read int
		var readAt sql.NullString
		var createdAt, attachments string
		if err := rows.Scan(&m.ID, &m.Content, &m.Sender.ID, &m.Sender.FullName,
			&m.Sender.Role, &m.SenderType, &m.Receiver, &read, &readAt,
			&createdAt, &attachments); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Read = read != 0
		if readAt.Valid {
			if ts, parseErr := time.Parse(time.RFC3339Nano, readAt.String); parseErr == nil {
				m.ReadAt = &ts
			}
		}
		if ts, parseErr := time.Parse(time.RFC3339Nano, createdAt); parseErr == nil {
			m.CreatedAt = ts
		}
		if err := json.Unmarshal([]byte(attachments), &m.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshal attachments: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkRead flips the read flag on one cached message. No-op if absent.
func (s *SQLiteStore) MarkRead(ctx context.Context, messageID string, readAt time.Time) error {
	query := `UPDATE messages SET read = 1, read_at = ? WHERE id = ? AND read = 0`
	if _, err := s.db.ExecContext(ctx, query,
		readAt.UTC().Format(time.RFC3339Nano), messageID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
