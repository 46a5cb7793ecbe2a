// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides chat entity persistence with automatic schema creation

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// Write transactions take the write lock at BEGIN so that the
	// read-modify-write on conversation summaries never interleaves.
	// The pragmas ride the DSN so they apply to every pooled connection,
	// not just the one a plain Exec happens to land on: busy_timeout makes
	// racing writers wait for the lock instead of failing, foreign_keys
	// and WAL are re-applied on each connection.
	dsn := path + "?_txlock=immediate" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			nickname      TEXT NOT NULL,
			avatar        TEXT,
			email         TEXT,
			phone         TEXT,
			created_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS client_users (
			id            TEXT PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			nickname      TEXT NOT NULL,
			avatar        TEXT,
			email         TEXT,
			phone         TEXT,
			created_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS managed_accounts (
			id               TEXT PRIMARY KEY,
			owner_id         TEXT NOT NULL REFERENCES users(id),
			username         TEXT NOT NULL,
			nickname         TEXT NOT NULL,
			avatar           TEXT,
			status           TEXT NOT NULL DEFAULT 'offline',
			last_active_time TEXT,
			created_at       TEXT NOT NULL,

			CHECK (status IN ('online', 'offline'))
		);

		CREATE INDEX IF NOT EXISTS idx_managed_accounts_owner ON managed_accounts(owner_id);

		CREATE TABLE IF NOT EXISTS friend_links (
			id                 TEXT PRIMARY KEY,
			managed_account_id TEXT NOT NULL REFERENCES managed_accounts(id),
			client_user_id     TEXT NOT NULL REFERENCES client_users(id),
			remark             TEXT,
			status             TEXT NOT NULL DEFAULT 'offline',
			last_message       TEXT,
			last_message_time  TEXT,
			unread_count       INTEGER NOT NULL DEFAULT 0,
			created_at         TEXT NOT NULL,

			UNIQUE (managed_account_id, client_user_id),
			CHECK (status IN ('online', 'offline'))
		);

		CREATE INDEX IF NOT EXISTS idx_friend_links_account ON friend_links(managed_account_id);

		CREATE TABLE IF NOT EXISTS conversations (
			id                 TEXT PRIMARY KEY,
			type               TEXT NOT NULL,
			name               TEXT NOT NULL,
			avatar             TEXT,
			participants       TEXT NOT NULL,
			managed_account_id TEXT REFERENCES managed_accounts(id),
			last_message       TEXT,
			last_message_time  TEXT,
			unread_count       INTEGER NOT NULL DEFAULT 0,
			created_at         TEXT NOT NULL,

			CHECK (type IN ('private', 'group'))
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_account ON conversations(managed_account_id);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			sender_id       TEXT NOT NULL,
			sender_name     TEXT NOT NULL,
			sender_avatar   TEXT,
			content         TEXT NOT NULL,
			type            TEXT NOT NULL DEFAULT 'text',
			timestamp       TEXT NOT NULL,
			read            INTEGER NOT NULL DEFAULT 0,

			CHECK (type IN ('text', 'image', 'file', 'system'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a SQLite unique constraint failure
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// formatTime serializes a timestamp for storage
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime deserializes a stored timestamp
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// formatTimePtr serializes an optional timestamp, returning nil for nil
func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// parseTimePtr deserializes an optional stored timestamp
func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// nullable converts an empty string to NULL for storage
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
