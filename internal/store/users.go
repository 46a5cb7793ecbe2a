// ABOUTME: User persistence for managers and client users
// ABOUTME: The two identity spaces live in separate tables and never share IDs

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateUser persists a manager account.
// Returns ErrDuplicateUsername if the username is taken.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, username, password_hash, nickname, avatar, email, phone, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.PasswordHash,
		user.Nickname,
		nullable(user.Avatar),
		nullable(user.Email),
		nullable(user.Phone),
		formatTime(user.CreatedAt),
	)
	if isUniqueViolation(err) {
		return ErrDuplicateUsername
	}
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// GetUser retrieves a manager by ID
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.getUserBy(ctx, "id", id)
}

// GetUserByUsername retrieves a manager by username
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.getUserBy(ctx, "username", username)
}

func (s *SQLiteStore) getUserBy(ctx context.Context, column, value string) (*User, error) {
	query := fmt.Sprintf(`
		SELECT id, username, password_hash, nickname, avatar, email, phone, created_at
		FROM users WHERE %s = ?
	`, column)

	user, err := scanUser(s.db.QueryRowContext(ctx, query, value))
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return user, nil
}

// CreateClientUser persists a client user.
// Returns ErrDuplicateUsername if the username is taken.
func (s *SQLiteStore) CreateClientUser(ctx context.Context, user *ClientUser) error {
	query := `
		INSERT INTO client_users (id, username, password_hash, nickname, avatar, email, phone, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.PasswordHash,
		user.Nickname,
		nullable(user.Avatar),
		nullable(user.Email),
		nullable(user.Phone),
		formatTime(user.CreatedAt),
	)
	if isUniqueViolation(err) {
		return ErrDuplicateUsername
	}
	if err != nil {
		return fmt.Errorf("inserting client user: %w", err)
	}
	return nil
}

// GetClientUser retrieves a client user by ID
func (s *SQLiteStore) GetClientUser(ctx context.Context, id string) (*ClientUser, error) {
	return s.getClientUserBy(ctx, "id", id)
}

// GetClientUserByUsername retrieves a client user by username
func (s *SQLiteStore) GetClientUserByUsername(ctx context.Context, username string) (*ClientUser, error) {
	return s.getClientUserBy(ctx, "username", username)
}

func (s *SQLiteStore) getClientUserBy(ctx context.Context, column, value string) (*ClientUser, error) {
	query := fmt.Sprintf(`
		SELECT id, username, password_hash, nickname, avatar, email, phone, created_at
		FROM client_users WHERE %s = ?
	`, column)

	user, err := scanClientUser(s.db.QueryRowContext(ctx, query, value))
	if err != nil {
		return nil, fmt.Errorf("querying client user: %w", err)
	}
	return user, nil
}

// ListClientUsers returns every client user, newest first
func (s *SQLiteStore) ListClientUsers(ctx context.Context) ([]*ClientUser, error) {
	query := `
		SELECT id, username, password_hash, nickname, avatar, email, phone, created_at
		FROM client_users ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing client users: %w", err)
	}
	defer rows.Close()

	var users []*ClientUser
	for rows.Next() {
		user, err := scanClientUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning client user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan helpers
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		user                 User
		avatar, email, phone sql.NullString
		createdAt            string
	)
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Nickname,
		&avatar, &email, &phone, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	user.Avatar = avatar.String
	user.Email = email.String
	user.Phone = phone.String
	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &user, nil
}

func scanClientUser(row rowScanner) (*ClientUser, error) {
	user, err := scanUser(row)
	if err != nil {
		return nil, err
	}
	return (*ClientUser)(user), nil
}
