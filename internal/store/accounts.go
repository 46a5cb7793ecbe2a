// ABOUTME: Persistence for managed accounts and friend links
// ABOUTME: Friend links enforce the at-most-one-link-per-pair invariant

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateManagedAccount persists a managed account for a manager
func (s *SQLiteStore) CreateManagedAccount(ctx context.Context, account *ManagedAccount) error {
	if account.Status == "" {
		account.Status = StatusOffline
	}
	query := `
		INSERT INTO managed_accounts (id, owner_id, username, nickname, avatar, status, last_active_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		account.ID,
		account.OwnerID,
		account.Username,
		account.Nickname,
		nullable(account.Avatar),
		string(account.Status),
		formatTimePtr(account.LastActiveTime),
		formatTime(account.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting managed account: %w", err)
	}
	return nil
}

// GetManagedAccount retrieves a managed account by ID
func (s *SQLiteStore) GetManagedAccount(ctx context.Context, id string) (*ManagedAccount, error) {
	query := `
		SELECT id, owner_id, username, nickname, avatar, status, last_active_time, created_at
		FROM managed_accounts WHERE id = ?
	`
	account, err := scanManagedAccount(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("querying managed account: %w", err)
	}
	return account, nil
}

// ListManagedAccounts returns the accounts owned by a manager, newest first
func (s *SQLiteStore) ListManagedAccounts(ctx context.Context, ownerID string) ([]*ManagedAccount, error) {
	query := `
		SELECT id, owner_id, username, nickname, avatar, status, last_active_time, created_at
		FROM managed_accounts WHERE owner_id = ? ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing managed accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*ManagedAccount
	for rows.Next() {
		account, err := scanManagedAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning managed account: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// CreateFriendLink links a client user to a managed account.
// Returns ErrDuplicateFriend if the pair is already linked.
func (s *SQLiteStore) CreateFriendLink(ctx context.Context, link *FriendLink) error {
	if link.Status == "" {
		link.Status = StatusOffline
	}
	query := `
		INSERT INTO friend_links (id, managed_account_id, client_user_id, remark, status,
			last_message, last_message_time, unread_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		link.ID,
		link.ManagedAccountID,
		link.ClientUserID,
		nullable(link.Remark),
		string(link.Status),
		nullable(link.LastMessage),
		formatTimePtr(link.LastMessageTime),
		link.UnreadCount,
		formatTime(link.CreatedAt),
	)
	if isUniqueViolation(err) {
		return ErrDuplicateFriend
	}
	if err != nil {
		return fmt.Errorf("inserting friend link: %w", err)
	}
	return nil
}

// GetFriendLink retrieves a friend link by ID
func (s *SQLiteStore) GetFriendLink(ctx context.Context, id string) (*FriendLink, error) {
	query := `
		SELECT id, managed_account_id, client_user_id, remark, status,
			last_message, last_message_time, unread_count, created_at
		FROM friend_links WHERE id = ?
	`
	link, err := scanFriendLink(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("querying friend link: %w", err)
	}
	return link, nil
}

// ListFriendLinks returns a managed account's friend links, most recently active first
func (s *SQLiteStore) ListFriendLinks(ctx context.Context, managedAccountID string) ([]*FriendLink, error) {
	query := `
		SELECT id, managed_account_id, client_user_id, remark, status,
			last_message, last_message_time, unread_count, created_at
		FROM friend_links WHERE managed_account_id = ?
		ORDER BY last_message_time DESC, created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, managedAccountID)
	if err != nil {
		return nil, fmt.Errorf("listing friend links: %w", err)
	}
	defer rows.Close()

	var links []*FriendLink
	for rows.Next() {
		link, err := scanFriendLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning friend link: %w", err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

func scanManagedAccount(row rowScanner) (*ManagedAccount, error) {
	var (
		account            ManagedAccount
		avatar, lastActive sql.NullString
		status, createdAt  string
	)
	err := row.Scan(&account.ID, &account.OwnerID, &account.Username, &account.Nickname,
		&avatar, &status, &lastActive, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	account.Avatar = avatar.String
	account.Status = PresenceStatus(status)
	if account.LastActiveTime, err = parseTimePtr(lastActive); err != nil {
		return nil, err
	}
	if account.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &account, nil
}

func scanFriendLink(row rowScanner) (*FriendLink, error) {
	var (
		link                      FriendLink
		remark, lastMsg, lastTime sql.NullString
		status, createdAt         string
	)
	err := row.Scan(&link.ID, &link.ManagedAccountID, &link.ClientUserID, &remark, &status,
		&lastMsg, &lastTime, &link.UnreadCount, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	link.Remark = remark.String
	link.Status = PresenceStatus(status)
	link.LastMessage = lastMsg.String
	if link.LastMessageTime, err = parseTimePtr(lastTime); err != nil {
		return nil, err
	}
	if link.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &link, nil
}
