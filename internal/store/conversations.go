// ABOUTME: Conversation persistence including participant membership queries
// ABOUTME: Participants are stored as a JSON array; summaries live on the conversation row

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// CreateConversation persists a conversation
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	participants, err := json.Marshal(conv.Participants)
	if err != nil {
		return fmt.Errorf("encoding participants: %w", err)
	}
	query := `
		INSERT INTO conversations (id, type, name, avatar, participants, managed_account_id,
			last_message, last_message_time, unread_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		conv.ID,
		string(conv.Type),
		conv.Name,
		nullable(conv.Avatar),
		string(participants),
		nullable(conv.ManagedAccountID),
		nullable(conv.LastMessage),
		formatTimePtr(conv.LastMessageTime),
		conv.UnreadCount,
		formatTime(conv.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation by ID
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := selectConversation + ` WHERE id = ?`
	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// FindPrivateConversation looks up the private conversation between a managed
// account and a client user. Returns ErrNotFound if none exists yet.
func (s *SQLiteStore) FindPrivateConversation(ctx context.Context, managedAccountID, clientUserID string) (*Conversation, error) {
	participants, err := json.Marshal([]string{clientUserID})
	if err != nil {
		return nil, fmt.Errorf("encoding participants: %w", err)
	}
	query := selectConversation + `
		WHERE type = 'private' AND managed_account_id = ? AND participants = ?
	`
	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, managedAccountID, string(participants)))
	if err != nil {
		return nil, fmt.Errorf("querying private conversation: %w", err)
	}
	return conv, nil
}

// ListConversationsForAccount returns a managed account's conversations, most
// recently active first. An empty managedAccountID selects conversations not
// tied to any managed account.
func (s *SQLiteStore) ListConversationsForAccount(ctx context.Context, managedAccountID string) ([]*Conversation, error) {
	var (
		query string
		args  []any
	)
	if managedAccountID == "" {
		query = selectConversation + ` WHERE managed_account_id IS NULL ORDER BY last_message_time DESC`
	} else {
		query = selectConversation + ` WHERE managed_account_id = ? ORDER BY last_message_time DESC`
		args = append(args, managedAccountID)
	}
	return s.listConversations(ctx, query, args...)
}

// ListConversationsForClient returns the conversations a client user participates in
func (s *SQLiteStore) ListConversationsForClient(ctx context.Context, clientUserID string) ([]*Conversation, error) {
	// Participant membership via the JSON array column
	query := selectConversation + `
		WHERE EXISTS (SELECT 1 FROM json_each(conversations.participants) WHERE json_each.value = ?)
		ORDER BY last_message_time DESC
	`
	return s.listConversations(ctx, query, clientUserID)
}

func (s *SQLiteStore) listConversations(ctx context.Context, query string, args ...any) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

const selectConversation = `
	SELECT id, type, name, avatar, participants, managed_account_id,
		last_message, last_message_time, unread_count, created_at
	FROM conversations
`

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		conv                                 Conversation
		avatar, accountID, lastMsg, lastTime sql.NullString
		convType, participants, createdAt    string
	)
	err := row.Scan(&conv.ID, &convType, &conv.Name, &avatar, &participants, &accountID,
		&lastMsg, &lastTime, &conv.UnreadCount, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	conv.Type = ConversationType(convType)
	conv.Avatar = avatar.String
	conv.ManagedAccountID = accountID.String
	conv.LastMessage = lastMsg.String
	if err := json.Unmarshal([]byte(participants), &conv.Participants); err != nil {
		return nil, fmt.Errorf("decoding participants: %w", err)
	}
	if conv.LastMessageTime, err = parseTimePtr(lastTime); err != nil {
		return nil, err
	}
	if conv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &conv, nil
}
