// ABOUTME: Message append, read-state transition, and history queries
// ABOUTME: Summary mutation runs in one write transaction so increments are never lost

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendMessage persists a message and updates the owning conversation's
// summary (lastMessage, lastMessageTime, unreadCount) atomically. The store
// assigns the message ID, a timestamp no earlier than any prior message in the
// conversation, and read=false. Returns ErrNotFound if the conversation does
// not exist; nothing is persisted in that case.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.Type == "" {
		msg.Type = MessageTypeText
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		accountID, lastTime sql.NullString
		participants        string
	)
	row := tx.QueryRowContext(ctx,
		`SELECT managed_account_id, last_message_time, participants FROM conversations WHERE id = ?`,
		msg.ConversationID)
	if err := row.Scan(&accountID, &lastTime, &participants); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("querying conversation: %w", err)
	}

	// Timestamps are non-decreasing within a conversation even if the clock
	// steps backwards between appends.
	msg.Timestamp = time.Now().UTC()
	if prev, err := parseTimePtr(lastTime); err == nil && prev != nil && prev.After(msg.Timestamp) {
		msg.Timestamp = *prev
	}

	msg.ID = uuid.New().String()
	msg.Read = false

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, sender_name, sender_avatar, content, type, timestamp, read)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
	`,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.SenderName,
		nullable(msg.SenderAvatar),
		msg.Content,
		string(msg.Type),
		formatTime(msg.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations
		SET last_message = ?, last_message_time = ?, unread_count = unread_count + 1
		WHERE id = ?
	`, msg.Content, formatTime(msg.Timestamp), msg.ConversationID)
	if err != nil {
		return fmt.Errorf("updating conversation summary: %w", err)
	}

	// Refresh the friend link projection in the same critical section. The
	// conversation summary is the source of truth; the link just mirrors it.
	if accountID.Valid {
		if err := s.refreshFriendProjection(ctx, tx, accountID.String, participants, msg.ConversationID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing append: %w", err)
	}

	s.logger.Debug("message appended",
		"message_id", msg.ID,
		"conversation_id", msg.ConversationID,
		"sender_id", msg.SenderID,
		"type", msg.Type,
	)
	return nil
}

// MarkConversationRead flips every unread message in the conversation to read
// and resets the unread counter. Idempotent. Returns ErrNotFound if the
// conversation does not exist.
func (s *SQLiteStore) MarkConversationRead(ctx context.Context, conversationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		accountID    sql.NullString
		participants string
	)
	row := tx.QueryRowContext(ctx,
		`SELECT managed_account_id, participants FROM conversations WHERE id = ?`, conversationID)
	if err := row.Scan(&accountID, &participants); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("querying conversation: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET read = 1 WHERE conversation_id = ? AND read = 0`, conversationID); err != nil {
		return fmt.Errorf("marking messages read: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET unread_count = 0 WHERE id = ?`, conversationID); err != nil {
		return fmt.Errorf("resetting unread count: %w", err)
	}
	if accountID.Valid {
		if err := s.refreshFriendProjection(ctx, tx, accountID.String, participants, conversationID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// refreshFriendProjection copies the conversation summary onto the friend link
// for a private managed conversation. Must run inside the mutating transaction.
func (s *SQLiteStore) refreshFriendProjection(ctx context.Context, tx *sql.Tx, accountID, participantsJSON, conversationID string) error {
	var participants []string
	if err := json.Unmarshal([]byte(participantsJSON), &participants); err != nil {
		return fmt.Errorf("decoding participants: %w", err)
	}
	if len(participants) != 1 {
		return nil
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE friend_links
		SET last_message = (SELECT last_message FROM conversations WHERE id = ?1),
			last_message_time = (SELECT last_message_time FROM conversations WHERE id = ?1),
			unread_count = (SELECT unread_count FROM conversations WHERE id = ?1)
		WHERE managed_account_id = ?2 AND client_user_id = ?3
	`, conversationID, accountID, participants[0])
	if err != nil {
		return fmt.Errorf("refreshing friend link summary: %w", err)
	}
	return nil
}

// ListMessages returns a conversation's messages in ascending timestamp order
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, sender_name, sender_avatar, content, type, timestamp, read
		FROM messages WHERE conversation_id = ?
		ORDER BY timestamp ASC, rowid ASC
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var (
			msg             Message
			avatar          sql.NullString
			msgType, tsText string
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.SenderName,
			&avatar, &msg.Content, &msgType, &tsText, &msg.Read); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.SenderAvatar = avatar.String
		msg.Type = MessageType(msgType)
		if msg.Timestamp, err = parseTime(tsText); err != nil {
			return nil, fmt.Errorf("parsing message timestamp: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}
