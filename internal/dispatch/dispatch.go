// ABOUTME: Fan-out dispatcher: persist an outbound message, then push it to
// ABOUTME: every live handle of every resolved recipient, best effort

package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/parley-gateway/internal/auth"
	"github.com/2389/parley-gateway/internal/directory"
	"github.com/2389/parley-gateway/internal/registry"
	"github.com/2389/parley-gateway/internal/store"
)

// MessageStore defines what the dispatcher needs from persistence
type MessageStore interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	AppendMessage(ctx context.Context, msg *store.Message) error
}

// RecipientResolver defines what the dispatcher needs from the directory
type RecipientResolver interface {
	Recipients(ctx context.Context, conversationID string) []string
	SenderIdentity(ctx context.Context, subject *auth.Subject, conv *store.Conversation) directory.Identity
}

// HandleRegistry defines what the dispatcher needs from the connection registry
type HandleRegistry interface {
	LiveHandles(identityID string) []registry.Handle
	Unregister(identityID, handleID string)
}

// Dispatcher orchestrates every inbound send: resolve the sender, persist the
// message, resolve recipients, push to their live handles.
type Dispatcher struct {
	store     MessageStore
	directory RecipientResolver
	registry  HandleRegistry
	logger    *slog.Logger
}

// New creates a Dispatcher. Pass nil logger for the default.
func New(st MessageStore, dir RecipientResolver, reg HandleRegistry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:     st,
		directory: dir,
		registry:  reg,
		logger:    logger.With("component", "dispatch"),
	}
}

// Send persists a message from the given subject into the conversation and
// fans it out. Persistence happens before any push: a recipient that misses
// the push still sees the message in history. An unknown conversation fails
// with store.ErrNotFound; a persistence failure aborts the whole send and
// nothing is pushed. Push failures are isolated per handle.
func (d *Dispatcher) Send(ctx context.Context, subject *auth.Subject, conversationID, content string, msgType store.MessageType) (*store.Message, error) {
	conv, err := d.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("resolving conversation: %w", err)
	}

	sender := d.directory.SenderIdentity(ctx, subject, conv)

	msg := &store.Message{
		ConversationID: conversationID,
		SenderID:       sender.ID,
		SenderName:     sender.DisplayName,
		SenderAvatar:   sender.Avatar,
		Content:        content,
		Type:           msgType,
	}
	if err := d.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persisting message: %w", err)
	}

	d.fanout(ctx, msg)
	return msg, nil
}

// fanout pushes a persisted message to every live handle of every recipient.
// Handles are re-queried at send time; recipients with none catch up later by
// pulling history. Dead handles are dropped from the registry opportunistically.
func (d *Dispatcher) fanout(ctx context.Context, msg *store.Message) {
	recipients := d.directory.Recipients(ctx, msg.ConversationID)

	delivered := 0
	for _, identityID := range recipients {
		for _, handle := range d.registry.LiveHandles(identityID) {
			if err := handle.Push(msg); err != nil {
				d.logger.Warn("push failed, dropping handle",
					"identity_id", identityID,
					"handle_id", handle.ID(),
					"error", err)
				d.registry.Unregister(identityID, handle.ID())
				handle.Close()
				continue
			}
			delivered++
		}
	}

	d.logger.Debug("message fanned out",
		"message_id", msg.ID,
		"conversation_id", msg.ConversationID,
		"recipients", len(recipients),
		"deliveries", delivered)
}
