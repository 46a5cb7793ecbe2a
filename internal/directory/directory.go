// ABOUTME: Resolves conversations to recipient identities and connections to sender identities
// ABOUTME: Managers acting through a managed account send as the account, not themselves

package directory

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/lo"

	"github.com/2389/parley-gateway/internal/auth"
	"github.com/2389/parley-gateway/internal/store"
)

// IdentityKind tags the variant behind a resolved identity
type IdentityKind string

const (
	KindManager IdentityKind = "manager"
	KindClient  IdentityKind = "client"
	KindAccount IdentityKind = "account"
)

// Identity is a resolved chat identity as it appears on messages
type Identity struct {
	ID          string
	Kind        IdentityKind
	DisplayName string
	Avatar      string
}

// Store defines what the directory needs from persistence
type Store interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetManagedAccount(ctx context.Context, id string) (*store.ManagedAccount, error)
	GetClientUser(ctx context.Context, id string) (*store.ClientUser, error)
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// Directory translates conversations into recipient identity sets and
// connection subjects into effective sender identities.
type Directory struct {
	store  Store
	logger *slog.Logger
}

// New creates a Directory. Pass nil logger for the default.
func New(st Store, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		store:  st,
		logger: logger.With("component", "directory"),
	}
}

// Recipients resolves the identities that must receive any message posted to
// the conversation: the participants plus, for managed conversations, the
// account's owning manager. An unknown conversation yields an empty set. The
// sender is not excluded; echo suppression is the edge's concern.
func (d *Directory) Recipients(ctx context.Context, conversationID string) []string {
	conv, err := d.store.GetConversation(ctx, conversationID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			d.logger.Warn("conversation lookup failed", "conversation_id", conversationID, "error", err)
		}
		return nil
	}

	recipients := conv.Participants
	if conv.ManagedAccountID != "" {
		account, err := d.store.GetManagedAccount(ctx, conv.ManagedAccountID)
		if err != nil {
			// Deliver to the participants we could resolve rather than drop
			// the whole fan-out.
			d.logger.Warn("managed account owner unresolved",
				"conversation_id", conversationID,
				"managed_account_id", conv.ManagedAccountID,
				"error", err)
		} else {
			recipients = append(recipients, account.OwnerID)
		}
	}

	return lo.Uniq(recipients)
}

// SenderIdentity resolves the effective sender for a message posted by the
// given subject into the given conversation. A manager posting into a managed
// conversation sends as the managed account; everyone else sends as
// themselves.
func (d *Directory) SenderIdentity(ctx context.Context, subject *auth.Subject, conv *store.Conversation) Identity {
	if subject.Kind == auth.KindManager && conv != nil && conv.ManagedAccountID != "" {
		account, err := d.store.GetManagedAccount(ctx, conv.ManagedAccountID)
		if err == nil {
			return Identity{
				ID:          account.ID,
				Kind:        KindAccount,
				DisplayName: account.Nickname,
				Avatar:      account.Avatar,
			}
		}
		d.logger.Warn("managed account unresolved, sending as manager",
			"managed_account_id", conv.ManagedAccountID,
			"error", err)
	}

	switch subject.Kind {
	case auth.KindClient:
		if user, err := d.store.GetClientUser(ctx, subject.ID); err == nil {
			return Identity{ID: user.ID, Kind: KindClient, DisplayName: user.Nickname, Avatar: user.Avatar}
		}
		return Identity{ID: subject.ID, Kind: KindClient, DisplayName: subject.DisplayName}
	default:
		if user, err := d.store.GetUser(ctx, subject.ID); err == nil {
			return Identity{ID: user.ID, Kind: KindManager, DisplayName: user.Nickname, Avatar: user.Avatar}
		}
		return Identity{ID: subject.ID, Kind: KindManager, DisplayName: subject.DisplayName}
	}
}
