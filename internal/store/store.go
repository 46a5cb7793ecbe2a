// ABOUTME: Store interface and data types for parley-gateway persistence
// ABOUTME: Defines the chat entities and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateUsername is returned when registering a username that is already taken
var ErrDuplicateUsername = errors.New("username already exists")

// ErrDuplicateFriend is returned when a (managed account, client user) pair is
// already linked
var ErrDuplicateFriend = errors.New("friend link already exists")

// ConversationType distinguishes one-on-one chats from group chats
type ConversationType string

const (
	ConversationPrivate ConversationType = "private"
	ConversationGroup   ConversationType = "group"
)

// MessageType categorizes message content
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeSystem MessageType = "system"
)

// PresenceStatus is the advertised availability of a managed account or friend link
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

// User is a manager-side account holder. Managers operate managed accounts;
// they never appear as message senders directly in managed conversations.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Nickname     string    `json:"nickname"`
	Avatar       string    `json:"avatar,omitempty"`
	Email        string    `json:"email,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ClientUser is an end-user identity. Client users and managers live in
// disjoint identity spaces.
type ClientUser struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Nickname     string    `json:"nickname"`
	Avatar       string    `json:"avatar,omitempty"`
	Email        string    `json:"email,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ManagedAccount is an operator-controlled chat identity owned by exactly one manager.
type ManagedAccount struct {
	ID             string         `json:"id"`
	OwnerID        string         `json:"ownerId"`
	Username       string         `json:"username"`
	Nickname       string         `json:"nickname"`
	Avatar         string         `json:"avatar,omitempty"`
	Status         PresenceStatus `json:"status"`
	LastActiveTime *time.Time     `json:"lastActiveTime,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// FriendLink authorizes a managed account and a client user to converse.
// At most one link exists per pair. The summary fields mirror the owning
// conversation's summary; the conversation is the source of truth and the
// link is refreshed in the same transaction that mutates the conversation.
type FriendLink struct {
	ID               string         `json:"id"`
	ManagedAccountID string         `json:"managedAccountId"`
	ClientUserID     string         `json:"clientUserId"`
	Remark           string         `json:"remark,omitempty"`
	Status           PresenceStatus `json:"status"`
	LastMessage      string         `json:"lastMessage,omitempty"`
	LastMessageTime  *time.Time     `json:"lastMessageTime,omitempty"`
	UnreadCount      int            `json:"unreadCount"`
	CreatedAt        time.Time      `json:"createdAt"`
}

// Conversation groups messages between a managed account and its participants.
// Private managed conversations always originate from a FriendLink and carry
// exactly one participant.
type Conversation struct {
	ID               string           `json:"id"`
	Type             ConversationType `json:"type"`
	Name             string           `json:"name"`
	Avatar           string           `json:"avatar,omitempty"`
	Participants     []string         `json:"participants"`
	ManagedAccountID string           `json:"managedAccountId,omitempty"`
	LastMessage      string           `json:"lastMessage,omitempty"`
	LastMessageTime  *time.Time       `json:"lastMessageTime,omitempty"`
	UnreadCount      int              `json:"unreadCount"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// Message is an immutable chat message. Only the read flag ever changes after
// creation. Timestamps are non-decreasing within a conversation.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	SenderName     string      `json:"senderName"`
	SenderAvatar   string      `json:"senderAvatar,omitempty"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	Timestamp      time.Time   `json:"timestamp"`
	Read           bool        `json:"read"`
}

// Store defines the persistence interface for chat entities
type Store interface {
	// Managers
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// Client users
	CreateClientUser(ctx context.Context, user *ClientUser) error
	GetClientUser(ctx context.Context, id string) (*ClientUser, error)
	GetClientUserByUsername(ctx context.Context, username string) (*ClientUser, error)
	ListClientUsers(ctx context.Context) ([]*ClientUser, error)

	// Managed accounts
	CreateManagedAccount(ctx context.Context, account *ManagedAccount) error
	GetManagedAccount(ctx context.Context, id string) (*ManagedAccount, error)
	ListManagedAccounts(ctx context.Context, ownerID string) ([]*ManagedAccount, error)

	// Friend links
	CreateFriendLink(ctx context.Context, link *FriendLink) error
	GetFriendLink(ctx context.Context, id string) (*FriendLink, error)
	ListFriendLinks(ctx context.Context, managedAccountID string) ([]*FriendLink, error)

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	FindPrivateConversation(ctx context.Context, managedAccountID, clientUserID string) (*Conversation, error)
	ListConversationsForAccount(ctx context.Context, managedAccountID string) ([]*Conversation, error)
	ListConversationsForClient(ctx context.Context, clientUserID string) ([]*Conversation, error)

	// Messages
	AppendMessage(ctx context.Context, msg *Message) error
	MarkConversationRead(ctx context.Context, conversationID string) error
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)

	// Close releases any resources held by the store
	Close() error
}
