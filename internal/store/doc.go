// Package store provides persistence for parley-gateway chat entities.
//
// # Entities
//
// Two disjoint identity spaces exist: managers (User) and client users
// (ClientUser). A manager owns ManagedAccounts; a FriendLink authorizes a
// managed account and a client user to converse; a Conversation is created
// from a FriendLink and accumulates immutable Messages.
//
// # Summary consistency
//
// Each conversation carries a derived summary (lastMessage, lastMessageTime,
// unreadCount). AppendMessage and MarkConversationRead mutate the summary in
// the same write transaction as the message change, so concurrent calls on one
// conversation observe a serializable history and increments are never lost.
// FriendLink summary fields are a denormalized projection of the conversation
// summary, refreshed inside the same transaction.
//
// # Implementation
//
// SQLiteStore implements Store on modernc.org/sqlite with WAL mode and
// immediate write transactions. The schema is created on open; timestamps are
// stored as RFC 3339 text in UTC.
package store
