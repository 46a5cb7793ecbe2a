// ABOUTME: End-to-end tests for the fan-out dispatcher
// ABOUTME: Real store, directory, and registry; fake push handles record deliveries

package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley-gateway/internal/auth"
	"github.com/2389/parley-gateway/internal/directory"
	"github.com/2389/parley-gateway/internal/registry"
	"github.com/2389/parley-gateway/internal/store"
)

// fakeHandle records pushes; it can be told to fail to simulate a dead socket.
type fakeHandle struct {
	id     string
	fail   bool
	mu     sync.Mutex
	pushed []*store.Message
	closed bool
}

func (f *fakeHandle) ID() string { return f.id }

func (f *fakeHandle) Push(msg *store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broken pipe")
	}
	f.pushed = append(f.pushed, msg)
	return nil
}

func (f *fakeHandle) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeHandle) deliveries() []*store.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*store.Message, len(f.pushed))
	copy(out, f.pushed)
	return out
}

type fixture struct {
	store      *store.SQLiteStore
	registry   *registry.Registry
	dispatcher *Dispatcher
	owner      *store.User
	account    *store.ManagedAccount
	client     *store.ClientUser
	conv       *store.Conversation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	owner := &store.User{ID: uuid.NewString(), Username: "owner", PasswordHash: "x", Nickname: "Owner", CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateUser(ctx, owner))

	account := &store.ManagedAccount{ID: uuid.NewString(), OwnerID: owner.ID, Username: "desk", Nickname: "Support Desk", CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateManagedAccount(ctx, account))

	client := &store.ClientUser{ID: uuid.NewString(), Username: "client", PasswordHash: "x", Nickname: "Customer", CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateClientUser(ctx, client))

	link := &store.FriendLink{ID: uuid.NewString(), ManagedAccountID: account.ID, ClientUserID: client.ID, CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateFriendLink(ctx, link))

	conv := &store.Conversation{
		ID:               uuid.NewString(),
		Type:             store.ConversationPrivate,
		Name:             "Customer",
		Participants:     []string{client.ID},
		ManagedAccountID: account.ID,
		CreatedAt:        time.Now().UTC(),
	}
	require.NoError(t, st.CreateConversation(ctx, conv))

	reg := registry.New(nil)
	dir := directory.New(st, nil)
	return &fixture{
		store:      st,
		registry:   reg,
		dispatcher: New(st, dir, reg, nil),
		owner:      owner,
		account:    account,
		client:     client,
		conv:       conv,
	}
}

func (f *fixture) managerSubject() *auth.Subject {
	return &auth.Subject{ID: f.owner.ID, Kind: auth.KindManager, DisplayName: "Owner"}
}

func TestSend_ManagerThroughManagedAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	clientDev := &fakeHandle{id: "client-dev"}
	f.registry.Register(f.client.ID, clientDev)

	msg, err := f.dispatcher.Send(ctx, f.managerSubject(), f.conv.ID, "hello", store.MessageTypeText)
	require.NoError(t, err)

	// The effective sender is the managed account, not the manager
	assert.Equal(t, f.account.ID, msg.SenderID)
	assert.Equal(t, "Support Desk", msg.SenderName)
	assert.Equal(t, store.MessageTypeText, msg.Type)

	got := clientDev.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Content)
	assert.Equal(t, f.account.ID, got[0].SenderID)

	conv, err := f.store.GetConversation(ctx, f.conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, conv.UnreadCount)

	require.NoError(t, f.store.MarkConversationRead(ctx, f.conv.ID))
	conv, err = f.store.GetConversation(ctx, f.conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, conv.UnreadCount)
}

func TestSend_DeliversToEveryHandleAndNoOthers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	clientDevA := &fakeHandle{id: "client-a"}
	clientDevB := &fakeHandle{id: "client-b"}
	ownerDev := &fakeHandle{id: "owner-dev"}
	bystander := &fakeHandle{id: "bystander"}
	f.registry.Register(f.client.ID, clientDevA)
	f.registry.Register(f.client.ID, clientDevB)
	f.registry.Register(f.owner.ID, ownerDev)
	f.registry.Register("someone-else", bystander)

	_, err := f.dispatcher.Send(ctx, f.managerSubject(), f.conv.ID, "fan out", store.MessageTypeText)
	require.NoError(t, err)

	// K recipients with d_i handles each: exactly sum(d_i) deliveries
	assert.Len(t, clientDevA.deliveries(), 1)
	assert.Len(t, clientDevB.deliveries(), 1)
	assert.Len(t, ownerDev.deliveries(), 1)
	assert.Empty(t, bystander.deliveries())
}

func TestSend_UnknownConversation(t *testing.T) {
	f := newFixture(t)

	clientDev := &fakeHandle{id: "client-dev"}
	f.registry.Register(f.client.ID, clientDev)

	_, err := f.dispatcher.Send(context.Background(), f.managerSubject(), "missing", "hi", store.MessageTypeText)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, clientDev.deliveries(), "nothing may be pushed when persistence fails")
}

func TestSend_DeadHandleIsIsolatedAndDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dead := &fakeHandle{id: "dead", fail: true}
	live := &fakeHandle{id: "live"}
	f.registry.Register(f.client.ID, dead)
	f.registry.Register(f.client.ID, live)

	_, err := f.dispatcher.Send(ctx, f.managerSubject(), f.conv.ID, "still delivered", store.MessageTypeText)
	require.NoError(t, err)

	assert.Len(t, live.deliveries(), 1, "a dead sibling handle must not block delivery")
	assert.True(t, dead.closed, "dead handle should be closed")

	handles := f.registry.LiveHandles(f.client.ID)
	require.Len(t, handles, 1)
	assert.Equal(t, "live", handles[0].ID())
}

func TestSend_OfflineRecipientCatchesUpViaHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.dispatcher.Send(ctx, f.managerSubject(), f.conv.ID, "first", store.MessageTypeText)
	require.NoError(t, err)
	_, err = f.dispatcher.Send(ctx, f.managerSubject(), f.conv.ID, "second", store.MessageTypeText)
	require.NoError(t, err)

	// The client was offline for both sends; history has them in order
	msgs, err := f.store.ListMessages(ctx, f.conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)
}

func TestSend_DisconnectingOneDeviceKeepsTheOther(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	devA := &fakeHandle{id: "dev-a"}
	devB := &fakeHandle{id: "dev-b"}
	f.registry.Register(f.client.ID, devA)
	f.registry.Register(f.client.ID, devB)

	_, err := f.dispatcher.Send(ctx, f.managerSubject(), f.conv.ID, "both", store.MessageTypeText)
	require.NoError(t, err)
	assert.Len(t, devA.deliveries(), 1)
	assert.Len(t, devB.deliveries(), 1)

	f.registry.Unregister(f.client.ID, "dev-a")

	_, err = f.dispatcher.Send(ctx, f.managerSubject(), f.conv.ID, "one left", store.MessageTypeText)
	require.NoError(t, err)
	assert.Len(t, devA.deliveries(), 1, "disconnected device receives nothing further")
	assert.Len(t, devB.deliveries(), 2)
}

func TestSend_ClientSenderIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ownerDev := &fakeHandle{id: "owner-dev"}
	f.registry.Register(f.owner.ID, ownerDev)

	subject := &auth.Subject{ID: f.client.ID, Kind: auth.KindClient, DisplayName: "Customer"}
	msg, err := f.dispatcher.Send(ctx, subject, f.conv.ID, "help please", store.MessageTypeText)
	require.NoError(t, err)

	assert.Equal(t, f.client.ID, msg.SenderID)
	assert.Equal(t, "Customer", msg.SenderName)
	require.Len(t, ownerDev.deliveries(), 1)
}
