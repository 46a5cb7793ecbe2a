// ABOUTME: Integration tests for the websocket layer over a real dispatcher
// ABOUTME: Dials a live httptest server and exchanges message events end to end

package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley-gateway/internal/auth"
	"github.com/2389/parley-gateway/internal/directory"
	"github.com/2389/parley-gateway/internal/dispatch"
	"github.com/2389/parley-gateway/internal/registry"
	"github.com/2389/parley-gateway/internal/store"
)

type wsFixture struct {
	server   *httptest.Server
	verifier *auth.JWTVerifier
	store    *store.SQLiteStore
	owner    *store.User
	account  *store.ManagedAccount
	client   *store.ClientUser
	conv     *store.Conversation
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	ctx := context.Background()
	gin.SetMode(gin.TestMode)

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	owner := &store.User{ID: uuid.NewString(), Username: "owner", PasswordHash: "x", Nickname: "Owner", CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateUser(ctx, owner))

	account := &store.ManagedAccount{ID: uuid.NewString(), OwnerID: owner.ID, Username: "desk", Nickname: "Support Desk", CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateManagedAccount(ctx, account))

	client := &store.ClientUser{ID: uuid.NewString(), Username: "client", PasswordHash: "x", Nickname: "Customer", CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateClientUser(ctx, client))

	conv := &store.Conversation{
		ID:               uuid.NewString(),
		Type:             store.ConversationPrivate,
		Name:             "Customer",
		Participants:     []string{client.ID},
		ManagedAccountID: account.ID,
		CreatedAt:        time.Now().UTC(),
	}
	require.NoError(t, st.CreateConversation(ctx, conv))

	verifier := auth.NewJWTVerifier([]byte("test-secret"))
	reg := registry.New(nil)
	dir := directory.New(st, nil)
	dispatcher := dispatch.New(st, dir, reg, nil)
	wsServer := NewServer(dispatcher, reg, Options{}, nil)

	router := gin.New()
	router.GET("/ws", auth.Middleware(verifier), wsServer.Handle)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &wsFixture{
		server:   srv,
		verifier: verifier,
		store:    st,
		owner:    owner,
		account:  account,
		client:   client,
		conv:     conv,
	}
}

func (f *wsFixture) dial(t *testing.T, subject *auth.Subject) *websocket.Conn {
	t.Helper()
	token, err := f.verifier.Generate(subject, time.Hour)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func sendEvent(t *testing.T, conn *websocket.Conn, payload sendPayload) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	frame, err := json.Marshal(Envelope{Event: "message", Data: data})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func TestDialWithoutToken(t *testing.T) {
	f := newWSFixture(t)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSendDeliversToRecipientAndEchoesToSender(t *testing.T) {
	f := newWSFixture(t)

	ownerConn := f.dial(t, &auth.Subject{ID: f.owner.ID, Kind: auth.KindManager, DisplayName: "Owner"})
	clientConn := f.dial(t, &auth.Subject{ID: f.client.ID, Kind: auth.KindClient, DisplayName: "Customer"})

	sendEvent(t, clientConn, sendPayload{ConversationID: f.conv.ID, Content: "hello there"})

	for _, conn := range []*websocket.Conn{ownerConn, clientConn} {
		env := readEvent(t, conn)
		require.Equal(t, "message", env.Event)

		var msg store.Message
		require.NoError(t, json.Unmarshal(env.Data, &msg))
		assert.Equal(t, "hello there", msg.Content)
		assert.Equal(t, f.client.ID, msg.SenderID)
		assert.Equal(t, f.conv.ID, msg.ConversationID)
		assert.NotEmpty(t, msg.ID)
	}
}

func TestManagerSendsAsManagedAccount(t *testing.T) {
	f := newWSFixture(t)

	ownerConn := f.dial(t, &auth.Subject{ID: f.owner.ID, Kind: auth.KindManager, DisplayName: "Owner"})
	clientConn := f.dial(t, &auth.Subject{ID: f.client.ID, Kind: auth.KindClient, DisplayName: "Customer"})

	sendEvent(t, ownerConn, sendPayload{ConversationID: f.conv.ID, Content: "how can we help"})

	env := readEvent(t, clientConn)
	require.Equal(t, "message", env.Event)

	var msg store.Message
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	assert.Equal(t, f.account.ID, msg.SenderID)
	assert.Equal(t, "Support Desk", msg.SenderName)
}

func TestInvalidFramesGetErrorEvents(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t, &auth.Subject{ID: f.client.ID, Kind: auth.KindClient})

	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{"malformed json", "{not json", "invalid_json"},
		{"unknown event", `{"event":"typing","data":{}}`, "unsupported_event"},
		{"missing fields", `{"event":"message","data":{"content":""}}`, "missing_fields"},
		{"unknown conversation", `{"event":"message","data":{"conversationId":"nope","content":"hi"}}`, "conversation_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tt.frame)))
			env := readEvent(t, conn)
			require.Equal(t, "error", env.Event)

			var payload errorPayload
			require.NoError(t, json.Unmarshal(env.Data, &payload))
			assert.Equal(t, tt.want, payload.Error)
		})
	}
}

func TestMultipleDevicesEachReceive(t *testing.T) {
	f := newWSFixture(t)

	devA := f.dial(t, &auth.Subject{ID: f.client.ID, Kind: auth.KindClient})
	devB := f.dial(t, &auth.Subject{ID: f.client.ID, Kind: auth.KindClient})
	ownerConn := f.dial(t, &auth.Subject{ID: f.owner.ID, Kind: auth.KindManager})

	sendEvent(t, ownerConn, sendPayload{ConversationID: f.conv.ID, Content: "to all devices"})

	for _, conn := range []*websocket.Conn{devA, devB} {
		env := readEvent(t, conn)
		require.Equal(t, "message", env.Event)
	}
}

func TestMessagePersistsForOfflineRecipient(t *testing.T) {
	f := newWSFixture(t)

	clientConn := f.dial(t, &auth.Subject{ID: f.client.ID, Kind: auth.KindClient, DisplayName: "Customer"})
	sendEvent(t, clientConn, sendPayload{ConversationID: f.conv.ID, Content: "while you were out"})

	// Wait for the echo so we know the send completed
	readEvent(t, clientConn)

	msgs, err := f.store.ListMessages(context.Background(), f.conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "while you were out", msgs[0].Content)
}
