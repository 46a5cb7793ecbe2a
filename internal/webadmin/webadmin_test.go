// ABOUTME: Tests for the admin UI login flow and conversation pages
// ABOUTME: Drives the gin router with httptest and a real SQLite store

package webadmin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley-gateway/internal/auth"
	"github.com/2389/parley-gateway/internal/store"
)

type adminFixture struct {
	router *gin.Engine
	store  *store.SQLiteStore
	owner  *store.User
	conv   *store.Conversation
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	ctx := context.Background()
	gin.SetMode(gin.TestMode)

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	hash, err := auth.HashPassword("secret123")
	require.NoError(t, err)
	owner := &store.User{ID: uuid.NewString(), Username: "admin", PasswordHash: hash, Nickname: "Admin", CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateUser(ctx, owner))

	account := &store.ManagedAccount{ID: uuid.NewString(), OwnerID: owner.ID, Username: "desk", Nickname: "Desk", CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateManagedAccount(ctx, account))

	client := &store.ClientUser{ID: uuid.NewString(), Username: "cust", PasswordHash: "x", Nickname: "Customer", CreatedAt: time.Now().UTC()}
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

	msg := &store.Message{ConversationID: conv.ID, SenderID: client.ID, SenderName: "Customer", Content: "**bold** question", Type: store.MessageTypeText}
	require.NoError(t, st.AppendMessage(ctx, msg))

	admin := New(st, nil)
	router := gin.New()
	admin.Register(router)

	return &adminFixture{router: router, store: st, owner: owner, conv: conv}
}

func (f *adminFixture) login(t *testing.T) *http.Cookie {
	t.Helper()
	form := url.Values{"username": {"admin"}, "password": {"secret123"}}
	req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == SessionCookieName {
			return cookie
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func TestLoginPageRenders(t *testing.T) {
	f := newAdminFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/login", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sign in")
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newAdminFixture(t)

	form := url.Values{"username": {"admin"}, "password": {"wrong"}}
	req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid username or password")
}

func TestUnauthenticatedRedirectsToLogin(t *testing.T) {
	f := newAdminFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin/login", rec.Header().Get("Location"))
}

func TestConversationListShowsSummary(t *testing.T) {
	f := newAdminFixture(t)
	cookie := f.login(t)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Customer")
	assert.Contains(t, body, f.conv.ID)
}

func TestTranscriptRendersMarkdown(t *testing.T) {
	f := newAdminFixture(t)
	cookie := f.login(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/conversations/"+f.conv.ID, nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<strong>bold</strong>")
}

func TestTranscriptForbiddenForOtherManager(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	hash, err := auth.HashPassword("secret123")
	require.NoError(t, err)
	other := &store.User{ID: uuid.NewString(), Username: "other", PasswordHash: hash, Nickname: "Other", CreatedAt: time.Now().UTC()}
	require.NoError(t, f.store.CreateUser(ctx, other))

	form := url.Values{"username": {"other"}, "password": {"secret123"}}
	loginReq := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(form.Encode()))
	loginReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	loginRec := httptest.NewRecorder()
	f.router.ServeHTTP(loginRec, loginReq)
	require.Equal(t, http.StatusSeeOther, loginRec.Code)

	var cookie *http.Cookie
	for _, c := range loginRec.Result().Cookies() {
		if c.Name == SessionCookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)

	req := httptest.NewRequest(http.MethodGet, "/admin/conversations/"+f.conv.ID, nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTranscriptForbiddenForUnmanagedConversation(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	group := &store.Conversation{
		ID:           uuid.NewString(),
		Type:         store.ConversationGroup,
		Name:         "Team chat",
		Participants: []string{uuid.NewString(), uuid.NewString()},
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, f.store.CreateConversation(ctx, group))

	cookie := f.login(t)
	req := httptest.NewRequest(http.MethodGet, "/admin/conversations/"+group.ID, nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code, "no managing account means no admin access")
}

func TestLogoutEndsSession(t *testing.T) {
	f := newAdminFixture(t)
	cookie := f.login(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/logout", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusSeeOther, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusSeeOther, rec.Code, "session must be gone after logout")
}
