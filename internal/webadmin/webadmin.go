// ABOUTME: Admin web UI: manager login, conversation list, and transcripts
// ABOUTME: Session cookies back a small server-rendered HTML surface

package webadmin

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/2389/parley-gateway/internal/auth"
	"github.com/2389/parley-gateway/internal/store"
)

const (
	// SessionCookieName is the name of the session cookie
	SessionCookieName = "parley_admin_session"

	// SessionDuration is how long sessions last
	SessionDuration = 7 * 24 * time.Hour
)

type session struct {
	userID    string
	expiresAt time.Time
}

// Admin serves the management UI. Sessions are held in memory; restarting the
// gateway logs every admin out.
type Admin struct {
	store  store.Store
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]session
}

// New creates the admin UI handler. Pass nil logger for the default.
func New(st store.Store, logger *slog.Logger) *Admin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Admin{
		store:    st,
		logger:   logger.With("component", "webadmin"),
		sessions: make(map[string]session),
	}
}

// Register mounts the admin routes under /admin.
func (a *Admin) Register(router *gin.Engine) {
	admin := router.Group("/admin")
	admin.GET("/login", a.handleLoginPage)
	admin.POST("/login", a.handleLogin)
	admin.POST("/logout", a.handleLogout)

	authed := admin.Group("", a.requireSession)
	authed.GET("", a.handleConversations)
	authed.GET("/conversations/:id", a.handleTranscript)
}

func (a *Admin) handleLoginPage(c *gin.Context) {
	a.renderLoginPage(c.Writer, "")
}

func (a *Admin) handleLogin(c *gin.Context) {
	username := c.PostForm("username")
	password := c.PostForm("password")

	user, err := a.store.GetUserByUsername(c.Request.Context(), username)
	if err != nil || !auth.CheckPassword(user.PasswordHash, password) {
		a.renderLoginPage(c.Writer, "Invalid username or password")
		return
	}

	token, err := generateSessionToken()
	if err != nil {
		a.logger.Error("session token generation failed", "error", err)
		c.String(http.StatusInternalServerError, "internal error")
		return
	}

	a.mu.Lock()
	a.sessions[token] = session{userID: user.ID, expiresAt: time.Now().Add(SessionDuration)}
	a.mu.Unlock()

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/admin",
		HttpOnly: true,
		Secure:   c.Request.TLS != nil,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(SessionDuration.Seconds()),
	})

	a.logger.Info("admin login", "user_id", user.ID)
	c.Redirect(http.StatusSeeOther, "/admin")
}

func (a *Admin) handleLogout(c *gin.Context) {
	if cookie, err := c.Request.Cookie(SessionCookieName); err == nil {
		a.mu.Lock()
		delete(a.sessions, cookie.Value)
		a.mu.Unlock()
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:   SessionCookieName,
		Path:   "/admin",
		MaxAge: -1,
	})
	c.Redirect(http.StatusSeeOther, "/admin/login")
}

// requireSession redirects to the login page when no live session is present.
func (a *Admin) requireSession(c *gin.Context) {
	user, err := a.userFromSession(c)
	if err != nil {
		c.Redirect(http.StatusSeeOther, "/admin/login")
		c.Abort()
		return
	}
	c.Set("admin_user", user)
	c.Next()
}

func (a *Admin) userFromSession(c *gin.Context) (*store.User, error) {
	cookie, err := c.Request.Cookie(SessionCookieName)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	sess, ok := a.sessions[cookie.Value]
	if ok && time.Now().After(sess.expiresAt) {
		delete(a.sessions, cookie.Value)
		ok = false
	}
	a.mu.Unlock()
	if !ok {
		return nil, errors.New("no session")
	}

	return a.store.GetUser(c.Request.Context(), sess.userID)
}

func adminUser(c *gin.Context) *store.User {
	v, _ := c.Get("admin_user")
	user, _ := v.(*store.User)
	return user
}

// handleConversations lists every conversation across the manager's accounts.
func (a *Admin) handleConversations(c *gin.Context) {
	user := adminUser(c)
	ctx := c.Request.Context()

	accounts, err := a.store.ListManagedAccounts(ctx, user.ID)
	if err != nil {
		a.logger.Error("listing accounts failed", "user_id", user.ID, "error", err)
		c.String(http.StatusInternalServerError, "internal error")
		return
	}

	var rows []conversationRow
	for _, account := range accounts {
		convs, err := a.store.ListConversationsForAccount(ctx, account.ID)
		if err != nil {
			a.logger.Error("listing conversations failed", "account_id", account.ID, "error", err)
			continue
		}
		for _, conv := range convs {
			rows = append(rows, conversationRow{
				Conversation: conv,
				AccountName:  account.Nickname,
			})
		}
	}

	a.renderConversations(c.Writer, user, rows)
}

// handleTranscript shows a conversation's messages with markdown rendering.
func (a *Admin) handleTranscript(c *gin.Context) {
	user := adminUser(c)
	ctx := c.Request.Context()

	conv, err := a.store.GetConversation(ctx, c.Param("id"))
	if err != nil {
		c.String(http.StatusNotFound, "conversation not found")
		return
	}

	// Only conversations routed through an account the viewer owns are
	// visible here; unmanaged conversations have no owning manager.
	if conv.ManagedAccountID == "" {
		c.String(http.StatusForbidden, "forbidden")
		return
	}
	account, err := a.store.GetManagedAccount(ctx, conv.ManagedAccountID)
	if err != nil || account.OwnerID != user.ID {
		c.String(http.StatusForbidden, "forbidden")
		return
	}

	msgs, err := a.store.ListMessages(ctx, conv.ID)
	if err != nil {
		a.logger.Error("listing messages failed", "conversation_id", conv.ID, "error", err)
		c.String(http.StatusInternalServerError, "internal error")
		return
	}

	a.renderTranscript(c.Writer, user, conv, msgs)
}

func generateSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
