// ABOUTME: REST API server: route wiring and shared request plumbing
// ABOUTME: Handlers live in auth.go, accounts.go, and chat.go alongside this file

package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/2389/parley-gateway/internal/auth"
	"github.com/2389/parley-gateway/internal/dedupe"
	"github.com/2389/parley-gateway/internal/store"
	"github.com/2389/parley-gateway/internal/ws"
)

// Presence reports whether an identity currently has a live connection.
type Presence interface {
	IsOnline(identityID string) bool
}

// Server wires the REST surface over the store, dispatcher, and websocket layer.
type Server struct {
	store      store.Store
	verifier   *auth.JWTVerifier
	dispatcher ws.Dispatcher
	dedupe     *dedupe.Cache
	wsServer   *ws.Server
	presence   Presence
	tokenTTL   time.Duration
	logger     *slog.Logger
}

// NewServer creates the REST API server. Pass nil logger for the default.
func NewServer(st store.Store, verifier *auth.JWTVerifier, dispatcher ws.Dispatcher, cache *dedupe.Cache, wsServer *ws.Server, presence Presence, tokenTTL time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:      st,
		verifier:   verifier,
		dispatcher: dispatcher,
		dedupe:     cache,
		wsServer:   wsServer,
		presence:   presence,
		tokenTTL:   tokenTTL,
		logger:     logger.With("component", "httpapi"),
	}
}

// Register mounts all API routes on the given engine.
func (s *Server) Register(router *gin.Engine) {
	router.GET("/healthz", s.handleHealth)

	api := router.Group("/api")

	api.POST("/auth/register", s.handleManagerRegister)
	api.POST("/auth/login", s.handleManagerLogin)
	api.POST("/client/register", s.handleClientRegister)
	api.POST("/client/login", s.handleClientLogin)

	authed := api.Group("", auth.Middleware(s.verifier))
	authed.GET("/auth/profile", s.handleProfile)

	managers := authed.Group("", requireKind(auth.KindManager))
	managers.GET("/accounts/managed", s.handleListManagedAccounts)
	managers.POST("/accounts/managed", s.handleCreateManagedAccount)
	managers.GET("/accounts/managed/:accountId/friends", s.handleListFriends)
	managers.POST("/accounts/managed/:accountId/friends", s.handleCreateFriend)
	managers.GET("/accounts/client-users", s.handleListClientUsers)

	authed.GET("/chat/conversations", s.handleListConversations)
	authed.POST("/chat/conversations", s.handleCreateConversation)
	authed.GET("/chat/conversations/:id/messages", s.handleListMessages)
	authed.POST("/chat/conversations/:id/read", s.handleMarkRead)
	authed.POST("/chat/messages", s.handleSendMessage)

	if s.wsServer != nil {
		router.GET("/ws", auth.Middleware(s.verifier), s.wsServer.Handle)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// requireKind rejects authenticated requests whose subject is the wrong kind.
func requireKind(kind auth.SubjectKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := auth.SubjectFrom(c)
		if subject == nil || subject.Kind != kind {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
