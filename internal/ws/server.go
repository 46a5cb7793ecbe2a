// ABOUTME: WebSocket endpoint: upgrades authenticated requests into sessions
// ABOUTME: Registers each session in the connection registry and starts its pumps

package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/parley-gateway/internal/auth"
	"github.com/2389/parley-gateway/internal/registry"
	"github.com/2389/parley-gateway/internal/store"
)

const maxFrameSize = 64 * 1024

// Dispatcher is what a session needs to run an inbound send.
type Dispatcher interface {
	Send(ctx context.Context, subject *auth.Subject, conversationID, content string, msgType store.MessageType) (*store.Message, error)
}

// Options tunes connection behavior; zero values fall back to defaults.
type Options struct {
	WriteTimeout time.Duration
	PongTimeout  time.Duration
	SendBuffer   int
}

// Server owns the websocket upgrade path and session lifecycle.
type Server struct {
	dispatcher   Dispatcher
	registry     *registry.Registry
	logger       *slog.Logger
	writeTimeout time.Duration
	pongTimeout  time.Duration
	sendBuffer   int

	upgrader websocket.Upgrader
}

// NewServer creates a websocket server. Pass nil logger for the default.
func NewServer(dispatcher Dispatcher, reg *registry.Registry, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PongTimeout == 0 {
		opts.PongTimeout = 60 * time.Second
	}
	if opts.SendBuffer == 0 {
		opts.SendBuffer = 256
	}
	return &Server{
		dispatcher:   dispatcher,
		registry:     reg,
		logger:       logger.With("component", "ws"),
		writeTimeout: opts.WriteTimeout,
		pongTimeout:  opts.PongTimeout,
		sendBuffer:   opts.SendBuffer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handle upgrades an authenticated request into a live session. The auth
// middleware must have run already; an unauthenticated request is rejected
// before the upgrade.
func (s *Server) Handle(c *gin.Context) {
	subject := auth.SubjectFrom(c)
	if subject == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "identity_id", subject.ID, "error", err)
		return
	}

	session := &Session{
		id:      uuid.NewString(),
		subject: subject,
		conn:    conn,
		send:    make(chan []byte, s.sendBuffer),
		server:  s,
		logger:  s.logger,
		done:    make(chan struct{}),
	}

	s.registry.Register(subject.ID, session)
	s.logger.Info("websocket connected",
		"identity_id", subject.ID,
		"kind", subject.Kind,
		"handle_id", session.ID())

	go session.writePump()
	session.readPump(c.Request.Context())

	s.logger.Info("websocket disconnected",
		"identity_id", subject.ID,
		"handle_id", session.ID())
}
