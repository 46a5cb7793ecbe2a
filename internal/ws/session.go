// ABOUTME: WebSocket session implementing the registry push handle
// ABOUTME: Read pump parses inbound send events, write pump drains a buffered channel

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/parley-gateway/internal/auth"
	"github.com/2389/parley-gateway/internal/store"
)

// Envelope is the wire frame for every event in either direction.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// sendPayload is the inbound body of a "message" event.
type sendPayload struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	Type           string `json:"type"`
}

// errorPayload is the outbound body of an "error" event.
type errorPayload struct {
	Error string `json:"error"`
}

var errSessionClosed = errors.New("session closed")

// Session is a single live websocket connection for an authenticated identity.
// It satisfies the registry handle contract: Push enqueues a persisted message
// for the write pump without blocking the caller.
type Session struct {
	id      string
	subject *auth.Subject
	conn    *websocket.Conn
	send    chan []byte
	server  *Server
	logger  *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// ID returns the unique identifier of this connection.
func (s *Session) ID() string { return s.id }

// Push enqueues a message event for delivery. It never blocks: a full send
// buffer means the peer has stopped draining, and the error tells the
// dispatcher to drop this handle.
func (s *Session) Push(msg *store.Message) error {
	frame, err := marshalEvent("message", msg)
	if err != nil {
		return err
	}

	select {
	case <-s.done:
		return errSessionClosed
	default:
	}

	select {
	case s.send <- frame:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// Close tears the connection down. Safe to call multiple times.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
	return nil
}

// readPump consumes inbound frames until the connection dies. Every parse or
// dispatch failure is answered with an error event on the same socket; only a
// transport error ends the loop.
func (s *Session) readPump(ctx context.Context) {
	defer func() {
		s.server.registry.Unregister(s.subject.ID, s.id)
		s.Close()
	}()

	s.conn.SetReadLimit(maxFrameSize)
	s.conn.SetReadDeadline(time.Now().Add(s.server.pongTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.server.pongTimeout))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read failed", "handle_id", s.id, "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.sendError("invalid_json")
			continue
		}

		switch env.Event {
		case "message":
			s.handleSend(ctx, env.Data)
		default:
			s.sendError("unsupported_event")
		}
	}
}

// handleSend runs one inbound message through the dispatcher. The sender's
// own echo arrives through the fan-out like everyone else's copy.
func (s *Session) handleSend(ctx context.Context, data json.RawMessage) {
	var payload sendPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.sendError("invalid_payload")
		return
	}
	if payload.ConversationID == "" || payload.Content == "" {
		s.sendError("missing_fields")
		return
	}

	msgType := store.MessageType(payload.Type)
	if msgType == "" {
		msgType = store.MessageTypeText
	}

	if _, err := s.server.dispatcher.Send(ctx, s.subject, payload.ConversationID, payload.Content, msgType); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.sendError("conversation_not_found")
			return
		}
		s.logger.Warn("inbound send failed",
			"identity_id", s.subject.ID,
			"conversation_id", payload.ConversationID,
			"error", err)
		s.sendError("send_failed")
	}
}

// writePump drains the send channel and keeps the connection alive with pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.server.pongTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.server.writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.server.writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(s.server.writeTimeout))
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (s *Session) sendError(code string) {
	frame, err := marshalEvent("error", errorPayload{Error: code})
	if err != nil {
		return
	}
	select {
	case s.send <- frame:
	default:
	}
}

func marshalEvent(event string, data any) ([]byte, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: body})
}
