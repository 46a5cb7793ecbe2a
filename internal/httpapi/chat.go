// ABOUTME: Chat handlers: conversation listing and creation, message history,
// ABOUTME: read marking, and the REST send path with idempotency key support

package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/2389/parley-gateway/internal/auth"
	"github.com/2389/parley-gateway/internal/store"
)

type createConversationRequest struct {
	FriendLinkID string `json:"friendLinkId" binding:"required"`
}

type sendMessageRequest struct {
	ConversationID string `json:"conversationId" binding:"required"`
	Content        string `json:"content" binding:"required"`
	Type           string `json:"type"`
}

func (s *Server) handleListConversations(c *gin.Context) {
	subject := auth.SubjectFrom(c)
	ctx := c.Request.Context()

	switch subject.Kind {
	case auth.KindClient:
		convs, err := s.store.ListConversationsForClient(ctx, subject.ID)
		if err != nil {
			s.logger.Error("listing conversations failed", "client_id", subject.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"conversations": convs})

	case auth.KindManager:
		accountID := c.Query("managedAccountId")
		if accountID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "managedAccountId query parameter is required"})
			return
		}
		account, err := s.store.GetManagedAccount(ctx, accountID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
				return
			}
			s.logger.Error("account lookup failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if account.OwnerID != subject.ID {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		convs, err := s.store.ListConversationsForAccount(ctx, accountID)
		if err != nil {
			s.logger.Error("listing conversations failed", "account_id", accountID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"conversations": convs})
	}
}

// handleCreateConversation materializes the private conversation backing a
// friend link. Creation is idempotent: if the pair already has one, the
// existing conversation is returned.
func (s *Server) handleCreateConversation(c *gin.Context) {
	subject := auth.SubjectFrom(c)
	ctx := c.Request.Context()

	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	link, err := s.store.GetFriendLink(ctx, req.FriendLinkID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "friend link not found"})
			return
		}
		s.logger.Error("friend link lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	account, err := s.store.GetManagedAccount(ctx, link.ManagedAccountID)
	if err != nil {
		s.logger.Error("account lookup failed", "account_id", link.ManagedAccountID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	// Either side of the link may open the conversation; nobody else can.
	authorized := (subject.Kind == auth.KindManager && account.OwnerID == subject.ID) ||
		(subject.Kind == auth.KindClient && link.ClientUserID == subject.ID)
	if !authorized {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	existing, err := s.store.FindPrivateConversation(ctx, link.ManagedAccountID, link.ClientUserID)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"conversation": existing})
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("conversation lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	client, err := s.store.GetClientUser(ctx, link.ClientUserID)
	if err != nil {
		s.logger.Error("client user lookup failed", "client_id", link.ClientUserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	conv := &store.Conversation{
		ID:               uuid.NewString(),
		Type:             store.ConversationPrivate,
		Name:             client.Nickname,
		Avatar:           client.Avatar,
		Participants:     []string{link.ClientUserID},
		ManagedAccountID: link.ManagedAccountID,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		s.logger.Error("conversation creation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"conversation": conv})
}

func (s *Server) handleListMessages(c *gin.Context) {
	conv := s.accessibleConversation(c)
	if conv == nil {
		return
	}

	msgs, err := s.store.ListMessages(c.Request.Context(), conv.ID)
	if err != nil {
		s.logger.Error("listing messages failed", "conversation_id", conv.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) handleMarkRead(c *gin.Context) {
	conv := s.accessibleConversation(c)
	if conv == nil {
		return
	}

	if err := s.store.MarkConversationRead(c.Request.Context(), conv.ID); err != nil {
		s.logger.Error("marking conversation read failed", "conversation_id", conv.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleSendMessage is the REST send path. It runs the same dispatcher
// pipeline as the websocket path. An Idempotency-Key header makes retries
// safe: a replayed key returns the originally persisted message.
func (s *Server) handleSendMessage(c *gin.Context) {
	subject := auth.SubjectFrom(c)

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	idemKey := c.GetHeader("Idempotency-Key")
	if idemKey != "" {
		// Scope the key to the subject so clients cannot collide
		idemKey = subject.ID + ":" + idemKey
		if cached := s.dedupe.Lookup(idemKey); cached != nil {
			c.JSON(http.StatusOK, gin.H{"message": cached, "duplicate": true})
			return
		}
	}

	msgType := store.MessageType(req.Type)
	if msgType == "" {
		msgType = store.MessageTypeText
	}

	msg, err := s.dispatcher.Send(c.Request.Context(), subject, req.ConversationID, req.Content, msgType)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		s.logger.Error("rest send failed", "conversation_id", req.ConversationID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "send failed"})
		return
	}

	if idemKey != "" {
		s.dedupe.Record(idemKey, msg)
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// accessibleConversation loads the conversation from the path parameter and
// enforces that the subject may see it: a client must be a participant, a
// manager must own the managing account or be a participant.
// Responds and returns nil on failure.
func (s *Server) accessibleConversation(c *gin.Context) *store.Conversation {
	subject := auth.SubjectFrom(c)
	ctx := c.Request.Context()

	conv, err := s.store.GetConversation(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		} else {
			s.logger.Error("conversation lookup failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return nil
	}

	for _, p := range conv.Participants {
		if p == subject.ID {
			return conv
		}
	}

	if subject.Kind == auth.KindManager && conv.ManagedAccountID != "" {
		account, err := s.store.GetManagedAccount(ctx, conv.ManagedAccountID)
		if err == nil && account.OwnerID == subject.ID {
			return conv
		}
	}

	c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	return nil
}
