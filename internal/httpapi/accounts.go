// ABOUTME: Manager-side handlers for managed accounts, friend links, and the
// ABOUTME: client user roster; ownership is enforced on every account-scoped route

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

type createAccountRequest struct {
	Username string `json:"username" binding:"required"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
}

type createFriendRequest struct {
	ClientUserID string `json:"clientUserId" binding:"required"`
	Remark       string `json:"remark"`
}

func (s *Server) handleListManagedAccounts(c *gin.Context) {
	subject := auth.SubjectFrom(c)

	accounts, err := s.store.ListManagedAccounts(c.Request.Context(), subject.ID)
	if err != nil {
		s.logger.Error("listing managed accounts failed", "owner_id", subject.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

func (s *Server) handleCreateManagedAccount(c *gin.Context) {
	subject := auth.SubjectFrom(c)

	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	nickname := req.Nickname
	if nickname == "" {
		nickname = req.Username
	}

	account := &store.ManagedAccount{
		ID:        uuid.NewString(),
		OwnerID:   subject.ID,
		Username:  req.Username,
		Nickname:  nickname,
		Avatar:    req.Avatar,
		Status:    store.StatusOffline,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateManagedAccount(c.Request.Context(), account); err != nil {
		if errors.Is(err, store.ErrDuplicateUsername) {
			c.JSON(http.StatusConflict, gin.H{"error": "username already exists"})
			return
		}
		s.logger.Error("account creation failed", "owner_id", subject.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"account": account})
}

// ownedAccount loads the account from the path parameter and enforces that the
// authenticated manager owns it. Responds and returns nil on failure.
func (s *Server) ownedAccount(c *gin.Context) *store.ManagedAccount {
	subject := auth.SubjectFrom(c)

	account, err := s.store.GetManagedAccount(c.Request.Context(), c.Param("accountId"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		} else {
			s.logger.Error("account lookup failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return nil
	}
	if account.OwnerID != subject.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return nil
	}
	return account
}

func (s *Server) handleListFriends(c *gin.Context) {
	account := s.ownedAccount(c)
	if account == nil {
		return
	}

	links, err := s.store.ListFriendLinks(c.Request.Context(), account.ID)
	if err != nil {
		s.logger.Error("listing friend links failed", "account_id", account.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	// Overlay live presence on the stored links
	if s.presence != nil {
		for _, link := range links {
			if s.presence.IsOnline(link.ClientUserID) {
				link.Status = store.StatusOnline
			} else {
				link.Status = store.StatusOffline
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"friends": links})
}

func (s *Server) handleCreateFriend(c *gin.Context) {
	account := s.ownedAccount(c)
	if account == nil {
		return
	}

	var req createFriendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := s.store.GetClientUser(c.Request.Context(), req.ClientUserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "client user not found"})
			return
		}
		s.logger.Error("client user lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	link := &store.FriendLink{
		ID:               uuid.NewString(),
		ManagedAccountID: account.ID,
		ClientUserID:     req.ClientUserID,
		Remark:           req.Remark,
		Status:           store.StatusOffline,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.store.CreateFriendLink(c.Request.Context(), link); err != nil {
		if errors.Is(err, store.ErrDuplicateFriend) {
			c.JSON(http.StatusConflict, gin.H{"error": "friend link already exists"})
			return
		}
		s.logger.Error("friend link creation failed", "account_id", account.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"friend": link})
}

func (s *Server) handleListClientUsers(c *gin.Context) {
	users, err := s.store.ListClientUsers(c.Request.Context())
	if err != nil {
		s.logger.Error("listing client users failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}
