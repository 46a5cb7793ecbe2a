// ABOUTME: Authentication handlers for managers and client users
// ABOUTME: Registration, login, and profile over two disjoint identity spaces

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

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=6"`
	Nickname string `json:"nickname"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Avatar   string `json:"avatar"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleManagerRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("password hashing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}

	nickname := req.Nickname
	if nickname == "" {
		nickname = req.Username
	}

	user := &store.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		PasswordHash: hash,
		Nickname:     nickname,
		Email:        req.Email,
		Phone:        req.Phone,
		Avatar:       req.Avatar,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(c.Request.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicateUsername) {
			c.JSON(http.StatusConflict, gin.H{"error": "username already exists"})
			return
		}
		s.logger.Error("user creation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}

	s.issueToken(c, http.StatusCreated, &auth.Subject{ID: user.ID, Kind: auth.KindManager, DisplayName: user.Nickname}, user)
}

func (s *Server) handleManagerLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := s.store.GetUserByUsername(c.Request.Context(), req.Username)
	if err != nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	s.issueToken(c, http.StatusOK, &auth.Subject{ID: user.ID, Kind: auth.KindManager, DisplayName: user.Nickname}, user)
}

func (s *Server) handleClientRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("password hashing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}

	nickname := req.Nickname
	if nickname == "" {
		nickname = req.Username
	}

	user := &store.ClientUser{
		ID:           uuid.NewString(),
		Username:     req.Username,
		PasswordHash: hash,
		Nickname:     nickname,
		Email:        req.Email,
		Phone:        req.Phone,
		Avatar:       req.Avatar,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateClientUser(c.Request.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicateUsername) {
			c.JSON(http.StatusConflict, gin.H{"error": "username already exists"})
			return
		}
		s.logger.Error("client user creation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}

	s.issueToken(c, http.StatusCreated, &auth.Subject{ID: user.ID, Kind: auth.KindClient, DisplayName: user.Nickname}, user)
}

func (s *Server) handleClientLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := s.store.GetClientUserByUsername(c.Request.Context(), req.Username)
	if err != nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	s.issueToken(c, http.StatusOK, &auth.Subject{ID: user.ID, Kind: auth.KindClient, DisplayName: user.Nickname}, user)
}

func (s *Server) handleProfile(c *gin.Context) {
	subject := auth.SubjectFrom(c)

	switch subject.Kind {
	case auth.KindManager:
		user, err := s.store.GetUser(c.Request.Context(), subject.ID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user, "kind": subject.Kind})
	case auth.KindClient:
		user, err := s.store.GetClientUser(c.Request.Context(), subject.ID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user, "kind": subject.Kind})
	}
}

// issueToken signs a JWT for the subject and answers with {token, user}.
func (s *Server) issueToken(c *gin.Context, status int, subject *auth.Subject, user any) {
	token, err := s.verifier.Generate(subject, s.tokenTTL)
	if err != nil {
		s.logger.Error("token generation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	c.JSON(status, gin.H{"token": token, "user": user})
}
