package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"coffee-trace-api-server/internal/apperror"
	"coffee-trace-api-server/internal/auth"
	"coffee-trace-api-server/internal/models"
	"coffee-trace-api-server/internal/store"
)

type UserHandler struct {
	Store   store.Store
	Tokens  *auth.Manager
	Timeout time.Duration
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type CreateUserRequest struct {
	Email         string `json:"email" binding:"required,email"`
	Name          string `json:"name" binding:"required"`
	Password      string `json:"password" binding:"required,min=8"`
	Role          string `json:"role" binding:"required,oneof=admin farmer buyer"`
	CooperativeID int64  `json:"cooperative_id"`
}

func (h *UserHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx, cancel := storeCtx(c, h.Timeout)
	defer cancel()
	user, err := h.Store.GetUserByEmail(ctx, req.Email)
	if errors.Is(err, apperror.ErrNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	if !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	token, err := h.Tokens.Issue(user)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

// CreateUser registers an account. Admin only.
func (h *UserHandler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	user := &models.User{
		Email:         req.Email,
		Name:          req.Name,
		PasswordHash:  hashed,
		Role:          req.Role,
		CooperativeID: req.CooperativeID,
	}

	ctx, cancel := storeCtx(c, h.Timeout)
	defer cancel()
	if req.CooperativeID != 0 {
		if _, err := h.Store.GetCooperative(ctx, req.CooperativeID); err != nil {
			respondError(c, err)
			return
		}
	}
	if err := h.Store.CreateUser(ctx, user); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}
