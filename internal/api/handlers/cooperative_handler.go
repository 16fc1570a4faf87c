package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"coffee-trace-api-server/internal/models"
	"coffee-trace-api-server/internal/store"
)

type CooperativeHandler struct {
	Store   store.Store
	Timeout time.Duration
}

type CreateCooperativeRequest struct {
	Name         string `json:"name" binding:"required"`
	Location     string `json:"location"`
	Country      string `json:"country" binding:"required"`
	ContactEmail string `json:"contact_email" binding:"omitempty,email"`
	ContactPhone string `json:"contact_phone"`
}

func (h *CooperativeHandler) CreateCooperative(c *gin.Context) {
	var req CreateCooperativeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	coop := &models.Cooperative{
		Name:         req.Name,
		Location:     req.Location,
		Country:      req.Country,
		ContactEmail: req.ContactEmail,
		ContactPhone: req.ContactPhone,
	}

	ctx, cancel := storeCtx(c, h.Timeout)
	defer cancel()
	if err := h.Store.CreateCooperative(ctx, coop); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, coop)
}

func (h *CooperativeHandler) GetAllCooperatives(c *gin.Context) {
	ctx, cancel := storeCtx(c, h.Timeout)
	defer cancel()

	coops, err := h.Store.ListCooperatives(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, coops)
}

func (h *CooperativeHandler) GetCooperativeByID(c *gin.Context) {
	id, err := int64Param(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}

	ctx, cancel := storeCtx(c, h.Timeout)
	defer cancel()
	coop, err := h.Store.GetCooperative(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, coop)
}
