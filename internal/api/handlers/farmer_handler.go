package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"coffee-trace-api-server/internal/models"
	"coffee-trace-api-server/internal/store"
)

type FarmerHandler struct {
	Store   store.Store
	Timeout time.Duration
}

type CreateFarmerRequest struct {
	CooperativeID    int64   `json:"cooperative_id" binding:"required"`
	FarmerCode       string  `json:"farmer_code" binding:"required"`
	FirstName        string  `json:"first_name" binding:"required"`
	LastName         string  `json:"last_name" binding:"required"`
	Phone            string  `json:"phone"`
	FarmLocation     string  `json:"farm_location"`
	FarmSizeHectares float64 `json:"farm_size_hectares" binding:"gte=0"`
	Certification    string  `json:"certification"`
}

func (h *FarmerHandler) CreateFarmer(c *gin.Context) {
	var req CreateFarmerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	farmer := &models.Farmer{
		CooperativeID:    req.CooperativeID,
		FarmerCode:       req.FarmerCode,
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		Phone:            req.Phone,
		FarmLocation:     req.FarmLocation,
		FarmSizeHectares: req.FarmSizeHectares,
		Certification:    req.Certification,
	}

	ctx, cancel := storeCtx(c, h.Timeout)
	defer cancel()
	if err := h.Store.CreateFarmer(ctx, farmer); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, farmer)
}

// GetAllFarmers lists farmers, optionally for one cooperative_id.
func (h *FarmerHandler) GetAllFarmers(c *gin.Context) {
	coopID, err := int64Query(c, "cooperative_id")
	if err != nil {
		respondError(c, err)
		return
	}

	ctx, cancel := storeCtx(c, h.Timeout)
	defer cancel()
	farmers, err := h.Store.ListFarmers(ctx, store.FarmerFilter{CooperativeID: coopID})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, farmers)
}

func (h *FarmerHandler) GetFarmerByID(c *gin.Context) {
	id, err := int64Param(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}

	ctx, cancel := storeCtx(c, h.Timeout)
	defer cancel()
	farmer, err := h.Store.GetFarmer(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, farmer)
}
