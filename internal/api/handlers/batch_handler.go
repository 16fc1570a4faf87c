package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"coffee-trace-api-server/internal/api/middleware"
	"coffee-trace-api-server/internal/apperror"
	"coffee-trace-api-server/internal/batch"
	"coffee-trace-api-server/internal/models"
	"coffee-trace-api-server/internal/qr"
	"coffee-trace-api-server/internal/store"
)

type BatchHandler struct {
	Service *batch.Service
}

type CreateBatchRequest struct {
	FarmerID         int64   `json:"farmer_id" binding:"required"`
	CooperativeID    int64   `json:"cooperative_id"`
	HarvestDate      string  `json:"harvest_date" binding:"required"`
	QuantityKg       float64 `json:"quantity_kg" binding:"required,gt=0"`
	QualityGrade     string  `json:"quality_grade"`
	Variety          string  `json:"variety"`
	ProcessingMethod string  `json:"processing_method"`
	Notes            string  `json:"notes"`
}

type UpdateStatusRequest struct {
	Status models.Status `json:"status" binding:"required"`
}

// parseHarvestDate accepts a calendar date or an RFC 3339 timestamp.
func parseHarvestDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, errors.New("harvest_date must be YYYY-MM-DD")
}

// CreateBatch logs a new harvest batch. Non-admin callers bound to a
// cooperative may only log batches for that cooperative's farmers.
func (h *BatchHandler) CreateBatch(c *gin.Context) {
	var req CreateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	harvest, err := parseHarvestDate(req.HarvestDate)
	if err != nil {
		badRequest(c, err)
		return
	}

	in := batch.CreateBatchInput{
		FarmerID:         req.FarmerID,
		CooperativeID:    req.CooperativeID,
		HarvestDate:      harvest,
		QuantityKg:       req.QuantityKg,
		QualityGrade:     req.QualityGrade,
		Variety:          req.Variety,
		ProcessingMethod: req.ProcessingMethod,
		Notes:            req.Notes,
	}
	if claims, ok := middleware.ClaimsFrom(c); ok && claims.Role != models.RoleAdmin && claims.CooperativeID != 0 {
		if in.CooperativeID != 0 && in.CooperativeID != claims.CooperativeID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "You can only log batches for your own cooperative"})
			return
		}
		in.CooperativeID = claims.CooperativeID
	}

	b, err := h.Service.CreateBatch(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

// ListBatches filters by cooperative_id, farmer_id and status.
func (h *BatchHandler) ListBatches(c *gin.Context) {
	var filter store.BatchFilter
	var err error
	if filter.CooperativeID, err = int64Query(c, "cooperative_id"); err != nil {
		respondError(c, err)
		return
	}
	if filter.FarmerID, err = int64Query(c, "farmer_id"); err != nil {
		respondError(c, err)
		return
	}
	filter.Status = models.Status(c.Query("status"))

	items, err := h.Service.ListBatches(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

// GetBatch resolves a batch by id or public code with its provenance.
func (h *BatchHandler) GetBatch(c *gin.Context) {
	traced, err := h.Service.ResolveBatch(c.Request.Context(), c.Param("identifier"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, traced)
}

func (h *BatchHandler) UpdateStatus(c *gin.Context) {
	id, err := h.batchID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	b, err := h.Service.TransitionStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// GetQRCode returns the batch's QR artifact, issuing it on first request.
func (h *BatchHandler) GetQRCode(c *gin.Context) {
	art, err := h.ensureArtifact(c)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, art)
}

// GetQRImage serves the same artifact as a PNG.
func (h *BatchHandler) GetQRImage(c *gin.Context) {
	art, err := h.ensureArtifact(c)
	if err != nil {
		respondError(c, err)
		return
	}
	png, err := qr.DecodeDataURI(art.DataURI)
	if err != nil {
		respondError(c, apperror.Artifact("handlers.GetQRImage", err))
		return
	}
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.Data(http.StatusOK, "image/png", png)
}

func (h *BatchHandler) ensureArtifact(c *gin.Context) (*models.QRArtifact, error) {
	id, err := h.batchID(c)
	if err != nil {
		return nil, err
	}
	return h.Service.EnsureQRArtifact(c.Request.Context(), id)
}

// batchID accepts a surrogate id or a batch code in the identifier segment.
func (h *BatchHandler) batchID(c *gin.Context) (int64, error) {
	identifier := c.Param("identifier")
	if id, _, ok := store.ParseIdentifier(identifier); ok {
		return id, nil
	}
	traced, err := h.Service.ResolveBatch(c.Request.Context(), identifier)
	if err != nil {
		return 0, err
	}
	return traced.ID, nil
}
