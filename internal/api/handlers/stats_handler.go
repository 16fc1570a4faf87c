package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"coffee-trace-api-server/internal/api/middleware"
	"coffee-trace-api-server/internal/batch"
)

type StatsHandler struct {
	Service *batch.Service
}

// GetDashboardStats reports on the caller's own cooperative.
func (h *StatsHandler) GetDashboardStats(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok || claims.CooperativeID == 0 {
		c.JSON(http.StatusForbidden, gin.H{"error": "Your account is not linked to a cooperative"})
		return
	}
	h.respond(c, claims.CooperativeID)
}

func (h *StatsHandler) GetCooperativeStats(c *gin.Context) {
	id, err := int64Param(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	h.respond(c, id)
}

func (h *StatsHandler) respond(c *gin.Context, cooperativeID int64) {
	stats, err := h.Service.AggregateStats(c.Request.Context(), cooperativeID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
