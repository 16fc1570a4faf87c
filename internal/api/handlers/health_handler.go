package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"coffee-trace-api-server/internal/store"
)

type HealthHandler struct {
	Store   store.Store
	Timeout time.Duration
}

func (h *HealthHandler) GetHealth(c *gin.Context) {
	ctx, cancel := storeCtx(c, h.Timeout)
	defer cancel()

	if err := h.Store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().UTC()})
}
