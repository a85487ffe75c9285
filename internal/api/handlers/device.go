package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/pumpspy/internal/adapter"
	"github.com/langchou/pumpspy/internal/service"
)

// GetDevice returns the configured device and its session state.
// GET /api/device
func (h *Handler) GetDevice(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"device":  h.device.GetDeviceInfo(),
			"session": h.device.SessionState(),
		},
	})
}

// GetSnapshot returns the latest snapshot.
// GET /api/snapshot
func (h *Handler) GetSnapshot(c *gin.Context) {
	snap, ok := h.poller.Latest()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No snapshot yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": snap})
}

// ListEntities returns the sensors derived from the latest snapshot.
// Before the first refresh every entity is unavailable.
// GET /api/entities
func (h *Handler) ListEntities(c *gin.Context) {
	snap, _ := h.poller.Latest()
	readings := adapter.Readings(h.device.GetDeviceInfo(), snap, h.now())
	c.JSON(http.StatusOK, gin.H{"data": readings})
}

// Refresh runs a refresh right away.
// POST /api/refresh
func (h *Handler) Refresh(c *gin.Context) {
	snap, err := h.poller.RefreshNow(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"data": snap})
	case errors.Is(err, service.ErrRefreshInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotSetUp):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Manual refresh failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}
