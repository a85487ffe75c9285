package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/pumpspy/internal/models"
	"github.com/langchou/pumpspy/internal/service"
	"github.com/langchou/pumpspy/internal/state"
	"github.com/langchou/pumpspy/pkg/ws"
)

// Device is the assembler side of the API.
type Device interface {
	GetDeviceInfo() models.DeviceInfo
	SessionState() *state.SessionState
}

// Poller is the refresh side of the API.
type Poller interface {
	Latest() (*models.Snapshot, bool)
	RefreshNow(ctx context.Context) (*models.Snapshot, error)
	Status() service.PollerStatus
}

// Handler serves the host API.
type Handler struct {
	logger   *zap.Logger
	device   Device
	poller   Poller
	wsHub    *ws.Hub
	upgrader websocket.Upgrader
	now      func() time.Time
}

// NewHandler creates a handler.
func NewHandler(logger *zap.Logger, device Device, poller Poller, wsHub *ws.Hub) *Handler {
	return &Handler{
		logger: logger,
		device: device,
		poller: poller,
		wsHub:  wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // served on the local network only
			},
		},
		now: time.Now,
	}
}

// RegisterRoutes registers every route on r.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.GET("/device", h.GetDevice)
		api.GET("/snapshot", h.GetSnapshot)
		api.GET("/entities", h.ListEntities)
		api.POST("/refresh", h.Refresh)
	}

	r.GET("/ws", h.HandleWebSocket)
	r.GET("/health", h.HealthCheck)
}

// HandleWebSocket upgrades the connection and attaches it to the hub.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	client.Register()

	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck reports liveness and poller state.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"ws_clients": h.wsHub.ClientCount(),
		"poller":     h.poller.Status(),
	})
}
