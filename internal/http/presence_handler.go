package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inmo-market/internal/presence"
)

// PresenceHandler expone la vista administrativa del gateway realtime y el
// puente HTTP que usan colaboradores internos para emitir eventos.
type PresenceHandler struct {
	logger  *zap.Logger
	gateway *presence.Gateway
}

func NewPresenceHandler(logger *zap.Logger, gateway *presence.Gateway) *PresenceHandler {
	return &PresenceHandler{
		logger:  logger,
		gateway: gateway,
	}
}

// Stats maneja GET /presence/stats.
func (h *PresenceHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.gateway.Stats())
}

// Notify maneja POST /presence/notify: emite un evento a las conexiones de
// una identidad. Si esta offline no se encola nada; el caller debe tener el
// evento persistido para entrega por pull.
func (h *PresenceHandler) Notify(c *gin.Context) {
	var req struct {
		IdentityID string `json:"identity_id" binding:"required"`
		Event      string `json:"event" binding:"required"`
		Payload    any    `json:"payload"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid notify request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	delivered := h.gateway.SendToUser(req.IdentityID, req.Event, req.Payload)
	c.JSON(http.StatusOK, gin.H{"delivered": delivered})
}

// Broadcast maneja POST /presence/broadcast: con role emite solo a ese rol,
// sin role emite a todas las conexiones.
func (h *PresenceHandler) Broadcast(c *gin.Context) {
	var req struct {
		Role    string `json:"role"`
		Event   string `json:"event" binding:"required"`
		Payload any    `json:"payload"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid broadcast request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	var delivered int
	if req.Role != "" {
		delivered = h.gateway.BroadcastToRole(req.Role, req.Event, req.Payload)
	} else {
		delivered = h.gateway.BroadcastAll(req.Event, req.Payload)
	}
	c.JSON(http.StatusOK, gin.H{"delivered": delivered})
}
