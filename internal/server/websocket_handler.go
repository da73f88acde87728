package server

import (
	"context"
	"errors"
	"net/http"

	"dealroom-chat/internal/metrics"
	"dealroom-chat/internal/services"
	"dealroom-chat/internal/transport/httpdto"
	"dealroom-chat/internal/websocket"
	dealroom_errors "dealroom-chat/pkg/errors"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler registers the session of an authenticated handshake and
// hands the connection to a Client.
type WebSocketHandler struct {
	ctx          context.Context
	registry     *websocket.Registry
	dispatcher   *Dispatcher
	maxMalformed int
	logger       *WebSocketLogger
}

// NewWebSocketHandler passes ctx to each Client for notification handling.
// Pumps end when the connection fails or the registry closes the session.
func NewWebSocketHandler(ctx context.Context, registry *websocket.Registry, dispatcher *Dispatcher, maxMalformed int, logger *WebSocketLogger) *WebSocketHandler {
	return &WebSocketHandler{
		ctx:          ctx,
		registry:     registry,
		dispatcher:   dispatcher,
		maxMalformed: maxMalformed,
		logger:       logger,
	}
}

// Handle upgrades HTTP to WebSocket. AuthMiddleware runs first.
func (h *WebSocketHandler) Handle(c *gin.Context) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", services.CodeUnauthorized))
		return
	}

	// Registering before the upgrade lets a duplicate connection be refused
	// with a plain HTTP status.
	session, err := h.registry.Register(userID)
	if err != nil {
		reason := "internal"
		if errors.Is(err, dealroom_errors.ErrAlreadyRegistered) {
			reason = "already_registered"
		}
		metrics.RejectedSessions.WithLabelValues(reason).Inc()
		c.JSON(services.HTTPStatus(err), httpdto.NewErrorResponse(services.PublicMessage(err), services.ErrorCode(err)))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.registry.Unregister(session)
		h.logger.Error("websocket upgrade failed", userID, session.ID, err)
		return
	}

	client := NewClient(conn, session, h.registry, h.dispatcher, h.maxMalformed, h.logger)
	go client.Run(h.ctx)
}
