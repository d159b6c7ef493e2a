package handlers

import (
	"net/http"

	"vault-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocketHandler upgrades status-stream subscriptions
type WebSocketHandler struct {
	push     *services.WebSocketPushService
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates the websocket handler
func NewWebSocketHandler(push *services.WebSocketPushService) *WebSocketHandler {
	return &WebSocketHandler{
		push: push,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// origin policy is enforced by the CORS layer
				return true
			},
		},
	}
}

// StreamHandler handles GET /api/v1/ws?token=<jwt>. Browsers cannot set an
// Authorization header on websocket upgrades, so the token rides in the
// query string.
func (h *WebSocketHandler) StreamHandler(c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Missing token"})
		return
	}
	claims, err := ValidateJWTToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Invalid token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	id := h.push.Register(claims.Owner, conn)

	// drain reads so close frames and pings are processed; the push service
	// owns all writes
	go func() {
		defer h.push.Unregister(id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
