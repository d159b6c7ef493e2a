package handlers

import (
	"net/http"
	"time"

	"vault-backend/internal/chain"
	"vault-backend/internal/db"

	"github.com/gin-gonic/gin"
)

// HealthHandler reports service liveness and dependency status
type HealthHandler struct {
	clients *chain.Clients
	started time.Time
}

// NewHealthHandler creates the health handler
func NewHealthHandler(clients *chain.Clients) *HealthHandler {
	return &HealthHandler{clients: clients, started: time.Now()}
}

// HealthCheckHandler handles GET /health
func (h *HealthHandler) HealthCheckHandler(c *gin.Context) {
	databaseStatus := "ok"
	if db.DB == nil {
		databaseStatus = "unavailable"
	} else if sqlDB, err := db.DB.DB(); err != nil || sqlDB.Ping() != nil {
		databaseStatus = "unreachable"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.started).Seconds()),
		"chains":         h.clients.ChainIDs(),
		"database":       databaseStatus,
	})
}
