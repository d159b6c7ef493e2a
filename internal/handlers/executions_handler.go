package handlers

import (
	"net/http"
	"strconv"

	"vault-backend/internal/repository"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ExecutionsHandler serves the execution history ledger
type ExecutionsHandler struct {
	repo repository.ExecutionRepository
}

// NewExecutionsHandler creates the history handler
func NewExecutionsHandler(repo repository.ExecutionRepository) *ExecutionsHandler {
	return &ExecutionsHandler{repo: repo}
}

// ListHandler handles GET /api/v1/executions?chain_id=&status=&page=&limit=
func (h *ExecutionsHandler) ListHandler(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	chainID, _ := strconv.Atoi(c.DefaultQuery("chain_id", "0"))
	status := c.Query("status")

	records, total, err := h.repo.Find(c.Request.Context(), chainID, status, page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to query executions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    records,
		"total":   total,
		"page":    page,
		"limit":   limit,
	})
}

// GetHandler handles GET /api/v1/executions/:id
func (h *ExecutionsHandler) GetHandler(c *gin.Context) {
	id := c.Param("id")

	record, err := h.repo.GetByID(c.Request.Context(), id)
	if err == gorm.ErrRecordNotFound {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Execution not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to query execution"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": record})
}
