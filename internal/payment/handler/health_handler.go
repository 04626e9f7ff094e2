package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eventix/eventix/pkg/database"
)

// HealthHandler serves the service health endpoint.
type HealthHandler struct {
	db *database.PostgresDB
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(db *database.PostgresDB) *HealthHandler {
	return &HealthHandler{db: db}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	deps := gin.H{}
	status := http.StatusOK

	if err := h.db.HealthCheck(c.Request.Context()); err != nil {
		deps["database"] = "unhealthy: " + err.Error()
		status = http.StatusServiceUnavailable
	} else {
		deps["database"] = "healthy"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status":       overall,
		"service":      "payment-service",
		"dependencies": deps,
	})
}
