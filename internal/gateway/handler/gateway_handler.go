package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eventix/eventix/internal/gateway/metrics"
	"github.com/eventix/eventix/internal/gateway/registry"
	"github.com/eventix/eventix/pkg/redis"
	"github.com/eventix/eventix/pkg/response"
)

// recentMetrics bounds the /metrics response.
const recentMetrics = 100

// GatewayHandler serves the gateway's own endpoints.
type GatewayHandler struct {
	registry *registry.Registry
	recorder metrics.Recorder
	redis    *redis.Client
}

func NewGatewayHandler(reg *registry.Registry, recorder metrics.Recorder, redisClient *redis.Client) *GatewayHandler {
	return &GatewayHandler{
		registry: reg,
		recorder: recorder,
		redis:    redisClient,
	}
}

// RegisterRoutes mounts the gateway endpoints.
func (h *GatewayHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/metrics", h.Metrics)
}

// Health reports the gateway status plus per-service healthy instance counts.
func (h *GatewayHandler) Health(c *gin.Context) {
	services := gin.H{}
	degraded := false
	for _, svc := range h.registry.All() {
		healthy := svc.HealthyCount()
		total := len(svc.Snapshot())
		if healthy == 0 && total > 0 {
			degraded = true
		}
		services[svc.Name] = gin.H{
			"healthy_instances": healthy,
			"total_instances":   total,
		}
	}

	redisStatus := "healthy"
	if h.redis != nil {
		if err := h.redis.HealthCheck(c.Request.Context()); err != nil {
			redisStatus = "unhealthy"
			degraded = true
		}
	}

	status := "healthy"
	code := http.StatusOK
	if degraded {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":    status,
		"service":   "api-gateway",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"redis":     redisStatus,
		"services":  services,
	})
}

// Metrics returns the most recent proxied request samples.
func (h *GatewayHandler) Metrics(c *gin.Context) {
	raw, err := h.recorder.Recent(c.Request.Context(), recentMetrics)
	if err != nil {
		response.InternalError(c, err)
		return
	}

	entries := make([]metrics.Entry, 0, len(raw))
	for _, line := range raw {
		entry, ok := metrics.Parse(line)
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}

	response.Success(c, gin.H{
		"count":    len(entries),
		"requests": entries,
	})
}
