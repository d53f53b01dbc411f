package handler

import (
	"time"

	"github.com/gin-gonic/gin"
)

// SystemHandler serves liveness probes.
type SystemHandler struct {
	BaseHandler
	startedAt time.Time
	version   string
}

// NewSystemHandler creates a new system handler
func NewSystemHandler(version string) *SystemHandler {
	return &SystemHandler{startedAt: time.Now(), version: version}
}

// RegisterRoutes registers system routes
func (h *SystemHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/health", h.Health)
}

// Health reports that the station process is alive. Remote reachability
// is a separate concern served by the sync status endpoint.
func (h *SystemHandler) Health(c *gin.Context) {
	h.Success(c, gin.H{
		"status":  "ok",
		"version": h.version,
		"uptime":  time.Since(h.startedAt).String(),
	})
}
