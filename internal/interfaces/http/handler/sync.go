package handler

import (
	"context"
	"time"

	"github.com/equiptrack/station/internal/application/sync"
	"github.com/equiptrack/station/internal/domain/equipment"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SyncHandler exposes the connectivity state and the mutation queue.
type SyncHandler struct {
	BaseHandler
	adapter *sync.Adapter
	monitor *sync.Monitor
	logger  *zap.Logger
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(adapter *sync.Adapter, monitor *sync.Monitor, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{adapter: adapter, monitor: monitor, logger: logger}
}

// RegisterRoutes registers sync routes
func (h *SyncHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/sync/status", h.Status)
	rg.POST("/sync/replay", h.Replay)
}

// StatusResponse describes the sync state for the UI banner.
type StatusResponse struct {
	Online  bool                 `json:"online"`
	Pending int64                `json:"pending"`
	Queue   []equipment.Mutation `json:"queue"`
}

// Status returns connectivity and the pending queue.
func (h *SyncHandler) Status(c *gin.Context) {
	pending, err := h.adapter.QueueLength(c.Request.Context())
	if err != nil {
		h.DomainError(c, err)
		return
	}
	queue, err := h.adapter.QueueStatus(c.Request.Context())
	if err != nil {
		h.DomainError(c, err)
		return
	}
	h.Success(c, StatusResponse{
		Online:  h.monitor.IsOnline(),
		Pending: pending,
		Queue:   queue,
	})
}

// ReplayResponse reports a manual replay run.
type ReplayResponse struct {
	Replayed int    `json:"replayed"`
	Error    string `json:"error,omitempty"`
}

// Replay triggers a queue replay on demand. The response reports partial
// progress when the run halts midway.
func (h *SyncHandler) Replay(c *gin.Context) {
	if !h.monitor.CheckNow(c.Request.Context()) {
		h.DomainError(c, equipment.ErrOffline)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	replayed, err := h.adapter.RunSyncQueue(ctx)
	resp := ReplayResponse{Replayed: replayed}
	if err != nil {
		resp.Error = err.Error()
		h.logger.Warn("Manual replay halted",
			zap.Int("replayed", replayed),
			zap.Error(err))
	}
	h.Success(c, resp)
}
