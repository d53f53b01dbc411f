package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	loanapp "github.com/equiptrack/station/internal/application/loan"
	"github.com/equiptrack/station/internal/application/scan"
	"github.com/equiptrack/station/internal/domain/equipment"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// WorkflowHandler connects the UI to the scan dialog: raw keystrokes in,
// workflow events out over SSE, plus the feedback tones.
type WorkflowHandler struct {
	BaseHandler
	decoder  *scan.Decoder
	workflow *loanapp.Workflow
	logger   *zap.Logger
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(decoder *scan.Decoder, workflow *loanapp.Workflow, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{decoder: decoder, workflow: workflow, logger: logger}
}

// RegisterRoutes registers workflow routes
func (h *WorkflowHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/workflow/keys", h.Keys)
	rg.POST("/workflow/paste", h.Paste)
	rg.GET("/workflow/status", h.Status)
	rg.POST("/workflow/mode", h.SetMode)
	rg.POST("/workflow/auto-issue", h.SetAutoIssue)
	rg.POST("/workflow/reset", h.Reset)
	rg.GET("/workflow/events", h.Events)
	rg.GET("/workflow/tones/:result", h.Tone)
}

// KeyRequest is one forwarded keystroke. AtMs is the client-side epoch
// timestamp in milliseconds; burst detection needs all timestamps from the
// same clock, so the server clock is deliberately not used.
type KeyRequest struct {
	Key          string `json:"key" binding:"required"`
	AtMs         int64  `json:"at_ms" binding:"required"`
	Modified     bool   `json:"modified"`
	FromEditable bool   `json:"from_editable"`
}

// KeyResponse reports what the keystroke amounted to.
type KeyResponse struct {
	Token string         `json:"token,omitempty"`
	Event *loanapp.Event `json:"event,omitempty"`
}

// Keys feeds one keystroke into the decoder and, when it completes a scan,
// into the workflow.
func (h *WorkflowHandler) Keys(c *gin.Context) {
	var req KeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	if req.Key == "Escape" && !req.FromEditable {
		h.workflow.Reset()
	}

	token, res := h.decoder.Feed(scan.KeyEvent{
		Key:          req.Key,
		At:           time.UnixMilli(req.AtMs),
		Modified:     req.Modified,
		FromEditable: req.FromEditable,
	})
	switch res {
	case scan.ResultToken:
		h.dispatch(c, token)
	case scan.ResultRejected:
		// The burst finished but did not form a token. Surface it so the
		// UI plays the failure tone instead of staying silent.
		ev := h.workflow.RejectScan("scan did not form a valid token")
		h.Success(c, KeyResponse{Event: &ev})
	default:
		h.Success(c, KeyResponse{})
	}
}

// PasteRequest is a whole token pasted or typed at once.
type PasteRequest struct {
	Text string `json:"text" binding:"required"`
}

// Paste feeds a pasted string through the same normalization as a scan.
func (h *WorkflowHandler) Paste(c *gin.Context) {
	var req PasteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	token, ok := h.decoder.Paste(req.Text)
	if !ok {
		h.BadRequest(c, "text does not form a valid token")
		return
	}
	h.dispatch(c, token)
}

func (h *WorkflowHandler) dispatch(c *gin.Context, token string) {
	ev, err := h.workflow.HandleToken(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, equipment.ErrBusy) {
			// Dropped by debounce or a call in flight; not an error the
			// UI needs to surface.
			h.Success(c, KeyResponse{Token: token})
			return
		}
		h.DomainError(c, err)
		return
	}
	h.Success(c, KeyResponse{Token: token, Event: &ev})
}

// Status returns the workflow position.
func (h *WorkflowHandler) Status(c *gin.Context) {
	h.Success(c, h.workflow.Status())
}

// ModeRequest switches the workflow mode.
type ModeRequest struct {
	Mode string `json:"mode" binding:"required,oneof=issue return"`
}

// SetMode switches between issue and return mode.
func (h *WorkflowHandler) SetMode(c *gin.Context) {
	var req ModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	h.workflow.SetMode(loanapp.Mode(req.Mode))
	h.Success(c, h.workflow.Status())
}

// AutoIssueRequest flips the hands-free toggle.
type AutoIssueRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetAutoIssue flips the hands-free toggle.
func (h *WorkflowHandler) SetAutoIssue(c *gin.Context) {
	var req AutoIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	h.workflow.SetAutoIssue(*req.Enabled)
	h.Success(c, h.workflow.Status())
}

// Reset abandons the dialog in progress.
func (h *WorkflowHandler) Reset(c *gin.Context) {
	h.workflow.Reset()
	h.Success(c, h.workflow.Status())
}

// Events streams workflow events to the UI over SSE.
func (h *WorkflowHandler) Events(c *gin.Context) {
	events, cancel := h.workflow.Subscribe()
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", time.Now().Unix())
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// Tone serves the feedback clips. The UI fetches them once and replays
// them locally.
func (h *WorkflowHandler) Tone(c *gin.Context) {
	var clip []byte
	switch c.Param("result") {
	case "success":
		clip = scan.SuccessTone()
	case "failure":
		clip = scan.FailureTone()
	default:
		h.BadRequest(c, "unknown tone")
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "audio/wav", clip)
}
