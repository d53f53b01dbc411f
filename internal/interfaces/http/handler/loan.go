package handler

import (
	loanapp "github.com/equiptrack/station/internal/application/loan"
	"github.com/equiptrack/station/internal/domain/equipment"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LoanHandler serves the counter views and the manual issue/return paths
// that bypass the scan dialog.
type LoanHandler struct {
	BaseHandler
	service  *loanapp.Service
	workflow *loanapp.Workflow
	logger   *zap.Logger
}

// NewLoanHandler creates a new loan handler
func NewLoanHandler(service *loanapp.Service, workflow *loanapp.Workflow, logger *zap.Logger) *LoanHandler {
	return &LoanHandler{service: service, workflow: workflow, logger: logger}
}

// RegisterRoutes registers loan routes
func (h *LoanHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/loans/active", h.Active)
	rg.GET("/loans/available/:category", h.Available)
	rg.POST("/loans/issue", h.Issue)
	rg.POST("/loans/return", h.Return)
}

// Active returns the active loans.
func (h *LoanHandler) Active(c *gin.Context) {
	loans, err := h.service.FetchActive(c.Request.Context())
	if err != nil {
		h.DomainError(c, err)
		return
	}
	h.Success(c, loans)
}

// Available returns the issuable items of one loanable category.
func (h *LoanHandler) Available(c *gin.Context) {
	cat, err := equipment.ParseCategory(c.Param("category"))
	if err != nil {
		h.DomainError(c, err)
		return
	}
	items, err := h.service.FetchAvailable(c.Request.Context(), cat)
	if err != nil {
		h.DomainError(c, err)
		return
	}
	h.Success(c, items)
}

// IssueRequest issues a specific item to an operator.
type IssueRequest struct {
	OperatorID string `json:"operator_id" binding:"required"`
	Category   string `json:"category" binding:"required,category"`
	ItemID     int64  `json:"item_id" binding:"required"`
	Note       string `json:"note"`
}

// Issue hands an item to an operator outside the scan dialog.
func (h *LoanHandler) Issue(c *gin.Context) {
	var req IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	cat, err := equipment.ParseCategory(req.Category)
	if err != nil {
		h.DomainError(c, err)
		return
	}
	if err := h.workflow.ManualIssue(c.Request.Context(), req.OperatorID, cat, req.ItemID, req.Note); err != nil {
		h.DomainError(c, err)
		return
	}
	h.NoContent(c)
}

// ReturnRequest takes one item back from an operator.
type ReturnRequest struct {
	OperatorID string `json:"operator_id" binding:"required"`
	Category   string `json:"category" binding:"required,category"`
	ItemID     int64  `json:"item_id" binding:"required"`
}

// Return books a device return outside the scan dialog.
func (h *LoanHandler) Return(c *gin.Context) {
	var req ReturnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	cat, err := equipment.ParseCategory(req.Category)
	if err != nil {
		h.DomainError(c, err)
		return
	}
	if err := h.service.ReturnOne(c.Request.Context(), req.OperatorID, cat, req.ItemID); err != nil {
		h.DomainError(c, err)
		return
	}
	h.NoContent(c)
}
