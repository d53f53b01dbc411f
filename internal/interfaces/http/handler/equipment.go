package handler

import (
	"strconv"
	"time"

	"github.com/equiptrack/station/internal/application/sync"
	"github.com/equiptrack/station/internal/domain/equipment"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// EquipmentHandler serves the equipment inventory: category listings,
// registration, removal and repair shipments. All reads come from the
// local cache through the sync adapter.
type EquipmentHandler struct {
	BaseHandler
	adapter *sync.Adapter
	logger  *zap.Logger
}

// NewEquipmentHandler creates a new equipment handler
func NewEquipmentHandler(adapter *sync.Adapter, logger *zap.Logger) *EquipmentHandler {
	return &EquipmentHandler{adapter: adapter, logger: logger}
}

// RegisterRoutes registers equipment routes
func (h *EquipmentHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/equipment/:category", h.List)
	rg.POST("/equipment/:category", h.Insert)
	rg.DELETE("/equipment/:category", h.Delete)

	rg.GET("/shipments", h.ListShipments)
	rg.GET("/shipments/:id", h.ShipmentDetails)
	rg.POST("/shipments", h.Ship)
}

func (h *EquipmentHandler) category(c *gin.Context) (equipment.Category, bool) {
	cat, err := equipment.ParseCategory(c.Param("category"))
	if err != nil {
		h.DomainError(c, err)
		return "", false
	}
	return cat, true
}

// List returns the cached items of one category, optionally filtered by
// lifecycle status.
func (h *EquipmentHandler) List(c *gin.Context) {
	cat, ok := h.category(c)
	if !ok {
		return
	}
	var status *equipment.Status
	if raw := c.Query("status"); raw != "" {
		s := equipment.Status(raw)
		if !s.Valid() {
			h.BadRequest(c, "unknown status "+raw)
			return
		}
		status = &s
	}
	items, err := h.adapter.ListItems(c.Request.Context(), cat, status)
	if err != nil {
		h.DomainError(c, err)
		return
	}
	h.Success(c, items)
}

// InsertItemRequest is one item to register.
type InsertItemRequest struct {
	InternalID   string `json:"internal_id"`
	Model        string `json:"model"`
	SerialNumber string `json:"serial_number" binding:"required"`
	Status       string `json:"status" binding:"omitempty,oneof=on_stock in_repair"`
}

// InsertRequest registers a batch of items in one category.
type InsertRequest struct {
	Items []InsertItemRequest `json:"items" binding:"required,min=1,dive"`
}

// Insert registers new equipment.
func (h *EquipmentHandler) Insert(c *gin.Context) {
	cat, ok := h.category(c)
	if !ok {
		return
	}
	var req InsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	items := make([]equipment.Item, 0, len(req.Items))
	for _, r := range req.Items {
		item, err := equipment.NewItem(cat, r.InternalID, r.Model, r.SerialNumber, equipment.Status(r.Status))
		if err != nil {
			h.DomainError(c, err)
			return
		}
		items = append(items, *item)
	}

	inserted, err := h.adapter.InsertItems(c.Request.Context(), cat, items)
	if err != nil {
		h.DomainError(c, err)
		return
	}
	h.Created(c, inserted)
}

// DeleteRequest removes items by id from one category.
type DeleteRequest struct {
	IDs []int64 `json:"ids" binding:"required,min=1"`
}

// Delete removes equipment.
func (h *EquipmentHandler) Delete(c *gin.Context) {
	cat, ok := h.category(c)
	if !ok {
		return
	}
	var req DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	if err := h.adapter.DeleteItems(c.Request.Context(), cat, req.IDs); err != nil {
		h.DomainError(c, err)
		return
	}
	h.NoContent(c)
}

// ListShipments returns the cached shipments.
func (h *EquipmentHandler) ListShipments(c *gin.Context) {
	shipments, err := h.adapter.ListShipments(c.Request.Context())
	if err != nil {
		h.DomainError(c, err)
		return
	}
	h.Success(c, shipments)
}

// ShipmentDetails returns one shipment with its items.
func (h *EquipmentHandler) ShipmentDetails(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		h.BadRequest(c, "shipment id must be an integer")
		return
	}
	detail, err := h.adapter.ShipmentDetails(c.Request.Context(), id)
	if err != nil {
		h.DomainError(c, err)
		return
	}
	h.Success(c, detail)
}

// ShipItemRequest addresses one item going into a shipment.
type ShipItemRequest struct {
	Category string `json:"category" binding:"required,category"`
	ItemID   int64  `json:"item_id" binding:"required"`
}

// ShipRequest sends items out for repair.
type ShipRequest struct {
	ShipmentNumber string            `json:"shipment_number" binding:"required"`
	ShipmentDate   string            `json:"shipment_date" binding:"required"`
	Items          []ShipItemRequest `json:"items" binding:"required,min=1,dive"`
}

// Ship creates a repair shipment.
func (h *EquipmentHandler) Ship(c *gin.Context) {
	var req ShipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	date, err := time.Parse("2006-01-02", req.ShipmentDate)
	if err != nil {
		h.BadRequest(c, "shipment_date must be YYYY-MM-DD")
		return
	}
	refs := make([]equipment.ShipItemRef, 0, len(req.Items))
	for _, r := range req.Items {
		cat, err := equipment.ParseCategory(r.Category)
		if err != nil {
			h.DomainError(c, err)
			return
		}
		refs = append(refs, equipment.ShipItemRef{Category: cat, ItemID: r.ItemID})
	}

	shipment, err := h.adapter.ShipItems(c.Request.Context(), req.ShipmentNumber, date, refs)
	if err != nil {
		h.DomainError(c, err)
		return
	}
	h.Created(c, shipment)
}
