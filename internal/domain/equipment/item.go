package equipment

import (
	"strings"
	"time"
)

// Status describes where an item currently is in its lifecycle.
type Status string

const (
	StatusOnStock  Status = "on_stock"
	StatusInRepair Status = "in_repair"
)

// Valid reports whether the status is a known lifecycle state.
func (s Status) Valid() bool {
	return s == StatusOnStock || s == StatusInRepair
}

// Item is a single piece of physical equipment. ID is server-authoritative
// when positive; a negative id marks a record created while offline that the
// remote service has not acknowledged yet.
type Item struct {
	ID           int64    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Category     Category `gorm:"primaryKey;size:32;index:idx_items_serial;index:idx_items_status" json:"category"`
	InternalID   string   `gorm:"size:64;index" json:"internal_id"`
	Model        string   `gorm:"size:128" json:"model"`
	SerialNumber string   `gorm:"size:128;index:idx_items_serial" json:"serial_number"`
	Status       Status   `gorm:"size:16;index:idx_items_status" json:"status"`
}

// TableName returns the table name for GORM
func (Item) TableName() string {
	return "equipment_items"
}

// NewItem creates an item pending remote acknowledgement (id unset).
func NewItem(category Category, internalID, model, serial string, status Status) (*Item, error) {
	if !category.Valid() {
		return nil, ErrUnknownCategory
	}
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return nil, NewDomainError("EMPTY_SERIAL", "Serial number cannot be empty")
	}
	if !status.Valid() {
		status = StatusOnStock
	}
	return &Item{
		Category:     category,
		InternalID:   strings.TrimSpace(internalID),
		Model:        strings.TrimSpace(model),
		SerialNumber: serial,
		Status:       status,
	}, nil
}

// IsPlaceholder reports whether the item carries a client-generated id that
// has not been confirmed by the remote service.
func (i *Item) IsPlaceholder() bool {
	return i.ID < 0
}

// Shipment groups items sent out for repair.
// A negative id marks a shipment created while offline.
type Shipment struct {
	ID     int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Number string    `gorm:"size:64;index" json:"shipment_number"`
	Date   time.Time `json:"shipment_date"`
}

// TableName returns the table name for GORM
func (Shipment) TableName() string {
	return "shipments"
}

// IsPlaceholder reports whether the shipment id is client-generated.
func (s *Shipment) IsPlaceholder() bool {
	return s.ID < 0
}

// ShipmentLink ties one equipment item to a shipment. Links reference items
// by (category, item id) because ids are only unique within a category.
type ShipmentLink struct {
	ID         int64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ShipmentID int64    `gorm:"index" json:"shipment_id"`
	ItemID     int64    `json:"item_id"`
	Category   Category `gorm:"size:32" json:"category"`
}

// TableName returns the table name for GORM
func (ShipmentLink) TableName() string {
	return "shipment_links"
}
