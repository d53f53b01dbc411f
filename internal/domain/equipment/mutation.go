package equipment

import (
	"encoding/json"
	"fmt"
	"time"
)

// MutationKind enumerates the write operations that can be deferred while
// the remote data service is unreachable.
type MutationKind string

const (
	MutationInsert MutationKind = "insert"
	MutationDelete MutationKind = "delete"
	MutationShip   MutationKind = "ship"
)

// Mutation is one durable entry of the offline write-ahead queue. Entries are
// replayed against the remote service strictly in insertion order; the
// autoincrement id is the FIFO position.
type Mutation struct {
	ID        int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	Kind      MutationKind `gorm:"size:16;not null" json:"kind"`
	Category  Category     `gorm:"size:32" json:"category"`
	Payload   []byte       `gorm:"type:blob;not null" json:"payload"`
	CreatedAt time.Time    `json:"created_at"`
}

// TableName returns the table name for GORM
func (Mutation) TableName() string {
	return "sync_queue"
}

// InsertPayload carries an item created offline together with the negative
// placeholder id assigned to it in the local cache.
type InsertPayload struct {
	TempID int64 `json:"temp_id"`
	Item   Item  `json:"item"`
}

// DeletePayload carries the ids removed from the local cache.
type DeletePayload struct {
	IDs []int64 `json:"ids"`
}

// ShipItemRef addresses one shipped item across categories.
type ShipItemRef struct {
	Category Category `json:"category"`
	ItemID   int64    `json:"item_id"`
}

// ShipPayload carries a complete offline shipment: the shipment header, the
// placeholder id it received locally and every linked item.
type ShipPayload struct {
	TempShipmentID int64         `json:"temp_shipment_id"`
	Number         string        `json:"shipment_number"`
	Date           time.Time     `json:"shipment_date"`
	Items          []ShipItemRef `json:"items"`
}

// NewInsertMutation queues an offline item insert.
func NewInsertMutation(category Category, tempID int64, item Item) (*Mutation, error) {
	if !category.Valid() {
		return nil, ErrUnknownCategory
	}
	if tempID >= 0 {
		return nil, NewDomainError("INVALID_TEMP_ID", "Placeholder id must be negative")
	}
	return newMutation(MutationInsert, category, InsertPayload{TempID: tempID, Item: item})
}

// NewDeleteMutation queues an offline bulk delete.
func NewDeleteMutation(category Category, ids []int64) (*Mutation, error) {
	if !category.Valid() {
		return nil, ErrUnknownCategory
	}
	if len(ids) == 0 {
		return nil, NewDomainError("EMPTY_DELETE", "Delete mutation needs at least one id")
	}
	return newMutation(MutationDelete, category, DeletePayload{IDs: ids})
}

// NewShipMutation queues an offline shipment. Ship spans categories, so the
// mutation itself carries no category.
func NewShipMutation(p ShipPayload) (*Mutation, error) {
	if p.TempShipmentID >= 0 {
		return nil, NewDomainError("INVALID_TEMP_ID", "Placeholder shipment id must be negative")
	}
	if len(p.Items) == 0 {
		return nil, NewDomainError("EMPTY_SHIPMENT", "Shipment needs at least one item")
	}
	for _, ref := range p.Items {
		if !ref.Category.Valid() {
			return nil, ErrUnknownCategory
		}
	}
	return newMutation(MutationShip, "", p)
}

func newMutation(kind MutationKind, category Category, payload any) (*Mutation, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return &Mutation{
		Kind:      kind,
		Category:  category,
		Payload:   data,
		CreatedAt: time.Now(),
	}, nil
}

// InsertPayload decodes the payload of an insert mutation.
func (m *Mutation) InsertPayload() (InsertPayload, error) {
	var p InsertPayload
	if m.Kind != MutationInsert {
		return p, fmt.Errorf("mutation %d is %s, not insert", m.ID, m.Kind)
	}
	err := json.Unmarshal(m.Payload, &p)
	return p, err
}

// DeletePayload decodes the payload of a delete mutation.
func (m *Mutation) DeletePayload() (DeletePayload, error) {
	var p DeletePayload
	if m.Kind != MutationDelete {
		return p, fmt.Errorf("mutation %d is %s, not delete", m.ID, m.Kind)
	}
	err := json.Unmarshal(m.Payload, &p)
	return p, err
}

// ShipPayload decodes the payload of a ship mutation.
func (m *Mutation) ShipPayload() (ShipPayload, error) {
	var p ShipPayload
	if m.Kind != MutationShip {
		return p, fmt.Errorf("mutation %d is %s, not ship", m.ID, m.Kind)
	}
	err := json.Unmarshal(m.Payload, &p)
	return p, err
}
