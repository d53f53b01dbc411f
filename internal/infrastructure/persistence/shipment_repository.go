package persistence

import (
	"context"

	"github.com/equiptrack/station/internal/domain/equipment"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ShipmentRepository stores cached shipments and their item links.
type ShipmentRepository struct {
	db *gorm.DB
}

// NewShipmentRepository creates a new sqlite-backed shipment repository
func NewShipmentRepository(db *gorm.DB) *ShipmentRepository {
	return &ShipmentRepository{db: db}
}

// List returns cached shipments, newest first.
func (r *ShipmentRepository) List(ctx context.Context) ([]equipment.Shipment, error) {
	var out []equipment.Shipment
	err := r.db.WithContext(ctx).Order("id DESC").Find(&out).Error
	return out, err
}

// Put upserts a single shipment.
func (r *ShipmentRepository) Put(ctx context.Context, s equipment.Shipment) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&s).Error
}

// Sync swaps the confirmed shipments for a fresh remote snapshot in one
// transaction. Placeholder shipments (negative ids) are preserved until the
// queue replay reassigns them.
func (r *ShipmentRepository) Sync(ctx context.Context, shipments []equipment.Shipment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id >= 0").Delete(&equipment.Shipment{}).Error; err != nil {
			return err
		}
		if len(shipments) == 0 {
			return nil
		}
		return tx.
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				UpdateAll: true,
			}).
			Create(&shipments).Error
	})
}

// PutLinks appends shipment links.
func (r *ShipmentRepository) PutLinks(ctx context.Context, links []equipment.ShipmentLink) error {
	if len(links) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&links).Error
}

// LinksByShipment returns the links of one shipment.
func (r *ShipmentRepository) LinksByShipment(ctx context.Context, shipmentID int64) ([]equipment.ShipmentLink, error) {
	var out []equipment.ShipmentLink
	err := r.db.WithContext(ctx).
		Where("shipment_id = ?", shipmentID).
		Find(&out).Error
	return out, err
}

// ReassignShipment substitutes a placeholder shipment id with the
// server-assigned one, on the shipment row and every link, in one
// transaction. It is a no-op when the placeholder is already gone.
func (r *ShipmentRepository) ReassignShipment(ctx context.Context, placeholderID int64, confirmed equipment.Shipment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("id = ?", placeholderID).
			Delete(&equipment.Shipment{}).Error; err != nil {
			return err
		}
		if err := tx.
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				UpdateAll: true,
			}).
			Create(&confirmed).Error; err != nil {
			return err
		}
		return tx.Model(&equipment.ShipmentLink{}).
			Where("shipment_id = ?", placeholderID).
			Update("shipment_id", confirmed.ID).Error
	})
}
