package persistence

import (
	"context"

	"github.com/equiptrack/station/internal/domain/equipment"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ItemRepository is the per-category keyed store for cached equipment items.
// All operations are idempotent on retry: re-putting a present id is an
// overwrite, deleting a missing id is a no-op.
type ItemRepository struct {
	db *gorm.DB
}

// NewItemRepository creates a new sqlite-backed item repository
func NewItemRepository(db *gorm.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// List returns cached items of a category, newest first. A nil status
// returns every lifecycle state.
func (r *ItemRepository) List(ctx context.Context, cat equipment.Category, status *equipment.Status) ([]equipment.Item, error) {
	var items []equipment.Item
	q := r.db.WithContext(ctx).Where("category = ?", cat)
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	err := q.Order("id DESC").Find(&items).Error
	return items, err
}

// FindByIDs returns the cached items matching the given ids within a category.
func (r *ItemRepository) FindByIDs(ctx context.Context, cat equipment.Category, ids []int64) ([]equipment.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var items []equipment.Item
	err := r.db.WithContext(ctx).
		Where("category = ? AND id IN ?", cat, ids).
		Find(&items).Error
	return items, err
}

// FindBySerials returns the cached items whose serial numbers appear in the
// given set, within a category.
func (r *ItemRepository) FindBySerials(ctx context.Context, cat equipment.Category, serials []string) ([]equipment.Item, error) {
	if len(serials) == 0 {
		return nil, nil
	}
	var items []equipment.Item
	err := r.db.WithContext(ctx).
		Where("category = ? AND serial_number IN ?", cat, serials).
		Find(&items).Error
	return items, err
}

// Put upserts items into the category partition.
func (r *ItemRepository) Put(ctx context.Context, cat equipment.Category, items []equipment.Item) error {
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		items[i].Category = cat
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}, {Name: "category"}},
			UpdateAll: true,
		}).
		Create(&items).Error
}

// Sync overwrites the confirmed rows of a category partition with a fresh
// remote snapshot. Placeholder rows (negative ids) are preserved; they
// belong to the mutation queue, not to the remote service.
func (r *ItemRepository) Sync(ctx context.Context, cat equipment.Category, items []equipment.Item) error {
	for i := range items {
		items[i].Category = cat
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("category = ? AND id >= 0", cat).
			Delete(&equipment.Item{}).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		return tx.
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}, {Name: "category"}},
				UpdateAll: true,
			}).
			Create(&items).Error
	})
}

// Delete removes items by id from the category partition.
func (r *ItemRepository) Delete(ctx context.Context, cat equipment.Category, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("category = ? AND id IN ?", cat, ids).
		Delete(&equipment.Item{}).Error
}

// UpdateStatus flips the status of the given items.
func (r *ItemRepository) UpdateStatus(ctx context.Context, cat equipment.Category, ids []int64, status equipment.Status) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&equipment.Item{}).
		Where("category = ? AND id IN ?", cat, ids).
		Update("status", status).Error
}

// Replace removes the placeholder row and inserts the server-confirmed row
// in one transaction. Used during queue replay id substitution; it succeeds
// even when the placeholder row is already gone.
func (r *ItemRepository) Replace(ctx context.Context, cat equipment.Category, placeholderID int64, item equipment.Item) error {
	item.Category = cat
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("category = ? AND id = ?", cat, placeholderID).
			Delete(&equipment.Item{}).Error; err != nil {
			return err
		}
		return tx.
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}, {Name: "category"}},
				UpdateAll: true,
			}).
			Create(&item).Error
	})
}
