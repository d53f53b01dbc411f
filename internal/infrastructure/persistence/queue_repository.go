package persistence

import (
	"context"
	"errors"

	"github.com/equiptrack/station/internal/domain/equipment"
	"gorm.io/gorm"
)

// QueueRepository is the durable, strictly ordered mutation log. The
// autoincrement primary key is the FIFO position; entries are only ever
// appended at the tail and removed at the head.
type QueueRepository struct {
	db *gorm.DB
}

// NewQueueRepository creates a new sqlite-backed queue repository
func NewQueueRepository(db *gorm.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// Enqueue appends a mutation to the tail of the queue.
func (r *QueueRepository) Enqueue(ctx context.Context, m *equipment.Mutation) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// First returns the head of the queue, or nil when the queue is empty.
func (r *QueueRepository) First(ctx context.Context) (*equipment.Mutation, error) {
	var m equipment.Mutation
	err := r.db.WithContext(ctx).Order("id ASC").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Remove deletes a replayed mutation by id.
func (r *QueueRepository) Remove(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Delete(&equipment.Mutation{}, id).Error
}

// Count returns the number of pending mutations.
func (r *QueueRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&equipment.Mutation{}).Count(&n).Error
	return n, err
}

// All returns every pending mutation in FIFO order, for the sync status
// surface. Payloads are returned as stored.
func (r *QueueRepository) All(ctx context.Context) ([]equipment.Mutation, error) {
	var out []equipment.Mutation
	err := r.db.WithContext(ctx).Order("id ASC").Find(&out).Error
	return out, err
}
