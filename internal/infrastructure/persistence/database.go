package persistence

import (
	"fmt"
	"time"

	"github.com/equiptrack/station/internal/domain/equipment"
	"github.com/equiptrack/station/internal/infrastructure/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Database wraps the sqlite-backed local cache store. It mirrors the remote
// tables plus the durable mutation queue; nothing in this package touches
// the network.
type Database struct {
	DB *gorm.DB
}

// Open opens (or creates) the local cache database and migrates its schema.
func Open(cfg *config.CacheConfig) (*Database, error) {
	return OpenWithLogger(cfg, gormlogger.Default.LogMode(gormlogger.Silent))
}

// OpenWithLogger opens the local cache database with a custom GORM logger.
func OpenWithLogger(cfg *config.CacheConfig, log gormlogger.Interface) (*Database, error) {
	db, err := gorm.Open(sqlite.Open(dsn(cfg)), &gorm.Config{
		Logger:                 log,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	if err := db.AutoMigrate(
		&equipment.Item{},
		&equipment.Shipment{},
		&equipment.ShipmentLink{},
		&equipment.Mutation{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate cache schema: %w", err)
	}

	return &Database{DB: db}, nil
}

// Close closes the underlying sqlite connection.
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

func dsn(cfg *config.CacheConfig) string {
	if cfg.Path == ":memory:" {
		return "file::memory:?cache=shared"
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	return fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL", cfg.Path, busy.Milliseconds())
}
