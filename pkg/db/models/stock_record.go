package models

import (
	"time"

	"github.com/google/uuid"
)

// StockRecord is the authoritative available quantity for one product.
// quantity is only written through the inventory ledger.
type StockRecord struct {
	ProductID           uuid.UUID  `gorm:"column:product_id;type:uuid;primaryKey"`
	Quantity            int        `gorm:"column:quantity;not null;default:0"`
	SyncCatalogObjectID *string    `gorm:"column:sync_catalog_object_id"`
	SyncLocationID      *string    `gorm:"column:sync_location_id"`
	SyncEnabled         bool       `gorm:"column:sync_enabled;not null;default:false"`
	LastSyncedAt        *time.Time `gorm:"column:last_synced_at"`
	LastSyncError       *string    `gorm:"column:last_sync_error"`
	CreatedAt           time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// HasSyncTarget reports whether both marketplace identifiers are present.
func (r StockRecord) HasSyncTarget() bool {
	return r.SyncCatalogObjectID != nil && *r.SyncCatalogObjectID != "" &&
		r.SyncLocationID != nil && *r.SyncLocationID != ""
}
