package models

import (
	"time"

	"github.com/google/uuid"
)

// Product is the catalog row this engine reads to validate orders.
// The catalog service owns writes; PriceRef points at the payment processor price object.
type Product struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SKU       string     `gorm:"column:sku;not null"`
	Name      string     `gorm:"column:name;not null"`
	PriceRef  string     `gorm:"column:price_ref;not null"`
	IsActive  bool       `gorm:"column:is_active;not null;default:true"`
	DeletedAt *time.Time `gorm:"column:deleted_at"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
