package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderLineItem is a frozen snapshot of one purchased product.
// ProductID carries no foreign key so catalog deletes never touch orders.
type OrderLineItem struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID          string    `gorm:"column:order_id;not null"`
	Position         int       `gorm:"column:position;not null"`
	ProductID        uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	ProductName      string    `gorm:"column:product_name;not null"`
	SKU              string    `gorm:"column:sku;not null"`
	PriceRef         string    `gorm:"column:price_ref;not null"`
	UnitPriceCents   int64     `gorm:"column:unit_price_cents;not null"`
	Quantity         int       `gorm:"column:quantity;not null"`
	LineTotalCents   int64     `gorm:"column:line_total_cents;not null"`
	RemoteLineItemID *string   `gorm:"column:remote_line_item_id"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
}
