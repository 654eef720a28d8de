package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/stockflow-backend/pkg/enums"
)

// Order is the persisted result of a successful checkout. ID equals the remote invoice id.
// CheckoutRef matches the reference_id on the stock mutations the checkout wrote.
type Order struct {
	ID              string            `gorm:"column:id;primaryKey"`
	UserID          uuid.UUID         `gorm:"column:user_id;type:uuid;not null"`
	Status          enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'pending'"`
	RemoteInvoiceID string            `gorm:"column:remote_invoice_id;not null"`
	CheckoutRef     *uuid.UUID        `gorm:"column:checkout_ref;type:uuid"`
	InvoiceURL      string            `gorm:"column:invoice_url;not null"`
	Currency        enums.Currency    `gorm:"column:currency;not null"`
	SubtotalCents   int64             `gorm:"column:subtotal_cents;not null"`
	ShippingCents   int64             `gorm:"column:shipping_cents;not null;default:0"`
	TotalCents      int64             `gorm:"column:total_cents;not null"`
	Notes           *string           `gorm:"column:notes"`
	PaymentError    *string           `gorm:"column:payment_error"`
	PaidAt          *time.Time        `gorm:"column:paid_at"`
	Items           []OrderLineItem   `gorm:"foreignKey:OrderID;references:ID"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
