package payloads

import (
	"time"

	"github.com/angelmondragon/stockflow-backend/pkg/enums"
	"github.com/google/uuid"
)

// OrderCreatedEvent is emitted once an order has been reserved, invoiced and persisted.
type OrderCreatedEvent struct {
	OrderID    string      `json:"order_id"`
	UserID     uuid.UUID   `json:"user_id"`
	Currency   string      `json:"currency"`
	TotalCents int64       `json:"total_cents"`
	InvoiceURL string      `json:"invoice_url,omitempty"`
	ProductIDs []uuid.UUID `json:"product_ids"`
}

// OrderPaymentEvent reports a payment outcome received from the invoicing provider.
type OrderPaymentEvent struct {
	OrderID      string            `json:"order_id"`
	UserID       uuid.UUID         `json:"user_id"`
	Status       enums.OrderStatus `json:"status"`
	AmountCents  int64             `json:"amount_cents"`
	PaidAt       *time.Time        `json:"paid_at,omitempty"`
	FailedReason string            `json:"failed_reason,omitempty"`
}

// StockLevelChangedEvent carries the new quantity after any ledger mutation.
type StockLevelChangedEvent struct {
	ProductID   uuid.UUID                 `json:"product_id"`
	Quantity    int                       `json:"quantity"`
	Delta       int                       `json:"delta"`
	Action      enums.StockMutationAction `json:"action"`
	Source      enums.StockMutationSource `json:"source"`
	ReferenceID *string                   `json:"reference_id,omitempty"`
}
