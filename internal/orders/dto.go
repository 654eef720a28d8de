package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/stockflow-backend/pkg/db/models"
	"github.com/angelmondragon/stockflow-backend/pkg/enums"
)

// PlaceOrderItem is one requested cart line.
type PlaceOrderItem struct {
	ProductID uuid.UUID
	PriceRef  string
	Quantity  int
}

// PlaceOrderInput is the cart submitted by an authenticated user.
type PlaceOrderInput struct {
	UserID         uuid.UUID
	Email          string
	Items          []PlaceOrderItem
	ShippingCents  *int64
	Notes          *string
	IdempotencyKey string
}

// PlaceOrderResult is returned once the invoice is finalized.
type PlaceOrderResult struct {
	OrderID     string
	InvoiceURL  string
	AmountCents int64
	Currency    enums.Currency
}

// OrderSummary is the caller-facing view of an order.
type OrderSummary struct {
	ID            string            `json:"id"`
	Status        enums.OrderStatus `json:"status"`
	InvoiceURL    string            `json:"invoiceUrl"`
	Currency      enums.Currency    `json:"currency"`
	SubtotalCents int64             `json:"subtotalCents"`
	ShippingCents int64             `json:"shippingCents"`
	TotalCents    int64             `json:"totalCents"`
	Notes         *string           `json:"notes,omitempty"`
	PaidAt        *time.Time        `json:"paidAt,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	Items         []LineItemSummary `json:"items"`
}

// LineItemSummary is the frozen snapshot of a purchased product.
type LineItemSummary struct {
	ProductID      uuid.UUID `json:"productId"`
	ProductName    string    `json:"productName"`
	SKU            string    `json:"sku"`
	UnitPriceCents int64     `json:"unitPriceCents"`
	Quantity       int       `json:"quantity"`
	LineTotalCents int64     `json:"lineTotalCents"`
}

// OrderList is a cursor page of orders, newest first.
type OrderList struct {
	Orders     []OrderSummary `json:"orders"`
	NextCursor string         `json:"nextCursor,omitempty"`
}

func newOrderSummary(order models.Order) OrderSummary {
	summary := OrderSummary{
		ID:            order.ID,
		Status:        order.Status,
		InvoiceURL:    order.InvoiceURL,
		Currency:      order.Currency,
		SubtotalCents: order.SubtotalCents,
		ShippingCents: order.ShippingCents,
		TotalCents:    order.TotalCents,
		Notes:         order.Notes,
		PaidAt:        order.PaidAt,
		CreatedAt:     order.CreatedAt,
		Items:         make([]LineItemSummary, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		summary.Items = append(summary.Items, LineItemSummary{
			ProductID:      item.ProductID,
			ProductName:    item.ProductName,
			SKU:            item.SKU,
			UnitPriceCents: item.UnitPriceCents,
			Quantity:       item.Quantity,
			LineTotalCents: item.LineTotalCents,
		})
	}
	return summary
}
