package orders

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/stockflow-backend/pkg/db"
	"github.com/angelmondragon/stockflow-backend/pkg/db/models"
	"github.com/angelmondragon/stockflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockflow-backend/pkg/errors"
	"github.com/angelmondragon/stockflow-backend/pkg/outbox"
	"github.com/angelmondragon/stockflow-backend/pkg/outbox/payloads"
)

const maxPaymentErrorLen = 512

// MarkConfirmed records that the invoice was sent to the customer.
func (o *orchestrator) MarkConfirmed(ctx context.Context, invoiceID string) (*models.Order, error) {
	return o.transition(ctx, invoiceID, enums.OrderStatusConfirmed, nil, "")
}

// MarkPaid moves the order to paid and emits order_paid.
func (o *orchestrator) MarkPaid(ctx context.Context, invoiceID string, paidAt time.Time) (*models.Order, error) {
	if paidAt.IsZero() {
		paidAt = time.Now()
	}
	paidAt = paidAt.UTC()
	return o.transition(ctx, invoiceID, enums.OrderStatusPaid, map[string]any{
		"paid_at":       paidAt,
		"payment_error": nil,
	}, enums.EventOrderPaid)
}

// MarkPaymentFailed moves the order to payment_failed and emits order_payment_failed.
func (o *orchestrator) MarkPaymentFailed(ctx context.Context, invoiceID string, reason string) (*models.Order, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > maxPaymentErrorLen {
		reason = reason[:maxPaymentErrorLen]
	}
	var stored *string
	if reason != "" {
		stored = &reason
	}
	return o.transition(ctx, invoiceID, enums.OrderStatusPaymentFailed, map[string]any{
		"payment_error": stored,
	}, enums.EventOrderPaymentFailed)
}

// transition applies a conditional status update. An order already in the
// target status is returned unchanged.
func (o *orchestrator) transition(
	ctx context.Context,
	invoiceID string,
	to enums.OrderStatus,
	updates map[string]any,
	eventType enums.OutboxEventType,
) (*models.Order, error) {
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id is required")
	}

	var result *models.Order
	err := o.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := o.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, invoiceID)
		if err != nil {
			if db.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found").
					WithDetails(map[string]any{"invoice_id": invoiceID})
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
		}
		if order.Status == to {
			result = order
			return nil
		}
		if !order.Status.CanTransitionTo(to) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order status transition not allowed").
				WithDetails(map[string]any{"from": order.Status, "to": to})
		}

		ok, err := repo.UpdateStatus(ctx, order.ID, order.Status, to, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update order status")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed concurrently")
		}

		updated, err := repo.FindByID(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload order")
		}
		result = updated

		if eventType == "" {
			return nil
		}
		data := payloads.OrderPaymentEvent{
			OrderID:     updated.ID,
			UserID:      updated.UserID,
			Status:      updated.Status,
			AmountCents: updated.TotalCents,
			PaidAt:      updated.PaidAt,
		}
		if updated.PaymentError != nil {
			data.FailedReason = *updated.PaymentError
		}
		return o.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateOrder,
			AggregateID:   updated.ID,
			Actor:         &outbox.ActorRef{Source: string(enums.WebhookProviderStripe)},
			Data:          data,
		})
	})
	if err != nil {
		return nil, err
	}

	logCtx := o.logg.WithFields(ctx, map[string]any{
		"order_id": result.ID,
		"status":   string(result.Status),
	})
	o.logg.Info(logCtx, "order status updated")
	return result, nil
}
