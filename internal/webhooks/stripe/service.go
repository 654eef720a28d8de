package stripewebhook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/stockflow-backend/internal/webhookevents"
	"github.com/angelmondragon/stockflow-backend/pkg/db/models"
	"github.com/angelmondragon/stockflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockflow-backend/pkg/errors"
	"github.com/angelmondragon/stockflow-backend/pkg/logger"
	"github.com/angelmondragon/stockflow-backend/pkg/metrics"
	stripeclient "github.com/angelmondragon/stockflow-backend/pkg/stripe"
)

// orderPayments is the slice of the order orchestrator driven by invoice events.
type orderPayments interface {
	MarkConfirmed(ctx context.Context, invoiceID string) (*models.Order, error)
	MarkPaid(ctx context.Context, invoiceID string, paidAt time.Time) (*models.Order, error)
	MarkPaymentFailed(ctx context.Context, invoiceID string, reason string) (*models.Order, error)
}

type ServiceParams struct {
	Gate    webhookevents.Gate
	Orders  orderPayments
	Metrics *metrics.Domain
	Logger  *logger.Logger
}

type Service struct {
	gate    webhookevents.Gate
	orders  orderPayments
	metrics *metrics.Domain
	logg    *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Gate == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook event gate required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order payments required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		gate:    params.Gate,
		orders:  params.Orders,
		metrics: params.Metrics,
		logg:    params.Logger,
	}, nil
}

// Process runs HandleEvent once per Stripe event id. payload is the raw body
// kept on the webhook_events row.
func (s *Service) Process(ctx context.Context, event *stripe.Event, payload []byte) (webhookevents.Outcome, error) {
	if event == nil || strings.TrimSpace(event.ID) == "" {
		return webhookevents.OutcomeFailed, pkgerrors.New(pkgerrors.CodeValidation, "stripe event id required")
	}
	outcome, err := s.gate.Process(ctx, webhookevents.Delivery{
		Provider:        enums.WebhookProviderStripe,
		ExternalEventID: event.ID,
		EventType:       string(event.Type),
		Payload:         payload,
	}, func(ctx context.Context) error {
		return s.HandleEvent(ctx, event)
	})
	if err != nil {
		return outcome, err
	}
	s.metrics.WebhookEvent(string(enums.WebhookProviderStripe), string(outcome))
	return outcome, nil
}

// HandleEvent applies the order status change carried by an invoice event.
// Unrelated event types are accepted and ignored.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypeInvoiceSent, stripe.EventTypeInvoiceFinalized:
		inv, err := stripeclient.InvoiceFromEvent(event)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode invoice event")
		}
		// checkout finalizes the invoice before the order row commits, so
		// invoice.finalized can race ahead of it
		return s.confirm(ctx, inv.ID, event.Type == stripe.EventTypeInvoiceFinalized)
	case stripe.EventTypeInvoicePaid:
		inv, err := stripeclient.InvoiceFromEvent(event)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode invoice event")
		}
		_, err = s.orders.MarkPaid(ctx, inv.ID, stripeclient.PaidAt(inv, event))
		return err
	case stripe.EventTypeInvoicePaymentFailed:
		inv, err := stripeclient.InvoiceFromEvent(event)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode invoice event")
		}
		_, err = s.orders.MarkPaymentFailed(ctx, inv.ID, failureReason(inv))
		return err
	default:
		s.logg.Debug(s.logg.WithField(ctx, "event_type", string(event.Type)), "stripe event ignored")
		return nil
	}
}

// confirm tolerates orders that already moved past pending; Stripe may deliver
// invoice.sent after invoice.paid. With allowMissing an unknown order is
// skipped instead of recorded as a failed delivery.
func (s *Service) confirm(ctx context.Context, invoiceID string, allowMissing bool) error {
	_, err := s.orders.MarkConfirmed(ctx, invoiceID)
	switch {
	case err == nil:
		return nil
	case pkgerrors.IsCode(err, pkgerrors.CodeStateConflict):
		s.logg.Info(s.logg.WithOrderID(ctx, invoiceID), "late invoice confirmation ignored")
		return nil
	case allowMissing && pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		s.logg.Info(s.logg.WithOrderID(ctx, invoiceID), "invoice finalized before order stored; confirmation skipped")
		return nil
	default:
		return err
	}
}

func failureReason(inv *stripe.Invoice) string {
	if inv.LastFinalizationError != nil && inv.LastFinalizationError.Msg != "" {
		return inv.LastFinalizationError.Msg
	}
	if inv.AttemptCount > 0 {
		return fmt.Sprintf("payment attempt %d failed", inv.AttemptCount)
	}
	return "payment failed"
}
