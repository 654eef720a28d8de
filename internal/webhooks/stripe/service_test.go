package stripewebhook

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/stockflow-backend/internal/webhookevents"
	"github.com/angelmondragon/stockflow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/stockflow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/stockflow-backend/pkg/errors"
	"github.com/angelmondragon/stockflow-backend/pkg/logger"
	"github.com/angelmondragon/stockflow-backend/pkg/pagination"
)

type stubOrders struct {
	confirmed []string
	paid      map[string]time.Time
	failed    map[string]string
	err       error
}

func newStubOrders() *stubOrders {
	return &stubOrders{paid: map[string]time.Time{}, failed: map[string]string{}}
}

func (s *stubOrders) MarkConfirmed(_ context.Context, invoiceID string) (*models.Order, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.confirmed = append(s.confirmed, invoiceID)
	return &models.Order{ID: invoiceID}, nil
}

func (s *stubOrders) MarkPaid(_ context.Context, invoiceID string, paidAt time.Time) (*models.Order, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.paid[invoiceID] = paidAt
	return &models.Order{ID: invoiceID}, nil
}

func (s *stubOrders) MarkPaymentFailed(_ context.Context, invoiceID string, reason string) (*models.Order, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.failed[invoiceID] = reason
	return &models.Order{ID: invoiceID}, nil
}

func newTestService(t *testing.T, orders orderPayments) (*Service, webhookevents.Gate) {
	t.Helper()
	client := dbtest.Open(t, dbtest.WebhookEvents)
	gate, err := webhookevents.NewGate(webhookevents.NewRepository(client.DB()), logger.Nop())
	if err != nil {
		t.Fatalf("setup gate: %v", err)
	}
	service, err := NewService(ServiceParams{Gate: gate, Orders: orders, Logger: logger.Nop()})
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}
	return service, gate
}

func invoiceEvent(t *testing.T, id string, typ stripe.EventType, inv stripe.Invoice) (*stripe.Event, []byte) {
	t.Helper()
	raw, err := json.Marshal(inv)
	if err != nil {
		t.Fatalf("marshal invoice: %v", err)
	}
	event := &stripe.Event{
		ID:      id,
		Type:    typ,
		Created: time.Date(2026, 10, 2, 9, 0, 0, 0, time.UTC).Unix(),
		Data:    &stripe.EventData{Raw: raw},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return event, payload
}

func TestService_InvoicePaidMarksOrderOnce(t *testing.T) {
	orders := newStubOrders()
	service, _ := newTestService(t, orders)
	paidAt := time.Date(2026, 10, 3, 15, 4, 5, 0, time.UTC)
	event, payload := invoiceEvent(t, "evt_paid", stripe.EventTypeInvoicePaid, stripe.Invoice{
		ID:                "in_123",
		StatusTransitions: &stripe.InvoiceStatusTransitions{PaidAt: paidAt.Unix()},
	})

	outcome, err := service.Process(context.Background(), event, payload)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != webhookevents.OutcomeProcessed {
		t.Fatalf("expected processed, got %s", outcome)
	}
	if got, ok := orders.paid["in_123"]; !ok || !got.Equal(paidAt) {
		t.Fatalf("expected paid at %v, got %v", paidAt, got)
	}

	delete(orders.paid, "in_123")
	outcome, err = service.Process(context.Background(), event, payload)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if outcome != webhookevents.OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %s", outcome)
	}
	if len(orders.paid) != 0 {
		t.Fatalf("duplicate delivery must not reach the orchestrator")
	}
}

func TestService_InvoicePaymentFailedPassesReason(t *testing.T) {
	orders := newStubOrders()
	service, _ := newTestService(t, orders)
	event, payload := invoiceEvent(t, "evt_failed", stripe.EventTypeInvoicePaymentFailed, stripe.Invoice{
		ID:           "in_456",
		AttemptCount: 2,
	})

	if _, err := service.Process(context.Background(), event, payload); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := orders.failed["in_456"]; got != "payment attempt 2 failed" {
		t.Fatalf("unexpected reason %q", got)
	}
}

func TestService_InvoiceSentConfirmsAndToleratesLateDelivery(t *testing.T) {
	orders := newStubOrders()
	service, _ := newTestService(t, orders)
	event, _ := invoiceEvent(t, "evt_sent", stripe.EventTypeInvoiceSent, stripe.Invoice{ID: "in_789"})

	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(orders.confirmed) != 1 || orders.confirmed[0] != "in_789" {
		t.Fatalf("expected confirmation, got %v", orders.confirmed)
	}

	orders.err = pkgerrors.New(pkgerrors.CodeStateConflict, "order status transition not allowed")
	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("late confirmation should be ignored: %v", err)
	}
}

func TestService_InvoiceFinalizedBeforeOrderStoredIsProcessed(t *testing.T) {
	orders := newStubOrders()
	orders.err = pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	service, gate := newTestService(t, orders)
	event, payload := invoiceEvent(t, "evt_finalized", stripe.EventTypeInvoiceFinalized, stripe.Invoice{ID: "in_new"})

	outcome, err := service.Process(context.Background(), event, payload)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != webhookevents.OutcomeProcessed {
		t.Fatalf("expected processed outcome, got %s", outcome)
	}
	page, err := gate.ListFailed(context.Background(), pagination.Params{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(page.Items) != 0 {
		t.Fatalf("early finalized event must not be listed as failed: %+v", page.Items)
	}
}

func TestService_InvoiceSentForUnknownOrderFails(t *testing.T) {
	orders := newStubOrders()
	orders.err = pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	service, _ := newTestService(t, orders)
	event, _ := invoiceEvent(t, "evt_sent_unknown", stripe.EventTypeInvoiceSent, stripe.Invoice{ID: "in_gone"})

	if err := service.HandleEvent(context.Background(), event); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestService_HandlerFailureIsAcknowledgedAndListed(t *testing.T) {
	orders := newStubOrders()
	orders.err = pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	service, gate := newTestService(t, orders)
	event, payload := invoiceEvent(t, "evt_unknown", stripe.EventTypeInvoicePaid, stripe.Invoice{ID: "in_missing"})

	outcome, err := service.Process(context.Background(), event, payload)
	if err != nil {
		t.Fatalf("handler failures must not fail the delivery: %v", err)
	}
	if outcome != webhookevents.OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", outcome)
	}

	page, err := gate.ListFailed(context.Background(), pagination.Params{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ExternalEventID != "evt_unknown" {
		t.Fatalf("expected failed event listed, got %+v", page.Items)
	}
}

func TestService_IgnoresUnrelatedEvents(t *testing.T) {
	orders := newStubOrders()
	service, _ := newTestService(t, orders)
	event := &stripe.Event{
		ID:   "evt_cust",
		Type: stripe.EventTypeCustomerCreated,
		Data: &stripe.EventData{Raw: []byte(`{"id":"cus_1"}`)},
	}

	outcome, err := service.Process(context.Background(), event, []byte(`{}`))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != webhookevents.OutcomeProcessed {
		t.Fatalf("expected processed, got %s", outcome)
	}
}

func TestService_RejectsEventWithoutID(t *testing.T) {
	service, _ := newTestService(t, newStubOrders())
	_, err := service.Process(context.Background(), &stripe.Event{}, nil)
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNewService_RequiresDependencies(t *testing.T) {
	if _, err := NewService(ServiceParams{Orders: newStubOrders(), Logger: logger.Nop()}); err == nil {
		t.Fatalf("expected gate required")
	}
}
