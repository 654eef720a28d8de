package webhookevents

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	internalwebhookevents "github.com/angelmondragon/stockflow-backend/internal/webhookevents"
	"github.com/angelmondragon/stockflow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/stockflow-backend/pkg/enums"
	"github.com/angelmondragon/stockflow-backend/pkg/logger"
)

func TestListFailedReturnsFailedDeliveries(t *testing.T) {
	client := dbtest.Open(t, dbtest.WebhookEvents)
	gate, err := internalwebhookevents.NewGate(internalwebhookevents.NewRepository(client.DB()), logger.Nop())
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	ctx := context.Background()

	ok := internalwebhookevents.Delivery{Provider: enums.WebhookProviderStripe, ExternalEventID: "evt_ok", EventType: "invoice.paid", Payload: []byte(`{}`)}
	bad := internalwebhookevents.Delivery{Provider: enums.WebhookProviderSquare, ExternalEventID: "evt_bad", EventType: "inventory.adjusted", Payload: []byte(`{}`)}
	if _, err := gate.Process(ctx, ok, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("process ok: %v", err)
	}
	if _, err := gate.Process(ctx, bad, func(context.Context) error { return errors.New("mapping missing") }); err != nil {
		t.Fatalf("process bad: %v", err)
	}

	rec := httptest.NewRecorder()
	ListFailed(gate, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/webhook-events/failed?limit=10", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Data internalwebhookevents.FailedPage `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data.Items) != 1 || body.Data.Items[0].ExternalEventID != "evt_bad" {
		t.Fatalf("expected only the failed event, got %+v", body.Data.Items)
	}
	if body.Data.Items[0].ErrorMessage == nil || *body.Data.Items[0].ErrorMessage != "mapping missing" {
		t.Fatalf("expected error message, got %v", body.Data.Items[0].ErrorMessage)
	}
}

func TestListFailedRejectsBadCursor(t *testing.T) {
	client := dbtest.Open(t, dbtest.WebhookEvents)
	gate, err := internalwebhookevents.NewGate(internalwebhookevents.NewRepository(client.DB()), logger.Nop())
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	rec := httptest.NewRecorder()
	ListFailed(gate, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/webhook-events/failed?cursor=%25%25%25", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
