package squarewebhook

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/stockflow-backend/internal/inventory"
	"github.com/angelmondragon/stockflow-backend/internal/webhookevents"
	"github.com/angelmondragon/stockflow-backend/pkg/db"
	"github.com/angelmondragon/stockflow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/stockflow-backend/pkg/db/models"
	"github.com/angelmondragon/stockflow-backend/pkg/enums"
	"github.com/angelmondragon/stockflow-backend/pkg/logger"
	"github.com/angelmondragon/stockflow-backend/pkg/outbox"
	"github.com/angelmondragon/stockflow-backend/pkg/square"
)

type fixture struct {
	client  *db.Client
	ledger  inventory.Ledger
	service *Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client := dbtest.Open(t, dbtest.StockRecords, dbtest.StockMutations, dbtest.OutboxEvents, dbtest.WebhookEvents)
	emitter := outbox.NewService(outbox.NewRepository(client.DB()), logger.Nop())
	ledger, err := inventory.NewLedger(client, inventory.NewRepository(client.DB()), inventory.NewAuditRepository(client.DB()), emitter, logger.Nop())
	if err != nil {
		t.Fatalf("setup ledger: %v", err)
	}
	gate, err := webhookevents.NewGate(webhookevents.NewRepository(client.DB()), logger.Nop())
	if err != nil {
		t.Fatalf("setup gate: %v", err)
	}
	service, err := NewService(ServiceParams{Gate: gate, Stock: ledger, Logger: logger.Nop()})
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}
	return fixture{client: client, ledger: ledger, service: service}
}

func (f fixture) mappedProduct(t *testing.T, qty int, catalogObjectID string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	now := time.Now().UTC()
	err := f.client.DB().Exec(
		"INSERT INTO stock_records (product_id, quantity, sync_enabled, sync_catalog_object_id, sync_location_id, created_at, updated_at) VALUES (?, ?, 1, ?, 'LOC1', ?, ?)",
		id, qty, catalogObjectID, now, now,
	).Error
	if err != nil {
		t.Fatalf("seed stock record: %v", err)
	}
	return id
}

func (f fixture) markTouched(t *testing.T, productID uuid.UUID, updatedAt time.Time, syncedAt *time.Time) {
	t.Helper()
	err := f.client.DB().Exec(
		"UPDATE stock_records SET updated_at = ?, last_synced_at = ? WHERE product_id = ?",
		updatedAt.UTC(), syncedAt, productID,
	).Error
	if err != nil {
		t.Fatalf("touch stock record: %v", err)
	}
}

func (f fixture) quantity(t *testing.T, productID uuid.UUID) int {
	t.Helper()
	rec, err := f.ledger.Get(context.Background(), productID)
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	return rec.Quantity
}

func (f fixture) mutations(t *testing.T, productID uuid.UUID) []models.StockMutation {
	t.Helper()
	var rows []models.StockMutation
	if err := f.client.DB().Where("product_id = ?", productID).Order("created_at ASC").Find(&rows).Error; err != nil {
		t.Fatalf("load mutations: %v", err)
	}
	return rows
}

func countEvent(t *testing.T, eventID, catalogObjectID, qty string) (*square.WebhookEvent, []byte) {
	t.Helper()
	return countEventAt(t, eventID, catalogObjectID, qty, time.Now().Add(time.Minute))
}

func countEventAt(t *testing.T, eventID, catalogObjectID, qty string, calculatedAt time.Time) (*square.WebhookEvent, []byte) {
	t.Helper()
	body := []byte(fmt.Sprintf(`{
  "merchant_id": "M1",
  "type": "inventory.count.updated",
  "event_id": %q,
  "created_at": "2026-10-05T10:00:00Z",
  "data": {
    "type": "inventory_counts",
    "id": "x",
    "object": {
      "inventory_counts": [
        {"catalog_object_id": %q, "location_id": "LOC1", "state": "IN_STOCK", "quantity": %q, "calculated_at": %q}
      ]
    }
  }
}`, eventID, catalogObjectID, qty, calculatedAt.UTC().Format(time.RFC3339Nano)))
	event, err := square.ParseWebhookEvent(body)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	return event, body
}

func adjustmentEvent(t *testing.T, eventID, catalogObjectID, from, to, qty string) (*square.WebhookEvent, []byte) {
	t.Helper()
	body := []byte(fmt.Sprintf(`{
  "merchant_id": "M1",
  "type": "inventory.adjusted",
  "event_id": %q,
  "created_at": "2026-10-05T10:05:00Z",
  "data": {
    "type": "inventory_adjustment",
    "id": "adj",
    "object": {
      "inventory_adjustment": {"id": "adj", "catalog_object_id": %q, "location_id": "LOC1", "from_state": %q, "to_state": %q, "quantity": %q}
    }
  }
}`, eventID, catalogObjectID, from, to, qty))
	event, err := square.ParseWebhookEvent(body)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	return event, body
}

func TestService_CountUpdatedSetsAbsolute(t *testing.T) {
	f := newFixture(t)
	productID := f.mappedProduct(t, 7, "VAR1")
	event, body := countEvent(t, "sq_1", "VAR1", "20")

	outcome, err := f.service.Process(context.Background(), event, body)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != webhookevents.OutcomeProcessed {
		t.Fatalf("expected processed, got %s", outcome)
	}
	if got := f.quantity(t, productID); got != 20 {
		t.Fatalf("expected 20, got %d", got)
	}

	rows := f.mutations(t, productID)
	if len(rows) != 1 {
		t.Fatalf("expected one audit row, got %d", len(rows))
	}
	if rows[0].Action != enums.StockActionExternalSyncIn || rows[0].Source != enums.StockSourceWebhook {
		t.Fatalf("unexpected audit row %+v", rows[0])
	}
	if rows[0].Delta != 13 || rows[0].ReferenceID == nil || *rows[0].ReferenceID != "sq_1" {
		t.Fatalf("unexpected audit row %+v", rows[0])
	}
}

func TestService_EchoOfOwnPushIsSkipped(t *testing.T) {
	f := newFixture(t)
	productID := f.mappedProduct(t, 10, "VAR6")
	pushedAt := time.Now().Add(-time.Minute)
	syncedAt := pushedAt.Add(2 * time.Second)
	f.markTouched(t, productID, pushedAt, &syncedAt)

	// Square recalculated our own push, then a local sale moved stock to 8.
	if _, err := f.ledger.Deduct(context.Background(), productID, 2, inventory.MutationContext{Source: enums.StockSourceCheckout}); err != nil {
		t.Fatalf("deduct: %v", err)
	}
	event, body := countEventAt(t, "sq_echo", "VAR6", "10", pushedAt.Add(time.Second))

	outcome, err := f.service.Process(context.Background(), event, body)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != webhookevents.OutcomeProcessed {
		t.Fatalf("expected processed, got %s", outcome)
	}
	if got := f.quantity(t, productID); got != 8 {
		t.Fatalf("echoed count must not overwrite local sale, quantity %d", got)
	}
	for _, row := range f.mutations(t, productID) {
		if row.Action == enums.StockActionExternalSyncIn {
			t.Fatalf("unexpected sync-in row %+v", row)
		}
	}
}

func TestService_CountOlderThanLastSyncIsSkipped(t *testing.T) {
	f := newFixture(t)
	productID := f.mappedProduct(t, 10, "VAR7")
	updatedAt := time.Now().Add(-time.Hour)
	syncedAt := time.Now().Add(-time.Minute)
	f.markTouched(t, productID, updatedAt, &syncedAt)
	event, _ := countEventAt(t, "sq_old", "VAR7", "3", syncedAt.Add(-time.Second))

	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := f.quantity(t, productID); got != 10 {
		t.Fatalf("expected untouched quantity, got %d", got)
	}
}

func TestService_CountAfterLocalChangesApplies(t *testing.T) {
	f := newFixture(t)
	productID := f.mappedProduct(t, 10, "VAR8")
	touched := time.Now().Add(-time.Hour)
	f.markTouched(t, productID, touched, &touched)
	event, _ := countEventAt(t, "sq_fresh", "VAR8", "4", touched.Add(time.Minute))

	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := f.quantity(t, productID); got != 4 {
		t.Fatalf("expected merchant count applied, got %d", got)
	}
}

func TestService_AdjustmentReplayIsBlocked(t *testing.T) {
	f := newFixture(t)
	productID := f.mappedProduct(t, 20, "VAR2")
	event, body := adjustmentEvent(t, "sq_adj", "VAR2", "IN_STOCK", "SOLD", "2")

	for i := 0; i < 3; i++ {
		if _, err := f.service.Process(context.Background(), event, body); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}
	if got := f.quantity(t, productID); got != 18 {
		t.Fatalf("delta applied more than once, quantity %d", got)
	}
	if rows := f.mutations(t, productID); len(rows) != 1 || rows[0].Delta != -2 {
		t.Fatalf("expected a single -2 audit row, got %+v", rows)
	}
}

func TestService_AdjustmentIntoStockIncrements(t *testing.T) {
	f := newFixture(t)
	productID := f.mappedProduct(t, 5, "VAR3")
	event, _ := adjustmentEvent(t, "sq_recv", "VAR3", "NONE", "IN_STOCK", "4")

	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := f.quantity(t, productID); got != 9 {
		t.Fatalf("expected 9, got %d", got)
	}
}

func TestService_UnmappedItemIsSkipped(t *testing.T) {
	f := newFixture(t)
	productID := f.mappedProduct(t, 5, "VAR4")
	event, _ := countEvent(t, "sq_other", "UNKNOWN", "50")

	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unmapped items should be skipped: %v", err)
	}
	if got := f.quantity(t, productID); got != 5 {
		t.Fatalf("expected untouched quantity, got %d", got)
	}
}

func TestService_FractionalCountFails(t *testing.T) {
	f := newFixture(t)
	f.mappedProduct(t, 5, "VAR5")
	event, body := countEvent(t, "sq_frac", "VAR5", "2.5")

	outcome, err := f.service.Process(context.Background(), event, body)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != webhookevents.OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", outcome)
	}
}

func TestService_IgnoresOtherEventTypes(t *testing.T) {
	f := newFixture(t)
	event := &square.WebhookEvent{EventID: "sq_cat", Type: "catalog.version.updated"}
	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle: %v", err)
	}
}

func TestNewService_RequiresDependencies(t *testing.T) {
	if _, err := NewService(ServiceParams{Logger: logger.Nop()}); err == nil {
		t.Fatalf("expected missing gate error")
	}
}
