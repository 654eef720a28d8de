package square

import (
	"testing"
	"time"
)

func TestParseInventoryCountUpdated(t *testing.T) {
	body := []byte(`{
  "merchant_id": "M1",
  "type": "inventory.count.updated",
  "event_id": "evt_count",
  "created_at": "2026-09-01T10:00:00Z",
  "data": {"type": "inventory", "id": "x", "object": {"inventory_counts": [
    {"catalog_object_id": "VAR1", "location_id": "LOC1", "state": "IN_STOCK", "quantity": "20"},
    {"catalog_object_id": "VAR1", "location_id": "LOC1", "state": "SOLD", "quantity": "3"}
  ]}}
}`)
	event, err := ParseWebhookEvent(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Type != EventInventoryCountUpdated || event.EventID != "evt_count" {
		t.Fatalf("unexpected envelope %+v", event)
	}
	if !event.OccurredAt().Equal(time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected occurred at %v", event.OccurredAt())
	}
	counts, err := event.InventoryCounts()
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if len(counts) != 1 {
		t.Fatalf("only IN_STOCK counts should be kept, got %d", len(counts))
	}
	qty, err := counts[0].WholeQuantity()
	if err != nil || qty != 20 {
		t.Fatalf("unexpected quantity %d (%v)", qty, err)
	}
	if !counts[0].Target().Valid() {
		t.Fatalf("expected valid target")
	}
}

func TestInventoryAdjustmentDelta(t *testing.T) {
	body := []byte(`{"type":"inventory.adjusted","event_id":"evt_adj","data":{"object":{"inventory_adjustment":
  {"catalog_object_id":"VAR1","location_id":"LOC1","from_state":"IN_STOCK","to_state":"SOLD","quantity":"3"}}}}`)
	event, err := ParseWebhookEvent(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	adj, err := event.InventoryAdjustment()
	if err != nil {
		t.Fatalf("adjustment: %v", err)
	}
	delta, err := adj.Delta()
	if err != nil || delta != -3 {
		t.Fatalf("expected -3, got %d (%v)", delta, err)
	}

	restock := InventoryAdjustment{FromState: "NONE", ToState: "IN_STOCK", Quantity: "5.000"}
	if delta, err := restock.Delta(); err != nil || delta != 5 {
		t.Fatalf("expected +5, got %d (%v)", delta, err)
	}
	sideways := InventoryAdjustment{FromState: "SOLD", ToState: "WASTE", Quantity: "1"}
	if delta, _ := sideways.Delta(); delta != 0 {
		t.Fatalf("expected no in-stock effect, got %d", delta)
	}
}

func TestParseWholeQuantity(t *testing.T) {
	cases := map[string]bool{"7": true, "7.00": true, "7.5": false, "": false, "-2": false, "abc": false}
	for raw, ok := range cases {
		_, err := parseWholeQuantity(raw)
		if (err == nil) != ok {
			t.Fatalf("%q: expected ok=%v, got err=%v", raw, ok, err)
		}
	}
}

func TestParseWebhookEventRequiresIDAndType(t *testing.T) {
	if _, err := ParseWebhookEvent([]byte(`{"type":"inventory.adjusted"}`)); err == nil {
		t.Fatalf("expected missing id error")
	}
	if _, err := ParseWebhookEvent([]byte(`{"event_id":"x"}`)); err == nil {
		t.Fatalf("expected missing type error")
	}
	if _, err := ParseWebhookEvent([]byte(`not json`)); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestInventoryCountCalculatedTime(t *testing.T) {
	count := InventoryCount{CalculatedAt: "2026-10-05T10:00:00.123Z"}
	ts, ok := count.CalculatedTime()
	if !ok || !ts.Equal(time.Date(2026, 10, 5, 10, 0, 0, 123000000, time.UTC)) {
		t.Fatalf("unexpected calculated time %v ok=%v", ts, ok)
	}
	for _, raw := range []string{"", "  ", "yesterday"} {
		if _, ok := (InventoryCount{CalculatedAt: raw}).CalculatedTime(); ok {
			t.Fatalf("%q: expected no calculated time", raw)
		}
	}
}
