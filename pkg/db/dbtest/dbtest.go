// Package dbtest opens isolated in-memory sqlite databases carrying the
// production table layout, for package tests that exercise real SQL.
package dbtest

import (
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/stockflow-backend/pkg/db"
)

const (
	Products = `
CREATE TABLE products (
  id TEXT PRIMARY KEY,
  sku TEXT NOT NULL,
  name TEXT NOT NULL,
  price_ref TEXT NOT NULL,
  is_active INTEGER NOT NULL DEFAULT 1,
  deleted_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`

	StockRecords = `
CREATE TABLE stock_records (
  product_id TEXT PRIMARY KEY,
  quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
  sync_catalog_object_id TEXT,
  sync_location_id TEXT,
  sync_enabled INTEGER NOT NULL DEFAULT 0,
  last_synced_at DATETIME,
  last_sync_error TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`

	StockMutations = `
CREATE TABLE stock_mutations (
  id TEXT PRIMARY KEY,
  product_id TEXT NOT NULL,
  action TEXT NOT NULL,
  source TEXT NOT NULL,
  delta INTEGER NOT NULL,
  quantity_after INTEGER NOT NULL,
  reference_id TEXT,
  reference_type TEXT,
  created_by TEXT,
  created_at DATETIME
);`

	Orders = `
CREATE TABLE orders (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  remote_invoice_id TEXT NOT NULL,
  checkout_ref TEXT,
  invoice_url TEXT NOT NULL,
  currency TEXT NOT NULL,
  subtotal_cents INTEGER NOT NULL,
  shipping_cents INTEGER NOT NULL DEFAULT 0,
  total_cents INTEGER NOT NULL,
  notes TEXT,
  payment_error TEXT,
  paid_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`

	OrderLineItems = `
CREATE TABLE order_line_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  position INTEGER NOT NULL,
  product_id TEXT NOT NULL,
  product_name TEXT NOT NULL,
  sku TEXT NOT NULL,
  price_ref TEXT NOT NULL,
  unit_price_cents INTEGER NOT NULL,
  quantity INTEGER NOT NULL,
  line_total_cents INTEGER NOT NULL,
  remote_line_item_id TEXT,
  created_at DATETIME
);`

	WebhookEvents = `
CREATE TABLE webhook_events (
  id TEXT PRIMARY KEY,
  provider TEXT NOT NULL,
  external_event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  processed INTEGER NOT NULL DEFAULT 0,
  success INTEGER,
  error_message TEXT,
  payload BLOB NOT NULL,
  created_at DATETIME,
  processed_at DATETIME,
  CONSTRAINT ux_webhook_events_external_event_id UNIQUE (external_event_id)
);`

	OutboxEvents = `
CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload BLOB NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`

	OutboxDLQ = `
CREATE TABLE outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json BLOB NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);`
)

// Open returns a client bound to a fresh in-memory database with the given tables created.
func Open(t testing.TB, schema ...string) *db.Client {
	t.Helper()

	client, err := db.NewSQLite("file:dbtest_" + uuid.NewString() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	for _, ddl := range schema {
		if err := client.DB().Exec(ddl).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return client
}
