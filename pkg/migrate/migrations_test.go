package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/stockflow-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one %s migration, found %d", suffix, len(matches))
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestStockMigrationsContainConstraints(t *testing.T) {
	tests := []struct {
		migration string
		checks    []string
	}{
		{
			migration: "create_stock_records",
			checks: []string{
				"CREATE TABLE IF NOT EXISTS stock_records",
				"CHECK (quantity >= 0)",
				"REFERENCES products(id) ON DELETE CASCADE",
				"DROP TABLE IF EXISTS stock_records",
			},
		},
		{
			migration: "create_stock_mutations",
			checks: []string{
				"action stock_mutation_action NOT NULL",
				"source stock_mutation_source NOT NULL",
				"ix_stock_mutations_created_at",
			},
		},
		{
			migration: "create_webhook_events",
			checks: []string{
				"CONSTRAINT ux_webhook_events_external_event_id UNIQUE (external_event_id)",
				"payload jsonb NOT NULL",
			},
		},
		{
			migration: "create_orders",
			checks: []string{
				"id text PRIMARY KEY",
				"ux_orders_remote_invoice_id",
				"order_id text NOT NULL REFERENCES orders(id) ON DELETE CASCADE",
			},
		},
	}

	for _, tt := range tests {
		content := readMigration(t, tt.migration)
		for _, sub := range tt.checks {
			if !strings.Contains(content, sub) {
				t.Errorf("%s: missing expected statement %q", tt.migration, sub)
			}
		}
	}
}

func TestOrderLineItemsHaveNoProductForeignKey(t *testing.T) {
	content := readMigration(t, "create_orders")
	if strings.Contains(content, "REFERENCES products") {
		t.Fatalf("order line items must survive product deletion")
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Stock Pools!")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasSuffix(path, "_add_stock_pools.sql") {
		t.Fatalf("unexpected filename %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("validate created migration: %v", err)
	}
}
