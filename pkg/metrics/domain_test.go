package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestDomainMetricsExport(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := NewDomain(reg)

	d.StockMutation("sale", "checkout")
	d.StockMutation("sale", "checkout")
	d.ReconciliationError()
	d.OrderOutcome("")
	d.WebhookEvent("stripe", "duplicate")
	d.WebhookStaleCount("square")
	d.ObserveInvoice(150 * time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if got := seriesValue(family(mfs, "stockflow_stock_mutations_total"), map[string]string{"action": "sale"}); got != 2 {
		t.Fatalf("expected 2 sale mutations, got %v", got)
	}
	if got := seriesValue(family(mfs, "stockflow_orders_total"), map[string]string{"result": "unknown"}); got != 1 {
		t.Fatalf("expected empty outcome normalized, got %v", got)
	}
	if got := seriesValue(family(mfs, "stockflow_webhook_events_total"), map[string]string{"provider": "stripe"}); got != 1 {
		t.Fatalf("expected webhook counter, got %v", got)
	}
	if got := seriesValue(family(mfs, "stockflow_webhook_stale_counts_total"), map[string]string{"provider": "square"}); got != 1 {
		t.Fatalf("expected stale count counter, got %v", got)
	}
	if got := seriesValue(family(mfs, "stockflow_order_reconciliation_errors_total"), nil); got != 1 {
		t.Fatalf("expected reconciliation counter, got %v", got)
	}
	if f := family(mfs, "stockflow_invoice_create_duration_seconds"); f == nil || f.GetMetric()[0].GetHistogram().GetSampleCount() != 1 {
		t.Fatalf("expected one invoice duration sample")
	}
}

func TestDomainMetricsNilSafe(t *testing.T) {
	var d *Domain
	d.StockMutation("a", "b")
	d.InsufficientStock()
	d.OrderOutcome("x")
	d.ReconciliationError()
	d.ObserveInvoice(time.Second)
	d.SyncPush("ok")
	d.SyncDropped()
	d.WebhookEvent("p", "o")
	d.WebhookRateLimited("p")
	d.WebhookStaleCount("p")
	NewDomain(nil).SyncDropped()
}
