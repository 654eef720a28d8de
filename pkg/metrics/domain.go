package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Domain groups the counters emitted by inventory, checkout, sync and webhook code.
// A zero or nil Domain is a no-op so services can be built without a registry in tests.
type Domain struct {
	stockMutations     *prometheus.CounterVec
	insufficientStock  prometheus.Counter
	orders             *prometheus.CounterVec
	reconciliation     prometheus.Counter
	invoiceDuration    prometheus.Histogram
	syncPushes         *prometheus.CounterVec
	syncDropped        prometheus.Counter
	webhookEvents      *prometheus.CounterVec
	webhookRateLimited *prometheus.CounterVec
	webhookStale       *prometheus.CounterVec
	outboxRelay        *prometheus.CounterVec
	outboxPending      prometheus.Gauge
}

// NewDomain registers the domain metrics on reg.
func NewDomain(reg prometheus.Registerer) *Domain {
	if reg == nil {
		return &Domain{}
	}
	d := &Domain{
		stockMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockflow_stock_mutations_total",
			Help: "Committed stock ledger mutations.",
		}, []string{"action", "source"}),
		insufficientStock: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockflow_insufficient_stock_total",
			Help: "Deductions rejected for insufficient stock.",
		}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockflow_orders_total",
			Help: "Order placement outcomes.",
		}, []string{"result"}),
		reconciliation: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockflow_order_reconciliation_errors_total",
			Help: "Orders invoiced remotely but not persisted locally.",
		}),
		invoiceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stockflow_invoice_create_duration_seconds",
			Help:    "Latency of remote invoice creation.",
			Buckets: prometheus.DefBuckets,
		}),
		syncPushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockflow_stock_sync_total",
			Help: "Outbound stock sync attempts by result.",
		}, []string{"result"}),
		syncDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockflow_stock_sync_dropped_total",
			Help: "Sync requests dropped because the queue was full.",
		}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockflow_webhook_events_total",
			Help: "Inbound webhook deliveries by provider and outcome.",
		}, []string{"provider", "outcome"}),
		webhookRateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockflow_webhook_rate_limited_total",
			Help: "Webhook deliveries rejected by the rate limiter.",
		}, []string{"provider"}),
		webhookStale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockflow_webhook_stale_counts_total",
			Help: "Marketplace counts skipped because local stock changed after they were calculated.",
		}, []string{"provider"}),
		outboxRelay: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockflow_outbox_relay_total",
			Help: "Outbox rows handled by the publisher by result.",
		}, []string{"result"}),
		outboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stockflow_outbox_pending",
			Help: "Outbox rows waiting to be published.",
		}),
	}
	reg.MustRegister(
		d.stockMutations,
		d.insufficientStock,
		d.orders,
		d.reconciliation,
		d.invoiceDuration,
		d.syncPushes,
		d.syncDropped,
		d.webhookEvents,
		d.webhookRateLimited,
		d.webhookStale,
		d.outboxRelay,
		d.outboxPending,
	)
	return d
}

func (d *Domain) StockMutation(action, source string) {
	if d == nil || d.stockMutations == nil {
		return
	}
	d.stockMutations.WithLabelValues(normalizeLabel(action), normalizeLabel(source)).Inc()
}

func (d *Domain) InsufficientStock() {
	if d == nil || d.insufficientStock == nil {
		return
	}
	d.insufficientStock.Inc()
}

// OrderOutcome counts a checkout attempt by its terminal state.
func (d *Domain) OrderOutcome(result string) {
	if d == nil || d.orders == nil {
		return
	}
	d.orders.WithLabelValues(normalizeLabel(result)).Inc()
}

func (d *Domain) ReconciliationError() {
	if d == nil || d.reconciliation == nil {
		return
	}
	d.reconciliation.Inc()
}

func (d *Domain) ObserveInvoice(duration time.Duration) {
	if d == nil || d.invoiceDuration == nil {
		return
	}
	d.invoiceDuration.Observe(duration.Seconds())
}

func (d *Domain) SyncPush(result string) {
	if d == nil || d.syncPushes == nil {
		return
	}
	d.syncPushes.WithLabelValues(normalizeLabel(result)).Inc()
}

func (d *Domain) SyncDropped() {
	if d == nil || d.syncDropped == nil {
		return
	}
	d.syncDropped.Inc()
}

func (d *Domain) WebhookEvent(provider, outcome string) {
	if d == nil || d.webhookEvents == nil {
		return
	}
	d.webhookEvents.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}

func (d *Domain) WebhookRateLimited(provider string) {
	if d == nil || d.webhookRateLimited == nil {
		return
	}
	d.webhookRateLimited.WithLabelValues(normalizeLabel(provider)).Inc()
}

func (d *Domain) WebhookStaleCount(provider string) {
	if d == nil || d.webhookStale == nil {
		return
	}
	d.webhookStale.WithLabelValues(normalizeLabel(provider)).Inc()
}

// OutboxRelay counts a relayed row as published, retry or dead_letter.
func (d *Domain) OutboxRelay(result string) {
	if d == nil || d.outboxRelay == nil {
		return
	}
	d.outboxRelay.WithLabelValues(normalizeLabel(result)).Inc()
}

func (d *Domain) SetOutboxPending(n int64) {
	if d == nil || d.outboxPending == nil {
		return
	}
	d.outboxPending.Set(float64(n))
}
