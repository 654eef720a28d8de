// Package stocksync pushes ledger quantities to the external marketplace.
package stocksync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/angelmondragon/stockflow-backend/internal/inventory"
	"github.com/angelmondragon/stockflow-backend/pkg/config"
	"github.com/angelmondragon/stockflow-backend/pkg/db/models"
	"github.com/angelmondragon/stockflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockflow-backend/pkg/errors"
	"github.com/angelmondragon/stockflow-backend/pkg/logger"
	"github.com/angelmondragon/stockflow-backend/pkg/metrics"
	"github.com/angelmondragon/stockflow-backend/pkg/square"
)

const breakerName = "square_inventory"

const (
	resultOK          = "ok"
	resultFailed      = "failed"
	resultBreakerOpen = "breaker_open"
	resultSkipped     = "skipped"
)

// MarketplaceInventory accepts absolute in-stock counts.
type MarketplaceInventory interface {
	SetInventoryCount(ctx context.Context, params square.InventoryCountParams) error
}

// syncStore is the slice of the ledger the dispatcher reads and annotates.
type syncStore interface {
	Get(ctx context.Context, productID uuid.UUID) (*models.StockRecord, error)
	RecordSync(ctx context.Context, productID uuid.UUID, syncedAt time.Time, syncErr error) error
	AppendSyncOut(ctx context.Context, productID uuid.UUID, pushedQty int, mc inventory.MutationContext) error
}

type Params struct {
	Store       syncStore
	Marketplace MarketplaceInventory
	Config      config.SyncConfig
	Metrics     *metrics.Domain
	Logger      *logger.Logger
	Clock       func() time.Time
}

// Dispatcher runs marketplace pushes on a bounded worker pool. Push failures
// are recorded on the stock record and never surface to the caller.
type Dispatcher struct {
	store       syncStore
	marketplace MarketplaceInventory
	breaker     *gobreaker.CircuitBreaker[struct{}]
	metrics     *metrics.Domain
	logg        *logger.Logger
	now         func() time.Time
	pushTimeout time.Duration

	queue  chan syncRequest
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// syncRequest is one queued push; source is stamped on its audit row.
type syncRequest struct {
	productID uuid.UUID
	source    enums.StockMutationSource
}

// NewDispatcher starts cfg.Workers workers consuming the dispatch queue.
func NewDispatcher(params Params) (*Dispatcher, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("stock store required")
	}
	if params.Marketplace == nil {
		return nil, fmt.Errorf("marketplace inventory required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg := params.Config
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1
	}
	pushTimeout := cfg.PushTimeout
	if pushTimeout <= 0 {
		pushTimeout = 10 * time.Second
	}
	now := params.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	d := &Dispatcher{
		store:       params.Store,
		marketplace: params.Marketplace,
		metrics:     params.Metrics,
		logg:        params.Logger,
		now:         now,
		pushTimeout: pushTimeout,
		queue:       make(chan syncRequest, queueSize),
	}
	d.breaker = newBreaker(cfg, params.Logger)

	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d, nil
}

func newBreaker(cfg config.SyncConfig, logg *logger.Logger) *gobreaker.CircuitBreaker[struct{}] {
	minRequests := cfg.BreakerMinRequests
	ratio := cfg.BreakerFailureRatio
	if ratio <= 0 {
		ratio = 0.5
	}
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			ctx := logg.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			logg.Warn(ctx, "circuit breaker state change")
		},
	})
}

// Dispatch enqueues products for a background push without blocking. When the
// queue is full the product is dropped; the reconcile job retries failed syncs.
// source is the origin of the change being pushed.
func (d *Dispatcher) Dispatch(source enums.StockMutationSource, productIDs ...uuid.UUID) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	for _, id := range productIDs {
		select {
		case d.queue <- syncRequest{productID: id, source: source}:
		default:
			d.metrics.SyncDropped()
			d.logg.Warn(d.logg.WithProductID(context.Background(), id.String()), "stock sync queue full, push dropped")
		}
	}
}

// SyncToExternal pushes the current quantity synchronously and reports whether
// the marketplace accepted it. Products without enabled sync return false.
func (d *Dispatcher) SyncToExternal(ctx context.Context, productID uuid.UUID) bool {
	return d.push(ctx, productID, enums.StockSourceScheduledJob)
}

// Close stops accepting work and waits for queued pushes to finish.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for req := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.pushTimeout)
		d.push(ctx, req.productID, req.source)
		cancel()
	}
}

func (d *Dispatcher) push(ctx context.Context, productID uuid.UUID, source enums.StockMutationSource) bool {
	logCtx := d.logg.WithProductID(ctx, productID.String())
	rec, err := d.store.Get(ctx, productID)
	if err != nil {
		if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			d.logg.Error(logCtx, "stock sync read failed", err)
		}
		d.metrics.SyncPush(resultSkipped)
		return false
	}
	if !rec.SyncEnabled || !rec.HasSyncTarget() {
		d.metrics.SyncPush(resultSkipped)
		return false
	}

	qty := rec.Quantity
	_, err = d.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, d.marketplace.SetInventoryCount(ctx, square.InventoryCountParams{
			Target: square.InventoryTarget{
				CatalogObjectID: *rec.SyncCatalogObjectID,
				LocationID:      *rec.SyncLocationID,
			},
			Quantity:   qty,
			OccurredAt: d.now(),
		})
	})

	// bookkeeping must land even if the push consumed the deadline
	bookCtx := context.WithoutCancel(ctx)
	if err != nil {
		result := resultFailed
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result = resultBreakerOpen
		}
		d.metrics.SyncPush(result)
		d.logg.Warn(d.logg.WithField(logCtx, "error", err.Error()), "stock sync push failed")
		if recErr := d.store.RecordSync(bookCtx, productID, d.now(), err); recErr != nil {
			d.logg.Error(logCtx, "failed to record sync error", recErr)
		}
		return false
	}

	d.metrics.SyncPush(resultOK)
	if recErr := d.store.RecordSync(bookCtx, productID, d.now(), nil); recErr != nil {
		d.logg.Error(logCtx, "failed to record sync success", recErr)
	}
	if auditErr := d.store.AppendSyncOut(bookCtx, productID, qty, inventory.MutationContext{Source: source}); auditErr != nil {
		d.logg.Error(logCtx, "failed to append sync audit row", auditErr)
	}
	return true
}
