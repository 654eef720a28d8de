package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockflow-backend/pkg/db"
	"github.com/angelmondragon/stockflow-backend/pkg/db/models"
	"github.com/angelmondragon/stockflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockflow-backend/pkg/errors"
	"github.com/angelmondragon/stockflow-backend/pkg/logger"
	"github.com/angelmondragon/stockflow-backend/pkg/metrics"
	"github.com/angelmondragon/stockflow-backend/pkg/outbox"
	"github.com/angelmondragon/stockflow-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/stockflow-backend/pkg/pagination"
)

const maxSyncErrorLen = 1024

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Ledger owns the authoritative per-product quantity. Every committed quantity
// change writes one audit row and one stock_level_changed event in the same transaction.
type Ledger interface {
	Deduct(ctx context.Context, productID uuid.UUID, qty int, mc MutationContext) (Result, error)
	Restore(ctx context.Context, productID uuid.UUID, qty int, mc MutationContext) (Result, error)
	BulkDeduct(ctx context.Context, items []BulkItem, mc MutationContext) BulkResult
	BulkRestore(ctx context.Context, items []BulkItem, mc MutationContext) BulkResult
	SetAbsolute(ctx context.Context, productID uuid.UUID, qty int, mc MutationContext) (Result, error)
	Adjust(ctx context.Context, productID uuid.UUID, delta int, mc MutationContext) (Result, error)
	Get(ctx context.Context, productID uuid.UUID) (*models.StockRecord, error)
	SetSyncSettings(ctx context.Context, productID uuid.UUID, enabled bool, target *SyncTarget) (*models.StockRecord, error)
	RecordSync(ctx context.Context, productID uuid.UUID, syncedAt time.Time, syncErr error) error
	AppendSyncOut(ctx context.Context, productID uuid.UUID, pushedQty int, mc MutationContext) error
	ListMutations(ctx context.Context, productID uuid.UUID, params pagination.Params) (MutationPage, error)
	PruneMutations(ctx context.Context, cutoff time.Time) (int64, error)
	ListSyncFailures(ctx context.Context, after uuid.UUID, limit int) ([]models.StockRecord, error)
	FindBySyncTarget(ctx context.Context, target SyncTarget) (*models.StockRecord, error)
}

// LedgerOption customizes optional ledger collaborators.
type LedgerOption func(*ledger)

// WithPoolStrategy replaces the default SharedPool.
func WithPoolStrategy(pool PoolStrategy) LedgerOption {
	return func(l *ledger) {
		if pool != nil {
			l.pool = pool
		}
	}
}

func WithMetrics(m *metrics.Domain) LedgerOption {
	return func(l *ledger) {
		l.metrics = m
	}
}

// WithClock overrides the audit timestamp source.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *ledger) {
		if now != nil {
			l.now = now
		}
	}
}

type ledger struct {
	tx      txRunner
	repo    Repository
	audit   AuditRepository
	outbox  outboxEmitter
	pool    PoolStrategy
	metrics *metrics.Domain
	logg    *logger.Logger
	now     func() time.Time
}

// errNoRowMatched marks a conditional decrement that lost to insufficient stock.
var errNoRowMatched = errors.New("no stock row matched")

type operation int

const (
	opDeduct operation = iota
	opRestore
	opSet
	opAdjust
)

func NewLedger(tx txRunner, repo Repository, audit AuditRepository, emitter outboxEmitter, logg *logger.Logger, opts ...LedgerOption) (Ledger, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("stock repository required")
	}
	if audit == nil {
		return nil, fmt.Errorf("audit repository required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	l := &ledger{
		tx:     tx,
		repo:   repo,
		audit:  audit,
		outbox: emitter,
		pool:   SharedPool{},
		logg:   logg,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *ledger) Deduct(ctx context.Context, productID uuid.UUID, qty int, mc MutationContext) (Result, error) {
	if qty <= 0 {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if err := mc.validate(); err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid mutation context")
	}
	return l.deduct(ctx, productID, qty, actionFor(opDeduct, mc.Source), mc)
}

// deduct applies the conditional decrement. A miss gets one fresh read and at
// most one retry before reporting insufficient stock.
func (l *ledger) deduct(ctx context.Context, productID uuid.UUID, qty int, action enums.StockMutationAction, mc MutationContext) (Result, error) {
	rowID := l.pool.Resolve(productID, mc.Source)

	res, err := l.tryDeduct(ctx, rowID, qty, action, mc)
	if !errors.Is(err, errNoRowMatched) {
		return res, err
	}

	available := 0
	rec, err := l.repo.FindByProductID(ctx, rowID)
	switch {
	case err == nil:
		available = rec.Quantity
	case !db.IsNotFound(err):
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read stock record")
	}

	if available >= qty {
		res, err = l.tryDeduct(ctx, rowID, qty, action, mc)
		if !errors.Is(err, errNoRowMatched) {
			return res, err
		}
	}

	l.metrics.InsufficientStock()
	return Result{}, insufficientStock(productID, qty, available)
}

func (l *ledger) tryDeduct(ctx context.Context, rowID uuid.UUID, qty int, action enums.StockMutationAction, mc MutationContext) (Result, error) {
	var res Result
	err := l.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := l.repo.WithTx(tx).DecrementIfAvailable(ctx, rowID, qty)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deduct stock")
		}
		if !ok {
			return errNoRowMatched
		}
		res, err = l.record(ctx, tx, rowID, -qty, action, mc)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	l.committed(ctx, res, mc)
	return res, nil
}

func (l *ledger) Restore(ctx context.Context, productID uuid.UUID, qty int, mc MutationContext) (Result, error) {
	if qty <= 0 {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if err := mc.validate(); err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid mutation context")
	}
	return l.increment(ctx, l.pool.Resolve(productID, mc.Source), qty, actionFor(opRestore, mc.Source), mc)
}

func (l *ledger) increment(ctx context.Context, rowID uuid.UUID, qty int, action enums.StockMutationAction, mc MutationContext) (Result, error) {
	var res Result
	err := l.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := l.repo.WithTx(tx).Increment(ctx, rowID, qty)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "restore stock")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeNotFound, "stock record not found").
				WithDetails(map[string]any{"product_id": rowID})
		}
		res, err = l.record(ctx, tx, rowID, qty, action, mc)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	l.committed(ctx, res, mc)
	return res, nil
}

func (l *ledger) BulkDeduct(ctx context.Context, items []BulkItem, mc MutationContext) BulkResult {
	return l.bulk(ctx, "deduct", items, mc, l.Deduct)
}

func (l *ledger) BulkRestore(ctx context.Context, items []BulkItem, mc MutationContext) BulkResult {
	return l.bulk(ctx, "restore", items, mc, l.Restore)
}

// bulk applies fn per item in request order. Each item commits on its own.
func (l *ledger) bulk(
	ctx context.Context,
	op string,
	items []BulkItem,
	mc MutationContext,
	fn func(context.Context, uuid.UUID, int, MutationContext) (Result, error),
) BulkResult {
	out := BulkResult{
		Succeeded: make([]uuid.UUID, 0, len(items)),
		Errors:    map[uuid.UUID]error{},
	}
	var summary error
	for _, item := range items {
		if _, err := fn(ctx, item.ProductID, item.Quantity, mc); err != nil {
			out.Failed = append(out.Failed, item.ProductID)
			out.Errors[item.ProductID] = err
			summary = multierr.Append(summary, fmt.Errorf("%s: %w", item.ProductID, err))
			continue
		}
		out.Succeeded = append(out.Succeeded, item.ProductID)
	}
	if summary != nil {
		logCtx := l.logg.WithFields(ctx, map[string]any{
			"bulk_op":         op,
			"source":          string(mc.Source),
			"failed_count":    len(out.Failed),
			"succeeded_count": len(out.Succeeded),
			"errors":          summary.Error(),
		})
		l.logg.Warn(logCtx, "bulk stock mutation partially failed")
	}
	return out
}

// SetAbsolute overwrites the quantity, creating the record if it does not exist yet.
func (l *ledger) SetAbsolute(ctx context.Context, productID uuid.UUID, qty int, mc MutationContext) (Result, error) {
	if qty < 0 {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative")
	}
	if err := mc.validate(); err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid mutation context")
	}
	rowID := l.pool.Resolve(productID, mc.Source)
	action := actionFor(opSet, mc.Source)

	var res Result
	err := l.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := l.repo.WithTx(tx)
		if err := repo.EnsureRecord(ctx, rowID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create stock record")
		}
		current, err := repo.FindForUpdate(ctx, rowID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock stock record")
		}
		if err := repo.SetQuantity(ctx, rowID, qty); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "set stock quantity")
		}
		res, err = l.record(ctx, tx, rowID, qty-current.Quantity, action, mc)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	l.committed(ctx, res, mc)
	return res, nil
}

// Adjust applies a signed delta. Negative deltas go through the conditional
// decrement so the counter never drops below zero.
func (l *ledger) Adjust(ctx context.Context, productID uuid.UUID, delta int, mc MutationContext) (Result, error) {
	if delta == 0 {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "delta must not be zero")
	}
	if err := mc.validate(); err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid mutation context")
	}
	action := actionFor(opAdjust, mc.Source)
	if delta < 0 {
		return l.deduct(ctx, productID, -delta, action, mc)
	}
	return l.increment(ctx, l.pool.Resolve(productID, mc.Source), delta, action, mc)
}

func (l *ledger) Get(ctx context.Context, productID uuid.UUID) (*models.StockRecord, error) {
	rec, err := l.repo.FindByProductID(ctx, productID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "stock record not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read stock record")
	}
	return rec, nil
}

// SetSyncSettings toggles marketplace sync. Enabling requires a target, either
// supplied here or already stored.
func (l *ledger) SetSyncSettings(ctx context.Context, productID uuid.UUID, enabled bool, target *SyncTarget) (*models.StockRecord, error) {
	if target != nil && (target.CatalogObjectID == "" || target.LocationID == "") {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sync target requires catalog object id and location id")
	}
	if enabled && target == nil {
		rec, err := l.repo.FindByProductID(ctx, productID)
		if err != nil && !db.IsNotFound(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read stock record")
		}
		if rec == nil || !rec.HasSyncTarget() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "sync target required to enable sync")
		}
	}
	if err := l.repo.UpsertSyncSettings(ctx, productID, enabled, target); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update sync settings")
	}
	return l.Get(ctx, productID)
}

// RecordSync stores a push outcome. It never touches quantity.
func (l *ledger) RecordSync(ctx context.Context, productID uuid.UUID, syncedAt time.Time, syncErr error) error {
	var err error
	if syncErr == nil {
		err = l.repo.RecordSync(ctx, productID, &syncedAt, nil)
	} else {
		msg := syncErr.Error()
		if len(msg) > maxSyncErrorLen {
			msg = msg[:maxSyncErrorLen]
		}
		err = l.repo.RecordSync(ctx, productID, nil, &msg)
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record sync outcome")
	}
	return nil
}

// AppendSyncOut logs a successful marketplace push as a zero-delta audit row.
func (l *ledger) AppendSyncOut(ctx context.Context, productID uuid.UUID, pushedQty int, mc MutationContext) error {
	row := l.auditRow(productID, 0, pushedQty, enums.StockActionExternalSyncOut, mc)
	if err := l.audit.Insert(ctx, &row); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "append sync audit row")
	}
	l.metrics.StockMutation(string(enums.StockActionExternalSyncOut), string(mc.Source))
	return nil
}

func (l *ledger) ListMutations(ctx context.Context, productID uuid.UUID, params pagination.Params) (MutationPage, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return MutationPage{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := l.audit.ListByProduct(ctx, productID, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return MutationPage{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list stock mutations")
	}
	rows, more := pagination.TrimPage(rows, params.Limit)

	page := MutationPage{Items: make([]MutationView, 0, len(rows))}
	for _, row := range rows {
		page.Items = append(page.Items, newMutationView(row))
	}
	if more && len(rows) > 0 {
		last := rows[len(rows)-1]
		page.NextCursor = pagination.UUIDCursor(last.CreatedAt, last.ID)
	}
	return page, nil
}

func (l *ledger) PruneMutations(ctx context.Context, cutoff time.Time) (int64, error) {
	deleted, err := l.audit.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "prune stock mutations")
	}
	return deleted, nil
}

func (l *ledger) ListSyncFailures(ctx context.Context, after uuid.UUID, limit int) ([]models.StockRecord, error) {
	rows, err := l.repo.ListSyncFailures(ctx, after, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list sync failures")
	}
	return rows, nil
}

// FindBySyncTarget maps an inbound marketplace item to the product it is enabled for.
func (l *ledger) FindBySyncTarget(ctx context.Context, target SyncTarget) (*models.StockRecord, error) {
	if target.CatalogObjectID == "" || target.LocationID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sync target requires catalog object id and location id")
	}
	rec, err := l.repo.FindBySyncTarget(ctx, target)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no product synced to target").
				WithDetails(map[string]any{"catalog_object_id": target.CatalogObjectID, "location_id": target.LocationID})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find stock record by sync target")
	}
	return rec, nil
}

// record writes the audit row and the outbox event inside tx.
func (l *ledger) record(ctx context.Context, tx *gorm.DB, productID uuid.UUID, delta int, action enums.StockMutationAction, mc MutationContext) (Result, error) {
	rec, err := l.repo.WithTx(tx).FindByProductID(ctx, productID)
	if err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read stock after mutation")
	}

	row := l.auditRow(productID, delta, rec.Quantity, action, mc)
	if err := l.audit.WithTx(tx).Insert(ctx, &row); err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "write stock audit row")
	}

	event := outbox.DomainEvent{
		EventType:     enums.EventStockLevelChanged,
		AggregateType: enums.AggregateStockRecord,
		AggregateID:   productID.String(),
		Actor: &outbox.ActorRef{
			UserID: mc.CreatedBy,
			Source: string(mc.Source),
		},
		Data: payloads.StockLevelChangedEvent{
			ProductID:   productID,
			Quantity:    rec.Quantity,
			Delta:       delta,
			Action:      action,
			Source:      mc.Source,
			ReferenceID: mc.ReferenceID,
		},
		OccurredAt: row.CreatedAt,
	}
	if err := l.outbox.Emit(ctx, tx, event); err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit stock level event")
	}

	return Result{
		ProductID:  productID,
		Quantity:   rec.Quantity,
		Delta:      delta,
		Action:     action,
		MutationID: row.ID,
	}, nil
}

func (l *ledger) auditRow(productID uuid.UUID, delta, quantityAfter int, action enums.StockMutationAction, mc MutationContext) models.StockMutation {
	return models.StockMutation{
		ID:            uuid.New(),
		ProductID:     productID,
		Action:        action,
		Source:        mc.Source,
		Delta:         delta,
		QuantityAfter: quantityAfter,
		ReferenceID:   mc.ReferenceID,
		ReferenceType: mc.ReferenceType,
		CreatedBy:     mc.CreatedBy,
		CreatedAt:     l.now(),
	}
}

func (l *ledger) committed(ctx context.Context, res Result, mc MutationContext) {
	l.metrics.StockMutation(string(res.Action), string(mc.Source))
	logCtx := l.logg.WithFields(ctx, map[string]any{
		"product_id":     res.ProductID.String(),
		"action":         string(res.Action),
		"source":         string(mc.Source),
		"delta":          res.Delta,
		"quantity_after": res.Quantity,
	})
	l.logg.Debug(logCtx, "stock mutation committed")
}

// actionFor derives the audit action from the operation and its source.
func actionFor(op operation, source enums.StockMutationSource) enums.StockMutationAction {
	switch op {
	case opRestore:
		return enums.StockActionRollback
	case opDeduct:
		if source == enums.StockSourceCheckout {
			return enums.StockActionSale
		}
	}
	if source == enums.StockSourceWebhook {
		return enums.StockActionExternalSyncIn
	}
	return enums.StockActionManualAdjustment
}

func insufficientStock(productID uuid.UUID, requested, available int) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
		WithDetails(map[string]any{
			"product_id": productID,
			"requested":  requested,
			"available":  available,
		})
}

// IsInsufficientStock reports whether err is a rejected deduction.
func IsInsufficientStock(err error) bool {
	return pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock)
}
