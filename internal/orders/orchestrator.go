package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockflow-backend/internal/catalog"
	"github.com/angelmondragon/stockflow-backend/internal/inventory"
	"github.com/angelmondragon/stockflow-backend/pkg/db/models"
	"github.com/angelmondragon/stockflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockflow-backend/pkg/errors"
	"github.com/angelmondragon/stockflow-backend/pkg/logger"
	"github.com/angelmondragon/stockflow-backend/pkg/metrics"
	"github.com/angelmondragon/stockflow-backend/pkg/outbox"
	"github.com/angelmondragon/stockflow-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/stockflow-backend/pkg/pagination"
	"github.com/angelmondragon/stockflow-backend/pkg/stripe"
)

const (
	defaultInvoiceTimeout = 20 * time.Second
	// cleanupTimeout bounds compensation and persistence once the caller may be gone.
	cleanupTimeout = 10 * time.Second
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// PriceLookup resolves a payment processor price reference.
type PriceLookup interface {
	Price(ctx context.Context, priceRef string) (*stripe.PriceQuote, error)
}

// Invoicer drafts, fills and finalizes a remote invoice.
type Invoicer interface {
	CreateInvoice(ctx context.Context, req stripe.InvoiceRequest) (*stripe.InvoiceResult, error)
}

// StockReserver is the slice of the ledger the saga needs.
type StockReserver interface {
	BulkDeduct(ctx context.Context, items []inventory.BulkItem, mc inventory.MutationContext) inventory.BulkResult
	BulkRestore(ctx context.Context, items []inventory.BulkItem, mc inventory.MutationContext) inventory.BulkResult
}

// SyncDispatcher queues products for a marketplace push. It never blocks.
type SyncDispatcher interface {
	Dispatch(source enums.StockMutationSource, productIDs ...uuid.UUID)
}

// Orchestrator turns a cart into a finalized invoice and a persisted order.
type Orchestrator interface {
	PlaceOrder(ctx context.Context, input PlaceOrderInput) (*PlaceOrderResult, error)
	ListOrders(ctx context.Context, userID uuid.UUID, params pagination.Params) (*OrderList, error)
	MarkConfirmed(ctx context.Context, invoiceID string) (*models.Order, error)
	MarkPaid(ctx context.Context, invoiceID string, paidAt time.Time) (*models.Order, error)
	MarkPaymentFailed(ctx context.Context, invoiceID string, reason string) (*models.Order, error)
}

// Dependencies groups the orchestrator collaborators.
type Dependencies struct {
	Repo           Repository
	Tx             txRunner
	Outbox         outboxPublisher
	Catalog        catalog.Reader
	Prices         PriceLookup
	Invoicer       Invoicer
	Stock          StockReserver
	Dispatcher     SyncDispatcher
	Metrics        *metrics.Domain
	Logger         *logger.Logger
	InvoiceTimeout time.Duration
}

type orchestrator struct {
	repo           Repository
	tx             txRunner
	outbox         outboxPublisher
	catalog        catalog.Reader
	prices         PriceLookup
	invoicer       Invoicer
	stock          StockReserver
	dispatcher     SyncDispatcher
	metrics        *metrics.Domain
	logg           *logger.Logger
	invoiceTimeout time.Duration
}

func NewOrchestrator(deps Dependencies) (Orchestrator, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if deps.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if deps.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if deps.Catalog == nil {
		return nil, fmt.Errorf("catalog reader required")
	}
	if deps.Prices == nil {
		return nil, fmt.Errorf("price lookup required")
	}
	if deps.Invoicer == nil {
		return nil, fmt.Errorf("invoicer required")
	}
	if deps.Stock == nil {
		return nil, fmt.Errorf("stock reserver required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	timeout := deps.InvoiceTimeout
	if timeout <= 0 {
		timeout = defaultInvoiceTimeout
	}
	return &orchestrator{
		repo:           deps.Repo,
		tx:             deps.Tx,
		outbox:         deps.Outbox,
		catalog:        deps.Catalog,
		prices:         deps.Prices,
		invoicer:       deps.Invoicer,
		stock:          deps.Stock,
		dispatcher:     deps.Dispatcher,
		metrics:        deps.Metrics,
		logg:           deps.Logger,
		invoiceTimeout: timeout,
	}, nil
}

type orderState string

const (
	stateValidating   orderState = "validating"
	stateReserving    orderState = "reserving"
	stateInvoicing    orderState = "invoicing"
	statePersisting   orderState = "persisting"
	stateDone         orderState = "done"
	stateCompensating orderState = "compensating_rollback"
	stateFailed       orderState = "failed"
)

// pricedLine is a validated cart line with its catalog and price snapshot.
type pricedLine struct {
	product   models.Product
	quantity  int
	unitCents int64
}

func (l pricedLine) totalCents() int64 {
	return l.unitCents * int64(l.quantity)
}

// PlaceOrder runs Validating, Reserving, Invoicing and Persisting in order.
// Reserved stock is restored when invoicing fails; a persistence failure after
// a finalized invoice is logged for operators and still reported as success.
func (o *orchestrator) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*PlaceOrderResult, error) {
	ctx = o.logg.WithUserID(ctx, input.UserID.String())

	o.enter(ctx, stateValidating)
	lines, currency, err := o.validate(ctx, input)
	if err != nil {
		return nil, o.fail(ctx, err)
	}
	var shipping int64
	if input.ShippingCents != nil {
		shipping = *input.ShippingCents
	}

	checkoutRef := uuid.New()
	ctx = o.logg.WithField(ctx, "checkout_ref", checkoutRef.String())
	mc := checkoutContext(input.UserID, checkoutRef)

	o.enter(ctx, stateReserving)
	reserved, err := o.reserve(ctx, lines, mc)
	if err != nil {
		return nil, o.fail(ctx, err)
	}

	o.enter(ctx, stateInvoicing)
	invoice, err := o.invoice(ctx, input, lines, currency, shipping, checkoutRef)
	if err != nil {
		o.enter(ctx, stateCompensating)
		o.release(ctx, reserved, mc)
		return nil, o.fail(ctx, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "invoice creation failed"))
	}
	ctx = o.logg.WithOrderID(ctx, invoice.InvoiceID)

	subtotal := int64(0)
	for _, line := range lines {
		subtotal += line.totalCents()
	}
	order := buildOrder(input, lines, invoice, currency, subtotal, shipping)
	order.CheckoutRef = &checkoutRef

	o.enter(ctx, statePersisting)
	if err := o.persist(ctx, order); err != nil {
		o.metrics.ReconciliationError()
		snapshot, _ := json.Marshal(order)
		logCtx := o.logg.WithFields(ctx, map[string]any{
			"order_id":   order.ID,
			"invoice_id": invoice.InvoiceID,
			"snapshot":   string(snapshot),
		})
		o.logg.Error(logCtx, "persistence reconciliation error: invoice finalized but order not stored", err)
	}

	o.enter(ctx, stateDone)
	o.metrics.OrderOutcome(string(stateDone))
	if o.dispatcher != nil {
		o.dispatcher.Dispatch(enums.StockSourceCheckout, productIDs(lines)...)
	}

	amount := invoice.AmountDue
	if amount <= 0 {
		amount = order.TotalCents
	}
	return &PlaceOrderResult{
		OrderID:     order.ID,
		InvoiceURL:  invoice.HostedURL,
		AmountCents: amount,
		Currency:    currency,
	}, nil
}

func (o *orchestrator) validate(ctx context.Context, input PlaceOrderInput) ([]pricedLine, enums.Currency, error) {
	if input.UserID == uuid.Nil {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if len(input.Items) == 0 {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "order requires at least one item")
	}
	if input.ShippingCents != nil && *input.ShippingCents < 0 {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "shipping cost must not be negative")
	}

	ids := make([]uuid.UUID, 0, len(input.Items))
	seen := make(map[uuid.UUID]struct{}, len(input.Items))
	for _, item := range input.Items {
		if item.ProductID == uuid.Nil {
			return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
		}
		if item.Quantity <= 0 {
			return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
				WithDetails(map[string]any{"product_id": item.ProductID})
		}
		if _, dup := seen[item.ProductID]; dup {
			return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "duplicate product in order").
				WithDetails(map[string]any{"product_id": item.ProductID})
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}

	products, err := o.catalog.FindByIDs(ctx, ids)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load products")
	}

	lines := make([]pricedLine, 0, len(input.Items))
	var currency enums.Currency
	for _, item := range input.Items {
		product, ok := products[item.ProductID]
		if !ok || !catalog.Sellable(product) {
			return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "product not available").
				WithDetails(map[string]any{"product_id": item.ProductID})
		}
		ref := strings.TrimSpace(item.PriceRef)
		if ref != "" && ref != product.PriceRef {
			return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "price reference does not match product").
				WithDetails(map[string]any{"product_id": item.ProductID, "price_ref": ref})
		}

		quote, err := o.prices.Price(ctx, product.PriceRef)
		if err != nil {
			if errors.Is(err, stripe.ErrPriceNotFound) || errors.Is(err, stripe.ErrPriceUnusable) {
				return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "price not usable").
					WithDetails(map[string]any{"product_id": item.ProductID, "price_ref": product.PriceRef})
			}
			return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "price lookup failed")
		}

		lineCurrency, err := enums.ParseCurrency(quote.Currency)
		if err != nil {
			return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported currency").
				WithDetails(map[string]any{"product_id": item.ProductID})
		}
		if currency == "" {
			currency = lineCurrency
		} else if currency != lineCurrency {
			return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "all items must share one currency").
				WithDetails(map[string]any{"product_id": item.ProductID, "currency": lineCurrency})
		}

		lines = append(lines, pricedLine{
			product:   product,
			quantity:  item.Quantity,
			unitCents: quote.UnitAmount,
		})
	}
	return lines, currency, nil
}

// reserve deducts every line in request order. A partial reservation is
// restored before reporting insufficient stock.
func (o *orchestrator) reserve(ctx context.Context, lines []pricedLine, mc inventory.MutationContext) ([]inventory.BulkItem, error) {
	items := make([]inventory.BulkItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, inventory.BulkItem{ProductID: line.product.ID, Quantity: line.quantity})
	}

	res := o.stock.BulkDeduct(ctx, items, mc)
	if res.OK() {
		return items, nil
	}

	o.enter(ctx, stateCompensating)
	o.release(ctx, res.SucceededItems(items), mc)

	for _, id := range res.Failed {
		if err := res.Errors[id]; err != nil && !inventory.IsInsufficientStock(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reserve stock")
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
		WithDetails(map[string]any{"product_ids": res.Failed})
}

// release restores reserved stock. It runs detached from the caller so a
// canceled request cannot leave units deducted without an invoice.
func (o *orchestrator) release(ctx context.Context, items []inventory.BulkItem, mc inventory.MutationContext) {
	if len(items) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	res := o.stock.BulkRestore(ctx, items, mc)
	if !res.OK() {
		logCtx := o.logg.WithField(ctx, "product_ids", res.Failed)
		o.logg.Error(logCtx, "failed to restore reserved stock", res.Errors[res.Failed[0]])
	}
}

func (o *orchestrator) invoice(ctx context.Context, input PlaceOrderInput, lines []pricedLine, currency enums.Currency, shipping int64, checkoutRef uuid.UUID) (*stripe.InvoiceResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.invoiceTimeout)
	defer cancel()

	req := stripe.InvoiceRequest{
		UserID:         input.UserID,
		Email:          input.Email,
		Currency:       currency.Lower(),
		ShippingCents:  shipping,
		IdempotencyKey: input.IdempotencyKey,
		CheckoutRef:    checkoutRef.String(),
		Lines:          make([]stripe.InvoiceLine, 0, len(lines)),
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	if input.Notes != nil {
		req.Memo = *input.Notes
	}
	for _, line := range lines {
		req.Lines = append(req.Lines, stripe.InvoiceLine{
			Description:     line.product.Name,
			UnitAmountCents: line.unitCents,
			Quantity:        int64(line.quantity),
		})
	}

	started := time.Now()
	res, err := o.invoicer.CreateInvoice(ctx, req)
	o.metrics.ObserveInvoice(time.Since(started))
	if err != nil {
		return nil, err
	}
	if res == nil || res.InvoiceID == "" {
		return nil, errors.New("invoice result missing id")
	}
	return res, nil
}

// persist stores the order and its outbox event. The invoice is already
// finalized, so the write must not depend on the caller staying connected.
func (o *orchestrator) persist(ctx context.Context, order *models.Order) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	return o.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := o.repo.WithTx(tx).CreateOrder(ctx, order); err != nil {
			return err
		}
		ids := make([]uuid.UUID, 0, len(order.Items))
		for _, item := range order.Items {
			ids = append(ids, item.ProductID)
		}
		return o.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: &order.UserID, Source: string(enums.StockSourceCheckout)},
			Data: payloads.OrderCreatedEvent{
				OrderID:    order.ID,
				UserID:     order.UserID,
				Currency:   order.Currency.String(),
				TotalCents: order.TotalCents,
				InvoiceURL: order.InvoiceURL,
				ProductIDs: ids,
			},
		})
	})
}

func buildOrder(input PlaceOrderInput, lines []pricedLine, invoice *stripe.InvoiceResult, currency enums.Currency, subtotal, shipping int64) *models.Order {
	now := time.Now().UTC()
	order := &models.Order{
		ID:              invoice.InvoiceID,
		UserID:          input.UserID,
		Status:          enums.OrderStatusPending,
		RemoteInvoiceID: invoice.InvoiceID,
		InvoiceURL:      invoice.HostedURL,
		Currency:        currency,
		SubtotalCents:   subtotal,
		ShippingCents:   shipping,
		TotalCents:      subtotal + shipping,
		Notes:           input.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
		Items:           make([]models.OrderLineItem, 0, len(lines)),
	}
	for i, line := range lines {
		item := models.OrderLineItem{
			ID:             uuid.New(),
			OrderID:        invoice.InvoiceID,
			Position:       i,
			ProductID:      line.product.ID,
			ProductName:    line.product.Name,
			SKU:            line.product.SKU,
			PriceRef:       line.product.PriceRef,
			UnitPriceCents: line.unitCents,
			Quantity:       line.quantity,
			LineTotalCents: line.totalCents(),
			CreatedAt:      now,
		}
		if i < len(invoice.LineItemIDs) && invoice.LineItemIDs[i] != "" {
			remoteID := invoice.LineItemIDs[i]
			item.RemoteLineItemID = &remoteID
		}
		order.Items = append(order.Items, item)
	}
	return order
}

func (o *orchestrator) ListOrders(ctx context.Context, userID uuid.UUID, params pagination.Params) (*OrderList, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := o.repo.ListByUser(ctx, userID, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list orders")
	}
	rows, more := pagination.TrimPage(rows, params.Limit)

	list := &OrderList{Orders: make([]OrderSummary, 0, len(rows))}
	for _, row := range rows {
		list.Orders = append(list.Orders, newOrderSummary(row))
	}
	if more && len(rows) > 0 {
		last := rows[len(rows)-1]
		list.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return list, nil
}

func (o *orchestrator) enter(ctx context.Context, state orderState) {
	o.logg.Info(o.logg.WithField(ctx, "order_state", string(state)), "order state transition")
}

func (o *orchestrator) fail(ctx context.Context, err error) error {
	logCtx := o.logg.WithField(ctx, "order_state", string(stateFailed))
	if typed := pkgerrors.As(err); typed != nil {
		logCtx = o.logg.WithField(logCtx, "error_code", string(typed.Code()))
	}
	o.logg.Warn(logCtx, "order placement failed: "+err.Error())
	o.metrics.OrderOutcome(string(stateFailed))
	return err
}

// checkoutContext tags every mutation of one attempt with the same reference,
// which the persisted order carries as CheckoutRef.
func checkoutContext(userID, checkoutRef uuid.UUID) inventory.MutationContext {
	refType := "checkout"
	refID := checkoutRef.String()
	return inventory.MutationContext{
		Source:        enums.StockSourceCheckout,
		ReferenceID:   &refID,
		ReferenceType: &refType,
		CreatedBy:     &userID,
	}
}

func productIDs(lines []pricedLine) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.product.ID)
	}
	return ids
}
