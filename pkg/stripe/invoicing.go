package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/stockflow-backend/pkg/config"
	"github.com/angelmondragon/stockflow-backend/pkg/logger"
)

const (
	userIDMetadataKey      = "stockflow_user_id"
	checkoutRefMetadataKey = "stockflow_checkout_ref"
)

var (
	// ErrPriceUnusable marks a price that exists but cannot be billed per unit.
	ErrPriceUnusable = errors.New("stripe price is not a usable per-unit price")
	// ErrPriceNotFound marks a price id Stripe does not know.
	ErrPriceNotFound = errors.New("stripe price not found")
)

// PriceQuote is the subset of a Stripe price needed to bill a line.
type PriceQuote struct {
	ID         string
	ProductID  string
	UnitAmount int64
	Currency   string
}

// InvoiceLine is one billed row; Amount is UnitAmountCents * Quantity.
type InvoiceLine struct {
	Description     string
	UnitAmountCents int64
	Quantity        int64
}

// InvoiceRequest describes a send_invoice invoice for one user.
type InvoiceRequest struct {
	UserID         uuid.UUID
	Email          string
	Currency       string
	Lines          []InvoiceLine
	ShippingCents  int64
	Memo           string
	IdempotencyKey string
	// CheckoutRef ties the invoice to the stock mutations of one checkout attempt.
	CheckoutRef    string
}

// InvoiceResult reports the finalized invoice. LineItemIDs is index-aligned with the request lines.
type InvoiceResult struct {
	InvoiceID   string
	HostedURL   string
	AmountDue   int64
	Currency    string
	LineItemIDs []string
}

type invoiceAPI interface {
	GetPrice(ctx context.Context, id string) (*stripe.Price, error)
	FindCustomer(ctx context.Context, userID string) (*stripe.Customer, error)
	CreateCustomer(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error)
	CreateInvoice(ctx context.Context, params *stripe.InvoiceParams) (*stripe.Invoice, error)
	CreateInvoiceItem(ctx context.Context, params *stripe.InvoiceItemParams) (*stripe.InvoiceItem, error)
	FinalizeInvoice(ctx context.Context, id string) (*stripe.Invoice, error)
	DeleteInvoice(ctx context.Context, id string) error
}

// Invoicing prices carts and issues invoices through Stripe.
type Invoicing struct {
	api  invoiceAPI
	cfg  config.StripeConfig
	logg *logger.Logger
}

// NewInvoicing binds invoicing to the live Stripe API. client must come from NewClient.
func NewInvoicing(client *Client, cfg config.StripeConfig, logg *logger.Logger) (*Invoicing, error) {
	if client == nil {
		return nil, errors.New("stripe client is required")
	}
	return newInvoicing(liveInvoiceAPI{}, cfg, logg), nil
}

func newInvoicing(api invoiceAPI, cfg config.StripeConfig, logg *logger.Logger) *Invoicing {
	return &Invoicing{api: api, cfg: cfg, logg: logg}
}

// Price resolves priceRef into a per-unit quote.
func (s *Invoicing) Price(ctx context.Context, priceRef string) (*PriceQuote, error) {
	priceRef = strings.TrimSpace(priceRef)
	if priceRef == "" {
		return nil, fmt.Errorf("%w: empty price reference", ErrPriceNotFound)
	}
	p, err := s.api.GetPrice(ctx, priceRef)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
			return nil, fmt.Errorf("%w: %s", ErrPriceNotFound, priceRef)
		}
		return nil, fmt.Errorf("fetch stripe price %s: %w", priceRef, err)
	}
	if p == nil || p.Deleted {
		return nil, fmt.Errorf("%w: %s", ErrPriceNotFound, priceRef)
	}
	if !p.Active {
		return nil, fmt.Errorf("%w: %s is inactive", ErrPriceUnusable, priceRef)
	}
	if p.BillingScheme != "" && p.BillingScheme != stripe.PriceBillingSchemePerUnit {
		return nil, fmt.Errorf("%w: %s uses %s billing", ErrPriceUnusable, priceRef, p.BillingScheme)
	}
	if p.UnitAmount <= 0 {
		return nil, fmt.Errorf("%w: %s has no unit amount", ErrPriceUnusable, priceRef)
	}
	quote := &PriceQuote{
		ID:         p.ID,
		UnitAmount: p.UnitAmount,
		Currency:   strings.ToLower(string(p.Currency)),
	}
	if p.Product != nil {
		quote.ProductID = p.Product.ID
	}
	return quote, nil
}

// CreateInvoice drafts, fills and finalizes an invoice. A draft whose finalize fails is deleted.
func (s *Invoicing) CreateInvoice(ctx context.Context, req InvoiceRequest) (*InvoiceResult, error) {
	if len(req.Lines) == 0 {
		return nil, errors.New("invoice requires at least one line")
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		return nil, errors.New("invoice currency is required")
	}

	cust, err := s.ensureCustomer(ctx, req.UserID, req.Email)
	if err != nil {
		return nil, err
	}

	params := &stripe.InvoiceParams{
		Customer:                    stripe.String(cust.ID),
		Currency:                    stripe.String(currency),
		CollectionMethod:            stripe.String(string(stripe.InvoiceCollectionMethodSendInvoice)),
		DaysUntilDue:                stripe.Int64(s.daysUntilDue()),
		AutoAdvance:                 stripe.Bool(false),
		PendingInvoiceItemsBehavior: stripe.String("exclude"),
	}
	if memo := strings.TrimSpace(req.Memo); memo != "" {
		params.Description = stripe.String(memo)
	}
	params.AddMetadata(userIDMetadataKey, req.UserID.String())
	if req.CheckoutRef != "" {
		params.AddMetadata(checkoutRefMetadataKey, req.CheckoutRef)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey("invoice:" + req.IdempotencyKey)
	}

	draft, err := s.api.CreateInvoice(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create draft invoice: %w", err)
	}

	lineIDs := make([]string, 0, len(req.Lines))
	for i, line := range req.Lines {
		item, err := s.api.CreateInvoiceItem(ctx, &stripe.InvoiceItemParams{
			Customer:    stripe.String(cust.ID),
			Invoice:     stripe.String(draft.ID),
			Currency:    stripe.String(currency),
			Amount:      stripe.Int64(line.UnitAmountCents * line.Quantity),
			Description: stripe.String(lineDescription(line)),
		})
		if err != nil {
			s.discardDraft(ctx, draft.ID)
			return nil, fmt.Errorf("add invoice line %d: %w", i, err)
		}
		lineIDs = append(lineIDs, item.ID)
	}

	if req.ShippingCents > 0 {
		if _, err := s.api.CreateInvoiceItem(ctx, &stripe.InvoiceItemParams{
			Customer:    stripe.String(cust.ID),
			Invoice:     stripe.String(draft.ID),
			Currency:    stripe.String(currency),
			Amount:      stripe.Int64(req.ShippingCents),
			Description: stripe.String(s.shippingDescription()),
		}); err != nil {
			s.discardDraft(ctx, draft.ID)
			return nil, fmt.Errorf("add shipping line: %w", err)
		}
	}

	final, err := s.api.FinalizeInvoice(ctx, draft.ID)
	if err != nil {
		s.discardDraft(ctx, draft.ID)
		return nil, fmt.Errorf("finalize invoice %s: %w", draft.ID, err)
	}

	return &InvoiceResult{
		InvoiceID:   final.ID,
		HostedURL:   final.HostedInvoiceURL,
		AmountDue:   final.AmountDue,
		Currency:    strings.ToLower(string(final.Currency)),
		LineItemIDs: lineIDs,
	}, nil
}

func (s *Invoicing) ensureCustomer(ctx context.Context, userID uuid.UUID, email string) (*stripe.Customer, error) {
	if userID == uuid.Nil {
		return nil, errors.New("invoice user id is required")
	}
	existing, err := s.api.FindCustomer(ctx, userID.String())
	if err != nil {
		return nil, fmt.Errorf("search stripe customer: %w", err)
	}
	if existing != nil {
		return existing, nil
	}
	params := &stripe.CustomerParams{}
	if email = strings.TrimSpace(email); email != "" {
		params.Email = stripe.String(email)
	}
	params.AddMetadata(userIDMetadataKey, userID.String())
	params.SetIdempotencyKey("customer:" + userID.String())
	created, err := s.api.CreateCustomer(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create stripe customer: %w", err)
	}
	return created, nil
}

// discardDraft deletes an unfinalized draft so a failed checkout leaves nothing billable behind.
func (s *Invoicing) discardDraft(ctx context.Context, invoiceID string) {
	// the caller's context may already be expired; cleanup gets its own budget
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := s.api.DeleteInvoice(cleanupCtx, invoiceID); err != nil && s.logg != nil {
		logCtx := s.logg.WithField(ctx, "invoice_id", invoiceID)
		s.logg.Error(logCtx, "failed to delete draft invoice", err)
	}
}

func (s *Invoicing) daysUntilDue() int64 {
	if s.cfg.InvoiceDaysUntilDue > 0 {
		return s.cfg.InvoiceDaysUntilDue
	}
	return 30
}

func (s *Invoicing) shippingDescription() string {
	if d := strings.TrimSpace(s.cfg.ShippingDescription); d != "" {
		return d
	}
	return "Shipping"
}

func lineDescription(line InvoiceLine) string {
	desc := strings.TrimSpace(line.Description)
	if desc == "" {
		desc = "Item"
	}
	if line.Quantity == 1 {
		return desc
	}
	return fmt.Sprintf("%s x %d", desc, line.Quantity)
}
