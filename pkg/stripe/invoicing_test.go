package stripe

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/stockflow-backend/pkg/config"
)

type fakeInvoiceAPI struct {
	prices      map[string]*stripe.Price
	customer    *stripe.Customer
	created     []*stripe.CustomerParams
	invoices    []*stripe.InvoiceParams
	items       []*stripe.InvoiceItemParams
	finalizeErr error
	itemErr     error
	deleted     []string
}

func (f *fakeInvoiceAPI) GetPrice(_ context.Context, id string) (*stripe.Price, error) {
	p, ok := f.prices[id]
	if !ok {
		return nil, &stripe.Error{HTTPStatusCode: 404, Msg: "No such price"}
	}
	return p, nil
}

func (f *fakeInvoiceAPI) FindCustomer(context.Context, string) (*stripe.Customer, error) {
	return f.customer, nil
}

func (f *fakeInvoiceAPI) CreateCustomer(_ context.Context, params *stripe.CustomerParams) (*stripe.Customer, error) {
	f.created = append(f.created, params)
	f.customer = &stripe.Customer{ID: "cus_new"}
	return f.customer, nil
}

func (f *fakeInvoiceAPI) CreateInvoice(_ context.Context, params *stripe.InvoiceParams) (*stripe.Invoice, error) {
	f.invoices = append(f.invoices, params)
	return &stripe.Invoice{ID: "in_draft"}, nil
}

func (f *fakeInvoiceAPI) CreateInvoiceItem(_ context.Context, params *stripe.InvoiceItemParams) (*stripe.InvoiceItem, error) {
	if f.itemErr != nil {
		return nil, f.itemErr
	}
	f.items = append(f.items, params)
	return &stripe.InvoiceItem{ID: "ii_" + string(rune('a'+len(f.items)-1))}, nil
}

func (f *fakeInvoiceAPI) FinalizeInvoice(_ context.Context, id string) (*stripe.Invoice, error) {
	if f.finalizeErr != nil {
		return nil, f.finalizeErr
	}
	var total int64
	for _, item := range f.items {
		total += *item.Amount
	}
	return &stripe.Invoice{
		ID:               id,
		HostedInvoiceURL: "https://invoice.stripe.com/i/" + id,
		AmountDue:        total,
		Currency:         stripe.CurrencyUSD,
	}, nil
}

func (f *fakeInvoiceAPI) DeleteInvoice(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func TestPriceQuote(t *testing.T) {
	api := &fakeInvoiceAPI{prices: map[string]*stripe.Price{
		"price_ok": {
			ID: "price_ok", Active: true, UnitAmount: 1250, Currency: "USD",
			BillingScheme: stripe.PriceBillingSchemePerUnit, Product: &stripe.Product{ID: "prod_1"},
		},
		"price_inactive": {ID: "price_inactive", Active: false, UnitAmount: 100},
		"price_tiered":   {ID: "price_tiered", Active: true, BillingScheme: stripe.PriceBillingSchemeTiered},
		"price_free":     {ID: "price_free", Active: true},
	}}
	svc := newInvoicing(api, config.StripeConfig{}, nil)
	ctx := context.Background()

	quote, err := svc.Price(ctx, " price_ok ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.UnitAmount != 1250 || quote.Currency != "usd" || quote.ProductID != "prod_1" {
		t.Fatalf("unexpected quote %+v", quote)
	}

	for _, id := range []string{"price_inactive", "price_tiered", "price_free"} {
		if _, err := svc.Price(ctx, id); !errors.Is(err, ErrPriceUnusable) {
			t.Fatalf("%s: expected ErrPriceUnusable, got %v", id, err)
		}
	}
	if _, err := svc.Price(ctx, "price_missing"); !errors.Is(err, ErrPriceNotFound) {
		t.Fatalf("expected ErrPriceNotFound, got %v", err)
	}
	if _, err := svc.Price(ctx, ""); !errors.Is(err, ErrPriceNotFound) {
		t.Fatalf("expected empty ref to be not found, got %v", err)
	}
}

func TestCreateInvoiceHappyPath(t *testing.T) {
	api := &fakeInvoiceAPI{}
	svc := newInvoicing(api, config.StripeConfig{InvoiceDaysUntilDue: 14, ShippingDescription: "Freight"}, nil)

	res, err := svc.CreateInvoice(context.Background(), InvoiceRequest{
		UserID:   uuid.New(),
		Currency: "USD",
		Lines: []InvoiceLine{
			{Description: "Widget", UnitAmountCents: 500, Quantity: 3},
			{Description: "Gadget", UnitAmountCents: 1000, Quantity: 1},
		},
		ShippingCents:  700,
		IdempotencyKey: "abc",
		CheckoutRef:    "7d4f0c2e-checkout",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.InvoiceID != "in_draft" || res.AmountDue != 1500+1000+700 || res.Currency != "usd" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.LineItemIDs) != 2 || res.LineItemIDs[0] != "ii_a" || res.LineItemIDs[1] != "ii_b" {
		t.Fatalf("line ids should exclude shipping and keep order: %v", res.LineItemIDs)
	}
	if len(api.created) != 1 {
		t.Fatalf("expected customer to be created once")
	}
	inv := api.invoices[0]
	if *inv.CollectionMethod != "send_invoice" || *inv.DaysUntilDue != 14 || *inv.AutoAdvance {
		t.Fatalf("unexpected invoice params %+v", inv)
	}
	if *inv.PendingInvoiceItemsBehavior != "exclude" || *inv.Currency != "usd" {
		t.Fatalf("unexpected invoice params %+v", inv)
	}
	if got := inv.Metadata[checkoutRefMetadataKey]; got != "7d4f0c2e-checkout" {
		t.Fatalf("expected checkout ref metadata, got %q", got)
	}
	if got := *api.items[0].Description; got != "Widget x 3" {
		t.Fatalf("unexpected description %q", got)
	}
	if got := *api.items[2].Description; got != "Freight" {
		t.Fatalf("expected shipping line, got %q", got)
	}
	if len(api.deleted) != 0 {
		t.Fatalf("nothing should be deleted on success")
	}
}

func TestCreateInvoiceDeletesDraftWhenFinalizeFails(t *testing.T) {
	api := &fakeInvoiceAPI{customer: &stripe.Customer{ID: "cus_1"}, finalizeErr: errors.New("card_declined")}
	svc := newInvoicing(api, config.StripeConfig{}, nil)

	_, err := svc.CreateInvoice(context.Background(), InvoiceRequest{
		UserID:   uuid.New(),
		Currency: "usd",
		Lines:    []InvoiceLine{{Description: "Widget", UnitAmountCents: 100, Quantity: 1}},
	})
	if err == nil || !strings.Contains(err.Error(), "finalize") {
		t.Fatalf("expected finalize error, got %v", err)
	}
	if len(api.deleted) != 1 || api.deleted[0] != "in_draft" {
		t.Fatalf("expected draft deletion, got %v", api.deleted)
	}
	if len(api.created) != 0 {
		t.Fatalf("existing customer should be reused")
	}
}

func TestCreateInvoiceDeletesDraftWhenItemFails(t *testing.T) {
	api := &fakeInvoiceAPI{customer: &stripe.Customer{ID: "cus_1"}, itemErr: errors.New("boom")}
	svc := newInvoicing(api, config.StripeConfig{}, nil)

	_, err := svc.CreateInvoice(context.Background(), InvoiceRequest{
		UserID:   uuid.New(),
		Currency: "usd",
		Lines:    []InvoiceLine{{UnitAmountCents: 100, Quantity: 1}},
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(api.deleted) != 1 {
		t.Fatalf("expected draft deletion")
	}
}

func TestCreateInvoiceValidatesRequest(t *testing.T) {
	svc := newInvoicing(&fakeInvoiceAPI{}, config.StripeConfig{}, nil)
	ctx := context.Background()
	if _, err := svc.CreateInvoice(ctx, InvoiceRequest{Currency: "usd"}); err == nil {
		t.Fatalf("expected empty lines error")
	}
	if _, err := svc.CreateInvoice(ctx, InvoiceRequest{Lines: []InvoiceLine{{Quantity: 1}}}); err == nil {
		t.Fatalf("expected missing currency error")
	}
	if _, err := svc.CreateInvoice(ctx, InvoiceRequest{Currency: "usd", Lines: []InvoiceLine{{Quantity: 1}}}); err == nil {
		t.Fatalf("expected missing user error")
	}
}
