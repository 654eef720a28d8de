package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/customer"
	"github.com/stripe/stripe-go/v84/invoice"
	"github.com/stripe/stripe-go/v84/invoiceitem"
	"github.com/stripe/stripe-go/v84/price"
)

const cleanupTimeout = 10 * time.Second

// liveInvoiceAPI forwards to the package-level stripe-go resources.
type liveInvoiceAPI struct{}

func (liveInvoiceAPI) GetPrice(ctx context.Context, id string) (*stripe.Price, error) {
	params := &stripe.PriceParams{}
	params.Context = ctx
	params.AddExpand("product")
	return price.Get(id, params)
}

func (liveInvoiceAPI) FindCustomer(ctx context.Context, userID string) (*stripe.Customer, error) {
	params := &stripe.CustomerSearchParams{}
	params.Context = ctx
	params.Query = fmt.Sprintf("metadata['%s']:'%s'", userIDMetadataKey, userID)
	iter := customer.Search(params)
	if iter.Next() {
		return iter.Customer(), nil
	}
	return nil, iter.Err()
}

func (liveInvoiceAPI) CreateCustomer(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error) {
	params.Context = ctx
	return customer.New(params)
}

func (liveInvoiceAPI) CreateInvoice(ctx context.Context, params *stripe.InvoiceParams) (*stripe.Invoice, error) {
	params.Context = ctx
	return invoice.New(params)
}

func (liveInvoiceAPI) CreateInvoiceItem(ctx context.Context, params *stripe.InvoiceItemParams) (*stripe.InvoiceItem, error) {
	params.Context = ctx
	return invoiceitem.New(params)
}

func (liveInvoiceAPI) FinalizeInvoice(ctx context.Context, id string) (*stripe.Invoice, error) {
	params := &stripe.InvoiceFinalizeInvoiceParams{AutoAdvance: stripe.Bool(false)}
	params.Context = ctx
	return invoice.FinalizeInvoice(id, params)
}

func (liveInvoiceAPI) DeleteInvoice(ctx context.Context, id string) error {
	params := &stripe.InvoiceParams{}
	params.Context = ctx
	_, err := invoice.Del(id, params)
	return err
}
