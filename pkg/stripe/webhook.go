package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

// SignatureHeader carries Stripe's webhook signature.
const SignatureHeader = "Stripe-Signature"

// ConstructEvent verifies the signature header and decodes the event.
// API version drift between the account and the library is tolerated.
func (c *Client) ConstructEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	if c == nil || c.signingSecret == "" {
		return stripe.Event{}, errSecretRequired
	}
	return webhook.ConstructEventWithOptions(payload, sigHeader, c.signingSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

// InvoiceFromEvent decodes the invoice object carried by an invoice.* event.
func InvoiceFromEvent(event *stripe.Event) (*stripe.Invoice, error) {
	if event == nil || event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, errors.New("stripe event has no data")
	}
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return nil, fmt.Errorf("decode invoice from %s: %w", event.Type, err)
	}
	if inv.ID == "" {
		return nil, fmt.Errorf("invoice id missing in %s", event.Type)
	}
	return &inv, nil
}

// PaidAt returns when the invoice was paid, falling back to the event time.
func PaidAt(inv *stripe.Invoice, event *stripe.Event) time.Time {
	if inv != nil && inv.StatusTransitions != nil && inv.StatusTransitions.PaidAt > 0 {
		return time.Unix(inv.StatusTransitions.PaidAt, 0).UTC()
	}
	if event != nil && event.Created > 0 {
		return time.Unix(event.Created, 0).UTC()
	}
	return time.Now().UTC()
}
