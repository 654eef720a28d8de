package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/stockflow-backend/api/responses"
	"github.com/angelmondragon/stockflow-backend/internal/webhookevents"
	pkgerrors "github.com/angelmondragon/stockflow-backend/pkg/errors"
	"github.com/angelmondragon/stockflow-backend/pkg/logger"
	pkgstripe "github.com/angelmondragon/stockflow-backend/pkg/stripe"
)

const maxWebhookBody = 1 << 20

type StripeEventProcessor interface {
	Process(ctx context.Context, event *stripe.Event, payload []byte) (webhookevents.Outcome, error)
}

type stripeVerifier interface {
	ConstructEvent(payload []byte, sigHeader string) (stripe.Event, error)
}

// StripeWebhook verifies and ingests Stripe invoice events. Handler failures
// are recorded on the event row and still acknowledged.
func StripeWebhook(svc StripeEventProcessor, verifier stripeVerifier, logg *logger.Logger) http.HandlerFunc {
	if logg == nil {
		logg = logger.Nop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if verifier == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe client unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get(pkgstripe.SignatureHeader)
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "stripe signature missing"))
			return
		}

		event, err := verifier.ConstructEvent(payload, sigHeader)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid stripe signature"))
			return
		}

		ctx = logg.WithFields(ctx, map[string]any{
			"provider":   "stripe",
			"event_id":   event.ID,
			"event_type": string(event.Type),
		})
		outcome, err := svc.Process(ctx, &event, payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		logg.Info(logg.WithField(ctx, "outcome", string(outcome)), "webhook.received")
		responses.WriteSuccess(w, map[string]string{"outcome": string(outcome)})
	}
}
