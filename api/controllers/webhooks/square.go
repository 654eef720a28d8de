package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/angelmondragon/stockflow-backend/api/responses"
	"github.com/angelmondragon/stockflow-backend/internal/webhookevents"
	pkgerrors "github.com/angelmondragon/stockflow-backend/pkg/errors"
	"github.com/angelmondragon/stockflow-backend/pkg/logger"
	"github.com/angelmondragon/stockflow-backend/pkg/square"
)

type SquareEventProcessor interface {
	Process(ctx context.Context, event *square.WebhookEvent, payload []byte) (webhookevents.Outcome, error)
}

type squareVerifier interface {
	VerifyWebhook(notificationURL string, body []byte, sig string) error
}

// SquareWebhook verifies and ingests Square inventory notifications. The
// signature covers the public notification URL, so it must match the URL
// registered with Square exactly.
func SquareWebhook(svc SquareEventProcessor, verifier squareVerifier, notificationURL string, logg *logger.Logger) http.HandlerFunc {
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
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "square client unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		if err := verifier.VerifyWebhook(notificationURL, payload, r.Header.Get(square.SignatureHeader)); err != nil {
			if errors.Is(err, square.ErrSignatureMissing) || errors.Is(err, square.ErrSignatureInvalid) {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid square signature"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify square signature"))
			return
		}

		event, err := square.ParseWebhookEvent(payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode square event"))
			return
		}

		ctx = logg.WithFields(ctx, map[string]any{
			"provider":   "square",
			"event_id":   event.EventID,
			"event_type": event.Type,
		})
		outcome, err := svc.Process(ctx, event, payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		logg.Info(logg.WithField(ctx, "outcome", string(outcome)), "webhook.received")
		responses.WriteSuccess(w, map[string]string{"outcome": string(outcome)})
	}
}
