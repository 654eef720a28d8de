package orders

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/stockflow-backend/api/middleware"
	"github.com/angelmondragon/stockflow-backend/api/responses"
	"github.com/angelmondragon/stockflow-backend/api/validators"
	internalorders "github.com/angelmondragon/stockflow-backend/internal/orders"
	"github.com/angelmondragon/stockflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockflow-backend/pkg/errors"
	"github.com/angelmondragon/stockflow-backend/pkg/logger"
	"github.com/angelmondragon/stockflow-backend/pkg/pagination"
)

const maxNotesLen = 1000

type placeOrderItemRequest struct {
	ProductID string `json:"productId" validate:"required,uuid"`
	PriceRef  string `json:"priceRef" validate:"required,max=255"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

type placeOrderRequest struct {
	Items        []placeOrderItemRequest `json:"items" validate:"required,min=1,max=100,dive"`
	ShippingCost *int64                  `json:"shippingCost,omitempty" validate:"omitempty,min=0"`
	Notes        *string                 `json:"notes,omitempty"`
}

type placeOrderResponse struct {
	OrderID       string         `json:"orderId"`
	InvoiceURL    string         `json:"invoiceUrl"`
	Amount        int64          `json:"amount"`
	Currency      enums.Currency `json:"currency"`
	AmountDisplay string         `json:"amountDisplay"`
}

// Place creates an invoice-backed order for the authenticated caller.
func Place(svc internalorders.Orchestrator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var body placeOrderRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input := internalorders.PlaceOrderInput{
			UserID:         userID,
			Email:          middleware.EmailFromContext(ctx),
			Items:          make([]internalorders.PlaceOrderItem, 0, len(body.Items)),
			ShippingCents:  body.ShippingCost,
			IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		}
		for _, item := range body.Items {
			productID, err := validators.ParseUUID(item.ProductID, "productId")
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			input.Items = append(input.Items, internalorders.PlaceOrderItem{
				ProductID: productID,
				PriceRef:  strings.TrimSpace(item.PriceRef),
				Quantity:  item.Quantity,
			})
		}
		if body.Notes != nil {
			notes := validators.SanitizeString(*body.Notes, maxNotesLen)
			if notes != "" {
				input.Notes = &notes
			}
		}

		result, err := svc.PlaceOrder(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, placeOrderResponse{
			OrderID:       result.OrderID,
			InvoiceURL:    result.InvoiceURL,
			Amount:        result.AmountCents,
			Currency:      result.Currency,
			AmountDisplay: displayAmount(result.AmountCents),
		})
	}
}

// List returns the caller's orders, newest first.
func List(svc internalorders.Orchestrator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		list, err := svc.ListOrders(ctx, userID, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

func callerID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return id, nil
}

// displayAmount renders minor units with two decimals, e.g. 1999 -> "19.99".
func displayAmount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
