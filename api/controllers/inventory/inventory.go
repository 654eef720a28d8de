package inventory

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/stockflow-backend/api/middleware"
	"github.com/angelmondragon/stockflow-backend/api/responses"
	"github.com/angelmondragon/stockflow-backend/api/validators"
	internalinventory "github.com/angelmondragon/stockflow-backend/internal/inventory"
	"github.com/angelmondragon/stockflow-backend/pkg/db/models"
	"github.com/angelmondragon/stockflow-backend/pkg/enums"
	"github.com/angelmondragon/stockflow-backend/pkg/logger"
	"github.com/angelmondragon/stockflow-backend/pkg/pagination"
)

const (
	maxReasonLen        = 255
	referenceTypeReason = "admin_reason"
)

// StockAdmin is the slice of the ledger the admin surface drives.
type StockAdmin interface {
	Get(ctx context.Context, productID uuid.UUID) (*models.StockRecord, error)
	SetAbsolute(ctx context.Context, productID uuid.UUID, qty int, mc internalinventory.MutationContext) (internalinventory.Result, error)
	Adjust(ctx context.Context, productID uuid.UUID, delta int, mc internalinventory.MutationContext) (internalinventory.Result, error)
	SetSyncSettings(ctx context.Context, productID uuid.UUID, enabled bool, target *internalinventory.SyncTarget) (*models.StockRecord, error)
	ListMutations(ctx context.Context, productID uuid.UUID, params pagination.Params) (internalinventory.MutationPage, error)
}

// SyncDispatcher queues an outbound marketplace push.
type SyncDispatcher interface {
	Dispatch(source enums.StockMutationSource, ids ...uuid.UUID)
}

type setQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required,min=0"`
}

type adjustRequest struct {
	Delta  int     `json:"delta" validate:"required"`
	Reason *string `json:"reason,omitempty" validate:"omitempty,max=255"`
}

type syncSettingsRequest struct {
	Enabled         *bool  `json:"enabled" validate:"required"`
	CatalogObjectID string `json:"catalogObjectId,omitempty" validate:"max=255"`
	LocationID      string `json:"locationId,omitempty" validate:"max=255"`
}

type mutationResponse struct {
	ProductID  uuid.UUID                    `json:"productId"`
	Quantity   int                          `json:"quantity"`
	Delta      int                          `json:"delta"`
	Action     enums.StockMutationAction    `json:"action"`
	MutationID uuid.UUID                    `json:"mutationId"`
	Stock      *internalinventory.StockView `json:"stock,omitempty"`
}

// Get returns one stock record.
func Get(ledger StockAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		productID, err := parseProductID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		rec, err := ledger.Get(ctx, productID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalinventory.NewStockView(*rec))
	}
}

// SetQuantity overwrites the on-hand count and queues a marketplace push.
func SetQuantity(ledger StockAdmin, dispatcher SyncDispatcher, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		productID, err := parseProductID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var body setQuantityRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		res, err := ledger.SetAbsolute(ctx, productID, *body.Quantity, adminContext(ctx, nil))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		dispatch(dispatcher, productID)
		responses.WriteSuccess(w, newMutationResponse(ctx, ledger, res))
	}
}

// Adjust applies a signed delta and queues a marketplace push.
func Adjust(ledger StockAdmin, dispatcher SyncDispatcher, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		productID, err := parseProductID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var body adjustRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		res, err := ledger.Adjust(ctx, productID, body.Delta, adminContext(ctx, body.Reason))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		dispatch(dispatcher, productID)
		responses.WriteSuccess(w, newMutationResponse(ctx, ledger, res))
	}
}

// UpdateSync toggles marketplace sync and optionally replaces the target.
// Enabling queues an immediate push.
func UpdateSync(ledger StockAdmin, dispatcher SyncDispatcher, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		productID, err := parseProductID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var body syncSettingsRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var target *internalinventory.SyncTarget
		catalogID := strings.TrimSpace(body.CatalogObjectID)
		locationID := strings.TrimSpace(body.LocationID)
		if catalogID != "" || locationID != "" {
			target = &internalinventory.SyncTarget{CatalogObjectID: catalogID, LocationID: locationID}
		}

		rec, err := ledger.SetSyncSettings(ctx, productID, *body.Enabled, target)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if rec.SyncEnabled {
			dispatch(dispatcher, productID)
		}
		responses.WriteSuccess(w, internalinventory.NewStockView(*rec))
	}
}

// ListMutations pages through the audit trail of one product.
func ListMutations(ledger StockAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		productID, err := parseProductID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		page, err := ledger.ListMutations(ctx, productID, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func parseProductID(r *http.Request) (uuid.UUID, error) {
	return validators.ParseUUID(chi.URLParam(r, "productId"), "productId")
}

func adminContext(ctx context.Context, reason *string) internalinventory.MutationContext {
	mc := internalinventory.MutationContext{Source: enums.StockSourceAdmin}
	if actor, err := uuid.Parse(middleware.UserIDFromContext(ctx)); err == nil {
		mc.CreatedBy = &actor
	}
	if reason != nil {
		if trimmed := validators.SanitizeString(*reason, maxReasonLen); trimmed != "" {
			refType := referenceTypeReason
			mc.ReferenceID = &trimmed
			mc.ReferenceType = &refType
		}
	}
	return mc
}

func dispatch(dispatcher SyncDispatcher, productID uuid.UUID) {
	if dispatcher != nil {
		dispatcher.Dispatch(enums.StockSourceAdmin, productID)
	}
}

func newMutationResponse(ctx context.Context, ledger StockAdmin, res internalinventory.Result) mutationResponse {
	out := mutationResponse{
		ProductID:  res.ProductID,
		Quantity:   res.Quantity,
		Delta:      res.Delta,
		Action:     res.Action,
		MutationID: res.MutationID,
	}
	if rec, err := ledger.Get(ctx, res.ProductID); err == nil {
		view := internalinventory.NewStockView(*rec)
		out.Stock = &view
	}
	return out
}
