package inventory

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/stockflow-backend/pkg/db/models"
	"github.com/angelmondragon/stockflow-backend/pkg/enums"
)

// MutationContext describes who or what caused a ledger mutation.
type MutationContext struct {
	Source        enums.StockMutationSource
	ReferenceID   *string
	ReferenceType *string
	CreatedBy     *uuid.UUID
}

func (mc MutationContext) validate() error {
	if !mc.Source.IsValid() {
		return fmt.Errorf("invalid mutation source %q", mc.Source)
	}
	return nil
}

// Result is the committed outcome of a single quantity mutation.
type Result struct {
	ProductID  uuid.UUID
	Quantity   int
	Delta      int
	Action     enums.StockMutationAction
	MutationID uuid.UUID
}

// BulkItem is one line of a bulk deduct or restore.
type BulkItem struct {
	ProductID uuid.UUID
	Quantity  int
}

// BulkResult reports per-item outcomes. Items are applied independently.
type BulkResult struct {
	Succeeded []uuid.UUID
	Failed    []uuid.UUID
	Errors    map[uuid.UUID]error
}

// OK reports whether every item succeeded.
func (r BulkResult) OK() bool {
	return len(r.Failed) == 0
}

// SucceededItems returns the subset of items whose product ids succeeded,
// preserving request order.
func (r BulkResult) SucceededItems(items []BulkItem) []BulkItem {
	ok := make(map[uuid.UUID]struct{}, len(r.Succeeded))
	for _, id := range r.Succeeded {
		ok[id] = struct{}{}
	}
	out := make([]BulkItem, 0, len(r.Succeeded))
	for _, item := range items {
		if _, found := ok[item.ProductID]; found {
			out = append(out, item)
		}
	}
	return out
}

// SyncTarget names the marketplace variation and location a record mirrors to.
type SyncTarget struct {
	CatalogObjectID string
	LocationID      string
}

// StockView is the read model returned to admin callers.
type StockView struct {
	ProductID    uuid.UUID   `json:"productId"`
	Quantity     int         `json:"quantity"`
	SyncEnabled  bool        `json:"syncEnabled"`
	SyncTarget   *SyncTarget `json:"syncTarget,omitempty"`
	LastSyncedAt *time.Time  `json:"lastSyncedAt,omitempty"`
	LastSyncErr  *string     `json:"lastSyncError,omitempty"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// NewStockView maps a persisted record into its API shape.
func NewStockView(rec models.StockRecord) StockView {
	view := StockView{
		ProductID:    rec.ProductID,
		Quantity:     rec.Quantity,
		SyncEnabled:  rec.SyncEnabled,
		LastSyncedAt: rec.LastSyncedAt,
		LastSyncErr:  rec.LastSyncError,
		UpdatedAt:    rec.UpdatedAt,
	}
	if rec.HasSyncTarget() {
		view.SyncTarget = &SyncTarget{
			CatalogObjectID: *rec.SyncCatalogObjectID,
			LocationID:      *rec.SyncLocationID,
		}
	}
	return view
}

// MutationView is one audit row as exposed to operators.
type MutationView struct {
	ID            uuid.UUID                 `json:"id"`
	Action        enums.StockMutationAction `json:"action"`
	Source        enums.StockMutationSource `json:"source"`
	Delta         int                       `json:"delta"`
	QuantityAfter int                       `json:"quantityAfter"`
	ReferenceID   *string                   `json:"referenceId,omitempty"`
	ReferenceType *string                   `json:"referenceType,omitempty"`
	CreatedBy     *uuid.UUID                `json:"createdBy,omitempty"`
	CreatedAt     time.Time                 `json:"createdAt"`
}

// MutationPage is a cursor page of audit rows, newest first.
type MutationPage struct {
	Items      []MutationView `json:"items"`
	NextCursor string         `json:"nextCursor,omitempty"`
}

func newMutationView(row models.StockMutation) MutationView {
	return MutationView{
		ID:            row.ID,
		Action:        row.Action,
		Source:        row.Source,
		Delta:         row.Delta,
		QuantityAfter: row.QuantityAfter,
		ReferenceID:   row.ReferenceID,
		ReferenceType: row.ReferenceType,
		CreatedBy:     row.CreatedBy,
		CreatedAt:     row.CreatedAt,
	}
}
