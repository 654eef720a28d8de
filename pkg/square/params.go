package square

import (
	"strconv"
	"strings"
	"time"

	sq "github.com/square/square-go-sdk"
)

const (
	changeTypePhysicalCount = "PHYSICAL_COUNT"
	stateInStock            = "IN_STOCK"
)

// InventoryTarget addresses one catalog variation at one location.
type InventoryTarget struct {
	CatalogObjectID string
	LocationID      string
}

// Valid reports whether both halves of the target are present.
func (t InventoryTarget) Valid() bool {
	return strings.TrimSpace(t.CatalogObjectID) != "" && strings.TrimSpace(t.LocationID) != ""
}

// InventoryCountParams sets the absolute in-stock count of a target.
type InventoryCountParams struct {
	Target         InventoryTarget
	Quantity       int
	OccurredAt     time.Time
	IdempotencyKey string
}

func (p InventoryCountParams) toSquareRequest(idempotencyKey string) *sq.BatchChangeInventoryRequest {
	occurredAt := p.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	changeType := sq.InventoryChangeType(changeTypePhysicalCount)
	state := sq.InventoryState(stateInStock)
	return &sq.BatchChangeInventoryRequest{
		IdempotencyKey: idempotencyKey,
		Changes: []*sq.InventoryChange{
			{
				Type: &changeType,
				PhysicalCount: &sq.InventoryPhysicalCount{
					CatalogObjectID: ptrString(strings.TrimSpace(p.Target.CatalogObjectID)),
					LocationID:      ptrString(strings.TrimSpace(p.Target.LocationID)),
					State:           &state,
					Quantity:        ptrString(strconv.Itoa(p.Quantity)),
					OccurredAt:      ptrString(occurredAt.UTC().Format(time.RFC3339)),
				},
			},
		},
		IgnoreUnchangedCounts: boolPtr(false),
	}
}

func ptrString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func boolPtr(value bool) *bool {
	return &value
}
