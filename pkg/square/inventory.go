package square

import (
	"context"
	"fmt"

	pkgerrors "github.com/angelmondragon/stockflow-backend/pkg/errors"
)

// SetInventoryCount overwrites the marketplace's in-stock count for the target
// with a PHYSICAL_COUNT change.
func (c *Client) SetInventoryCount(ctx context.Context, params InventoryCountParams) error {
	if c == nil || c.inventory == nil {
		return errNotInitialized
	}
	if !params.Target.Valid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "square inventory target requires catalog object and location")
	}
	if params.Quantity < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "square inventory quantity must be non-negative")
	}

	ctx = c.logg.WithFields(ctx, map[string]any{
		"catalog_object_id": params.Target.CatalogObjectID,
		"location_id":       params.Target.LocationID,
		"quantity":          params.Quantity,
	})
	resp, err := c.inventory.BatchCreateChanges(ctx, params.toSquareRequest(idempotencyKey(params.IdempotencyKey)))
	if err != nil {
		err = classify(err, "set inventory count")
		c.logg.Error(ctx, "square inventory push failed", err)
		return err
	}
	if resp != nil {
		for _, rejected := range resp.Errors {
			if rejected == nil {
				continue
			}
			detail := ""
			if rejected.Detail != nil {
				detail = *rejected.Detail
			}
			err := pkgerrors.New(pkgerrors.CodeDependency,
				fmt.Sprintf("square rejected inventory change: %s %s", rejected.Code, detail))
			c.logg.Error(ctx, "square inventory push rejected", err)
			return err
		}
	}
	c.logg.Debug(ctx, "square inventory count set")
	return nil
}
