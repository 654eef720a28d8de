package square

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	sq "github.com/square/square-go-sdk"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	pkgerrors "github.com/angelmondragon/stockflow-backend/pkg/errors"
	"github.com/angelmondragon/stockflow-backend/pkg/logger"
)

type fakeInventoryAPI struct {
	requests []*sq.BatchChangeInventoryRequest
	resp     *sq.BatchChangeInventoryResponse
	err      error
}

func (f *fakeInventoryAPI) BatchCreateChanges(_ context.Context, req *sq.BatchChangeInventoryRequest, _ ...sqoption.RequestOption) (*sq.BatchChangeInventoryResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &sq.BatchChangeInventoryResponse{}, nil
}

func TestSetInventoryCountBuildsPhysicalCount(t *testing.T) {
	api := &fakeInventoryAPI{}
	c := &Client{inventory: api, logg: logger.Nop()}
	occurred := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	err := c.SetInventoryCount(context.Background(), InventoryCountParams{
		Target:         InventoryTarget{CatalogObjectID: "VAR1", LocationID: "LOC1"},
		Quantity:       17,
		OccurredAt:     occurred,
		IdempotencyKey: "sync-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.requests) != 1 {
		t.Fatalf("expected one request")
	}
	req := api.requests[0]
	if req.IdempotencyKey != "sync-1" {
		t.Fatalf("unexpected idempotency key %q", req.IdempotencyKey)
	}
	change := req.Changes[0]
	if string(*change.Type) != "PHYSICAL_COUNT" {
		t.Fatalf("unexpected change type %v", *change.Type)
	}
	pc := change.PhysicalCount
	if *pc.CatalogObjectID != "VAR1" || *pc.LocationID != "LOC1" || *pc.Quantity != "17" {
		t.Fatalf("unexpected physical count %+v", pc)
	}
	if string(*pc.State) != "IN_STOCK" || *pc.OccurredAt != "2026-09-01T12:00:00Z" {
		t.Fatalf("unexpected state/time %v %v", *pc.State, *pc.OccurredAt)
	}
}

func TestSetInventoryCountValidatesAndMapsErrors(t *testing.T) {
	api := &fakeInventoryAPI{}
	c := &Client{inventory: api, logg: logger.Nop()}
	ctx := context.Background()

	err := c.SetInventoryCount(ctx, InventoryCountParams{Target: InventoryTarget{CatalogObjectID: "VAR1"}})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	err = c.SetInventoryCount(ctx, InventoryCountParams{Target: InventoryTarget{CatalogObjectID: "V", LocationID: "L"}, Quantity: -1})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for negative quantity, got %v", err)
	}
	if len(api.requests) != 0 {
		t.Fatalf("invalid params must not reach square")
	}

	api.err = sqcore.NewAPIError(http.StatusServiceUnavailable, errors.New(`{"errors":[]}`))
	err = c.SetInventoryCount(ctx, InventoryCountParams{Target: InventoryTarget{CatalogObjectID: "V", LocationID: "L"}, Quantity: 1})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if key := api.requests[0].IdempotencyKey; key == "" {
		t.Fatalf("expected generated idempotency key")
	}
}

func TestSetInventoryCountSurfacesResponseErrors(t *testing.T) {
	detail := "invalid location"
	api := &fakeInventoryAPI{resp: &sq.BatchChangeInventoryResponse{
		Errors: []*sq.Error{{Code: sq.ErrorCodeBadRequest, Detail: &detail}},
	}}
	c := &Client{inventory: api, logg: logger.Nop()}
	err := c.SetInventoryCount(context.Background(), InventoryCountParams{
		Target:   InventoryTarget{CatalogObjectID: "V", LocationID: "L"},
		Quantity: 3,
	})
	if err == nil {
		t.Fatalf("expected error from response body")
	}
}
