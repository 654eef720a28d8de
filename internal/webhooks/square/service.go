package squarewebhook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/stockflow-backend/internal/inventory"
	"github.com/angelmondragon/stockflow-backend/internal/webhookevents"
	"github.com/angelmondragon/stockflow-backend/pkg/db/models"
	"github.com/angelmondragon/stockflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockflow-backend/pkg/errors"
	"github.com/angelmondragon/stockflow-backend/pkg/logger"
	"github.com/angelmondragon/stockflow-backend/pkg/metrics"
	"github.com/angelmondragon/stockflow-backend/pkg/square"
)

const referenceTypeSquareEvent = "square_event"

// stockWriter is the slice of the ledger that marketplace events drive.
type stockWriter interface {
	FindBySyncTarget(ctx context.Context, target inventory.SyncTarget) (*models.StockRecord, error)
	SetAbsolute(ctx context.Context, productID uuid.UUID, qty int, mc inventory.MutationContext) (inventory.Result, error)
	Adjust(ctx context.Context, productID uuid.UUID, delta int, mc inventory.MutationContext) (inventory.Result, error)
}

type ServiceParams struct {
	Gate    webhookevents.Gate
	Stock   stockWriter
	Metrics *metrics.Domain
	Logger  *logger.Logger
}

type Service struct {
	gate    webhookevents.Gate
	stock   stockWriter
	metrics *metrics.Domain
	logg    *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Gate == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook event gate required")
	}
	if params.Stock == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stock ledger required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		gate:    params.Gate,
		stock:   params.Stock,
		metrics: params.Metrics,
		logg:    params.Logger,
	}, nil
}

// Process runs HandleEvent once per Square event id. Relative adjustments
// depend on this: replaying one would apply its delta twice.
func (s *Service) Process(ctx context.Context, event *square.WebhookEvent, payload []byte) (webhookevents.Outcome, error) {
	if event == nil || strings.TrimSpace(event.EventID) == "" {
		return webhookevents.OutcomeFailed, pkgerrors.New(pkgerrors.CodeValidation, "square event id required")
	}
	outcome, err := s.gate.Process(ctx, webhookevents.Delivery{
		Provider:        enums.WebhookProviderSquare,
		ExternalEventID: event.EventID,
		EventType:       event.Type,
		Payload:         payload,
	}, func(ctx context.Context) error {
		return s.HandleEvent(ctx, event)
	})
	if err != nil {
		return outcome, err
	}
	s.metrics.WebhookEvent(string(enums.WebhookProviderSquare), string(outcome))
	return outcome, nil
}

// HandleEvent applies inventory events to the ledger as external_sync_in
// mutations. Items not mapped to an enabled product are skipped.
func (s *Service) HandleEvent(ctx context.Context, event *square.WebhookEvent) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "square event required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"square_event_id": event.EventID,
		"event_type":      event.Type,
	})

	switch event.Type {
	case square.EventInventoryCountUpdated:
		counts, err := event.InventoryCounts()
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode inventory counts")
		}
		var errs error
		for _, count := range counts {
			errs = multierr.Append(errs, s.applyCount(ctx, event.EventID, count))
		}
		return errs
	case square.EventInventoryAdjusted:
		adj, err := event.InventoryAdjustment()
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode inventory adjustment")
		}
		return s.applyAdjustment(ctx, event.EventID, adj)
	default:
		s.logg.Debug(ctx, "square event ignored")
		return nil
	}
}

func (s *Service) applyCount(ctx context.Context, eventID string, count square.InventoryCount) error {
	qty, err := count.WholeQuantity()
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid inventory count")
	}
	rec, ok, err := s.resolve(ctx, count.Target())
	if err != nil || !ok {
		return err
	}
	if calculatedAt, ok := count.CalculatedTime(); ok && staleCount(rec, calculatedAt) {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"product_id":    rec.ProductID.String(),
			"calculated_at": count.CalculatedAt,
			"square_qty":    qty,
		}), "square count predates local stock change; skipped")
		s.metrics.WebhookStaleCount(string(enums.WebhookProviderSquare))
		return nil
	}
	if _, err := s.stock.SetAbsolute(ctx, rec.ProductID, qty, mutationContext(eventID)); err != nil {
		return fmt.Errorf("set stock for %s: %w", rec.ProductID, err)
	}
	return nil
}

// staleCount reports whether local stock was written or pushed at or after
// Square calculated the count. Echoes of our own pushes land here, as do
// counts overtaken by a local sale.
func staleCount(rec *models.StockRecord, calculatedAt time.Time) bool {
	latest := rec.UpdatedAt
	if rec.LastSyncedAt != nil && rec.LastSyncedAt.After(latest) {
		latest = *rec.LastSyncedAt
	}
	return !calculatedAt.After(latest)
}

func (s *Service) applyAdjustment(ctx context.Context, eventID string, adj *square.InventoryAdjustment) error {
	delta, err := adj.Delta()
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid inventory adjustment")
	}
	if delta == 0 {
		return nil
	}
	rec, ok, err := s.resolve(ctx, adj.Target())
	if err != nil || !ok {
		return err
	}
	if _, err := s.stock.Adjust(ctx, rec.ProductID, delta, mutationContext(eventID)); err != nil {
		return fmt.Errorf("adjust stock for %s: %w", rec.ProductID, err)
	}
	return nil
}

func (s *Service) resolve(ctx context.Context, target square.InventoryTarget) (*models.StockRecord, bool, error) {
	rec, err := s.stock.FindBySyncTarget(ctx, inventory.SyncTarget{
		CatalogObjectID: target.CatalogObjectID,
		LocationID:      target.LocationID,
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) || pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"catalog_object_id": target.CatalogObjectID,
				"location_id":       target.LocationID,
			}), "square item not mapped to a product")
			return nil, false, nil
		}
		return nil, false, err
	}
	return rec, true, nil
}

func mutationContext(eventID string) inventory.MutationContext {
	refType := referenceTypeSquareEvent
	return inventory.MutationContext{
		Source:        enums.StockSourceWebhook,
		ReferenceID:   &eventID,
		ReferenceType: &refType,
	}
}
