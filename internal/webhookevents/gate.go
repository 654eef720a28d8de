// Package webhookevents records every inbound provider event once so webhook
// handlers apply their side effects at most once per external event id.
package webhookevents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/stockflow-backend/pkg/db/models"
	"github.com/angelmondragon/stockflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockflow-backend/pkg/errors"
	"github.com/angelmondragon/stockflow-backend/pkg/logger"
	"github.com/angelmondragon/stockflow-backend/pkg/pagination"
)

const maxErrorMessageLen = 1024

// Outcome classifies a delivery for logging and metrics.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

// Gate is the idempotency boundary for webhook deliveries.
type Gate interface {
	GetOrCreate(ctx context.Context, provider enums.WebhookProvider, externalEventID, eventType string, payload []byte) (*models.WebhookEvent, bool, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, success bool, errMsg string) error
	ListFailed(ctx context.Context, params pagination.Params) (FailedPage, error)
	Process(ctx context.Context, delivery Delivery, handle func(ctx context.Context) error) (Outcome, error)
}

// Delivery identifies one inbound event.
type Delivery struct {
	Provider        enums.WebhookProvider
	ExternalEventID string
	EventType       string
	Payload         []byte
}

// EventView is the operator-facing row shape.
type EventView struct {
	ID              uuid.UUID             `json:"id"`
	Provider        enums.WebhookProvider `json:"provider"`
	ExternalEventID string                `json:"externalEventId"`
	EventType       string                `json:"eventType"`
	Processed       bool                  `json:"processed"`
	Success         *bool                 `json:"success,omitempty"`
	ErrorMessage    *string               `json:"errorMessage,omitempty"`
	Payload         json.RawMessage       `json:"payload"`
	CreatedAt       time.Time             `json:"createdAt"`
	ProcessedAt     *time.Time            `json:"processedAt,omitempty"`
}

// FailedPage is a cursor page of failed or unfinished deliveries.
type FailedPage struct {
	Items      []EventView `json:"items"`
	NextCursor string      `json:"nextCursor,omitempty"`
}

type gate struct {
	repo Repository
	logg *logger.Logger
	now  func() time.Time
}

// GateOption customizes a Gate.
type GateOption func(*gate)

// WithClock overrides the time source.
func WithClock(now func() time.Time) GateOption {
	return func(g *gate) {
		if now != nil {
			g.now = now
		}
	}
}

func NewGate(repo Repository, logg *logger.Logger, opts ...GateOption) (Gate, error) {
	if repo == nil {
		return nil, fmt.Errorf("webhook event repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	g := &gate{repo: repo, logg: logg, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *gate) GetOrCreate(ctx context.Context, provider enums.WebhookProvider, externalEventID, eventType string, payload []byte) (*models.WebhookEvent, bool, error) {
	externalEventID = strings.TrimSpace(externalEventID)
	if externalEventID == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "external event id is required")
	}
	if !provider.IsValid() {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "unknown webhook provider")
	}
	if len(payload) == 0 || !json.Valid(payload) {
		payload = []byte("{}")
	}

	row := &models.WebhookEvent{
		ID:              uuid.New(),
		Provider:        provider,
		ExternalEventID: externalEventID,
		EventType:       eventType,
		Payload:         json.RawMessage(payload),
		CreatedAt:       g.now().UTC(),
	}
	inserted, err := g.repo.InsertIfAbsent(ctx, row)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record webhook event")
	}
	stored, err := g.repo.FindByExternalID(ctx, externalEventID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load webhook event")
	}
	return stored, inserted, nil
}

func (g *gate) MarkProcessed(ctx context.Context, id uuid.UUID, success bool, errMsg string) error {
	var stored *string
	if !success {
		msg := strings.TrimSpace(errMsg)
		if len(msg) > maxErrorMessageLen {
			msg = msg[:maxErrorMessageLen]
		}
		stored = &msg
	}
	if err := g.repo.MarkProcessed(ctx, id, success, stored, g.now()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark webhook event processed")
	}
	return nil
}

func (g *gate) ListFailed(ctx context.Context, params pagination.Params) (FailedPage, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return FailedPage{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := g.repo.ListFailed(ctx, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return FailedPage{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list failed webhook events")
	}
	rows, more := pagination.TrimPage(rows, params.Limit)

	page := FailedPage{Items: make([]EventView, 0, len(rows))}
	for _, row := range rows {
		page.Items = append(page.Items, EventView{
			ID:              row.ID,
			Provider:        row.Provider,
			ExternalEventID: row.ExternalEventID,
			EventType:       row.EventType,
			Processed:       row.Processed,
			Success:         row.Success,
			ErrorMessage:    row.ErrorMessage,
			Payload:         row.Payload,
			CreatedAt:       row.CreatedAt,
			ProcessedAt:     row.ProcessedAt,
		})
	}
	if more && len(rows) > 0 {
		last := rows[len(rows)-1]
		page.NextCursor = pagination.UUIDCursor(last.CreatedAt, last.ID)
	}
	return page, nil
}

// Process records the delivery and runs handle only for a first delivery.
// A handler error is stored on the row and reported as OutcomeFailed with a nil
// error; the returned error is reserved for failures to record the delivery.
func (g *gate) Process(ctx context.Context, delivery Delivery, handle func(ctx context.Context) error) (Outcome, error) {
	row, isNew, err := g.GetOrCreate(ctx, delivery.Provider, delivery.ExternalEventID, delivery.EventType, delivery.Payload)
	if err != nil {
		return OutcomeFailed, err
	}
	logCtx := g.logg.WithFields(ctx, map[string]any{
		"provider":          string(delivery.Provider),
		"external_event_id": row.ExternalEventID,
		"event_type":        row.EventType,
	})
	if !isNew {
		g.logg.Info(logCtx, "duplicate webhook delivery skipped")
		return OutcomeDuplicate, nil
	}

	handleErr := handle(ctx)
	errMsg := ""
	if handleErr != nil {
		errMsg = handleErr.Error()
	}
	if err := g.MarkProcessed(ctx, row.ID, handleErr == nil, errMsg); err != nil {
		g.logg.Error(logCtx, "failed to finalize webhook event", err)
	}
	if handleErr != nil {
		g.logg.Error(logCtx, "webhook handler failed", handleErr)
		return OutcomeFailed, nil
	}
	return OutcomeProcessed, nil
}
