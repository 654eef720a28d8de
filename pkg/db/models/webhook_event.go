package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/stockflow-backend/pkg/enums"
)

// WebhookEvent is the idempotency record for one externally delivered event.
type WebhookEvent struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Provider        enums.WebhookProvider `gorm:"column:provider;type:webhook_provider;not null"`
	ExternalEventID string                `gorm:"column:external_event_id;not null;uniqueIndex:ux_webhook_events_external_event_id"`
	EventType       string                `gorm:"column:event_type;not null"`
	Processed       bool                  `gorm:"column:processed;not null;default:false"`
	Success         *bool                 `gorm:"column:success"`
	ErrorMessage    *string               `gorm:"column:error_message"`
	Payload         json.RawMessage       `gorm:"column:payload;type:jsonb;not null"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime"`
	ProcessedAt     *time.Time            `gorm:"column:processed_at"`
}
