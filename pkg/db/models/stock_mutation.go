package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/stockflow-backend/pkg/enums"
)

// StockMutation is an append-only audit entry for one ledger mutation.
type StockMutation struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProductID     uuid.UUID                 `gorm:"column:product_id;type:uuid;not null"`
	Action        enums.StockMutationAction `gorm:"column:action;type:stock_mutation_action;not null"`
	Source        enums.StockMutationSource `gorm:"column:source;type:stock_mutation_source;not null"`
	Delta         int                       `gorm:"column:delta;not null"`
	QuantityAfter int                       `gorm:"column:quantity_after;not null"`
	ReferenceID   *string                   `gorm:"column:reference_id"`
	ReferenceType *string                   `gorm:"column:reference_type"`
	CreatedBy     *uuid.UUID                `gorm:"column:created_by;type:uuid"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`
}
