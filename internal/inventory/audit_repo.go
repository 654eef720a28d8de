package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockflow-backend/pkg/db/models"
	"github.com/angelmondragon/stockflow-backend/pkg/pagination"
)

// AuditRepository persists stock_mutations. Rows are append-only; the only
// delete path is retention pruning.
type AuditRepository interface {
	WithTx(tx *gorm.DB) AuditRepository
	Insert(ctx context.Context, row *models.StockMutation) error
	ListByProduct(ctx context.Context, productID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.StockMutation, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type auditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) WithTx(tx *gorm.DB) AuditRepository {
	if tx == nil {
		return r
	}
	return &auditRepository{db: tx}
}

func (r *auditRepository) Insert(ctx context.Context, row *models.StockMutation) error {
	if row == nil {
		return errors.New("mutation row required")
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(row).Error
}

// ListByProduct returns rows newest first. Callers pass pagination.LimitWithBuffer
// to detect a following page.
func (r *auditRepository) ListByProduct(ctx context.Context, productID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.StockMutation, error) {
	query := r.db.WithContext(ctx).
		Where("product_id = ?", productID)
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []models.StockMutation
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *auditRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff.UTC()).
		Delete(&models.StockMutation{})
	return res.RowsAffected, res.Error
}
