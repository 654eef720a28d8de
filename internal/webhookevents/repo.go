package webhookevents

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/stockflow-backend/pkg/db/models"
	"github.com/angelmondragon/stockflow-backend/pkg/pagination"
)

// Repository persists webhook_events rows keyed by the provider event id.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertIfAbsent(ctx context.Context, row *models.WebhookEvent) (bool, error)
	FindByExternalID(ctx context.Context, externalEventID string) (*models.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, success bool, errMsg *string, at time.Time) error
	ListFailed(ctx context.Context, cursor *pagination.Cursor, limit int) ([]models.WebhookEvent, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// InsertIfAbsent reports whether this call inserted the row.
func (r *repository) InsertIfAbsent(ctx context.Context, row *models.WebhookEvent) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_event_id"}},
			DoNothing: true,
		}).
		Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) FindByExternalID(ctx context.Context, externalEventID string) (*models.WebhookEvent, error) {
	var row models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("external_event_id = ?", externalEventID).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) MarkProcessed(ctx context.Context, id uuid.UUID, success bool, errMsg *string, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed":     true,
			"success":       success,
			"error_message": errMsg,
			"processed_at":  at.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListFailed returns unfinished or unsuccessful rows, newest first.
func (r *repository) ListFailed(ctx context.Context, cursor *pagination.Cursor, limit int) ([]models.WebhookEvent, error) {
	query := r.db.WithContext(ctx).
		Where("processed = ? OR success = ?", false, false)
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []models.WebhookEvent
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
