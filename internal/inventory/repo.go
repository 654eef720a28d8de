package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/stockflow-backend/pkg/db/models"
)

// Repository is the only writer of stock_records.quantity.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByProductID(ctx context.Context, productID uuid.UUID) (*models.StockRecord, error)
	FindForUpdate(ctx context.Context, productID uuid.UUID) (*models.StockRecord, error)
	EnsureRecord(ctx context.Context, productID uuid.UUID) error
	DecrementIfAvailable(ctx context.Context, productID uuid.UUID, qty int) (bool, error)
	Increment(ctx context.Context, productID uuid.UUID, qty int) (bool, error)
	SetQuantity(ctx context.Context, productID uuid.UUID, qty int) error
	UpsertSyncSettings(ctx context.Context, productID uuid.UUID, enabled bool, target *SyncTarget) error
	RecordSync(ctx context.Context, productID uuid.UUID, syncedAt *time.Time, syncErr *string) error
	ListSyncFailures(ctx context.Context, after uuid.UUID, limit int) ([]models.StockRecord, error)
	FindBySyncTarget(ctx context.Context, target SyncTarget) (*models.StockRecord, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds stock record persistence to the provided DB handle.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByProductID(ctx context.Context, productID uuid.UUID) (*models.StockRecord, error) {
	var rec models.StockRecord
	if err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindForUpdate reads the record under a row lock where the dialect supports it.
func (r *repository) FindForUpdate(ctx context.Context, productID uuid.UUID) (*models.StockRecord, error) {
	query := r.db.WithContext(ctx).Where("product_id = ?", productID)
	if r.db.Dialector != nil && r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var rec models.StockRecord
	if err := query.First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// EnsureRecord creates an empty record for productID unless one exists.
func (r *repository) EnsureRecord(ctx context.Context, productID uuid.UUID) error {
	now := time.Now().UTC()
	rec := models.StockRecord{
		ProductID: productID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "product_id"}}, DoNothing: true}).
		Create(&rec).Error
}

// DecrementIfAvailable subtracts qty only when enough stock remains.
// It reports false when no row matched.
func (r *repository) DecrementIfAvailable(ctx context.Context, productID uuid.UUID, qty int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.StockRecord{}).
		Where("product_id = ? AND quantity >= ?", productID, qty).
		Updates(map[string]any{
			"quantity":   gorm.Expr("quantity - ?", qty),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Increment adds qty unconditionally. It reports false when the record is missing.
func (r *repository) Increment(ctx context.Context, productID uuid.UUID, qty int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.StockRecord{}).
		Where("product_id = ?", productID).
		Updates(map[string]any{
			"quantity":   gorm.Expr("quantity + ?", qty),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) SetQuantity(ctx context.Context, productID uuid.UUID, qty int) error {
	res := r.db.WithContext(ctx).
		Model(&models.StockRecord{}).
		Where("product_id = ?", productID).
		Updates(map[string]any{
			"quantity":   qty,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpsertSyncSettings stores the sync flag and target, creating the record if needed.
// A nil target leaves any stored identifiers untouched.
func (r *repository) UpsertSyncSettings(ctx context.Context, productID uuid.UUID, enabled bool, target *SyncTarget) error {
	now := time.Now().UTC()
	rec := models.StockRecord{
		ProductID:   productID,
		SyncEnabled: enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	columns := []string{"sync_enabled", "updated_at"}
	if target != nil {
		rec.SyncCatalogObjectID = &target.CatalogObjectID
		rec.SyncLocationID = &target.LocationID
		columns = append(columns, "sync_catalog_object_id", "sync_location_id")
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "product_id"}},
			DoUpdates: clause.AssignmentColumns(columns),
		}).
		Create(&rec).Error
}

// RecordSync stores the outcome of a marketplace push without touching quantity.
// A nil syncErr marks success and stamps syncedAt.
func (r *repository) RecordSync(ctx context.Context, productID uuid.UUID, syncedAt *time.Time, syncErr *string) error {
	updates := map[string]any{
		"last_sync_error": syncErr,
	}
	if syncErr == nil && syncedAt != nil {
		updates["last_synced_at"] = syncedAt.UTC()
	}
	return r.db.WithContext(ctx).
		Model(&models.StockRecord{}).
		Where("product_id = ?", productID).
		Updates(updates).Error
}

// ListSyncFailures pages through enabled records whose last push failed, keyed by product id.
func (r *repository) ListSyncFailures(ctx context.Context, after uuid.UUID, limit int) ([]models.StockRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.StockRecord
	err := r.db.WithContext(ctx).
		Where("sync_enabled = ? AND last_sync_error IS NOT NULL AND product_id > ?", true, after).
		Order("product_id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// FindBySyncTarget resolves an enabled marketplace mapping back to its product.
func (r *repository) FindBySyncTarget(ctx context.Context, target SyncTarget) (*models.StockRecord, error) {
	var rec models.StockRecord
	err := r.db.WithContext(ctx).
		Where("sync_enabled = ? AND sync_catalog_object_id = ? AND sync_location_id = ?", true, target.CatalogObjectID, target.LocationID).
		Order("product_id ASC").
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
