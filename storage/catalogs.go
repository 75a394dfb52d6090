package storage

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"vinted_scrooper/models"
)

// CatalogRepository reads and syncs the catalog tables of the Postgres
// warehouse.
type CatalogRepository struct {
	DB        *gorm.DB
	BatchSize int
}

func NewCatalogRepository(db *gorm.DB, batchSize int) *CatalogRepository {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &CatalogRepository{
		DB:        db,
		BatchSize: batchSize,
	}
}

func OpenCatalogRepository(dsn string) (*CatalogRepository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}
	return NewCatalogRepository(db, 0), nil
}

func (r *CatalogRepository) Close() error {
	sqlDB, err := r.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ListCatalogs returns the valid, active catalogs of one gender.
func (r *CatalogRepository) ListCatalogs(ctx context.Context, women bool) ([]models.Catalog, error) {
	var catalogs []models.Catalog
	err := r.DB.WithContext(ctx).
		Where("women = ? AND is_valid = ? AND is_active = ?", women, true, true).
		Order("id").
		Find(&catalogs).Error
	if err != nil {
		return nil, fmt.Errorf("list catalogs: %w", err)
	}
	return catalogs, nil
}

// ListCatalogsByScore is ListCatalogs restricted to one importance tier.
func (r *CatalogRepository) ListCatalogsByScore(ctx context.Context, women bool, score int) ([]models.Catalog, error) {
	var catalogs []models.Catalog
	err := r.DB.WithContext(ctx).
		Joins("JOIN catalog_importance ON catalog_importance.catalog_id = catalog.id").
		Where("catalog.women = ? AND catalog.is_valid = ? AND catalog.is_active = ? AND catalog_importance.score = ?",
			women, true, true, score).
		Order("catalog.id").
		Find(&catalogs).Error
	if err != nil {
		return nil, fmt.Errorf("list catalogs with score %d: %w", score, err)
	}
	return catalogs, nil
}

func (r *CatalogRepository) CatalogIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := r.DB.WithContext(ctx).Model(&models.Catalog{}).Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("catalog ids: %w", err)
	}
	return ids, nil
}

// InsertCatalogs adds catalogs, leaving existing ids untouched.
func (r *CatalogRepository) InsertCatalogs(ctx context.Context, catalogs []models.Catalog) error {
	if len(catalogs) == 0 {
		return nil
	}
	err := r.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(catalogs, r.BatchSize).Error
	if err != nil {
		return fmt.Errorf("insert catalogs: %w", err)
	}
	return nil
}
