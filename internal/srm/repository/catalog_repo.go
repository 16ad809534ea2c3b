package repository

import (
	"context"
	"errors"

	"github.com/haseebsahi/refinery-po-system/internal/srm/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CatalogRepository 设备目录仓库
type CatalogRepository struct {
	db *gorm.DB
}

func NewCatalogRepository(db *gorm.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// FindByID 根据ID查找目录项
func (r *CatalogRepository) FindByID(ctx context.Context, id string) (*entity.CatalogItem, error) {
	var item entity.CatalogItem
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// Upsert 批量写入目录项，已存在的按ID覆盖
func (r *CatalogRepository) Upsert(ctx context.Context, items []entity.CatalogItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "category", "supplier", "manufacturer", "model",
			"description", "price_usd", "lead_time_days", "in_stock", "updated_at",
		}),
	}).CreateInBatches(items, 200).Error
}

// Count 目录项总数
func (r *CatalogRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&entity.CatalogItem{}).Count(&total).Error
	return total, err
}
