package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/haseebsahi/refinery-po-system/internal/srm/entity"
	"gorm.io/gorm"
)

// ActivityLogRepository 操作日志仓库
type ActivityLogRepository struct {
	db *gorm.DB
}

func NewActivityLogRepository(db *gorm.DB) *ActivityLogRepository {
	return &ActivityLogRepository{db: db}
}

// Create 创建操作日志
func (r *ActivityLogRepository) Create(ctx context.Context, log *entity.ActivityLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Create(log).Error
}

// FindByEntity 查询某实体的操作日志
func (r *ActivityLogRepository) FindByEntity(ctx context.Context, entityType, entityID string, page, pageSize int) ([]entity.ActivityLog, int64, error) {
	var items []entity.ActivityLog
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.ActivityLog{}).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}

// LogActivity 记录订单操作日志。与业务写入处于同一事务，失败即回滚。
func (r *ActivityLogRepository) LogActivity(ctx context.Context, po *entity.PurchaseOrder, action, fromStatus, toStatus, content, operatorID string, metadata entity.JSONB) error {
	return r.Create(ctx, &entity.ActivityLog{
		EntityType: entity.EntityTypePO,
		EntityID:   po.ID,
		EntityCode: po.PONumber,
		Action:     action,
		FromStatus: fromStatus,
		ToStatus:   toStatus,
		Content:    content,
		Metadata:   metadata,
		OperatorID: operatorID,
	})
}
