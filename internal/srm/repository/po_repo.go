package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/haseebsahi/refinery-po-system/internal/srm/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PORepository 采购订单仓库
type PORepository struct {
	db *gorm.DB
}

func NewPORepository(db *gorm.DB) *PORepository {
	return &PORepository{db: db}
}

// POFilter 列表筛选
type POFilter struct {
	Status   string
	Supplier string
}

// FindAll 查询采购订单列表（不含行项与历史）
func (r *PORepository) FindAll(ctx context.Context, page, pageSize int, filter POFilter) ([]entity.PurchaseOrder, int64, error) {
	var items []entity.PurchaseOrder
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.PurchaseOrder{})

	if filter.Status != "" {
		query = query.Where("current_status = ?", filter.Status)
	}
	if filter.Supplier != "" {
		query = query.Where("supplier = ?", filter.Supplier)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Order("created_at DESC").
		Order("po_number DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}

// FindByID 根据ID查找采购订单（含行项与状态历史）
func (r *PORepository) FindByID(ctx context.Context, id string) (*entity.PurchaseOrder, error) {
	return r.findOne(ctx, "id = ?", id)
}

// FindByIdempotencyKey 按幂等键查找
func (r *PORepository) FindByIdempotencyKey(ctx context.Context, key string) (*entity.PurchaseOrder, error) {
	return r.findOne(ctx, "idempotency_key = ?", key)
}

// FindForUpdate 事务内读取并锁定订单行。SQLite 没有行锁，依赖外层互斥。
func (r *PORepository) FindForUpdate(ctx context.Context, id string) (*entity.PurchaseOrder, error) {
	if r.db.Dialector.Name() == "postgres" {
		var locked entity.PurchaseOrder
		err := r.db.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			Where("id = ?", id).
			First(&locked).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
	}
	return r.FindByID(ctx, id)
}

func (r *PORepository) findOne(ctx context.Context, cond string, arg any) (*entity.PurchaseOrder, error) {
	var po entity.PurchaseOrder
	err := r.db.WithContext(ctx).
		Preload("LineItems", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order ASC")
		}).
		Preload("StatusHistory", func(db *gorm.DB) *gorm.DB {
			return db.Order("seq ASC")
		}).
		Where(cond, arg).
		First(&po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &po, nil
}

// Create 创建采购订单（连同初始历史）
func (r *PORepository) Create(ctx context.Context, po *entity.PurchaseOrder) error {
	return r.db.WithContext(ctx).Create(po).Error
}

// Update 保存订单抬头、金额、状态；行项与历史单独写
func (r *PORepository) Update(ctx context.Context, po *entity.PurchaseOrder) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(po).Error
}

// CreateLine 新增行项
func (r *PORepository) CreateLine(ctx context.Context, line *entity.POLineItem) error {
	return r.db.WithContext(ctx).Create(line).Error
}

// UpdateLine 更新行项数量
func (r *PORepository) UpdateLine(ctx context.Context, line *entity.POLineItem) error {
	return r.db.WithContext(ctx).Model(line).Update("quantity", line.Quantity).Error
}

// DeleteLine 删除行项
func (r *PORepository) DeleteLine(ctx context.Context, poID, lineID string) error {
	return r.db.WithContext(ctx).
		Where("po_id = ? AND id = ?", poID, lineID).
		Delete(&entity.POLineItem{}).Error
}

// CreateHistory 追加状态历史
func (r *PORepository) CreateHistory(ctx context.Context, entry *entity.POStatusEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// UpdateHistoryNote 更新历史备注
func (r *PORepository) UpdateHistoryNote(ctx context.Context, entry *entity.POStatusEntry) error {
	return r.db.WithContext(ctx).Model(&entity.POStatusEntry{}).
		Where("id = ?", entry.ID).
		Update("note", entry.Note).Error
}

// GenerateCode 生成PO编码 PO-{year}-{至少4位}。
// 序号超过 9999 后位数变长，按长度再按字典序取最大值。
func (r *PORepository) GenerateCode(ctx context.Context, at time.Time) (string, error) {
	year := at.Format("2006")
	prefix := fmt.Sprintf("PO-%s-", year)

	var codes []string
	err := r.db.WithContext(ctx).
		Model(&entity.PurchaseOrder{}).
		Where("po_number LIKE ?", prefix+"%").
		Order("LENGTH(po_number) DESC").
		Order("po_number DESC").
		Limit(1).
		Pluck("po_number", &codes).Error
	if err != nil {
		return "", err
	}

	seq := 0
	if len(codes) > 0 {
		n, err := strconv.Atoi(strings.TrimPrefix(codes[0], prefix))
		if err != nil {
			return "", fmt.Errorf("unexpected po_number %q: %w", codes[0], err)
		}
		seq = n
	}
	return fmt.Sprintf("%s%04d", prefix, seq+1), nil
}
