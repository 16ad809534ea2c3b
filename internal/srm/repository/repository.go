package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("record not found")
)

// Repositories 采购仓库集合
type Repositories struct {
	db          *gorm.DB
	PO          *PORepository
	Catalog     *CatalogRepository
	ActivityLog *ActivityLogRepository
}

// NewRepositories 创建采购仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		db:          db,
		PO:          NewPORepository(db),
		Catalog:     NewCatalogRepository(db),
		ActivityLog: NewActivityLogRepository(db),
	}
}

// Transaction 在同一事务内执行，fn 拿到绑定该事务的仓库集合
func (r *Repositories) Transaction(ctx context.Context, fn func(tx *Repositories) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}

// IsDuplicateKey 唯一约束冲突（TranslateError 之外兼容驱动原始报错）
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
