// Package catalog 目录查询协作方：按目录项ID返回供应商与当前单价。
package catalog

import (
	"context"
	"errors"

	"github.com/haseebsahi/refinery-po-system/internal/srm/entity"
	"github.com/haseebsahi/refinery-po-system/internal/srm/repository"
)

// ErrItemNotFound 目录项不存在
var ErrItemNotFound = errors.New("catalog item not found")

// Snapshot 目录项快照
type Snapshot = entity.ItemSnapshot

// Resolver 目录查询
type Resolver interface {
	Resolve(ctx context.Context, itemID string) (Snapshot, error)
}

// DBResolver 直接读本地目录表
type DBResolver struct {
	repo *repository.CatalogRepository
}

func NewDBResolver(repo *repository.CatalogRepository) *DBResolver {
	return &DBResolver{repo: repo}
}

func (r *DBResolver) Resolve(ctx context.Context, itemID string) (Snapshot, error) {
	item, err := r.repo.FindByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Snapshot{}, ErrItemNotFound
		}
		return Snapshot{}, err
	}
	return item.Snapshot(), nil
}
