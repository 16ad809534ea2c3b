package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "procure:catalog:item:"

// CachedResolver Redis 读穿缓存。缓存异常时直接回源。
type CachedResolver struct {
	inner  Resolver
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedResolver(inner Resolver, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedResolver {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedResolver{inner: inner, rdb: rdb, ttl: ttl, logger: logger}
}

func (r *CachedResolver) Resolve(ctx context.Context, itemID string) (Snapshot, error) {
	key := cacheKeyPrefix + itemID

	raw, err := r.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var snap Snapshot
		if jsonErr := json.Unmarshal(raw, &snap); jsonErr == nil {
			return snap, nil
		}
		r.logger.Warn("Invalid catalog cache entry", zap.String("item_id", itemID))
	case !errors.Is(err, redis.Nil):
		r.logger.Warn("Catalog cache read failed", zap.String("item_id", itemID), zap.Error(err))
	}

	snap, err := r.inner.Resolve(ctx, itemID)
	if err != nil {
		return Snapshot{}, err
	}

	if b, err := json.Marshal(snap); err == nil {
		if err := r.rdb.Set(ctx, key, b, r.ttl).Err(); err != nil {
			r.logger.Warn("Catalog cache write failed", zap.String("item_id", itemID), zap.Error(err))
		}
	}
	return snap, nil
}

// Invalidate 目录导入后清除缓存
func (r *CachedResolver) Invalidate(ctx context.Context, itemIDs ...string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	keys := make([]string, len(itemIDs))
	for i, id := range itemIDs {
		keys[i] = cacheKeyPrefix + id
	}
	return r.rdb.Del(ctx, keys...).Err()
}
