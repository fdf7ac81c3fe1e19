package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/bulk-messaging/internal/model"
)

// RedisCache holds per-queue progress totals with a short TTL. Dispatch
// keeps mutating the ledger underneath, so staleness is bounded by the
// TTL rather than by invalidation.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func totalsKey(queueID int64) string {
	return fmt.Sprintf("queue:%d:totals", queueID)
}

func (c *RedisCache) GetTotals(ctx context.Context, queueID int64) (*model.Totals, error) {
	raw, err := c.rdb.Get(ctx, totalsKey(queueID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var t model.Totals
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *RedisCache) StoreTotals(ctx context.Context, queueID int64, totals model.Totals) error {
	b, err := json.Marshal(totals)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, totalsKey(queueID), b, c.ttl).Err()
}
