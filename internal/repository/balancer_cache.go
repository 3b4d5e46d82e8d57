package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ssh352/codex-lb-sub001/internal/service"
)

const stickySessionPrefix = "codex_lb:sticky:"

func buildStickyKey(stickyKey string) string {
	return stickySessionPrefix + strconv.FormatUint(xxhash.Sum64String(stickyKey), 16)
}

// balancerCache is the Redis-backed sticky-routing cache: it remembers
// which account last served a sticky key so related requests land on the
// same account. A Get/Set/Del failure against Redis is logged and treated
// as a cache miss rather than propagated, so a Redis outage degrades to
// fresh selection on every request instead of failing it.
type balancerCache struct {
	rdb *redis.Client
	log *zap.Logger
}

// NewBalancerCache builds the sticky-routing cache port over a Redis client.
func NewBalancerCache(rdb *redis.Client, log *zap.Logger) service.BalancerCache {
	return &balancerCache{rdb: rdb, log: log}
}

func (c *balancerCache) GetStickyAccountID(ctx context.Context, stickyKey string) (int64, bool) {
	id, err := c.rdb.Get(ctx, buildStickyKey(stickyKey)).Int64()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("sticky cache get failed", zap.Error(err))
		}
		return 0, false
	}
	return id, true
}

func (c *balancerCache) SetStickyAccountID(ctx context.Context, stickyKey string, accountID int64, ttl time.Duration) {
	if err := c.rdb.Set(ctx, buildStickyKey(stickyKey), accountID, ttl).Err(); err != nil {
		c.log.Warn("sticky cache set failed", zap.Error(err))
	}
}

func (c *balancerCache) DeleteStickyAccountID(ctx context.Context, stickyKey string) {
	if err := c.rdb.Del(ctx, buildStickyKey(stickyKey)).Err(); err != nil {
		c.log.Warn("sticky cache delete failed", zap.Error(err))
	}
}
