package repository

import (
	"github.com/redis/go-redis/v9"

	"github.com/ssh352/codex-lb-sub001/internal/config"
)

// NewRedisClient builds the shared Redis client backing the sticky-routing
// cache, pooled process-wide rather than per-request.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
