package repo

import (
	"context"
	"errors"
	"time"

	errx "github.com/communityfinder/server/internal/core/error"
	"github.com/communityfinder/server/internal/geo"
	logx "github.com/communityfinder/server/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// RedisCache is the network-backed result cache. Every backend failure is
// logged and degraded to a miss so callers recompute instead of failing.
type RedisCache struct {
	rdb redis.Cmdable
}

// NewRedisCache wraps rdb. A nil client yields a cache that always misses.
func NewRedisCache(rdb redis.Cmdable) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if r.rdb == nil {
		return nil, false
	}
	b, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logx.Warn().Err(errx.WrapRedis(err)).Str("key", key).Msg("cache get failed; treating as miss")
		}
		return nil, false
	}
	return b, true
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if r.rdb == nil {
		return
	}
	if err := r.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		logx.Warn().Err(errx.WrapRedis(err)).Str("key", key).Dur("ttl", ttl).Msg("cache set failed")
	}
}

var _ geo.Cache = (*RedisCache)(nil)
