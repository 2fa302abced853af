package loader

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mikeydub/comment-references/service/logger"
	"github.com/mikeydub/comment-references/service/redis"
	"github.com/mikeydub/comment-references/util"
)

// RedisCache stores loader results in redis so they can be shared between processes. Redis
// failures are logged and treated as cache misses.
type RedisCache[V any] struct {
	cache *redis.Cache
	ttl   time.Duration
}

func NewRedisCache[V any](cache *redis.Cache, ttl time.Duration) *RedisCache[V] {
	return &RedisCache[V]{cache: cache, ttl: ttl}
}

func (c *RedisCache[V]) Get(ctx context.Context, key string) (Entry[V], bool) {
	bs, err := c.cache.Get(ctx, key)
	if err != nil {
		if !util.ErrorAs[redis.ErrKeyNotFound](err) {
			logger.For(ctx).WithError(err).Warnf("failed to read loader cache key %s", key)
		}
		return Entry[V]{}, false
	}

	var entry Entry[V]
	if err := json.Unmarshal(bs, &entry); err != nil {
		logger.For(ctx).WithError(err).Warnf("failed to decode loader cache key %s", key)
		return Entry[V]{}, false
	}

	return entry, true
}

func (c *RedisCache[V]) Set(ctx context.Context, key string, entry Entry[V]) {
	bs, err := json.Marshal(entry)
	if err != nil {
		logger.For(ctx).WithError(err).Warnf("failed to encode loader cache key %s", key)
		return
	}
	if err := c.cache.Set(ctx, key, bs, c.ttl); err != nil {
		logger.For(ctx).WithError(err).Warnf("failed to write loader cache key %s", key)
	}
}

func (c *RedisCache[V]) Delete(ctx context.Context, key string) {
	if err := c.cache.Delete(ctx, key); err != nil {
		logger.For(ctx).WithError(err).Warnf("failed to delete loader cache key %s", key)
	}
}

func (c *RedisCache[V]) Clear(ctx context.Context) {
	if err := c.cache.DeleteAll(ctx); err != nil {
		logger.For(ctx).WithError(err).Warn("failed to clear loader cache")
	}
}
