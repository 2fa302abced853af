package redis

import (
	"context"
	"time"

	"github.com/bsm/redislock"
	"github.com/go-redis/redis/v8"

	"github.com/mikeydub/comment-references/service/logger"
)

const (
	defaultLockTTL      = 30 * time.Second
	defaultLockBackoff  = 100 * time.Millisecond
	defaultLockAttempts = 50
)

// scripter is an implementation of the redis.Scripter interface that uses a Cache to namespace keys
type scripter struct {
	cache *Cache
}

func (s scripter) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return s.cache.client.Eval(ctx, script, s.cache.getPrefixedKeys(keys), args...)
}

func (s scripter) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return s.cache.client.EvalSha(ctx, sha1, s.cache.getPrefixedKeys(keys), args...)
}

func (s scripter) ScriptExists(ctx context.Context, scripts ...string) *redis.BoolSliceCmd {
	return s.cache.client.ScriptExists(ctx, scripts...)
}

func (s scripter) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	return s.cache.client.ScriptLoad(ctx, script)
}

// redislockCacheClient is a minimal implementation of redislock.RedisClient that uses a Cache to namespace its keys.
type redislockCacheClient struct {
	scripter
}

func (r *redislockCacheClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	return r.cache.client.SetNX(ctx, r.cache.getPrefixedKey(key), value, expiration)
}

func NewLockClient(cache *Cache) *redislock.Client {
	return redislock.New(&redislockCacheClient{scripter: scripter{cache: cache}})
}

// ResolutionLocker serializes reconciliation of a comment revision across processes
type ResolutionLocker struct {
	client   *redislock.Client
	ttl      time.Duration
	strategy redislock.RetryStrategy
}

func NewResolutionLocker(cache *Cache) *ResolutionLocker {
	return &ResolutionLocker{
		client:   NewLockClient(cache.Namespace("lock")),
		ttl:      defaultLockTTL,
		strategy: redislock.LimitRetry(redislock.LinearBackoff(defaultLockBackoff), defaultLockAttempts),
	}
}

// Lock blocks until the lock for key is held or the retries run out. The lock expires on its own if it is
// never released.
func (l *ResolutionLocker) Lock(ctx context.Context, key string) (unlock func(), err error) {
	lock, err := l.client.Obtain(ctx, key, l.ttl, &redislock.Options{RetryStrategy: l.strategy})
	if err != nil {
		return nil, err
	}

	return func() {
		if err := lock.Release(context.Background()); err != nil && err != redislock.ErrLockNotHeld {
			logger.For(ctx).WithError(err).Warnf("failed to release lock %s", key)
		}
	}, nil
}
