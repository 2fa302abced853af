package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/mikeydub/comment-references/env"
	"github.com/mikeydub/comment-references/service/tracing"
	"github.com/mikeydub/comment-references/util"
)

func init() {
	env.RegisterValidation("REDIS_URL", "required")
}

type ErrKeyNotFound struct {
	Key string
}

func (e ErrKeyNotFound) Error() string {
	return fmt.Sprintf("key %s not found", e.Key)
}

type redisDB int

type CacheConfig struct {
	database    redisDB
	displayName string
	keyPrefix   string
}

const (
	loaders     redisDB = 0
	resolutions redisDB = 1
	tokenLists  redisDB = 2
)

// Every cache is uniquely defined by its database and key prefix. Display names are used for tracing.

var (
	LoaderCache     = CacheConfig{database: loaders, keyPrefix: "loader", displayName: "referenceLoaders"}
	ResolutionCache = CacheConfig{database: resolutions, keyPrefix: "resolution", displayName: "referenceResolutions"}
	TokenListCache  = CacheConfig{database: tokenLists, keyPrefix: "tokenlist", displayName: "tokenLists"}
)

// WithPrefix returns a copy of the config whose keys are further namespaced by prefix.
func (c CacheConfig) WithPrefix(prefix string) CacheConfig {
	if c.keyPrefix != "" {
		prefix = c.keyPrefix + ":" + prefix
	}
	c.keyPrefix = prefix
	return c
}

func newClient(db redisDB, traceName string) *redis.Client {
	databaseID := int(db)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	client := redis.NewClient(&redis.Options{
		Addr:     env.GetString("REDIS_URL"),
		Password: env.GetString("REDIS_PASS"),
		DB:       databaseID,
	})
	client.AddHook(tracing.NewRedisHook(databaseID, traceName, true))
	if err := client.Ping(ctx).Err(); err != nil {
		panic(err)
	}
	return client
}

// Cache represents an abstraction over a redis client
type Cache struct {
	client    *redis.Client
	keyPrefix string
}

// NewCache creates a new redis cache
func NewCache(config CacheConfig) *Cache {
	return &Cache{
		client:    newClient(config.database, config.displayName),
		keyPrefix: config.keyPrefix,
	}
}

// NewCacheWithClient creates a cache over an existing client
func NewCacheWithClient(client *redis.Client, keyPrefix string) *Cache {
	return &Cache{client: client, keyPrefix: keyPrefix}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func (c *Cache) Prefix() string {
	return c.keyPrefix
}

// Namespace returns a cache sharing this cache's client with keys further prefixed by prefix.
func (c *Cache) Namespace(prefix string) *Cache {
	return &Cache{client: c.client, keyPrefix: c.getPrefixedKey(prefix)}
}

// Set sets a value in the redis cache
func (c *Cache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	return c.client.Set(ctx, c.getPrefixedKey(key), value, expiration).Err()
}

// SetNX sets a value in the redis cache if it doesn't already exist. Returns true if the key did not
// already exist and was set, false if the key did exist and therefore was not set.
func (c *Cache) SetNX(ctx context.Context, key string, value []byte, expiration time.Duration) (bool, error) {
	cmd := c.client.SetNX(ctx, c.getPrefixedKey(key), value, expiration)
	if err := cmd.Err(); err != nil {
		return false, err
	}
	return cmd.Val(), nil
}

// Get gets a value from the redis cache
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	bs, err := c.client.Get(ctx, c.getPrefixedKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrKeyNotFound{Key: key}
		}
		return nil, err
	}
	return bs, nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.getPrefixedKey(key)).Err()
}

// DeleteAll deletes every key under this cache's prefix. An unprefixed cache refuses to delete
// the whole database.
func (c *Cache) DeleteAll(ctx context.Context) error {
	if c.keyPrefix == "" {
		return fmt.Errorf("refusing to delete all keys of an unprefixed cache")
	}

	iter := c.client.Scan(ctx, 0, c.keyPrefix+":*", 500).Iterator()
	keys := make([]string, 0, 500)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == cap(keys) {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return c.client.Del(ctx, keys...).Err()
	}
	return nil
}

// Close closes the underlying redis client
func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) getPrefixedKey(key string) string {
	if c.keyPrefix == "" {
		return key
	}

	return c.keyPrefix + ":" + key
}

func (c *Cache) getPrefixedKeys(keys []string) []string {
	if c.keyPrefix == "" {
		return keys
	}

	prefixedKeys := make([]string, len(keys))
	for i, key := range keys {
		prefixedKeys[i] = c.keyPrefix + ":" + key
	}
	return prefixedKeys
}

// LazyCache implements a lazy loading cache that stores data only when it is requested
type LazyCache struct {
	Cache    *Cache
	CalcFunc func(context.Context) ([]byte, error)
	Key      string
	TTL      time.Duration
}

// Load queries the cache for the given key, and if it is current returns the data.
// It's possible for Load to return stale data, however the staleness of data can be
// limited by configuring a shorter TTL.
func (l LazyCache) Load(ctx context.Context) ([]byte, error) {
	b, err := l.Cache.Get(ctx, l.Key)
	if err == nil {
		return b, nil
	}
	if !util.ErrorAs[ErrKeyNotFound](err) {
		return nil, err
	}
	b, err = l.CalcFunc(ctx)
	if err != nil {
		return nil, err
	}
	err = l.Cache.Set(ctx, l.Key, b, l.TTL)
	return b, err
}
