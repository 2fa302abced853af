package loader

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultCacheSize = 10_000
	DefaultCacheTTL  = 24 * time.Hour
)

// Entry is a cached result. A nil Value records that the key had no match.
type Entry[V any] struct {
	Value     *V        `json:"value"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Cache stores loader results by normalized key. Implementations must be safe for concurrent use.
type Cache[V any] interface {
	Get(ctx context.Context, key string) (Entry[V], bool)
	Set(ctx context.Context, key string, entry Entry[V])
	Delete(ctx context.Context, key string)
	Clear(ctx context.Context)
}

// MemoryCache is a bounded in-process cache. Entries are evicted when the cache is full
// (least recently used first) or when they are older than the TTL.
type MemoryCache[V any] struct {
	lru *expirable.LRU[string, Entry[V]]
}

func NewMemoryCache[V any](size int, ttl time.Duration) *MemoryCache[V] {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &MemoryCache[V]{lru: expirable.NewLRU[string, Entry[V]](size, nil, ttl)}
}

func (c *MemoryCache[V]) Get(ctx context.Context, key string) (Entry[V], bool) {
	return c.lru.Get(key)
}

func (c *MemoryCache[V]) Set(ctx context.Context, key string, entry Entry[V]) {
	c.lru.Add(key, entry)
}

func (c *MemoryCache[V]) Delete(ctx context.Context, key string) {
	c.lru.Remove(key)
}

func (c *MemoryCache[V]) Clear(ctx context.Context) {
	c.lru.Purge()
}

func (c *MemoryCache[V]) Len() int {
	return c.lru.Len()
}

// NoCache never stores anything.
type NoCache[V any] struct{}

func (NoCache[V]) Get(context.Context, string) (Entry[V], bool) { return Entry[V]{}, false }
func (NoCache[V]) Set(context.Context, string, Entry[V])        {}
func (NoCache[V]) Delete(context.Context, string)               {}
func (NoCache[V]) Clear(context.Context)                        {}
