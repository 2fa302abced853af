package middleware

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const maxTrackedKeys = 100_000

// KeyRateLimiter keeps a token bucket per key. Buckets of keys that go quiet are evicted.
type KeyRateLimiter struct {
	every   time.Duration
	burst   int
	buckets *expirable.LRU[string, *rate.Limiter]
	now     func() time.Time
	mu      sync.Mutex
}

// NewKeyRateLimiter allows burst requests per key, refilling one every every
func NewKeyRateLimiter(burst int, every time.Duration) *KeyRateLimiter {
	return &KeyRateLimiter{
		every:   every,
		burst:   burst,
		buckets: expirable.NewLRU[string, *rate.Limiter](maxTrackedKeys, nil, every*time.Duration(burst)+time.Minute),
		now:     time.Now,
	}
}

// ForKey reports whether key may make a request now. When it may not, wait is how long until it can.
func (i *KeyRateLimiter) ForKey(key string) (ok bool, wait time.Duration) {
	i.mu.Lock()
	lim, found := i.buckets.Get(key)
	if !found {
		lim = rate.NewLimiter(rate.Every(i.every), i.burst)
		i.buckets.Add(key, lim)
	}
	i.mu.Unlock()

	r := lim.ReserveN(i.now(), 1)
	if delay := r.DelayFrom(i.now()); delay > 0 {
		r.CancelAt(i.now())
		return false, delay
	}
	return true, 0
}
