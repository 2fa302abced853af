package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mikeydub/comment-references/service/logger"
)

const (
	defaultBatchTimeout = 2 * time.Millisecond

	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeError   = "error"
)

type batchStatus int

const (
	open batchStatus = iota
	closed
)

// BatchFunc fetches values for a batch of keys. It returns one value per key, where a nil value
// means the key has no match. Errors may be returned per key, or as a single error that applies
// to every key in the batch.
type BatchFunc[K any, V any] func(ctx context.Context, keys []K) ([]*V, []error)

// ErrLoad is returned when the batch function failed for a key.
type ErrLoad struct {
	Loader string
	Key    string
	Err    error
}

func (e ErrLoad) Error() string {
	return fmt.Sprintf("%s: failed to load %s: %s", e.Loader, e.Key, e.Err)
}

func (e ErrLoad) Unwrap() error { return e.Err }

type Config[K any, V any] struct {
	// Name identifies the loader in metrics, traces and logs
	Name string
	// MaxBatchSize caps the number of keys per batch call. Zero means unlimited.
	MaxBatchSize int
	// BatchTimeout is how long a batch stays open for more keys after the first key arrives
	BatchTimeout time.Duration
	// KeyFunc normalizes keys so that equivalent keys share a cache entry and a batch slot.
	// Defaults to the key's JSON encoding.
	KeyFunc func(K) string
	// Cache stores results by normalized key. Defaults to an in-memory cache with DefaultCacheSize
	// entries and DefaultCacheTTL.
	Cache Cache[V]
	// StaleAfter is the age after which a cached value is still returned but refreshed in the
	// background. Zero disables background refreshes.
	StaleAfter time.Duration
	Observer   Observer

	PreFetchHook  func(context.Context, string) context.Context
	PostFetchHook func(context.Context, string)
}

// Loader deduplicates, batches and caches calls to a BatchFunc. It is safe for concurrent use and
// is meant to live for the lifetime of the process.
type Loader[K any, V any] struct {
	ctx context.Context

	name          string
	maxBatchSize  int
	batchTimeout  time.Duration
	keyFunc       func(K) (string, error)
	batchFunc     BatchFunc[K, V]
	cache         Cache[V]
	staleAfter    time.Duration
	observer      Observer
	preFetchHook  func(context.Context, string) context.Context
	postFetchHook func(context.Context, string)
	now           func() time.Time

	currentBatchID int32
	batches        sync.Map
	refreshing     sync.Map
}

type batch[K any, V any] struct {
	loader   *Loader[K, V]
	id       int32
	keys     []K
	normKeys []string
	results  []*V
	errors   []error
	status   batchStatus
	done     chan struct{}
	mu       sync.Mutex
}

// New creates a Loader. ctx is the base context for batch calls; it is not tied to any single
// caller so that one caller giving up does not fail the keys of other callers in the same batch.
// A batch mixes keys from many callers, so whatever the batch function logs carries the loader's
// name rather than any caller's log fields.
func New[K any, V any](ctx context.Context, cfg Config[K, V], batchFunc BatchFunc[K, V]) *Loader[K, V] {
	l := &Loader[K, V]{
		ctx:           logger.NewContextWithFields(ctx, logrus.Fields{"loader": cfg.Name}),
		name:          cfg.Name,
		maxBatchSize:  cfg.MaxBatchSize,
		batchTimeout:  cfg.BatchTimeout,
		batchFunc:     batchFunc,
		cache:         cfg.Cache,
		staleAfter:    cfg.StaleAfter,
		observer:      cfg.Observer,
		preFetchHook:  cfg.PreFetchHook,
		postFetchHook: cfg.PostFetchHook,
		now:           time.Now,
	}

	if l.batchTimeout <= 0 {
		l.batchTimeout = defaultBatchTimeout
	}

	if cfg.KeyFunc != nil {
		l.keyFunc = func(k K) (string, error) { return cfg.KeyFunc(k), nil }
	} else {
		l.keyFunc = keyToJSON[K]
	}

	if l.cache == nil {
		l.cache = NewMemoryCache[V](DefaultCacheSize, DefaultCacheTTL)
	}

	if l.observer == nil {
		l.observer = noopObserver{}
	}

	return l
}

func (l *Loader[K, V]) Name() string {
	return l.name
}

// Load returns the value for key, with batching and caching applied automatically. A nil value
// with a nil error means the key has no match.
func (l *Loader[K, V]) Load(ctx context.Context, key K) (*V, error) {
	return l.LoadThunk(ctx, key)()
}

// LoadThunk returns a function that when called will block waiting for the value. It should be
// used when one goroutine wants to queue keys on several loaders before blocking.
func (l *Loader[K, V]) LoadThunk(ctx context.Context, key K) func() (*V, error) {
	normKey, err := l.keyFunc(key)
	if err != nil {
		return func() (*V, error) {
			return nil, ErrLoad{Loader: l.name, Key: fmt.Sprintf("%v", key), Err: err}
		}
	}

	if entry, ok := l.cache.Get(ctx, normKey); ok {
		l.observer.ObserveCache(ctx, l.name, 1, 0)
		if l.isStale(entry) {
			l.refresh(key, normKey)
		}
		return func() (*V, error) {
			return entry.Value, nil
		}
	}

	l.observer.ObserveCache(ctx, l.name, 0, 1)

	b, index := l.addKeyToBatch(key, normKey)

	return func() (*V, error) {
		select {
		case <-b.done:
		case <-ctx.Done():
			return nil, ErrLoad{Loader: l.name, Key: normKey, Err: ctx.Err()}
		}

		result, err := b.resultAt(index)
		if err != nil {
			return nil, ErrLoad{Loader: l.name, Key: normKey, Err: err}
		}
		return result, nil
	}
}

// LoadMany loads every key. It never fails as a whole: errors are reported per key.
func (l *Loader[K, V]) LoadMany(ctx context.Context, keys []K) ([]*V, []error) {
	thunks := make([]func() (*V, error), len(keys))
	for i, key := range keys {
		thunks[i] = l.LoadThunk(ctx, key)
	}

	results := make([]*V, len(keys))
	errors := make([]error, len(keys))
	for i, thunk := range thunks {
		results[i], errors[i] = thunk()
	}

	return results, errors
}

// Prime caches a value for key without calling the batch function.
func (l *Loader[K, V]) Prime(ctx context.Context, key K, value *V) {
	normKey, err := l.keyFunc(key)
	if err != nil {
		return
	}
	l.cache.Set(ctx, normKey, Entry[V]{Value: value, FetchedAt: l.now()})
}

// Clear evicts the cached value for key.
func (l *Loader[K, V]) Clear(ctx context.Context, key K) {
	normKey, err := l.keyFunc(key)
	if err != nil {
		return
	}
	l.cache.Delete(ctx, normKey)
}

// ClearAll evicts every cached value.
func (l *Loader[K, V]) ClearAll(ctx context.Context) {
	l.cache.Clear(ctx)
}

func (l *Loader[K, V]) isStale(entry Entry[V]) bool {
	return l.staleAfter > 0 && l.now().Sub(entry.FetchedAt) > l.staleAfter
}

// refresh re-fetches a stale key in the background. Only one refresh per key runs at a time.
func (l *Loader[K, V]) refresh(key K, normKey string) {
	if _, loaded := l.refreshing.LoadOrStore(normKey, struct{}{}); loaded {
		return
	}

	b, _ := l.addKeyToBatch(key, normKey)

	go func() {
		defer l.refreshing.Delete(normKey)
		<-b.done
	}()
}

func (l *Loader[K, V]) newBatch(batchID int32) *batch[K, V] {
	capacity := l.maxBatchSize
	if capacity <= 0 {
		capacity = 8
	}
	return &batch[K, V]{
		loader:   l,
		id:       batchID,
		keys:     make([]K, 0, capacity),
		normKeys: make([]string, 0, capacity),
		done:     make(chan struct{}),
	}
}

func (l *Loader[K, V]) addKeyToBatch(key K, normKey string) (*batch[K, V], int) {
	for {
		// Read the current batch ID
		currentID := atomic.LoadInt32(&l.currentBatchID)

		// Try to load the batch first so that a new batch is only allocated when one doesn't exist yet
		actual, ok := l.batches.Load(currentID)
		if !ok {
			actual, _ = l.batches.LoadOrStore(currentID, l.newBatch(currentID))
		}

		b := actual.(*batch[K, V])

		b.mu.Lock()

		// If the batch we were assigned to is closed, move on to the next batch ID and try again
		if b.status == closed {
			b.mu.Unlock()
			atomic.CompareAndSwapInt32(&l.currentBatchID, currentID, currentID+1)
			continue
		}

		// If the key is already in the batch, share its slot
		if keyIndex := indexOf(b.normKeys, normKey); keyIndex != -1 {
			b.mu.Unlock()
			return b, keyIndex
		}

		keyIndex := len(b.keys)
		b.keys = append(b.keys, key)
		b.normKeys = append(b.normKeys, normKey)

		// If this is the first thing we've added to the batch, start the timeout
		if keyIndex == 0 {
			go b.closeAfterTimeout(l.batchTimeout)
		}

		if l.maxBatchSize > 0 && len(b.keys) >= l.maxBatchSize {
			b.status = closed
			b.mu.Unlock()
			atomic.CompareAndSwapInt32(&l.currentBatchID, currentID, currentID+1)
			go b.submit()
		} else {
			b.mu.Unlock()
		}

		return b, keyIndex
	}
}

func (b *batch[K, V]) closeAfterTimeout(timeout time.Duration) {
	time.Sleep(timeout)

	b.mu.Lock()

	if b.status == open {
		b.status = closed
		b.mu.Unlock()
		atomic.CompareAndSwapInt32(&b.loader.currentBatchID, b.id, b.id+1)
		b.submit()
	} else {
		b.mu.Unlock()
	}
}

func (b *batch[K, V]) submit() {
	l := b.loader
	defer close(b.done)
	defer l.batches.Delete(b.id)

	ctx := l.ctx
	if l.preFetchHook != nil {
		ctx = l.preFetchHook(ctx, l.name)
	}

	start := time.Now()
	b.results, b.errors = l.callBatchFunc(ctx, b.keys)
	duration := time.Since(start)

	resolved, errored := 0, 0
	for i, normKey := range b.normKeys {
		if _, err := b.resultAt(i); err != nil {
			errored++
			continue
		}
		resolved++
		l.cache.Set(ctx, normKey, Entry[V]{Value: b.results[i], FetchedAt: l.now()})
	}

	outcome := OutcomeSuccess
	if errored == len(b.keys) && errored > 0 {
		outcome = OutcomeError
	} else if errored > 0 {
		outcome = OutcomePartial
	}

	l.observer.ObserveBatch(ctx, l.name, outcome, duration, len(b.keys))
	l.observer.ObserveItems(ctx, l.name, resolved, errored)

	if l.postFetchHook != nil {
		l.postFetchHook(ctx, l.name)
	}
}

// callBatchFunc invokes the batch function, converting panics and malformed responses into a
// single error for the whole batch.
func (l *Loader[K, V]) callBatchFunc(ctx context.Context, keys []K) (results []*V, errors []error) {
	defer func() {
		if r := recover(); r != nil {
			results, errors = nil, []error{fmt.Errorf("batch function panicked: %v", r)}
		}
	}()

	results, errors = l.batchFunc(ctx, keys)

	if len(errors) == 1 && errors[0] != nil {
		return nil, errors
	}

	if len(results) != len(keys) {
		return nil, []error{fmt.Errorf("batch function returned %d results for %d keys", len(results), len(keys))}
	}

	if len(errors) > 1 && len(errors) != len(keys) {
		return nil, []error{fmt.Errorf("batch function returned %d errors for %d keys", len(errors), len(keys))}
	}

	return results, errors
}

func (b *batch[K, V]) resultAt(index int) (*V, error) {
	// its convenient to be able to return a single error for everything
	if len(b.errors) == 1 && b.errors[0] != nil {
		return nil, b.errors[0]
	}
	if len(b.errors) > index && b.errors[index] != nil {
		return nil, b.errors[index]
	}
	if index < len(b.results) {
		return b.results[index], nil
	}
	return nil, nil
}

func keyToJSON[K any](key K) (string, error) {
	bytes, err := json.Marshal(key)
	if err != nil {
		return "", err
	}

	return string(bytes), nil
}

func indexOf[T comparable](slice []T, item T) int {
	for i, existingItem := range slice {
		if item == existingItem {
			return i
		}
	}

	return -1
}
