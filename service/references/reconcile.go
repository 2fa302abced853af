package references

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/mikeydub/comment-references/service/logger"
	"github.com/mikeydub/comment-references/service/persist"
	sentryutil "github.com/mikeydub/comment-references/service/sentry"
)

const defaultPassTimeout = time.Minute

type Strategy string

const (
	StrategyCacheFirst   Strategy = "cache-first"
	StrategyNetworkFirst Strategy = "network-first"
)

func (s Strategy) IsValid() bool {
	return s == StrategyCacheFirst || s == StrategyNetworkFirst
}

// Source records where a returned result came from
type Source string

const (
	SourceFresh  Source = "fresh"
	SourceCached Source = "cached"
	SourceMerged Source = "merged"
)

// Request identifies one revision of a comment and its content
type Request struct {
	CommentID string          `json:"commentId" binding:"required"`
	Revision  int             `json:"revision" binding:"gte=0"`
	Content   string          `json:"content"`
	ChainID   persist.ChainID `json:"chainId" binding:"required"`
}

func (r Request) key() string {
	return fmt.Sprintf("%s:%d", r.CommentID, r.Revision)
}

type Response struct {
	References References               `json:"references"`
	Status     persist.ResolutionStatus `json:"status"`
}

// Observer is notified of every completed reconciliation
type Observer interface {
	ObserveResolution(ctx context.Context, strategy string, status string, source string)
}

// Locker serializes reconciliation of a comment revision. A nil unlock is never returned with a nil error.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type noopObserver struct{}

func (noopObserver) ObserveResolution(context.Context, string, string, string) {}

// Service resolves comments and reconciles the results with the resolution cache. It never returns an
// error: the worst case is an empty failed response.
type Service struct {
	store     persist.ResolutionCacheRepository
	resolvers Resolvers
	observer  Observer
	locker    Locker
	group     singleflight.Group
	timeout   time.Duration
	now       func() time.Time
	resolve   func(ctx context.Context, content string, chainID persist.ChainID, resolvers Resolvers) (Result, error)
}

type ServiceOption func(*Service)

func WithObserver(o Observer) ServiceOption {
	return func(s *Service) { s.observer = o }
}

// WithLocker makes network-first reconciliation hold a lock while it reads, merges and writes the cache
func WithLocker(l Locker) ServiceOption {
	return func(s *Service) { s.locker = l }
}

// WithPassTimeout bounds a shared cache-first pass, which outlives the callers waiting on it. Non-positive
// durations keep the default.
func WithPassTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewService(store persist.ResolutionCacheRepository, resolvers Resolvers, opts ...ServiceOption) *Service {
	s := &Service{
		store:     store,
		resolvers: resolvers,
		observer:  noopObserver{},
		timeout:   defaultPassTimeout,
		now:       time.Now,
		resolve:   Resolve,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve dispatches to the entry point for strategy
func (s *Service) Resolve(ctx context.Context, strategy Strategy, req Request) Response {
	if strategy == StrategyNetworkFirst {
		return s.ResolveFromNetworkFirst(ctx, req)
	}
	return s.ResolveFromCacheFirst(ctx, req)
}

// ResolveFromCacheFirst returns the cached result for the revision if there is one, otherwise it resolves
// the comment and caches the result whatever its status. Concurrent calls for the same revision share a
// single pass. The pass is detached from any one caller, so a caller that goes away neither fails the pass
// for the others nor leaves a failed entry behind; it gets an empty failed response of its own.
func (s *Service) ResolveFromCacheFirst(ctx context.Context, req Request) Response {
	ctx = s.withLogFields(ctx, req, StrategyCacheFirst)

	ch := s.group.DoChan(req.key(), func() (any, error) {
		passCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		if cached, ok := s.lookup(passCtx, req); ok {
			s.observer.ObserveResolution(passCtx, string(StrategyCacheFirst), string(cached.Status), string(SourceCached))
			return Response{References: cached.References, Status: cached.Status}, nil
		}

		fresh := s.run(passCtx, req)
		if passCtx.Err() != nil {
			logger.For(passCtx).WithError(passCtx.Err()).Warn("resolution pass timed out, not caching it")
		} else {
			s.persist(passCtx, req, fresh.References, fresh.Status)
		}
		s.observer.ObserveResolution(passCtx, string(StrategyCacheFirst), string(fresh.Status), string(SourceFresh))
		return Response{References: fresh.References, Status: fresh.Status}, nil
	})

	select {
	case res := <-ch:
		return res.Val.(Response)
	case <-ctx.Done():
		logger.For(ctx).WithError(ctx.Err()).Debug("caller left before the resolution pass finished")
		return Response{References: References{}, Status: persist.ResolutionStatusFailed}
	}
}

// ResolveFromNetworkFirst always resolves the comment, then keeps whichever of the fresh and cached results
// is better. Two partial results are merged so that a position resolved by either pass is kept.
func (s *Service) ResolveFromNetworkFirst(ctx context.Context, req Request) Response {
	ctx = s.withLogFields(ctx, req, StrategyNetworkFirst)

	fresh := s.run(ctx, req)

	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, req.key())
		if err != nil {
			// The merge is monotonic, so the worst an unlocked write can do is drop another pass's result
			logger.For(ctx).WithError(err).Warn("failed to lock resolution, reconciling without it")
		} else {
			defer unlock()
		}
	}

	finish := func(resp Response, source Source, write bool) Response {
		// A pass cut short by the caller says nothing about the comment
		if write && ctx.Err() == nil {
			s.persist(ctx, req, resp.References, resp.Status)
		}
		logger.For(ctx).WithFields(logrus.Fields{
			"status": resp.Status,
			"source": source,
		}).Debug("reconciled resolution")
		s.observer.ObserveResolution(ctx, string(StrategyNetworkFirst), string(resp.Status), string(source))
		return resp
	}

	if fresh.Status == persist.ResolutionStatusSuccess {
		return finish(Response{References: fresh.References, Status: fresh.Status}, SourceFresh, true)
	}

	cached, err := s.get(ctx, req)
	if err != nil && !errors.Is(err, persist.ErrNotFound) {
		// Without knowing what is cached we can't tell whether fresh would be a regression, so don't overwrite it
		logger.For(ctx).WithError(err).Error("failed to read cached resolution")
		sentryutil.ReportError(ctx, err)
		return finish(Response{References: fresh.References, Status: fresh.Status}, SourceFresh, false)
	}
	if err != nil || cached.Status == persist.ResolutionStatusFailed {
		return finish(Response{References: fresh.References, Status: fresh.Status}, SourceFresh, true)
	}

	switch {
	case cached.Status == persist.ResolutionStatusSuccess:
		return finish(Response{References: cached.References, Status: cached.Status}, SourceCached, false)
	case fresh.Status == persist.ResolutionStatusFailed:
		return finish(Response{References: cached.References, Status: cached.Status}, SourceCached, false)
	default:
		return finish(Merge(fresh, cached.References), SourceMerged, true)
	}
}

// Merge combines a fresh partial result with cached references. Every attempted position is looked up in
// the fresh references first, then in the cached ones. The merge succeeds if every position was found.
func Merge(fresh Result, cached References) Response {
	merged := make(References, 0, len(fresh.AllResolvedPositions))
	for _, p := range fresh.AllResolvedPositions {
		if ref, ok := fresh.References.At(p); ok {
			merged = append(merged, ref)
		} else if ref, ok := cached.At(p); ok {
			merged = append(merged, ref)
		}
	}

	merged.sortByPosition()

	status := persist.ResolutionStatusPartial
	if len(merged) == len(fresh.AllResolvedPositions) {
		status = persist.ResolutionStatusSuccess
	}

	return Response{References: merged, Status: status}
}

type cachedResolution struct {
	References References
	Status     persist.ResolutionStatus
}

// lookup returns the usable cached resolution for req, if any
func (s *Service) lookup(ctx context.Context, req Request) (cachedResolution, bool) {
	cached, err := s.get(ctx, req)
	if err == nil {
		return cached, true
	}
	if !errors.Is(err, persist.ErrNotFound) {
		logger.For(ctx).WithError(err).Error("failed to read cached resolution")
		sentryutil.ReportError(ctx, err)
	}
	return cachedResolution{}, false
}

// get reads and decodes the cache entry for req. An entry that can't be decoded is treated as missing.
func (s *Service) get(ctx context.Context, req Request) (cachedResolution, error) {
	entry, err := s.store.Get(ctx, req.CommentID, req.Revision)
	if err != nil {
		return cachedResolution{}, err
	}

	var refs References
	if err := json.Unmarshal(entry.References, &refs); err != nil || !entry.Status.IsValid() {
		logger.For(ctx).WithError(err).Warnf("discarding undecodable cached resolution with status %q", entry.Status)
		return cachedResolution{}, persist.ErrResolutionNotFound{CommentID: req.CommentID, Revision: req.Revision}
	}

	return cachedResolution{References: refs, Status: entry.Status}, nil
}

// run executes one resolution pass. A pass that fails outright becomes an empty failed result.
func (s *Service) run(ctx context.Context, req Request) Result {
	result, err := s.resolve(ctx, req.Content, req.ChainID, s.resolvers)
	if err != nil {
		logger.For(ctx).WithError(err).Error("failed to resolve comment")
		sentryutil.ReportError(ctx, err)
		return FailedResult()
	}
	return result
}

func (s *Service) persist(ctx context.Context, req Request, refs References, status persist.ResolutionStatus) {
	bs, err := json.Marshal(refs)
	if err == nil {
		err = s.store.Upsert(ctx, persist.ResolutionCacheEntry{
			CommentID:       req.CommentID,
			CommentRevision: req.Revision,
			References:      bs,
			Status:          status,
			UpdatedAt:       s.now(),
		})
	}
	if err != nil {
		logger.For(ctx).WithError(err).Error("failed to persist resolution")
		sentryutil.ReportError(ctx, err)
	}
}

func (s *Service) withLogFields(ctx context.Context, req Request, strategy Strategy) context.Context {
	return logger.NewContextWithFields(ctx, logrus.Fields{
		"commentId": req.CommentID,
		"revision":  req.Revision,
		"chainId":   req.ChainID,
		"strategy":  strategy,
		"passId":    persist.GenerateID(),
	})
}
