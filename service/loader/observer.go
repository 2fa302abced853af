package loader

import (
	"context"
	"time"
)

// Observer receives the signals every batch emits. Observers must not block: they are
// called inline after each batch.
type Observer interface {
	ObserveBatch(ctx context.Context, loader string, outcome string, duration time.Duration, size int)
	ObserveCache(ctx context.Context, loader string, hits int, misses int)
	ObserveItems(ctx context.Context, loader string, resolved int, errored int)
}

type noopObserver struct{}

func (noopObserver) ObserveBatch(context.Context, string, string, time.Duration, int) {}
func (noopObserver) ObserveCache(context.Context, string, int, int)                   {}
func (noopObserver) ObserveItems(context.Context, string, int, int)                   {}

type multiObserver []Observer

// Observers fans signals out to every observer.
func Observers(observers ...Observer) Observer {
	return multiObserver(observers)
}

func (m multiObserver) ObserveBatch(ctx context.Context, loader string, outcome string, duration time.Duration, size int) {
	for _, o := range m {
		o.ObserveBatch(ctx, loader, outcome, duration, size)
	}
}

func (m multiObserver) ObserveCache(ctx context.Context, loader string, hits int, misses int) {
	for _, o := range m {
		o.ObserveCache(ctx, loader, hits, misses)
	}
}

func (m multiObserver) ObserveItems(ctx context.Context, loader string, resolved int, errored int) {
	for _, o := range m {
		o.ObserveItems(ctx, loader, resolved, errored)
	}
}
