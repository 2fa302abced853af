package tracing

import (
	"context"

	"github.com/getsentry/sentry-go"
)

type loaderSpanContextKey struct{}

// LoaderPreFetchHook starts a span covering one batch of a named loader.
func LoaderPreFetchHook(ctx context.Context, loaderName string) context.Context {
	span, traceCtx := StartSpan(ctx, "loader.fetch", loaderName)
	return context.WithValue(traceCtx, loaderSpanContextKey{}, span)
}

func LoaderPostFetchHook(ctx context.Context, loaderName string) {
	if span, ok := ctx.Value(loaderSpanContextKey{}).(*sentry.Span); ok {
		FinishSpan(span)
	}
}
