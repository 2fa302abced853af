package sentryutil

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/mikeydub/comment-references/service/logger"
)

const errorContextName = "error context"

// ReportError sends err to Sentry using the hub on ctx (or the current hub). scopeFuncs can add
// tags and contexts that only apply to this event.
func ReportError(ctx context.Context, err error, scopeFuncs ...func(scope *sentry.Scope)) {
	hub := SentryHubFromContext(ctx)
	if hub == nil {
		logger.For(ctx).Warnln("could not report error to Sentry because hub is nil")
		return
	}

	// Use a new scope so our error context and tags don't persist beyond this error
	hub.WithScope(func(scope *sentry.Scope) {
		for _, f := range scopeFuncs {
			f(scope)
		}
		hub.CaptureException(err)
	})
}

// ReportRemappedError reports originalErr while recording which error the caller received instead.
func ReportRemappedError(ctx context.Context, originalErr error, remappedErr interface{}) {
	ReportError(ctx, originalErr, func(scope *sentry.Scope) {
		if remappedErr != nil {
			SetErrorContext(scope, true, fmt.Sprintf("%T", remappedErr))
			scope.SetTag("remappedError", "true")
		} else {
			SetErrorContext(scope, false, "")
		}
	})
}

func UpdateErrorFingerprints(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	if event == nil || hint == nil || hint.OriginalException == nil {
		return event
	}

	// errors created with errors.New/fmt.Errorf share a type, so group them by message instead
	exceptionType := fmt.Sprintf("%T", hint.OriginalException)
	if exceptionType == "*errors.errorString" || exceptionType == "*fmt.wrapError" {
		event.Fingerprint = []string{"{{ default }}", hint.OriginalException.Error()}
	}

	return event
}

func SetErrorContext(scope *sentry.Scope, mapped bool, mappedTo string) {
	scope.SetContext(errorContextName, sentry.Context{
		"Mapped":   mapped,
		"MappedTo": mappedTo,
	})
}

func SentryHubFromContext(ctx context.Context) *sentry.Hub {
	if ctx != nil {
		if hub := sentry.GetHubFromContext(ctx); hub != nil {
			return hub
		}
	}
	return sentry.CurrentHub()
}

// RecoverAndRaise reports a panic to Sentry, flushes, and re-panics.
func RecoverAndRaise(ctx context.Context) {
	if err := recover(); err != nil {
		hub := SentryHubFromContext(ctx)
		if hub != nil {
			hub.Recover(err)
			hub.Flush(2 * time.Second)
		}
		panic(err)
	}
}
