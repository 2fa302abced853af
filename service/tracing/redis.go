package tracing

import (
	"context"
	"fmt"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
)

const redisArgLengthLimit = 64

func NewRedisHook(db int, dbName string, continueOnly bool) redis.Hook {
	return redisHook{
		db:           db,
		dbName:       dbName,
		continueOnly: continueOnly,
	}
}

type redisHook struct {
	db           int
	dbName       string
	continueOnly bool
}

var _ redis.Hook = redisHook{}

type redisSpanContextKey struct{}

func (r redisHook) BeforeProcess(ctx context.Context, cmd redis.Cmder) (context.Context, error) {
	if r.continueOnly && sentry.TransactionFromContext(ctx) == nil {
		return ctx, nil
	}

	span, ctx := StartSpan(ctx, "redis."+strings.ToLower(cmd.FullName()), r.dbName)
	AddEventDataToSpan(span, map[string]interface{}{
		"Redis Cmd": describeCmd(cmd),
		"Redis DB":  r.db,
	})

	return context.WithValue(ctx, redisSpanContextKey{}, span), nil
}

func (redisHook) AfterProcess(ctx context.Context, cmd redis.Cmder) error {
	if span, ok := ctx.Value(redisSpanContextKey{}).(*sentry.Span); ok {
		if err := cmd.Err(); err != nil && err != redis.Nil {
			AddEventDataToSpan(span, map[string]interface{}{"Redis Error": err.Error()})
		}
		FinishSpan(span)
	}
	return nil
}

func (r redisHook) BeforeProcessPipeline(ctx context.Context, cmds []redis.Cmder) (context.Context, error) {
	if r.continueOnly && sentry.TransactionFromContext(ctx) == nil {
		return ctx, nil
	}

	span, ctx := StartSpan(ctx, "redis.pipeline", r.dbName)
	AddEventDataToSpan(span, map[string]interface{}{
		"Redis Pipeline Num Cmds": len(cmds),
		"Redis DB":                r.db,
	})

	return context.WithValue(ctx, redisSpanContextKey{}, span), nil
}

func (redisHook) AfterProcessPipeline(ctx context.Context, cmds []redis.Cmder) error {
	if span, ok := ctx.Value(redisSpanContextKey{}).(*sentry.Span); ok {
		FinishSpan(span)
	}
	return nil
}

// describeCmd renders a command for span data. SET payloads are scrubbed since they hold cached
// third-party responses.
func describeCmd(cmd redis.Cmder) string {
	args := cmd.Args()
	parts := make([]string, 0, len(args))
	for i, arg := range args {
		s := strings.ReplaceAll(fmt.Sprint(arg), "\n", "\\n")
		if cmd.Name() == "set" && i == 2 {
			s = fmt.Sprintf("[scrubbed payload: %d bytes]", len(s))
		} else if len(s) > redisArgLengthLimit {
			s = s[:redisArgLengthLimit] + "..."
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " ")
}
