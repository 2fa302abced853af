package metric

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	loaderpkg "github.com/mikeydub/comment-references/service/loader"
	"github.com/mikeydub/comment-references/service/logger"
	"github.com/mikeydub/comment-references/util"
)

type Measure struct {
	Name  string
	Value float64
}

type MetricReporter struct {
	Record func(ctx context.Context, m Measure, opts ...any)
}

var LogOptions = LogOptionBuilder{}

func NewLogMetricReporter() MetricReporter {
	return MetricReporter{Record: LogMetricReporter{}.Record}
}

type LogMetricReporter struct{}

type LogArgs struct {
	Tags   map[string]string
	LogMsg string
	Level  *logrus.Level
}

type LogOptionBuilder struct{}

func (LogOptionBuilder) WithLogMessage(msg string) func(*LogArgs) {
	return func(a *LogArgs) {
		a.LogMsg = msg
	}
}

func (LogOptionBuilder) WithTags(tags map[string]string) func(*LogArgs) {
	return func(a *LogArgs) {
		a.Tags = tags
	}
}

func (LogOptionBuilder) WithLevel(l logrus.Level) func(*LogArgs) {
	return func(a *LogArgs) {
		a.Level = &l
	}
}

func (l LogMetricReporter) Record(ctx context.Context, metric Measure, opts ...any) {
	args := LogArgs{}
	for _, opt := range opts {
		if f, ok := opt.(func(*LogArgs)); ok {
			f(&args)
		}
	}

	metricPayload := logrus.Fields{"metric": logrus.Fields{
		"metricName":  metric.Name,
		"metricValue": metric.Value,
		"metricTags":  args.Tags,
	}}

	logLine := fmt.Sprintf("reporting metric %s(val=%0.2f)", metric.Name, metric.Value)

	if args.LogMsg != "" {
		logLine += ": " + args.LogMsg
	}

	if args.Level == nil {
		args.Level = util.ToPointer(logrus.DebugLevel)
	}

	logger.For(ctx).WithFields(metricPayload).Log(*args.Level, logLine)
}

// LogLoaderObserver reports loader signals through a MetricReporter. Batches with failed keys are
// reported at warn level.
type LogLoaderObserver struct {
	Reporter MetricReporter
}

func NewLogLoaderObserver() LogLoaderObserver {
	return LogLoaderObserver{Reporter: NewLogMetricReporter()}
}

func (o LogLoaderObserver) ObserveBatch(ctx context.Context, loader string, outcome string, duration time.Duration, size int) {
	tags := map[string]string{"loader": loader, "outcome": outcome}
	level := logrus.DebugLevel
	if outcome != loaderpkg.OutcomeSuccess {
		level = logrus.WarnLevel
	}
	o.Reporter.Record(ctx, Measure{Name: "loader_batch_duration_ms", Value: float64(duration.Milliseconds())}, LogOptions.WithTags(tags), LogOptions.WithLevel(level))
	o.Reporter.Record(ctx, Measure{Name: "loader_batch_size", Value: float64(size)}, LogOptions.WithTags(tags), LogOptions.WithLevel(level))
}

func (o LogLoaderObserver) ObserveCache(ctx context.Context, loader string, hits int, misses int) {
	tags := map[string]string{"loader": loader}
	o.Reporter.Record(ctx, Measure{Name: "loader_cache_hits", Value: float64(hits)}, LogOptions.WithTags(tags))
	o.Reporter.Record(ctx, Measure{Name: "loader_cache_misses", Value: float64(misses)}, LogOptions.WithTags(tags))
}

func (o LogLoaderObserver) ObserveItems(ctx context.Context, loader string, resolved int, errored int) {
	tags := map[string]string{"loader": loader}
	o.Reporter.Record(ctx, Measure{Name: "loader_items_resolved", Value: float64(resolved)}, LogOptions.WithTags(tags))
	o.Reporter.Record(ctx, Measure{Name: "loader_items_errored", Value: float64(errored)}, LogOptions.WithTags(tags))
}
