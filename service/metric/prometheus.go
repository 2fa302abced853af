package metric

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LoaderMetrics holds the Prometheus collectors shared by every loader. Each series is
// labelled with the loader's name.
type LoaderMetrics struct {
	BatchSeconds *prometheus.HistogramVec
	BatchSize    *prometheus.HistogramVec
	CacheTotal   *prometheus.CounterVec
	ItemsTotal   *prometheus.CounterVec
}

func DefaultLoaderMetrics() *LoaderMetrics {
	return NewLoaderMetrics(prometheus.DefaultRegisterer)
}

func NewLoaderMetrics(reg prometheus.Registerer) *LoaderMetrics {
	factory := promauto.With(reg)

	return &LoaderMetrics{
		BatchSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reference_loader_batch_seconds",
				Help:    "Duration of loader batch function calls",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"loader", "outcome"},
		),
		BatchSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reference_loader_batch_size",
				Help:    "Number of keys passed to loader batch function calls",
				Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 250},
			},
			[]string{"loader"},
		),
		CacheTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reference_loader_cache_total",
				Help: "Loader cache lookups by result",
			},
			[]string{"loader", "result"},
		),
		ItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reference_loader_items_total",
				Help: "Loader items fetched by status",
			},
			[]string{"loader", "status"},
		),
	}
}

func (m *LoaderMetrics) ObserveBatch(ctx context.Context, loader string, outcome string, duration time.Duration, size int) {
	m.BatchSeconds.WithLabelValues(loader, outcome).Observe(duration.Seconds())
	m.BatchSize.WithLabelValues(loader).Observe(float64(size))
}

func (m *LoaderMetrics) ObserveCache(ctx context.Context, loader string, hits int, misses int) {
	if hits > 0 {
		m.CacheTotal.WithLabelValues(loader, "hit").Add(float64(hits))
	}
	if misses > 0 {
		m.CacheTotal.WithLabelValues(loader, "miss").Add(float64(misses))
	}
}

func (m *LoaderMetrics) ObserveItems(ctx context.Context, loader string, resolved int, errored int) {
	if resolved > 0 {
		m.ItemsTotal.WithLabelValues(loader, "resolved").Add(float64(resolved))
	}
	if errored > 0 {
		m.ItemsTotal.WithLabelValues(loader, "errored").Add(float64(errored))
	}
}

// ResolutionMetrics counts reconciliation passes by strategy, returned status and where the returned
// result came from (fresh, cached or merged)
type ResolutionMetrics struct {
	ResolutionsTotal *prometheus.CounterVec
}

func DefaultResolutionMetrics() *ResolutionMetrics {
	return NewResolutionMetrics(prometheus.DefaultRegisterer)
}

func NewResolutionMetrics(reg prometheus.Registerer) *ResolutionMetrics {
	return &ResolutionMetrics{
		ResolutionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "reference_resolutions_total",
				Help: "Comment resolutions by strategy, status and source",
			},
			[]string{"strategy", "status", "source"},
		),
	}
}

func (m *ResolutionMetrics) ObserveResolution(ctx context.Context, strategy string, status string, source string) {
	m.ResolutionsTotal.WithLabelValues(strategy, status, source).Inc()
}
