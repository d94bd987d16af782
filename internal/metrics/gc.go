package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GCMetrics holds Prometheus collectors for the GC control core.
type GCMetrics struct {
	// Invocations counts executed partial-GC steps.
	Invocations prometheus.Counter

	// PageCopies counts budgeted page copies across all steps.
	PageCopies prometheus.Counter

	// ValidPageCopies counts pages actually relocated.
	ValidPageCopies prometheus.Counter

	// BlockErases counts victim erases.
	BlockErases prometheus.Counter

	// FreeBlocks tracks the current free-block count.
	FreeBlocks prometheus.Gauge

	// ResponseTime observes host-visible response times in seconds.
	ResponseTime prometheus.Histogram
}

// NewGCMetrics creates and registers GC metrics with the default registry.
func NewGCMetrics() *GCMetrics {
	return newGCMetrics(nil)
}

// NewGCMetricsWithRegistry creates GC metrics registered with a custom
// registry. Useful for testing to avoid conflicts with the default registry.
func NewGCMetricsWithRegistry(reg prometheus.Registerer) *GCMetrics {
	return newGCMetrics(reg)
}

func newGCMetrics(reg prometheus.Registerer) *GCMetrics {
	factory := promauto.With(reg)
	if reg == nil {
		factory = promauto.With(prometheus.DefaultRegisterer)
	}

	return &GCMetrics{
		Invocations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rlftl",
			Subsystem: "gc",
			Name:      "invocations_total",
			Help:      "Number of executed partial-GC steps.",
		}),
		PageCopies: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rlftl",
			Subsystem: "gc",
			Name:      "page_copies_total",
			Help:      "Budgeted page copies across all GC steps.",
		}),
		ValidPageCopies: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rlftl",
			Subsystem: "gc",
			Name:      "valid_page_copies_total",
			Help:      "Valid pages actually relocated during GC.",
		}),
		BlockErases: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rlftl",
			Subsystem: "gc",
			Name:      "block_erases_total",
			Help:      "Victim blocks erased and returned to the free list.",
		}),
		FreeBlocks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "rlftl",
			Subsystem: "gc",
			Name:      "free_blocks",
			Help:      "Current free-block count.",
		}),
		ResponseTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rlftl",
			Subsystem: "gc",
			Name:      "response_time_seconds",
			Help:      "Host-visible request response times.",
			Buckets:   prometheus.ExponentialBuckets(10e-6, 2, 16),
		}),
	}
}
