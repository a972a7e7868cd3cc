// Package metrics exposes the runtime's Prometheus instrumentation:
// package-level collectors registered once via promauto, observed from the
// hot paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CycleDuration tracks one forward pass end to end.
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "harmonics",
		Subsystem: "runtime",
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of one forward cycle.",
		Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
	})

	// UpdatesApplied counts optimizer weight updates across all layers.
	UpdatesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "harmonics",
		Subsystem: "runtime",
		Name:      "weight_updates_total",
		Help:      "Optimizer updates applied across all layers.",
	})

	// KernelCacheHits and KernelCacheMisses track the persistent compiled
	// kernel store.
	KernelCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "harmonics",
		Subsystem: "kernel_cache",
		Name:      "hits_total",
		Help:      "Kernel cache lookups served from disk.",
	})
	KernelCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "harmonics",
		Subsystem: "kernel_cache",
		Name:      "misses_total",
		Help:      "Kernel cache lookups that recompiled.",
	})

	// ChainVerifications counts secure-mode chain checks by outcome
	// ("ok" or "broken").
	ChainVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harmonics",
		Subsystem: "secure",
		Name:      "chain_verifications_total",
		Help:      "Chain-of-custody verifications by result.",
	}, []string{"result"})

	// BoundaryTensors counts tensors crossing partition boundaries by
	// direction ("push" or "fetch").
	BoundaryTensors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harmonics",
		Subsystem: "dist",
		Name:      "boundary_tensors_total",
		Help:      "Boundary tensors moved by the distributed scheduler.",
	}, []string{"direction"})
)
