package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the counters exported by the exchange-context core.
type Metrics struct {
	HydrationRequests prometheus.Counter
	HydrationFetches  prometheus.Counter
	HydrationDeduped  prometheus.Counter
	HydrationFailures *prometheus.CounterVec
	StoreCommits      prometheus.Counter
	StoreNoops        prometheus.Counter
	PersistErrors     prometheus.Counter
	SwitchRequests    *prometheus.CounterVec
	UnsupportedChains prometheus.Counter
}

var (
	once     sync.Once
	registry *Metrics
)

// Default returns the process-wide metrics, registering them on first use.
func Default() *Metrics {
	once.Do(func() {
		registry = &Metrics{
			HydrationRequests: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "sponsorcoin",
				Subsystem: "hydration",
				Name:      "requests_total",
				Help:      "Account hydration calls, including deduplicated ones.",
			}),
			HydrationFetches: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "sponsorcoin",
				Subsystem: "hydration",
				Name:      "fetches_total",
				Help:      "Metadata HTTP requests issued, retries included.",
			}),
			HydrationDeduped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "sponsorcoin",
				Subsystem: "hydration",
				Name:      "deduplicated_total",
				Help:      "Hydration calls that shared a fetch with a concurrent caller.",
			}),
			HydrationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "sponsorcoin",
				Subsystem: "hydration",
				Name:      "fallbacks_total",
				Help:      "Hydrations that resolved to the fallback account, by cause.",
			}, []string{"reason"}),
			StoreCommits: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "sponsorcoin",
				Subsystem: "store",
				Name:      "commits_total",
				Help:      "State changes committed and broadcast to subscribers.",
			}),
			StoreNoops: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "sponsorcoin",
				Subsystem: "store",
				Name:      "noops_total",
				Help:      "SetState calls whose result equalled the current state.",
			}),
			PersistErrors: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "sponsorcoin",
				Subsystem: "store",
				Name:      "persist_errors_total",
				Help:      "Failed writes to the persisted client-side store.",
			}),
			SwitchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "sponsorcoin",
				Subsystem: "wallet",
				Name:      "switch_requests_total",
				Help:      "Wallet network switch requests, by outcome.",
			}, []string{"result"}),
			UnsupportedChains: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "sponsorcoin",
				Subsystem: "wallet",
				Name:      "unsupported_chain_total",
				Help:      "Wallet reports of a chain outside the supported set.",
			}),
		}
		prometheus.MustRegister(
			registry.HydrationRequests,
			registry.HydrationFetches,
			registry.HydrationDeduped,
			registry.HydrationFailures,
			registry.StoreCommits,
			registry.StoreNoops,
			registry.PersistErrors,
			registry.SwitchRequests,
			registry.UnsupportedChains,
		)
	})
	return registry
}
