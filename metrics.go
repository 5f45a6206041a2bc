package medigate

// Prometheus metrics for admission control and cache effectiveness. All
// series are global with low-cardinality labels (operation or key prefix,
// never caller identity or full cache keys).

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	rateLimitRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "medigate_ratelimit_rejections_total",
		Help: "Requests rejected by the fixed-window rate limiter, per operation",
	}, []string{"operation"})

	rateLimitFailOpen = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "medigate_ratelimit_fail_open_total",
		Help: "Requests admitted without counting because the shared counter store was unreachable",
	})

	cacheResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "medigate_cache_requests_total",
		Help: "Cache-aside lookups by key prefix and result (hit, miss, bypass)",
	}, []string{"prefix", "result"})

	storeAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "medigate_store_available",
		Help: "1 when the shared counter store responded to the last liveness probe, 0 otherwise",
	})
)

func init() {
	prometheus.MustRegister(rateLimitRejections, rateLimitFailOpen, cacheResults, storeAvailable)
}

// SetStoreAvailable records the degraded-mode signal from a liveness probe.
func SetStoreAvailable(up bool) {
	if up {
		storeAvailable.Set(1)
	} else {
		storeAvailable.Set(0)
	}
}

// ObserveCacheResult records a cache lookup outcome for a key prefix.
// Called by the gateway on every cacheable read.
func ObserveCacheResult(prefix, result string) {
	cacheResults.WithLabelValues(prefix, result).Inc()
}
