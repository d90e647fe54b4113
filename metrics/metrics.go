// Package metrics exposes the gateway core's Prometheus instrumentation:
// resolution outcomes and latency, snapshot cache effectiveness, rate
// limiter decisions and redis pool state.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "edgegate"

var (
	registry = prometheus.NewRegistry()

	resolutionTotal = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resolution_total",
		Help:      "Resolution attempts by outcome.",
	}, []string{"outcome"})

	resolutionSeconds = promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "resolution_duration_seconds",
		Help:      "Time spent resolving a request to an API.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
	})

	cacheEvents = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshot_cache_events_total",
		Help:      "Snapshot routing table cache hits and misses.",
	}, []string{"event"})

	ratelimitDecisions = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_decisions_total",
		Help:      "Rate limiter decisions by backend.",
	}, []string{"backend", "decision"})

	redisPool = promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "redis_pool",
		Help:      "Redis connection pool statistics.",
	}, []string{"stat"})
)

// IncResolution counts one resolution attempt with the given outcome,
// either "resolved", "preflight" or the error taxonomy name.
func IncResolution(outcome string) {
	resolutionTotal.WithLabelValues(outcome).Inc()
}

// MeasureResolution records the time since start as resolution latency.
func MeasureResolution(start time.Time) {
	resolutionSeconds.Observe(time.Since(start).Seconds())
}

// IncCache counts a snapshot cache "hit" or "miss".
func IncCache(event string) {
	cacheEvents.WithLabelValues(event).Inc()
}

// IncRatelimit counts a limiter decision, decision is "allow", "deny" or
// "error".
func IncRatelimit(backend, decision string) {
	ratelimitDecisions.WithLabelValues(backend, decision).Inc()
}

// UpdateRedisPool sets one redis pool gauge.
func UpdateRedisPool(stat string, value float64) {
	redisPool.WithLabelValues(stat).Set(value)
}

// Handler serves the metrics for scraping, mounted on the support
// listener.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
