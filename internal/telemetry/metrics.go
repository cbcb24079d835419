// Package telemetry provides observability and background aggregation for
// the gateway: Prometheus metrics, the request-log writer pool, and the
// periodic rollup task.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec // provider, status, error_type
	RequestDuration  *prometheus.HistogramVec
	ActiveRequests   prometheus.Gauge
	TokensTotal      *prometheus.CounterVec // provider, model, direction (input|output)
	CostTotalUSD     *prometheus.CounterVec // provider, model
	PoolSize         prometheus.Gauge
	PoolCacheHitRate prometheus.Gauge
	LogQueueDepth    prometheus.Gauge
	RollupTickSeconds prometheus.Histogram
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amppool",
			Name:      "requests_total",
			Help:      "Total number of proxied requests.",
		}, []string{"provider", "status", "error_type"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "amppool",
			Name:      "request_duration_seconds",
			Help:      "End-to-end proxied request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "amppool",
			Name:      "active_requests",
			Help:      "Number of currently in-flight proxied requests.",
		}),

		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amppool",
			Name:      "tokens_total",
			Help:      "Total tokens processed.",
		}, []string{"provider", "model", "direction"}),

		CostTotalUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amppool",
			Name:      "cost_total_usd",
			Help:      "Total upstream cost in USD.",
		}, []string{"provider", "model"}),

		PoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "amppool",
			Name:      "pool_size",
			Help:      "Number of credentials currently cached in the key pool.",
		}),

		PoolCacheHitRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "amppool",
			Name:      "pool_cache_hit_rate",
			Help:      "Fraction of recent Select calls served without a store refill.",
		}),

		LogQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "amppool",
			Name:      "log_queue_depth",
			Help:      "Number of request-log rows currently queued for the writer pool.",
		}),

		RollupTickSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "amppool",
			Name:      "rollup_tick_seconds",
			Help:      "Duration of each rollup aggregation tick.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.TokensTotal,
		m.CostTotalUSD,
		m.PoolSize,
		m.PoolCacheHitRate,
		m.LogQueueDepth,
		m.RollupTickSeconds,
	)

	return m
}
