package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aggregator",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "aggregator",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 20},
	}, []string{"method", "path"})

	SourceRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aggregator",
		Name:      "source_requests_total",
		Help:      "Total requests to upstream sources by source key and result status.",
	}, []string{"source", "status"})

	SourceRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "aggregator",
		Name:      "source_request_duration_seconds",
		Help:      "Upstream source request duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"source"})

	StreamSessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "aggregator",
		Name:      "stream_sessions_active",
		Help:      "Number of search stream sessions currently fanning out.",
	})

	StreamEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aggregator",
		Name:      "stream_events_total",
		Help:      "Total stream events emitted by event type.",
	}, []string{"type"})

	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "aggregator",
		Name:      "cache_hits_total",
		Help:      "Total number of search cache hits.",
	})

	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "aggregator",
		Name:      "cache_misses_total",
		Help:      "Total number of search cache misses.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SourceRequestsTotal,
		SourceRequestDuration,
		StreamSessionsActive,
		StreamEventsTotal,
		CacheHitsTotal,
		CacheMissesTotal,
	)
}
