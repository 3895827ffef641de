package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaindex",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mediaindex",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.3, 0.5, 1, 2, 5},
	}, []string{"method", "path"})

	RecordsIndexed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mediaindex",
		Name:      "records_indexed_total",
		Help:      "Total media records indexed as new fingerprints.",
	})

	RecordsDeduplicated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mediaindex",
		Name:      "records_deduplicated_total",
		Help:      "Total inserts that collided with an existing fingerprint.",
	})

	RecordsReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mediaindex",
		Name:      "records_reaped_total",
		Help:      "Total records removed by the retention janitor.",
	})

	SearchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaindex",
		Name:      "searches_total",
		Help:      "Total search queries by outcome.",
	}, []string{"outcome"})

	SearchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mediaindex",
		Name:      "search_duration_seconds",
		Help:      "Search execution time in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
	})

	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaindex",
		Name:      "cache_hits_total",
		Help:      "Cache hits by cache kind.",
	}, []string{"cache"})

	CacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaindex",
		Name:      "cache_misses_total",
		Help:      "Cache misses by cache kind.",
	}, []string{"cache"})

	RateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaindex",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter, by class.",
	}, []string{"class"})

	BroadcastsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mediaindex",
		Name:      "broadcasts_active",
		Help:      "Number of broadcast jobs currently running.",
	})

	BroadcastDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaindex",
		Name:      "broadcast_deliveries_total",
		Help:      "Broadcast delivery outcomes.",
	}, []string{"outcome"})

	BroadcastRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mediaindex",
		Name:      "broadcast_retries_total",
		Help:      "Total delivery retries across all broadcast jobs.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		RecordsIndexed,
		RecordsDeduplicated,
		RecordsReaped,
		SearchesTotal,
		SearchDuration,
		CacheHitsTotal,
		CacheMissesTotal,
		RateLimitedTotal,
		BroadcastsActive,
		BroadcastDeliveries,
		BroadcastRetriesTotal,
	)
}
