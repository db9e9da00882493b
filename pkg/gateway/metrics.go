package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aigateway_cache_hits_total",
		Help: "Number of analysis responses served from the cache",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aigateway_cache_misses_total",
		Help: "Number of analysis requests that required a provider call",
	})
	rateLimitDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aigateway_rate_limit_denials_total",
		Help: "Requests denied by admission control, by scope and dimension",
	}, []string{"provider", "scope", "dimension"})
	providerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aigateway_provider_request_seconds",
		Help:    "Provider call duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
	requestTokenHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aigateway_request_tokens",
		Help:    "Total token count per completed provider call",
		Buckets: []float64{1, 10, 50, 100, 500, 1_000, 2_000, 4_000, 8_000, 16_000},
	})
	ledgerWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aigateway_ledger_write_failures_total",
		Help: "Usage ledger writes that failed and were swallowed",
	})
)
