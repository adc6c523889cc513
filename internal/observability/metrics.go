package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "addelivery_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "addelivery_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// selection outcomes per ad type ("filled" or "empty")
	SelectionCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "addelivery_selections_total",
			Help: "Total ad selection requests by outcome",
		},
		[]string{"ad_type", "outcome"},
	)

	// strict eligibility query came back empty and the lenient path ran
	FallbackQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "addelivery_eligibility_fallback_total",
			Help: "Eligibility lookups that fell back to the lenient schedule filter",
		},
		[]string{"ad_type"},
	)

	// candidates removed by the per-user daily frequency cap
	FrequencyCapped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "addelivery_frequency_capped_total",
			Help: "Candidate ads removed by the frequency cap",
		},
		[]string{"ad_type"},
	)

	// number of events recorded, labelled by type
	EventCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "addelivery_events_total",
			Help: "Total events recorded",
		},
		[]string{"type"},
	)

	// impressions answered from the dedup window instead of inserted
	DuplicateImpressions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "addelivery_duplicate_impressions_total",
			Help: "Impression calls collapsed into an existing impression",
		},
	)

	// ad counter increments that failed after retries
	CounterIncrementFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "addelivery_counter_increment_failures_total",
			Help: "Ad counter increments that could not be applied",
		},
		[]string{"counter"},
	)

	// Redis unavailable and the event log answered instead
	StoreFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "addelivery_store_fallbacks_total",
			Help: "Lookups served by the event log because Redis failed",
		},
		[]string{"component"},
	)

	// recording requests rejected by the per-client limiter
	RateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "addelivery_ratelimit_hits_total",
			Help: "Total rate limited event recording requests",
		},
		[]string{"endpoint"},
	)
)

func init() {
	// register all metrics
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		SelectionCount,
		FallbackQueries,
		FrequencyCapped,
		EventCount,
		DuplicateImpressions,
		CounterIncrementFailures,
		StoreFallbacks,
		RateLimitHits,
	)
}
