package observability

import "time"

// MetricsRegistry provides an interface for recording application metrics
// This replaces direct access to global Prometheus metrics with dependency injection
type MetricsRegistry interface {
	// HTTP Request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Selection metrics
	IncrementSelections(adType, outcome string)
	IncrementFallbackQueries(adType string)
	AddFrequencyCapped(adType string, n int)

	// Event tracking metrics
	IncrementEvent(eventType string)
	IncrementDuplicateImpressions()
	IncrementCounterFailures(counter string)
	IncrementStoreFallbacks(component string)

	// Rate limiting metrics
	IncrementRateLimitHits(endpoint string)
}

// PrometheusRegistry implements MetricsRegistry using the existing global Prometheus metrics
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

// HTTP Request metrics
func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// Selection metrics
func (r *PrometheusRegistry) IncrementSelections(adType, outcome string) {
	SelectionCount.WithLabelValues(adType, outcome).Inc()
}

func (r *PrometheusRegistry) IncrementFallbackQueries(adType string) {
	FallbackQueries.WithLabelValues(adType).Inc()
}

func (r *PrometheusRegistry) AddFrequencyCapped(adType string, n int) {
	if n > 0 {
		FrequencyCapped.WithLabelValues(adType).Add(float64(n))
	}
}

// Event tracking metrics
func (r *PrometheusRegistry) IncrementEvent(eventType string) {
	EventCount.WithLabelValues(eventType).Inc()
}

func (r *PrometheusRegistry) IncrementDuplicateImpressions() {
	DuplicateImpressions.Inc()
}

func (r *PrometheusRegistry) IncrementCounterFailures(counter string) {
	CounterIncrementFailures.WithLabelValues(counter).Inc()
}

func (r *PrometheusRegistry) IncrementStoreFallbacks(component string) {
	StoreFallbacks.WithLabelValues(component).Inc()
}

// Rate limiting metrics
func (r *PrometheusRegistry) IncrementRateLimitHits(endpoint string) {
	RateLimitHits.WithLabelValues(endpoint).Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementSelections(adType, outcome string)                           {}
func (r *NoOpRegistry) IncrementFallbackQueries(adType string)                               {}
func (r *NoOpRegistry) AddFrequencyCapped(adType string, n int)                              {}
func (r *NoOpRegistry) IncrementEvent(eventType string)                                      {}
func (r *NoOpRegistry) IncrementDuplicateImpressions()                                       {}
func (r *NoOpRegistry) IncrementCounterFailures(counter string)                              {}
func (r *NoOpRegistry) IncrementStoreFallbacks(component string)                             {}
func (r *NoOpRegistry) IncrementRateLimitHits(endpoint string)                               {}
