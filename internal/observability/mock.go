package observability

import (
	"sync"
	"time"
)

// MockMetricsRegistry records calls so tests can assert on engine signals.
type MockMetricsRegistry struct {
	mu              sync.Mutex
	Requests        map[string]int // "endpoint method status"
	Selections      map[string]int // "adType outcome"
	Fallbacks       map[string]int
	Capped          map[string]int
	Events          map[string]int
	Duplicates      int
	CounterFailures map[string]int
	StoreFallbacks  map[string]int
	RateLimitHits   map[string]int
}

// NewMockMetricsRegistry creates an empty recorder.
func NewMockMetricsRegistry() *MockMetricsRegistry {
	return &MockMetricsRegistry{
		Requests:        make(map[string]int),
		Selections:      make(map[string]int),
		Fallbacks:       make(map[string]int),
		Capped:          make(map[string]int),
		Events:          make(map[string]int),
		CounterFailures: make(map[string]int),
		StoreFallbacks:  make(map[string]int),
		RateLimitHits:   make(map[string]int),
	}
}

func (m *MockMetricsRegistry) bump(counts map[string]int, key string, n int) {
	m.mu.Lock()
	counts[key] += n
	m.mu.Unlock()
}

// Count returns a snapshot of one counter.
func (m *MockMetricsRegistry) Count(counts map[string]int, key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return counts[key]
}

func (m *MockMetricsRegistry) IncrementRequests(endpoint, method, status string) {
	m.bump(m.Requests, endpoint+" "+method+" "+status, 1)
}

func (m *MockMetricsRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}

func (m *MockMetricsRegistry) IncrementSelections(adType, outcome string) {
	m.bump(m.Selections, adType+" "+outcome, 1)
}

func (m *MockMetricsRegistry) IncrementFallbackQueries(adType string) {
	m.bump(m.Fallbacks, adType, 1)
}

func (m *MockMetricsRegistry) AddFrequencyCapped(adType string, n int) {
	m.bump(m.Capped, adType, n)
}

func (m *MockMetricsRegistry) IncrementEvent(eventType string) {
	m.bump(m.Events, eventType, 1)
}

func (m *MockMetricsRegistry) IncrementDuplicateImpressions() {
	m.mu.Lock()
	m.Duplicates++
	m.mu.Unlock()
}

func (m *MockMetricsRegistry) IncrementCounterFailures(counter string) {
	m.bump(m.CounterFailures, counter, 1)
}

func (m *MockMetricsRegistry) IncrementStoreFallbacks(component string) {
	m.bump(m.StoreFallbacks, component, 1)
}

func (m *MockMetricsRegistry) IncrementRateLimitHits(endpoint string) {
	m.bump(m.RateLimitHits, endpoint, 1)
}
