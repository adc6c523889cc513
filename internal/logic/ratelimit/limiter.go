package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/patrickwarner/addelivery/internal/observability"
)

// ClientLimiter manages rate limiting for event-recording clients.
//
// Each client key (normally the requester's network address) gets its own
// token bucket, created lazily on first access. Buckets idle for longer than
// IdleTTL are dropped by Sweep so the map does not grow without bound.
//
// Example usage:
//
//	limiter := NewClientLimiter(Config{Capacity: 50, RefillRate: 10, Enabled: true}, metrics)
//	if !limiter.Allow("impression", clientIP) {
//	    // reply 429
//	}
type ClientLimiter struct {
	buckets map[string]*TokenBucket
	mu      sync.RWMutex
	config  Config
	metrics observability.MetricsRegistry
}

// Config holds the configuration for rate limiting.
type Config struct {
	Capacity   int           // Token bucket capacity (burst allowance)
	RefillRate int           // Tokens added per second (sustained rate)
	Enabled    bool          // Whether rate limiting is active
	IdleTTL    time.Duration // Buckets unused this long are swept; 0 means 10m
}

const defaultIdleTTL = 10 * time.Minute

// NewClientLimiter creates a limiter with the given configuration.
func NewClientLimiter(config Config, metrics observability.MetricsRegistry) *ClientLimiter {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = defaultIdleTTL
	}
	return &ClientLimiter{
		buckets: make(map[string]*TokenBucket),
		config:  config,
		metrics: metrics,
	}
}

// Allow reports whether the client may make another request to endpoint.
// Buckets are per client and endpoint. When limiting is disabled every
// request is allowed.
func (cl *ClientLimiter) Allow(endpoint, client string) bool {
	if cl == nil || !cl.config.Enabled {
		return true
	}
	key := endpoint + "|" + client

	cl.mu.RLock()
	bucket, exists := cl.buckets[key]
	cl.mu.RUnlock()

	if !exists {
		cl.mu.Lock()
		bucket, exists = cl.buckets[key]
		if !exists {
			bucket = NewTokenBucket(cl.config.Capacity, cl.config.RefillRate)
			cl.buckets[key] = bucket
		}
		cl.mu.Unlock()
	}

	allowed := bucket.Allow()
	if !allowed {
		cl.metrics.IncrementRateLimitHits(endpoint)
	}
	return allowed
}

// Sweep drops buckets that have not been used since now minus IdleTTL and
// returns how many were removed.
func (cl *ClientLimiter) Sweep(now time.Time) int {
	cutoff := now.Add(-cl.config.IdleTTL)
	cl.mu.Lock()
	defer cl.mu.Unlock()
	removed := 0
	for key, b := range cl.buckets {
		if b.LastUsed().Before(cutoff) {
			delete(cl.buckets, key)
			removed++
		}
	}
	return removed
}

// Run sweeps idle buckets every interval until stop is closed.
func (cl *ClientLimiter) Run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			cl.Sweep(now)
		}
	}
}

// GetStats returns rate limiting statistics keyed by endpoint and client.
func (cl *ClientLimiter) GetStats() map[string]RateLimitStats {
	cl.mu.RLock()
	defer cl.mu.RUnlock()

	stats := make(map[string]RateLimitStats, len(cl.buckets))
	for key, bucket := range cl.buckets {
		hits, total := bucket.Stats()
		hitRate := 0.0
		if total > 0 {
			hitRate = float64(hits) / float64(total)
		}
		stats[key] = RateLimitStats{Key: key, Hits: hits, Total: total, HitRate: hitRate}
	}
	return stats
}

// RateLimitStats contains statistics about rate limiting for a single bucket.
type RateLimitStats struct {
	Key     string  `json:"key"`
	Hits    int64   `json:"hits"`     // Number of rate limited requests
	Total   int64   `json:"total"`    // Total number of requests processed
	HitRate float64 `json:"hit_rate"` // Fraction of requests rate limited (0.0-1.0)
}

// String returns a human-readable representation of the rate limit statistics.
func (rls RateLimitStats) String() string {
	return fmt.Sprintf("%s: %d/%d hits (%.2f%%)", rls.Key, rls.Hits, rls.Total, rls.HitRate*100)
}
