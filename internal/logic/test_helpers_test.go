package logic

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/patrickwarner/addelivery/internal/db"
)

// setupTestRedis spins up an in-memory Redis and returns a store pointed at it.
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *db.RedisStore) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	return s, &db.RedisStore{Client: redis.NewClient(&redis.Options{Addr: s.Addr()})}
}

// freezeClock pins nowFn for the duration of a test.
func freezeClock(t *testing.T, now time.Time) {
	t.Helper()
	orig := nowFn
	nowFn = func() time.Time { return now }
	t.Cleanup(func() { nowFn = orig })
}
