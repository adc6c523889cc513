package logic

import (
	"context"
	"testing"
	"time"

	"github.com/patrickwarner/addelivery/internal/analytics"
	"github.com/patrickwarner/addelivery/internal/models"
	"github.com/patrickwarner/addelivery/internal/observability"
)

func capperAds() []models.Ad {
	return []models.Ad{
		{ID: "a", Type: models.AdTypeBanner},
		{ID: "b", Type: models.AdTypeBanner},
		{ID: "c", Type: models.AdTypeBanner},
	}
}

func adIDs(ads []models.Ad) []string {
	out := make([]string, len(ads))
	for i, a := range ads {
		out[i] = a.ID
	}
	return out
}

func TestStartOfDay(t *testing.T) {
	loc := time.FixedZone("test", -5*3600)
	got := StartOfDay(time.Date(2024, 2, 29, 23, 59, 59, 0, loc))
	if !got.Equal(time.Date(2024, 2, 29, 0, 0, 0, 0, loc)) {
		t.Fatalf("StartOfDay = %v", got)
	}
}

func TestCapperUsesRedisCounters(t *testing.T) {
	_, store := setupTestRedis(t)
	now := time.Now()
	freezeClock(t, now)
	ctx := context.Background()
	metrics := observability.NewMockMetricsRegistry()
	c := NewFrequencyCapper(store, analytics.NewMemoryEventLog(), 3, metrics, nil)

	for i := 0; i < 3; i++ {
		if err := c.Record(ctx, "u1", "a"); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		_ = c.Record(ctx, "u1", "b")
	}

	got := adIDs(c.Filter(ctx, "u1", capperAds()))
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("expected [b c], got %v", got)
	}
	if metrics.Count(metrics.Capped, "BANNER") != 1 {
		t.Fatalf("expected one capped ad recorded, got %v", metrics.Capped)
	}

	// a third impression of b caps it as well
	_ = c.Record(ctx, "u1", "b")
	if got := adIDs(c.Filter(ctx, "u1", capperAds())); len(got) != 1 || got[0] != "c" {
		t.Fatalf("expected [c], got %v", got)
	}

	// other users are unaffected
	if got := c.Filter(ctx, "u2", capperAds()); len(got) != 3 {
		t.Fatalf("expected all ads for another user, got %d", len(got))
	}
}

func TestCapperNewDayResets(t *testing.T) {
	_, store := setupTestRedis(t)
	day1 := time.Now()
	freezeClock(t, day1)
	c := NewFrequencyCapper(store, nil, 3, nil, nil)
	for i := 0; i < 3; i++ {
		_ = c.Record(context.Background(), "u1", "a")
	}
	if len(c.Filter(context.Background(), "u1", capperAds())) != 2 {
		t.Fatalf("expected a capped today")
	}
	nowFn = func() time.Time { return day1.AddDate(0, 0, 1) }
	if len(c.Filter(context.Background(), "u1", capperAds())) != 3 {
		t.Fatalf("expected counters to reset the next day")
	}
}

func TestCapperAnonymousSkipsCheck(t *testing.T) {
	s, store := setupTestRedis(t)
	s.Close() // any lookup would fail
	c := NewFrequencyCapper(store, nil, 3, nil, nil)
	if got := c.Filter(context.Background(), "", capperAds()); len(got) != 3 {
		t.Fatalf("anonymous filter must not drop ads, got %d", len(got))
	}
	if err := c.Record(context.Background(), "", "a"); err != nil {
		t.Fatalf("anonymous record: %v", err)
	}
}

func TestCapperFallsBackToEventLog(t *testing.T) {
	s, store := setupTestRedis(t)
	now := time.Date(2024, 6, 1, 15, 0, 0, 0, time.Local)
	freezeClock(t, now)
	events := analytics.NewMemoryEventLog()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = events.InsertImpression(ctx, models.ImpressionEvent{ID: "t" + string(rune('0'+i)), AdID: "c", UserID: "u1", Timestamp: now.Add(-time.Hour)})
	}
	// yesterday's impressions do not count
	for i := 0; i < 3; i++ {
		_ = events.InsertImpression(ctx, models.ImpressionEvent{ID: "y" + string(rune('0'+i)), AdID: "a", UserID: "u1", Timestamp: now.Add(-20 * time.Hour)})
	}
	s.Close()

	metrics := observability.NewMockMetricsRegistry()
	c := NewFrequencyCapper(store, events, 3, metrics, nil)
	got := adIDs(c.Filter(ctx, "u1", capperAds()))
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected [a b], got %v", got)
	}
	if metrics.Count(metrics.StoreFallbacks, "frequency") != 1 {
		t.Fatalf("expected fallback metric")
	}

	// no redis at all behaves the same
	c = NewFrequencyCapper(nil, events, 3, nil, nil)
	if got := c.Filter(ctx, "u1", capperAds()); len(got) != 2 {
		t.Fatalf("expected 2 ads without redis, got %d", len(got))
	}
}

func TestCapperFailsOpen(t *testing.T) {
	c := NewFrequencyCapper(nil, nil, 3, nil, nil)
	if got := c.Filter(context.Background(), "u1", capperAds()); len(got) != 3 {
		t.Fatalf("expected fail-open, got %d ads", len(got))
	}
}

func TestCapperCountsImpressionsRedisMissed(t *testing.T) {
	s, store := setupTestRedis(t)
	now := time.Date(2024, 6, 1, 15, 0, 0, 0, time.Local)
	freezeClock(t, now)
	ctx := context.Background()
	events := analytics.NewMemoryEventLog()

	// impressions recorded while redis was unreachable only reach the log
	down := NewFrequencyCapper(nil, events, 3, nil, nil)
	for i := 0; i < 3; i++ {
		_ = events.InsertImpression(ctx, models.ImpressionEvent{ID: "o" + string(rune('0'+i)), AdID: "a", UserID: "u1", Timestamp: now.Add(-time.Minute)})
		if err := down.Record(ctx, "u1", "a"); err != nil {
			t.Fatalf("record without redis: %v", err)
		}
	}

	c := NewFrequencyCapper(store, events, 3, nil, nil)
	if got := adIDs(c.Filter(ctx, "u1", capperAds())); len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("expected [b c] once redis is back, got %v", got)
	}

	// counters wiped by a flush or restart
	for i := 0; i < 3; i++ {
		_ = events.InsertImpression(ctx, models.ImpressionEvent{ID: "f" + string(rune('0'+i)), AdID: "b", UserID: "u1", Timestamp: now.Add(-time.Minute)})
		_ = c.Record(ctx, "u1", "b")
	}
	s.FlushAll()
	if got := adIDs(c.Filter(ctx, "u1", capperAds())); len(got) != 1 || got[0] != "c" {
		t.Fatalf("expected [c] after redis flush, got %v", got)
	}
}

func TestCapperRedisAheadOfEventLog(t *testing.T) {
	_, store := setupTestRedis(t)
	freezeClock(t, time.Now())
	ctx := context.Background()
	events := analytics.NewMemoryEventLog()
	c := NewFrequencyCapper(store, events, 3, nil, nil)

	// log inserts lag behind the counters
	_ = events.InsertImpression(ctx, models.ImpressionEvent{ID: "l1", AdID: "a", UserID: "u1", Timestamp: nowFn()})
	for i := 0; i < 3; i++ {
		_ = c.Record(ctx, "u1", "a")
	}
	counts, err := c.Counts(ctx, "u1", []string{"a", "b"})
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["a"] != 3 || counts["b"] != 0 {
		t.Fatalf("expected a=3 b=0, got %v", counts)
	}
}
