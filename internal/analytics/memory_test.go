package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/addelivery/internal/models"
)

func seedLog(t *testing.T, now time.Time) *MemoryEventLog {
	t.Helper()
	log := NewMemoryEventLog()
	ctx := context.Background()
	imp := func(id, ad string, typ models.AdType, user, ip string, at time.Time) {
		require.NoError(t, log.InsertImpression(ctx, models.ImpressionEvent{
			ID: id, AdID: ad, AdType: typ, UserID: user, IPAddress: ip, Timestamp: at,
		}))
	}
	imp("i1", "a", models.AdTypeBanner, "u1", "10.0.0.1", now.Add(-10*time.Second))
	imp("i2", "a", models.AdTypeBanner, "u2", "10.0.0.2", now.Add(-2*time.Hour))
	imp("i3", "b", models.AdTypeAudio, "u1", "10.0.0.1", now.Add(-time.Minute))
	imp("i4", "b", models.AdTypeAudio, "", "10.0.0.3", now.Add(-48*time.Hour))
	imp("i5", "b", models.AdTypeAudio, "u3", "10.0.0.4", now.Add(-3*time.Hour))
	imp("i6", "c", models.AdTypeBanner, "u1", "10.0.0.1", now.Add(-40*24*time.Hour))

	require.NoError(t, log.InsertClick(ctx, models.ClickEvent{ID: "c1", AdID: "a", AdType: models.AdTypeBanner, Timestamp: now.Add(-time.Minute)}))
	require.NoError(t, log.InsertCompletion(ctx, models.CompletionEvent{ID: "p1", AdID: "b", AdType: models.AdTypeAudio, Timestamp: now.Add(-time.Minute)}))
	return log
}

func TestMemoryFindRecentImpression(t *testing.T) {
	now := time.Now()
	log := seedLog(t, now)
	ctx := context.Background()

	id, ok, err := log.FindRecentImpression(ctx, "a", "10.0.0.1", "", now.Add(-30*time.Second))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "i1", id)

	id, ok, _ = log.FindRecentImpression(ctx, "a", "", "u1", now.Add(-30*time.Second))
	assert.True(t, ok)
	assert.Equal(t, "i1", id)

	_, ok, _ = log.FindRecentImpression(ctx, "a", "10.9.9.9", "u9", now.Add(-30*time.Second))
	assert.False(t, ok)

	// empty ip and user never match anonymous rows
	_, ok, _ = log.FindRecentImpression(ctx, "b", "", "", now.Add(-72*time.Hour))
	assert.False(t, ok)
}

func TestMemoryImpressionCountsSince(t *testing.T) {
	now := time.Now()
	log := seedLog(t, now)
	counts, err := log.ImpressionCountsSince(context.Background(), "u1", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"a": 1, "b": 1}, counts)
}

func TestMemoryCountEvents(t *testing.T) {
	now := time.Now()
	log := seedLog(t, now)
	ctx := context.Background()
	week := EventQuery{From: now.Add(-7 * 24 * time.Hour), To: now}

	q := week
	q.Kind = models.EventImpression
	n, err := log.CountEvents(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	q.AdType = models.AdTypeAudio
	n, _ = log.CountEvents(ctx, q)
	assert.Equal(t, int64(3), n)

	q.AdType, q.AdID = "", "a"
	n, _ = log.CountEvents(ctx, q)
	assert.Equal(t, int64(2), n)

	q = week
	q.Kind = models.EventClick
	n, _ = log.CountEvents(ctx, q)
	assert.Equal(t, int64(1), n)

	q.Kind = "view"
	_, err = log.CountEvents(ctx, q)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestMemoryTopAds(t *testing.T) {
	now := time.Now()
	log := seedLog(t, now)
	top, err := log.TopAdsByImpressions(context.Background(), "", now.Add(-7*24*time.Hour), now, 5)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, AdCount{AdID: "b", AdType: models.AdTypeAudio, Count: 3}, top[0])
	assert.Equal(t, AdCount{AdID: "a", AdType: models.AdTypeBanner, Count: 2}, top[1])

	top, _ = log.TopAdsByImpressions(context.Background(), models.AdTypeBanner, now.Add(-7*24*time.Hour), now, 1)
	require.Len(t, top, 1)
	assert.Equal(t, "a", top[0].AdID)
}

func TestMemoryDailyCounts(t *testing.T) {
	loc := time.UTC
	to := time.Date(2024, 6, 3, 15, 0, 0, 0, loc)
	from := to.AddDate(0, 0, -2)
	log := NewMemoryEventLog()
	ctx := context.Background()
	_ = log.InsertImpression(ctx, models.ImpressionEvent{ID: "1", AdID: "a", Timestamp: time.Date(2024, 6, 1, 16, 0, 0, 0, loc)})
	_ = log.InsertImpression(ctx, models.ImpressionEvent{ID: "2", AdID: "a", Timestamp: time.Date(2024, 6, 3, 9, 0, 0, 0, loc)})
	_ = log.InsertClick(ctx, models.ClickEvent{ID: "3", AdID: "a", Timestamp: time.Date(2024, 6, 3, 10, 0, 0, 0, loc)})
	// before the window
	_ = log.InsertImpression(ctx, models.ImpressionEvent{ID: "4", AdID: "a", Timestamp: time.Date(2024, 6, 1, 14, 0, 0, 0, loc)})

	days, err := log.DailyCounts(ctx, "a", from, to)
	require.NoError(t, err)
	assert.Equal(t, []DayCount{
		{Day: "2024-06-01", Impressions: 1},
		{Day: "2024-06-02"},
		{Day: "2024-06-03", Impressions: 1, Clicks: 1},
	}, days)
}

func TestMemoryRecentImpressions(t *testing.T) {
	now := time.Now()
	log := seedLog(t, now)
	got, err := log.RecentImpressions(context.Background(), "b", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "i3", got[0].ID)
	assert.Equal(t, "i5", got[1].ID)
}

func TestMemoryPruneDropsExpiredEvents(t *testing.T) {
	now := time.Now()
	log := NewMemoryEventLogWithRetention(30)
	ctx := context.Background()
	require.NoError(t, log.InsertImpression(ctx, models.ImpressionEvent{ID: "old", AdID: "a", Timestamp: now.Add(-31 * 24 * time.Hour)}))
	require.NoError(t, log.InsertImpression(ctx, models.ImpressionEvent{ID: "new", AdID: "a", Timestamp: now.Add(-time.Hour)}))
	require.NoError(t, log.InsertClick(ctx, models.ClickEvent{ID: "c-old", AdID: "a", Timestamp: now.Add(-40 * 24 * time.Hour)}))
	require.NoError(t, log.InsertCompletion(ctx, models.CompletionEvent{ID: "p-new", AdID: "a", Timestamp: now}))

	assert.Equal(t, 2, log.Prune(now))
	imps := log.Impressions()
	require.Len(t, imps, 1)
	assert.Equal(t, "new", imps[0].ID)
	assert.Empty(t, log.Clicks())
	assert.Len(t, log.Completions(), 1)

	assert.Equal(t, 0, log.Prune(now))
}

func TestMemoryPruneWithoutRetentionKeepsAll(t *testing.T) {
	now := time.Now()
	log := seedLog(t, now)
	assert.Equal(t, 0, log.Prune(now.Add(365*24*time.Hour)))
	assert.Len(t, log.Impressions(), 6)
}

func TestMemoryRunPrunesUntilStopped(t *testing.T) {
	log := NewMemoryEventLogWithRetention(1)
	require.NoError(t, log.InsertImpression(context.Background(), models.ImpressionEvent{ID: "old", Timestamp: time.Now().Add(-48 * time.Hour)}))

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		log.Run(5*time.Millisecond, stop)
		close(done)
	}()
	assert.Eventually(t, func() bool { return len(log.Impressions()) == 0 }, time.Second, 5*time.Millisecond)
	close(stop)
	<-done
}
