package logic

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/patrickwarner/addelivery/internal/analytics"
	"github.com/patrickwarner/addelivery/internal/db"
	"github.com/patrickwarner/addelivery/internal/models"
	"github.com/patrickwarner/addelivery/internal/observability"
)

// DefaultFrequencyCap is the per-user, per-ad daily impression limit.
const DefaultFrequencyCap = 3

// nowFn is replaced in tests.
var nowFn = time.Now

// StartOfDay returns local midnight of t's day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// FrequencyCapper removes ads a user has already seen Cap times today.
// The cap is defined over today's impression log. Redis day counters run
// ahead of a lagging log, the log covers increments Redis lost (outage,
// restart, flush), so the capper takes the larger of the two per ad.
type FrequencyCapper struct {
	Redis   *db.RedisStore
	Events  analytics.EventLog
	Cap     int
	Metrics observability.MetricsRegistry
	Logger  *zap.Logger
}

// NewFrequencyCapper builds a capper. A cap of zero or less uses
// DefaultFrequencyCap.
func NewFrequencyCapper(redis *db.RedisStore, events analytics.EventLog, limit int, metrics observability.MetricsRegistry, logger *zap.Logger) *FrequencyCapper {
	if limit <= 0 {
		limit = DefaultFrequencyCap
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FrequencyCapper{Redis: redis, Events: events, Cap: limit, Metrics: metrics, Logger: logger}
}

func (c *FrequencyCapper) redisReady() bool {
	return c.Redis != nil && c.Redis.Client != nil
}

// Counts returns today's impression count per ad for the user. Redis and the
// event log are read concurrently; either alone is enough.
func (c *FrequencyCapper) Counts(ctx context.Context, userID string, adIDs []string) (map[string]int64, error) {
	now := nowFn()
	var (
		fromRedis, fromLog map[string]int64
		redisErr, logErr   error
	)
	var g errgroup.Group
	if c.redisReady() {
		g.Go(func() error {
			fromRedis, redisErr = c.Redis.FrequencyCounts(ctx, userID, adIDs, now)
			return nil
		})
	} else {
		redisErr = ErrNilRedisStore
	}
	if c.Events != nil {
		g.Go(func() error {
			fromLog, logErr = c.Events.ImpressionCountsSince(ctx, userID, StartOfDay(now))
			return nil
		})
	} else {
		logErr = analytics.ErrUnavailable
	}
	_ = g.Wait()

	switch {
	case redisErr != nil && logErr != nil:
		return nil, fmt.Errorf("frequency counts: redis: %w; event log: %w", redisErr, logErr)
	case redisErr != nil:
		if c.redisReady() {
			c.Logger.Warn("redis frequency read failed, using event log tally", zap.Error(redisErr))
			c.Metrics.IncrementStoreFallbacks("frequency")
		}
		return fromLog, nil
	case logErr != nil:
		if c.Events != nil {
			c.Logger.Warn("event log frequency read failed, using redis counters", zap.Error(logErr))
		}
		return fromRedis, nil
	}

	out := make(map[string]int64, len(adIDs))
	for _, id := range adIDs {
		out[id] = max(fromRedis[id], fromLog[id])
	}
	return out, nil
}

// Filter drops ads whose count for userID has reached the cap. Anonymous
// lookups are returned untouched. If counts cannot be read at all the ads
// pass through: under-delivery is worse than a loose cap.
func (c *FrequencyCapper) Filter(ctx context.Context, userID string, ads []models.Ad) []models.Ad {
	if userID == "" || len(ads) == 0 {
		return ads
	}
	ids := make([]string, len(ads))
	for i, a := range ads {
		ids[i] = a.ID
	}
	counts, err := c.Counts(ctx, userID, ids)
	if err != nil {
		c.Logger.Error("frequency cap check failed, allowing all candidates", zap.Error(err), zap.String("user_id", userID))
		return ads
	}
	out := ads[:0:0]
	for _, a := range ads {
		if counts[a.ID] >= int64(c.Cap) {
			continue
		}
		out = append(out, a)
	}
	if capped := len(ads) - len(out); capped > 0 {
		c.Metrics.AddFrequencyCapped(string(ads[0].Type), capped)
	}
	return out
}

// Record counts one impression of adID for userID today. Without Redis the
// event log is the only record and there is nothing to do; a failed
// increment is covered by the event log tally in Counts.
func (c *FrequencyCapper) Record(ctx context.Context, userID, adID string) error {
	if userID == "" || !c.redisReady() {
		return nil
	}
	_, err := c.Redis.IncrementFrequency(ctx, userID, adID, nowFn())
	return err
}
