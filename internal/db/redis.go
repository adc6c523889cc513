package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore wraps a redis client used for impression dedup claims and
// per-user daily frequency counters.
type RedisStore struct {
	Client *redis.Client
}

// InitRedis initializes a Redis client and returns a RedisStore.
func InitRedis(ctx context.Context, addr string) (*RedisStore, error) {
	rs := &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
	}

	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := rs.Client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return rs, nil
}

// claimScript returns the impression id already stored under any of KEYS,
// or stores ARGV[1] under all of them for ARGV[2] milliseconds. The reply is
// {claimed, id}.
var claimScript = redis.NewScript(`
for _, k in ipairs(KEYS) do
  local v = redis.call('GET', k)
  if v then
    return {0, v}
  end
end
for _, k in ipairs(KEYS) do
  redis.call('SET', k, ARGV[1], 'PX', ARGV[2])
end
return {1, ARGV[1]}
`)

func dedupKeys(adID, ip, userID string) []string {
	var keys []string
	if ip != "" {
		keys = append(keys, fmt.Sprintf("dedup:imp:%s:ip:%s", adID, ip))
	}
	if userID != "" {
		keys = append(keys, fmt.Sprintf("dedup:imp:%s:user:%s", adID, userID))
	}
	return keys
}

// ClaimImpression atomically checks the dedup window for (ad, ip) and
// (ad, user). When a recent impression exists its id is returned with
// claimed=false. Otherwise candidateID is reserved for window and returned
// with claimed=true. With neither ip nor user there is nothing to dedup on.
func (r *RedisStore) ClaimImpression(ctx context.Context, adID, ip, userID, candidateID string, window time.Duration) (string, bool, error) {
	keys := dedupKeys(adID, ip, userID)
	if len(keys) == 0 {
		return candidateID, true, nil
	}
	res, err := claimScript.Run(ctx, r.Client, keys, candidateID, window.Milliseconds()).Slice()
	if err != nil {
		return "", false, fmt.Errorf("claim impression: %w", err)
	}
	if len(res) != 2 {
		return "", false, fmt.Errorf("claim impression: unexpected reply %v", res)
	}
	claimed, _ := res[0].(int64)
	id, _ := res[1].(string)
	return id, claimed == 1, nil
}

// ReleaseImpression drops a claim whose impression could not be stored so a
// retry is not swallowed as a duplicate. Only keys still holding id are removed.
func (r *RedisStore) ReleaseImpression(ctx context.Context, adID, ip, userID, id string) error {
	for _, k := range dedupKeys(adID, ip, userID) {
		v, err := r.Client.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return err
		}
		if v == id {
			if err := r.Client.Del(ctx, k).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

// dayKey formats the calendar day of t in its own location.
func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func frequencyKey(userID, adID string, day time.Time) string {
	return fmt.Sprintf("freqcap:%s:%s:%s", userID, adID, dayKey(day))
}

// nextMidnight returns the start of the day after t in t's location.
func nextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

// IncrementFrequency adds one to the user's counter for adID on now's
// calendar day. The key expires an hour after that day ends.
func (r *RedisStore) IncrementFrequency(ctx context.Context, userID, adID string, now time.Time) (int64, error) {
	key := frequencyKey(userID, adID, now)
	var incr *redis.IntCmd
	_, err := r.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireAt(ctx, key, nextMidnight(now).Add(time.Hour))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("increment frequency: %w", err)
	}
	return incr.Val(), nil
}

// FrequencyCounts returns today's impression count per ad for userID using a
// single pipeline. Ads with no counter are reported as zero.
func (r *RedisStore) FrequencyCounts(ctx context.Context, userID string, adIDs []string, now time.Time) (map[string]int64, error) {
	out := make(map[string]int64, len(adIDs))
	if len(adIDs) == 0 {
		return out, nil
	}
	pipe := r.Client.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(adIDs))
	for _, id := range adIDs {
		cmds[id] = pipe.Get(ctx, frequencyKey(userID, id, now))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("pipeline exec failed: %w", err)
	}
	for id, cmd := range cmds {
		n, err := cmd.Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("read frequency for %s: %w", id, err)
		}
		out[id] = n
	}
	return out, nil
}

// operationalPatterns match the keys FlushOperational removes.
var operationalPatterns = []string{"dedup:*", "freqcap:*"}

// FlushOperational deletes dedup claims and frequency counters, leaving any
// other keys alone. It returns the number of keys removed.
func (r *RedisStore) FlushOperational(ctx context.Context) (int, error) {
	deleted := 0
	for _, pattern := range operationalPatterns {
		iter := r.Client.Scan(ctx, 0, pattern, 500).Iterator()
		var batch []string
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return deleted, fmt.Errorf("scan %s: %w", pattern, err)
		}
		if len(batch) == 0 {
			continue
		}
		if err := r.Client.Del(ctx, batch...).Err(); err != nil {
			return deleted, fmt.Errorf("delete %s: %w", pattern, err)
		}
		deleted += len(batch)
	}
	return deleted, nil
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}
