package logic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patrickwarner/addelivery/internal/analytics"
	"github.com/patrickwarner/addelivery/internal/db"
	"github.com/patrickwarner/addelivery/internal/models"
	"github.com/patrickwarner/addelivery/internal/observability"
	"github.com/patrickwarner/addelivery/internal/placement"
)

// Defaults used when a Recorder field is left zero.
const (
	DefaultDedupWindow    = 30 * time.Second
	DefaultCounterRetries = 3
	defaultRetryBackoff   = 50 * time.Millisecond
)

// ImpressionInput is a request to record one rendering of an ad. UserID is
// empty for anonymous requesters.
type ImpressionInput struct {
	AdID      string
	AdType    string
	Placement string
	UserID    string
	IPAddress string
	UserAgent string
	Device    models.DeviceInfo
}

// ImpressionResult identifies the stored impression. Duplicate is set when an
// impression from the same address or user was already recorded inside the
// dedup window; ID then refers to that earlier record.
type ImpressionResult struct {
	ID        string
	AdID      string
	AdType    models.AdType
	Placement string
	Duplicate bool
}

// InteractionInput is a click or completion report.
type InteractionInput struct {
	AdID         string
	AdType       string
	ImpressionID string
	Placement    string // completions only
	UserID       string
	IPAddress    string
	UserAgent    string
}

// InteractionResult identifies a stored click or completion.
type InteractionResult struct {
	ID        string
	AdID      string
	AdType    models.AdType
	Placement string
}

// Recorder writes engagement events and keeps the per-ad counters in step.
type Recorder struct {
	Ads     models.AdStore
	Events  analytics.EventLog
	Redis   *db.RedisStore
	Capper  *FrequencyCapper
	Metrics observability.MetricsRegistry
	Logger  *zap.Logger

	DedupWindow    time.Duration
	CounterRetries int
	RetryBackoff   time.Duration
}

func (r *Recorder) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func (r *Recorder) metrics() observability.MetricsRegistry {
	if r.Metrics == nil {
		return observability.NewNoOpRegistry()
	}
	return r.Metrics
}

func (r *Recorder) dedupWindow() time.Duration {
	if r.DedupWindow <= 0 {
		return DefaultDedupWindow
	}
	return r.DedupWindow
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", models.ErrInvalidInput, fmt.Sprintf(format, args...))
}

// validateAd checks the identifiers every event carries.
func validateAd(adID, adType string) (models.AdType, error) {
	if adID == "" {
		return "", invalid("adId is required")
	}
	if _, err := uuid.Parse(adID); err != nil {
		return "", invalid("invalid adId %q", adID)
	}
	if adType == "" {
		return "", invalid("adType is required")
	}
	t, ok := models.ParseAdType(adType)
	if !ok {
		return "", invalid("adType must be AUDIO or BANNER")
	}
	return t, nil
}

// RecordImpression stores an impression unless one for the same ad from the
// same address or user exists inside the dedup window.
func (r *Recorder) RecordImpression(ctx context.Context, in ImpressionInput) (ImpressionResult, error) {
	adType, err := validateAd(in.AdID, in.AdType)
	if err != nil {
		return ImpressionResult{}, err
	}
	if strings.TrimSpace(in.Placement) == "" {
		return ImpressionResult{}, invalid("placement is required")
	}
	place := placement.Resolve(adType, in.Placement)
	res := ImpressionResult{AdID: in.AdID, AdType: adType, Placement: place}

	now := nowFn()
	existing, claimed, err := r.claim(ctx, in, uuid.NewString(), now)
	if err != nil {
		return res, err
	}
	res.ID = existing
	if !claimed {
		res.Duplicate = true
		r.metrics().IncrementDuplicateImpressions()
		r.logger().Debug("duplicate impression", zap.String("ad_id", in.AdID), zap.String("impression_id", existing))
		return res, nil
	}

	ev := models.ImpressionEvent{
		ID:        res.ID,
		AdID:      in.AdID,
		AdType:    adType,
		UserID:    in.UserID,
		Placement: place,
		Device:    in.Device,
		Timestamp: now,
		IPAddress: in.IPAddress,
		UserAgent: in.UserAgent,
	}
	if err := r.Events.InsertImpression(ctx, ev); err != nil {
		r.release(ctx, in, res.ID)
		return res, fmt.Errorf("record impression: %w", err)
	}
	r.metrics().IncrementEvent(string(models.EventImpression))

	r.incrementCounter(ctx, adType, in.AdID, models.CounterImpressions)
	if r.Capper != nil {
		if err := r.Capper.Record(ctx, in.UserID, in.AdID); err != nil {
			r.logger().Warn("frequency counter increment failed", zap.Error(err), zap.String("ad_id", in.AdID))
		}
	}
	return res, nil
}

// claim reserves candidateID for the impression or returns the id already
// holding the dedup window. Redis makes the check and reservation atomic;
// without it the event log is consulted, which leaves a small race.
func (r *Recorder) claim(ctx context.Context, in ImpressionInput, candidateID string, now time.Time) (string, bool, error) {
	window := r.dedupWindow()
	if r.Redis != nil && r.Redis.Client != nil {
		id, claimed, err := r.Redis.ClaimImpression(ctx, in.AdID, in.IPAddress, in.UserID, candidateID, window)
		if err == nil {
			return id, claimed, nil
		}
		r.logger().Warn("redis dedup claim failed, checking event log", zap.Error(err))
		r.metrics().IncrementStoreFallbacks("dedup")
	}
	id, found, err := r.Events.FindRecentImpression(ctx, in.AdID, in.IPAddress, in.UserID, now.Add(-window))
	if err != nil {
		// Recording beats dropping: a rare duplicate is cheaper than a lost impression.
		r.logger().Warn("dedup lookup failed, recording impression", zap.Error(err))
		return candidateID, true, nil
	}
	if found {
		return id, false, nil
	}
	return candidateID, true, nil
}

func (r *Recorder) release(ctx context.Context, in ImpressionInput, id string) {
	if r.Redis == nil || r.Redis.Client == nil {
		return
	}
	if err := r.Redis.ReleaseImpression(ctx, in.AdID, in.IPAddress, in.UserID, id); err != nil {
		r.logger().Warn("release dedup claim", zap.Error(err), zap.String("impression_id", id))
	}
}

// RecordClick stores a click. Clicks are never deduplicated.
func (r *Recorder) RecordClick(ctx context.Context, in InteractionInput) (InteractionResult, error) {
	adType, err := validateAd(in.AdID, in.AdType)
	if err != nil {
		return InteractionResult{}, err
	}
	ev := models.ClickEvent{
		ID:           uuid.NewString(),
		AdID:         in.AdID,
		AdType:       adType,
		ImpressionID: in.ImpressionID,
		UserID:       in.UserID,
		Timestamp:    nowFn(),
		IPAddress:    in.IPAddress,
		UserAgent:    in.UserAgent,
	}
	if err := r.Events.InsertClick(ctx, ev); err != nil {
		return InteractionResult{}, fmt.Errorf("record click: %w", err)
	}
	r.metrics().IncrementEvent(string(models.EventClick))
	r.incrementCounter(ctx, adType, in.AdID, models.CounterClicks)
	return InteractionResult{ID: ev.ID, AdID: ev.AdID, AdType: adType}, nil
}

// RecordCompletion stores a completion. Placement defaults to
// models.DefaultCompletionPlacement.
func (r *Recorder) RecordCompletion(ctx context.Context, in InteractionInput) (InteractionResult, error) {
	adType, err := validateAd(in.AdID, in.AdType)
	if err != nil {
		return InteractionResult{}, err
	}
	place := strings.TrimSpace(in.Placement)
	if place == "" {
		place = models.DefaultCompletionPlacement
	}
	ev := models.CompletionEvent{
		ID:           uuid.NewString(),
		AdID:         in.AdID,
		AdType:       adType,
		ImpressionID: in.ImpressionID,
		UserID:       in.UserID,
		Placement:    place,
		Timestamp:    nowFn(),
		IPAddress:    in.IPAddress,
		UserAgent:    in.UserAgent,
	}
	if err := r.Events.InsertCompletion(ctx, ev); err != nil {
		return InteractionResult{}, fmt.Errorf("record completion: %w", err)
	}
	r.metrics().IncrementEvent(string(models.EventCompletion))
	r.incrementCounter(ctx, adType, in.AdID, models.CounterCompletions)
	return InteractionResult{ID: ev.ID, AdID: ev.AdID, AdType: adType, Placement: place}, nil
}

// incrementCounter applies the atomic counter update, retrying transient
// failures. The event is already stored, so a final failure is logged and
// counted instead of failing the request.
func (r *Recorder) incrementCounter(ctx context.Context, adType models.AdType, adID string, c models.Counter) {
	retries := r.CounterRetries
	if retries <= 0 {
		retries = DefaultCounterRetries
	}
	backoff := r.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}

	var err error
attempts:
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				err = ctx.Err()
				break attempts
			case <-time.After(backoff * time.Duration(attempt)):
			}
		}
		err = r.Ads.IncrementCounter(ctx, adType, adID, c)
		if err == nil {
			return
		}
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrInvalidInput) {
			r.logger().Warn("event recorded for unknown ad", zap.String("ad_id", adID), zap.String("ad_type", string(adType)))
			return
		}
	}
	r.metrics().IncrementCounterFailures(string(c))
	r.logger().Error("ad counter increment failed",
		zap.Error(err),
		zap.String("ad_id", adID),
		zap.String("counter", string(c)),
		zap.Int("attempts", retries))
}
