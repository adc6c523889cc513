package filters

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/addelivery/internal/logic"
	"github.com/patrickwarner/addelivery/internal/models"
	"github.com/patrickwarner/addelivery/internal/observability"
)

// DefaultFallbackTolerance widens schedule bounds when the strict query
// comes back empty.
const DefaultFallbackTolerance = 5 * time.Minute

// Eligibility produces the candidate ads for a type and placement.
type Eligibility struct {
	Ads           models.AdStore
	Tolerance     time.Duration
	MaxCandidates int // 0 means unbounded
	Metrics       observability.MetricsRegistry
	Logger        *zap.Logger
}

// NewEligibility wires an eligibility filter with defaults for nil
// collaborators.
func NewEligibility(ads models.AdStore, tolerance time.Duration, maxCandidates int, metrics observability.MetricsRegistry, logger *zap.Logger) *Eligibility {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Eligibility{Ads: ads, Tolerance: tolerance, MaxCandidates: maxCandidates, Metrics: metrics, Logger: logger}
}

// Candidates runs the strict schedule-aware query and, when that yields
// nothing, repeats it with the schedule bounds widened by the lenient
// tolerance. Budget is enforced by the store and re-checked here.
func (e *Eligibility) Candidates(ctx context.Context, adType models.AdType, variants []string, now time.Time, trace *logic.SelectionTrace) ([]models.Ad, error) {
	q := models.EligibilityQuery{
		Type:            adType,
		Placements:      variants,
		Now:             now,
		EnforceSchedule: true,
		Limit:           e.MaxCandidates,
	}
	ads, err := e.Ads.FindEligibleAds(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("strict eligibility query: %w", err)
	}
	trace.AddStep("strict", ads)

	if len(ads) == 0 {
		tolerance := e.Tolerance
		if tolerance <= 0 {
			tolerance = DefaultFallbackTolerance
		}
		q.Tolerance = tolerance
		ads, err = e.Ads.FindEligibleAds(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("fallback eligibility query: %w", err)
		}
		ads = FilterBySchedule(ads, now, tolerance)
		e.Metrics.IncrementFallbackQueries(string(adType))
		e.Logger.Debug("strict eligibility empty, used fallback",
			zap.String("ad_type", string(adType)),
			zap.Int("in_tolerance", len(ads)))
		trace.AddStepWithDetails("fallback", ads, map[string]string{
			"tolerance": tolerance.String(),
		})
	}

	ads = FilterByBudget(ads)
	trace.AddStep("budget", ads)
	return ads, nil
}
