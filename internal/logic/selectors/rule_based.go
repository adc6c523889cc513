package selectors

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/addelivery/internal/logic"
	"github.com/patrickwarner/addelivery/internal/logic/filters"
	"github.com/patrickwarner/addelivery/internal/models"
	"github.com/patrickwarner/addelivery/internal/observability"
	"github.com/patrickwarner/addelivery/internal/placement"
)

// Selection limits used when the selector is built without explicit values.
const (
	DefaultLimit = 5
	MaxLimit     = 50
)

// nowFn is replaced in tests.
var nowFn = time.Now

// RuleBasedSelector is the default Selector: placement normalization,
// eligibility, frequency capping, then campaign-first rotation ranking.
type RuleBasedSelector struct {
	eligibility  *filters.Eligibility
	capper       *logic.FrequencyCapper
	metrics      observability.MetricsRegistry
	logger       *zap.Logger
	defaultLimit int
	maxLimit     int
}

var _ Selector = (*RuleBasedSelector)(nil)

// NewRuleBasedSelector constructs a selector. capper may be nil, in which
// case no frequency capping is applied.
func NewRuleBasedSelector(eligibility *filters.Eligibility, capper *logic.FrequencyCapper) *RuleBasedSelector {
	return &RuleBasedSelector{
		eligibility:  eligibility,
		capper:       capper,
		metrics:      observability.NewNoOpRegistry(),
		logger:       zap.NewNop(),
		defaultLimit: DefaultLimit,
		maxLimit:     MaxLimit,
	}
}

// SetMetrics configures the metrics registry.
func (s *RuleBasedSelector) SetMetrics(m observability.MetricsRegistry) {
	if m != nil {
		s.metrics = m
	}
}

// SetLogger configures the logger for this selector.
func (s *RuleBasedSelector) SetLogger(logger *zap.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetLimits overrides the default and maximum result counts. Non-positive
// values leave the current setting in place.
func (s *RuleBasedSelector) SetLimits(defaultLimit, maxLimit int) {
	if defaultLimit > 0 {
		s.defaultLimit = defaultLimit
	}
	if maxLimit > 0 {
		s.maxLimit = maxLimit
	}
}

// SelectAds returns up to req.Limit eligible ads in serving order. No
// eligible ad is an empty slice, not an error.
func (s *RuleBasedSelector) SelectAds(ctx context.Context, req Request) ([]models.Ad, error) {
	return s.performSelection(ctx, req, nil)
}

// SelectAdsWithTrace behaves like SelectAds but records the candidate list
// after every stage.
func (s *RuleBasedSelector) SelectAdsWithTrace(ctx context.Context, req Request, trace *logic.SelectionTrace) ([]models.Ad, error) {
	return s.performSelection(ctx, req, trace)
}

func (s *RuleBasedSelector) performSelection(ctx context.Context, req Request, trace *logic.SelectionTrace) ([]models.Ad, error) {
	if strings.TrimSpace(req.Type) == "" || strings.TrimSpace(req.Placement) == "" {
		return nil, fmt.Errorf("%w: type and placement are required", models.ErrInvalidInput)
	}
	adType, ok := models.ParseAdType(req.Type)
	if !ok {
		return nil, fmt.Errorf("%w: type must be AUDIO or BANNER", models.ErrInvalidInput)
	}
	limit := s.clampLimit(req.Limit)

	canonical := placement.Resolve(adType, req.Placement)
	variants := placement.Variants(adType, canonical)

	ads, err := s.eligibility.Candidates(ctx, adType, variants, nowFn(), trace)
	if err != nil {
		s.metrics.IncrementSelections(string(adType), "error")
		return nil, err
	}

	if req.UserID != "" && s.capper != nil {
		ads = s.capper.Filter(ctx, req.UserID, ads)
		trace.AddStep("frequency", ads)
	}

	ads = Rank(ads)
	if len(ads) > limit {
		ads = ads[:limit]
	}
	trace.AddStep("rank", ads)

	outcome := "served"
	if len(ads) == 0 {
		outcome = "empty"
		ads = []models.Ad{}
	}
	s.metrics.IncrementSelections(string(adType), outcome)
	s.logger.Debug("ads selected",
		zap.String("ad_type", string(adType)),
		zap.String("placement", canonical),
		zap.Int("count", len(ads)),
		zap.Bool("identified", req.UserID != ""))
	return ads, nil
}

func (s *RuleBasedSelector) clampLimit(n int) int {
	if n <= 0 {
		return s.defaultLimit
	}
	if n > s.maxLimit {
		return s.maxLimit
	}
	return n
}

// Rank orders ads campaign-backed first, then by ascending impression count
// so less-seen ads surface. Ties keep their incoming order.
func Rank(ads []models.Ad) []models.Ad {
	sort.SliceStable(ads, func(i, j int) bool { return models.RankLess(ads[i], ads[j]) })
	return ads
}
