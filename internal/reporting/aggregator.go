// Package reporting turns the event logs into performance rollups: per-ad
// and platform-wide totals with click-through and completion rates, the top
// performers by impressions, and per-day breakdowns.
package reporting

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/patrickwarner/addelivery/internal/analytics"
	"github.com/patrickwarner/addelivery/internal/models"
)

// DefaultTopPerformers is the length of the platform top list.
const DefaultTopPerformers = 5

// nowFn is replaced in tests.
var nowFn = time.Now

// Totals are event counts over a window with the derived rates.
type Totals struct {
	Impressions    int64 `json:"impressions"`
	Clicks         int64 `json:"clicks"`
	Completions    int64 `json:"completions"`
	CTR            Rate  `json:"ctr"`            // clicks / impressions * 100
	CompletionRate Rate  `json:"completionRate"` // completions / impressions * 100
}

func newTotals(impressions, clicks, completions int64) Totals {
	return Totals{
		Impressions:    impressions,
		Clicks:         clicks,
		Completions:    completions,
		CTR:            NewRate(clicks, impressions),
		CompletionRate: NewRate(completions, impressions),
	}
}

// AdSummary is the per-ad rollup.
type AdSummary struct {
	AdID   string        `json:"adId"`
	Title  string        `json:"title"`
	Type   models.AdType `json:"type"`
	Period Period        `json:"period"`
	From   time.Time     `json:"from"`
	To     time.Time     `json:"to"`
	Totals
}

// Performer is one row of the platform top list.
type Performer struct {
	AdID        string        `json:"adId"`
	Title       string        `json:"title"`
	Type        models.AdType `json:"type"`
	Impressions int64         `json:"impressions"`
	Clicks      int64         `json:"clicks"`
	CTR         Rate          `json:"ctr"`
}

// PlatformSummary is the rollup across every ad, optionally for one type.
type PlatformSummary struct {
	Type          models.AdType           `json:"type,omitempty"`
	Period        Period                  `json:"period"`
	From          time.Time               `json:"from"`
	To            time.Time               `json:"to"`
	ActiveAds     map[models.AdType]int64 `json:"activeAds"`
	TopPerformers []Performer             `json:"topPerformers"`
	Totals
}

// Aggregator computes rollups from the event log and ad store.
type Aggregator struct {
	Ads    models.AdStore
	Events analytics.EventLog
	TopN   int
	Logger *zap.Logger
}

// NewAggregator builds an Aggregator. topN <= 0 uses DefaultTopPerformers.
func NewAggregator(ads models.AdStore, events analytics.EventLog, topN int, logger *zap.Logger) *Aggregator {
	if topN <= 0 {
		topN = DefaultTopPerformers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{Ads: ads, Events: events, TopN: topN, Logger: logger}
}

// countAll runs the three event counts for q concurrently.
func (a *Aggregator) countAll(ctx context.Context, q analytics.EventQuery) (Totals, error) {
	var imps, clicks, comps int64
	g, gctx := errgroup.WithContext(ctx)
	count := func(kind models.EventKind, dst *int64) {
		g.Go(func() error {
			kq := q
			kq.Kind = kind
			n, err := a.Events.CountEvents(gctx, kq)
			if err != nil {
				return fmt.Errorf("count %s events: %w", kind, err)
			}
			*dst = n
			return nil
		})
	}
	count(models.EventImpression, &imps)
	count(models.EventClick, &clicks)
	count(models.EventCompletion, &comps)
	if err := g.Wait(); err != nil {
		return Totals{}, err
	}
	return newTotals(imps, clicks, comps), nil
}

// AdSummary returns the rollup for one ad. models.ErrNotFound when the ad
// does not exist.
func (a *Aggregator) AdSummary(ctx context.Context, adID string, period Period) (*AdSummary, error) {
	ad, err := a.Ads.GetAd(ctx, adID)
	if err != nil {
		return nil, err
	}
	from, to := period.Window(nowFn())
	totals, err := a.countAll(ctx, analytics.EventQuery{AdID: adID, From: from, To: to})
	if err != nil {
		return nil, err
	}
	return &AdSummary{
		AdID:   ad.ID,
		Title:  ad.Title,
		Type:   ad.Type,
		Period: period,
		From:   from,
		To:     to,
		Totals: totals,
	}, nil
}

// PlatformSummary returns totals across all ads (of adType when set), the
// number of currently selectable ads per type and the top performers.
func (a *Aggregator) PlatformSummary(ctx context.Context, adType models.AdType, period Period) (*PlatformSummary, error) {
	from, to := period.Window(nowFn())
	totals, err := a.countAll(ctx, analytics.EventQuery{AdType: adType, From: from, To: to})
	if err != nil {
		return nil, err
	}

	types := models.AdTypes()
	if adType != "" {
		types = []models.AdType{adType}
	}
	active := make(map[models.AdType]int64, len(types))
	for _, t := range types {
		n, err := a.Ads.CountActiveAds(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("count active %s ads: %w", t, err)
		}
		active[t] = n
	}

	top, err := a.topPerformers(ctx, adType, from, to)
	if err != nil {
		return nil, err
	}
	return &PlatformSummary{
		Type:          adType,
		Period:        period,
		From:          from,
		To:            to,
		ActiveAds:     active,
		TopPerformers: top,
		Totals:        totals,
	}, nil
}

// topPerformers ranks ads by impressions in the window and attaches each
// one's clicks in the same window and its title.
func (a *Aggregator) topPerformers(ctx context.Context, adType models.AdType, from, to time.Time) ([]Performer, error) {
	counts, err := a.Events.TopAdsByImpressions(ctx, adType, from, to, a.TopN)
	if err != nil {
		return nil, fmt.Errorf("top ads: %w", err)
	}
	out := make([]Performer, len(counts))
	if len(counts) == 0 {
		return out, nil
	}

	ids := make([]string, len(counts))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range counts {
		ids[i] = c.AdID
		out[i] = Performer{AdID: c.AdID, Type: c.AdType, Impressions: c.Count}
		g.Go(func() error {
			clicks, err := a.Events.CountEvents(gctx, analytics.EventQuery{
				Kind: models.EventClick,
				AdID: c.AdID,
				From: from,
				To:   to,
			})
			if err != nil {
				return fmt.Errorf("count clicks for %s: %w", c.AdID, err)
			}
			out[i].Clicks = clicks
			out[i].CTR = NewRate(clicks, c.Count)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	titles, err := a.Ads.GetTitles(ctx, ids)
	if err != nil {
		// Titles are cosmetic; the counts are still worth returning.
		a.Logger.Warn("resolve top performer titles", zap.Error(err))
		return out, nil
	}
	for i := range out {
		out[i].Title = titles[out[i].AdID]
	}
	return out, nil
}
