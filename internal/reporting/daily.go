package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickwarner/addelivery/internal/models"
)

// Breakdown limits for DailyBreakdown.
const (
	DefaultReportDays = 7
	MaxReportDays     = 90
)

// DayMetrics is one calendar day of activity for an ad.
type DayMetrics struct {
	Day         string `json:"day"`
	Impressions int64  `json:"impressions"`
	Clicks      int64  `json:"clicks"`
	Completions int64  `json:"completions"`
	CTR         Rate   `json:"ctr"`
}

// AdReport is the per-day breakdown for one ad, oldest day first.
type AdReport struct {
	AdID   string        `json:"adId"`
	Title  string        `json:"title"`
	Type   models.AdType `json:"type"`
	Days   int           `json:"days"`
	Daily  []DayMetrics  `json:"daily"`
	Totals Totals        `json:"totals"`
}

// ClampDays applies the default and upper bound to a requested day count.
func ClampDays(days int) int {
	if days <= 0 {
		return DefaultReportDays
	}
	if days > MaxReportDays {
		return MaxReportDays
	}
	return days
}

// DailyBreakdown returns day-by-day counts for the ad over the last days
// calendar days including today. models.ErrNotFound when the ad does not
// exist.
func (a *Aggregator) DailyBreakdown(ctx context.Context, adID string, days int) (*AdReport, error) {
	days = ClampDays(days)
	ad, err := a.Ads.GetAd(ctx, adID)
	if err != nil {
		return nil, err
	}

	now := nowFn()
	y, m, d := now.Date()
	from := time.Date(y, m, d-days+1, 0, 0, 0, 0, now.Location())
	counts, err := a.Events.DailyCounts(ctx, adID, from, now)
	if err != nil {
		return nil, fmt.Errorf("daily counts: %w", err)
	}

	report := &AdReport{AdID: ad.ID, Title: ad.Title, Type: ad.Type, Days: days, Daily: make([]DayMetrics, 0, len(counts))}
	var imps, clicks, comps int64
	for _, c := range counts {
		report.Daily = append(report.Daily, DayMetrics{
			Day:         c.Day,
			Impressions: c.Impressions,
			Clicks:      c.Clicks,
			Completions: c.Completions,
			CTR:         NewRate(c.Clicks, c.Impressions),
		})
		imps += c.Impressions
		clicks += c.Clicks
		comps += c.Completions
	}
	report.Totals = newTotals(imps, clicks, comps)
	return report, nil
}
