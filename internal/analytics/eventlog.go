package analytics

import (
	"context"
	"errors"
	"time"

	"github.com/patrickwarner/addelivery/internal/models"
)

// ErrUnavailable is returned when the event log backend is not configured.
var ErrUnavailable = errors.New("analytics unavailable")

// EventQuery selects events of one kind inside [From, To]. Empty AdID and
// AdType match everything.
type EventQuery struct {
	Kind   models.EventKind
	AdID   string
	AdType models.AdType
	From   time.Time
	To     time.Time
}

// AdCount is an event tally for a single ad.
type AdCount struct {
	AdID   string
	AdType models.AdType
	Count  int64
}

// DayCount holds one calendar day of activity for an ad.
type DayCount struct {
	Day         string `json:"day"` // YYYY-MM-DD
	Impressions int64  `json:"impressions"`
	Clicks      int64  `json:"clicks"`
	Completions int64  `json:"completions"`
}

// EventLog is the append-only store for impressions, clicks and completions.
// Implementations must be safe for concurrent use.
type EventLog interface {
	InsertImpression(ctx context.Context, ev models.ImpressionEvent) error
	InsertClick(ctx context.Context, ev models.ClickEvent) error
	InsertCompletion(ctx context.Context, ev models.CompletionEvent) error

	// FindRecentImpression returns the newest impression of adID at or after
	// since whose ip or user matches. Empty ip/userID never match.
	FindRecentImpression(ctx context.Context, adID, ip, userID string, since time.Time) (string, bool, error)
	// ImpressionCountsSince tallies the user's impressions per ad.
	ImpressionCountsSince(ctx context.Context, userID string, since time.Time) (map[string]int64, error)

	CountEvents(ctx context.Context, q EventQuery) (int64, error)
	// TopAdsByImpressions returns up to n ads ordered by impression count,
	// highest first. Ties break on ad id.
	TopAdsByImpressions(ctx context.Context, adType models.AdType, from, to time.Time, n int) ([]AdCount, error)
	// DailyCounts returns one entry per calendar day in [from, to], oldest
	// first, including days without events.
	DailyCounts(ctx context.Context, adID string, from, to time.Time) ([]DayCount, error)
	RecentImpressions(ctx context.Context, adID string, n int) ([]models.ImpressionEvent, error)
}

const dayLayout = "2006-01-02"

// fillDays lays out every calendar day between from and to (in from's
// location) and copies in whatever counts were found.
func fillDays(from, to time.Time, found map[string]*DayCount) []DayCount {
	to = to.In(from.Location())
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	var out []DayCount
	for d := start; !d.After(to); d = d.AddDate(0, 0, 1) {
		key := d.Format(dayLayout)
		if dc, ok := found[key]; ok {
			out = append(out, *dc)
			continue
		}
		out = append(out, DayCount{Day: key})
	}
	return out
}
