package models

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when an ad or campaign does not exist.
	ErrNotFound = errors.New("entity not found")
	// ErrInvalidInput marks request validation failures. Wrapped errors carry
	// the descriptive message returned to the client.
	ErrInvalidInput = errors.New("invalid input")
)

// AdType distinguishes the two ad variants. Each variant lives in its own
// table but shares the Ad shape.
type AdType string

const (
	AdTypeAudio  AdType = "AUDIO"
	AdTypeBanner AdType = "BANNER"
)

// ParseAdType accepts the wire value in any case. An empty or unknown value
// returns false.
func ParseAdType(s string) (AdType, bool) {
	switch AdType(strings.ToUpper(strings.TrimSpace(s))) {
	case AdTypeAudio:
		return AdTypeAudio, true
	case AdTypeBanner:
		return AdTypeBanner, true
	}
	return "", false
}

// AdTypes lists every known ad type in a stable order.
func AdTypes() []AdType {
	return []AdType{AdTypeAudio, AdTypeBanner}
}

// Ad status values.
const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
)

// Counter names a running counter on an ad. Counters are only ever changed
// through AdStore.IncrementCounter.
type Counter string

const (
	CounterImpressions Counter = "impressions"
	CounterClicks      Counter = "clicks"
	CounterCompletions Counter = "completions"
)

// Ad is an audio or banner advertisement as stored by the authoring tool.
// Ads are never hard-deleted; IsDeleted flips instead so historical events
// keep resolving.
type Ad struct {
	ID    string `json:"_id"`
	Type  AdType `json:"type"`
	Title string `json:"title"`

	// Creative references. Banner ads use ImageURL; audio ads use AudioURL
	// and DurationSeconds and may carry cover art in ImageURL.
	ImageURL        string `json:"imageUrl,omitempty"`
	AudioURL        string `json:"audioUrl,omitempty"`
	DurationSeconds int    `json:"duration,omitempty"`
	ClickURL        string `json:"clickUrl,omitempty"`

	Status     string   `json:"status"`
	Approved   bool     `json:"approved"`
	IsDeleted  *bool    `json:"isDeleted,omitempty"`
	Placements []string `json:"placements"`

	CampaignID      *string    `json:"campaignId,omitempty"`
	RemainingBudget *float64   `json:"remainingBudget,omitempty"`
	StartAt         *time.Time `json:"startAt,omitempty"`
	EndAt           *time.Time `json:"endAt,omitempty"`

	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Completions int64   `json:"completions"`
	Revenue     float64 `json:"revenue"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Selectable reports the base eligibility invariant: active, approved and
// not soft-deleted. Schedule and budget are checked separately.
func (a Ad) Selectable() bool {
	deleted := a.IsDeleted != nil && *a.IsDeleted
	return a.Status == StatusActive && a.Approved && !deleted
}

// HasCampaign reports whether the ad is backed by a campaign.
func (a Ad) HasCampaign() bool {
	return a.CampaignID != nil && *a.CampaignID != ""
}

// RankLess orders campaign-backed ads before house ads, then by ascending
// impression count.
func RankLess(a, b Ad) bool {
	if ca, cb := a.HasCampaign(), b.HasCampaign(); ca != cb {
		return ca
	}
	return a.Impressions < b.Impressions
}

// InSchedule reports whether now falls inside the ad's schedule window after
// widening both bounds by tolerance. Missing bounds are unconstrained.
func (a Ad) InSchedule(now time.Time, tolerance time.Duration) bool {
	if a.StartAt != nil && a.StartAt.After(now.Add(tolerance)) {
		return false
	}
	if a.EndAt != nil && a.EndAt.Before(now.Add(-tolerance)) {
		return false
	}
	return true
}

// HasBudget reports whether the ad may still spend. Ads without a tracked
// budget are unconstrained.
func (a Ad) HasBudget() bool {
	return a.RemainingBudget == nil || *a.RemainingBudget > 0
}

// MatchesAnyPlacement reports whether the ad lists one of the given
// placement strings verbatim.
func (a Ad) MatchesAnyPlacement(variants []string) bool {
	for _, p := range a.Placements {
		for _, v := range variants {
			if p == v {
				return true
			}
		}
	}
	return false
}
