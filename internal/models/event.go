package models

import "time"

// EventKind names one of the three append-only event logs.
type EventKind string

const (
	EventImpression EventKind = "impression"
	EventClick      EventKind = "click"
	EventCompletion EventKind = "completion"
)

// Counter returns the ad counter incremented when an event of this kind is
// recorded.
func (k EventKind) Counter() Counter {
	switch k {
	case EventClick:
		return CounterClicks
	case EventCompletion:
		return CounterCompletions
	default:
		return CounterImpressions
	}
}

// DefaultCompletionPlacement is recorded when a completion omits placement.
const DefaultCompletionPlacement = "player"

// ImpressionEvent records one rendering of an ad. UserID is empty for
// anonymous requesters.
type ImpressionEvent struct {
	ID        string     `json:"_id"`
	AdID      string     `json:"adId"`
	AdType    AdType     `json:"adType"`
	UserID    string     `json:"userId,omitempty"`
	Placement string     `json:"placement"`
	Device    DeviceInfo `json:"deviceInfo"`
	Timestamp time.Time  `json:"timestamp"`
	IPAddress string     `json:"ipAddress,omitempty"`
	UserAgent string     `json:"userAgent,omitempty"`
}

// ClickEvent records a click-through. ImpressionID optionally points back to
// the impression that triggered it.
type ClickEvent struct {
	ID           string    `json:"_id"`
	AdID         string    `json:"adId"`
	AdType       AdType    `json:"adType"`
	ImpressionID string    `json:"impressionId,omitempty"`
	UserID       string    `json:"userId,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	IPAddress    string    `json:"ipAddress,omitempty"`
	UserAgent    string    `json:"userAgent,omitempty"`
}

// CompletionEvent records an ad played or viewed to the end.
type CompletionEvent struct {
	ID           string    `json:"_id"`
	AdID         string    `json:"adId"`
	AdType       AdType    `json:"adType"`
	ImpressionID string    `json:"impressionId,omitempty"`
	UserID       string    `json:"userId,omitempty"`
	Placement    string    `json:"placement"`
	Timestamp    time.Time `json:"timestamp"`
	IPAddress    string    `json:"ipAddress,omitempty"`
	UserAgent    string    `json:"userAgent,omitempty"`
}
