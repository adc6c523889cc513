package selectors

import (
	"context"

	"github.com/patrickwarner/addelivery/internal/models"
)

// Request describes one selection call. Type and Placement are taken as the
// caller sent them; UserID is empty for anonymous lookups.
type Request struct {
	Type      string
	Placement string
	Limit     int
	UserID    string
}

// Selector defines a pluggable interface for ad selection.
type Selector interface {
	SelectAds(ctx context.Context, req Request) ([]models.Ad, error)
}
