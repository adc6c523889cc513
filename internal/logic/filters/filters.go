package filters

import (
	"time"

	"github.com/patrickwarner/addelivery/internal/models"
)

// FilterBySelectable removes ads that are not active, approved and live.
func FilterBySelectable(ads []models.Ad) []models.Ad {
	var out []models.Ad
	for _, a := range ads {
		if a.Selectable() {
			out = append(out, a)
		}
	}
	return out
}

// FilterBySchedule keeps ads whose schedule window, widened by tolerance on
// both sides, contains now. Missing bounds never exclude an ad.
func FilterBySchedule(ads []models.Ad, now time.Time, tolerance time.Duration) []models.Ad {
	var out []models.Ad
	for _, a := range ads {
		if a.InSchedule(now, tolerance) {
			out = append(out, a)
		}
	}
	return out
}

// FilterByBudget removes ads whose tracked remaining budget is exhausted.
func FilterByBudget(ads []models.Ad) []models.Ad {
	var out []models.Ad
	for _, a := range ads {
		if a.HasBudget() {
			out = append(out, a)
		}
	}
	return out
}

// FilterByPlacement keeps ads listing any of the placement variants.
func FilterByPlacement(ads []models.Ad, variants []string) []models.Ad {
	var out []models.Ad
	for _, a := range ads {
		if a.MatchesAnyPlacement(variants) {
			out = append(out, a)
		}
	}
	return out
}
