package models

import "time"

// Campaign groups ads. An ad that references a campaign is ranked ahead of
// ads without one; the optional budget is informational for the authoring
// tool and is not enforced by selection.
type Campaign struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name"`
	Budget    *float64  `json:"budget,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
