// Package placement maps free-form placement strings onto the closed set of
// canonical placements and generates the spelling variants historical ad
// documents were stored with.
package placement

import (
	"strings"

	"github.com/patrickwarner/addelivery/internal/models"
)

// Canonical banner placements.
const (
	Home     = "HOME"
	Discover = "DISCOVER"
	Profile  = "PROFILE"
	Player   = "PLAYER"
	Sidebar  = "SIDEBAR"
	Search   = "SEARCH"
	Playlist = "PLAYLIST"
	Merch    = "MERCH"
	Events   = "EVENTS"
)

// Canonical audio placements.
const (
	PreRoll  = "PRE_ROLL"
	MidRoll  = "MID_ROLL"
	PostRoll = "POST_ROLL"
)

// Default is returned by Normalize when nothing matches.
const Default = Home

var bannerPlacements = []string{Home, Discover, Profile, Player, Sidebar, Search, Playlist, Merch, Events}

var audioPlacements = []string{PreRoll, MidRoll, PostRoll}

// aliases is keyed by the separator-normalized lower-case spelling.
var aliases = map[string]string{
	"homepage":       Home,
	"home_page":      Home,
	"main":           Home,
	"landing":        Home,
	"feed":           Home,
	"discovery":      Discover,
	"explore":        Discover,
	"browse":         Discover,
	"trending":       Discover,
	"user_profile":   Profile,
	"artist":         Profile,
	"artist_profile": Profile,
	"now_playing":    Player,
	"player_bar":     Player,
	"audio_player":   Player,
	"side_bar":       Sidebar,
	"side":           Sidebar,
	"right_rail":     Sidebar,
	"search_results": Search,
	"results":        Search,
	"playlists":      Playlist,
	"library":        Playlist,
	"merchandise":    Merch,
	"shop":           Merch,
	"store":          Merch,
	"event":          Events,
	"concerts":       Events,
	"shows":          Events,
	"tickets":        Events,
}

// canonicalKey lower-cases s and folds '-', ' ' and '.' into '_'.
func canonicalKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("-", "_", " ", "_", ".", "_").Replace(s)
	return strings.Trim(s, "_")
}

// Normalize maps a free-form banner placement to its canonical identifier.
// It never fails; unknown input yields Default.
func Normalize(raw string) string {
	key := canonicalKey(raw)
	key = strings.TrimPrefix(key, "banner_")
	if p, ok := aliases[key]; ok {
		return p
	}
	for _, p := range bannerPlacements {
		if strings.EqualFold(key, p) {
			return p
		}
	}
	return Default
}

// Resolve returns the canonical placement for the ad type. Banner input goes
// through Normalize; audio input is already canonical and is only upper-cased
// with separators folded to '_'.
func Resolve(adType models.AdType, raw string) string {
	if adType == models.AdTypeAudio {
		return strings.ToUpper(canonicalKey(raw))
	}
	return Normalize(raw)
}

// variantRules holds, per ad type, the spellings that historical documents
// may use for a canonical placement.
var variantRules = map[models.AdType]func(canonical string) []string{
	models.AdTypeBanner: func(c string) []string {
		lower := strings.ToLower(c)
		return []string{c, lower, "BANNER_" + c, "banner_" + lower}
	},
	models.AdTypeAudio: func(c string) []string {
		lower := strings.ToLower(c)
		joined := strings.ReplaceAll(c, "_", "")
		hyphen := strings.ReplaceAll(c, "_", "-")
		return []string{c, lower, joined, strings.ToLower(joined), hyphen, strings.ToLower(hyphen)}
	},
}

// Variants lists the spellings to match when querying ads of adType for the
// canonical placement. Duplicates are removed while preserving order.
func Variants(adType models.AdType, canonical string) []string {
	rule, ok := variantRules[adType]
	if !ok {
		return []string{canonical}
	}
	seen := make(map[string]struct{})
	var out []string
	for _, v := range rule(canonical) {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Canonical returns a copy of the closed placement set for adType.
func Canonical(adType models.AdType) []string {
	if adType == models.AdTypeAudio {
		return append([]string(nil), audioPlacements...)
	}
	return append([]string(nil), bannerPlacements...)
}

// Known reports whether canonical is a member of the closed set for adType.
func Known(adType models.AdType, canonical string) bool {
	for _, p := range Canonical(adType) {
		if p == canonical {
			return true
		}
	}
	return false
}
