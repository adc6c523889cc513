package placement

import (
	"testing"

	"github.com/patrickwarner/addelivery/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"homepage":         Home,
		"Home Page":        Home,
		"HOME":             Home,
		"home":             Home,
		"BANNER_HOME":      Home,
		"banner-discover":  Discover,
		"discovery":        Discover,
		"Artist-Profile":   Profile,
		"now.playing":      Player,
		"side bar":         Sidebar,
		"search":           Search,
		"Playlists":        Playlist,
		"merchandise":      Merch,
		"events":           Events,
		"":                 Default,
		"somewhere-random": Default,
	}
	for in, want := range tests {
		assert.Equal(t, want, Normalize(in), "Normalize(%q)", in)
	}
}

func TestResolveAudioIsNotNormalized(t *testing.T) {
	assert.Equal(t, PreRoll, Resolve(models.AdTypeAudio, "pre-roll"))
	assert.Equal(t, MidRoll, Resolve(models.AdTypeAudio, "MID_ROLL"))
	// Audio placements never fall back to the banner default.
	assert.Equal(t, "HOMEPAGE", Resolve(models.AdTypeAudio, "homepage"))
	assert.Equal(t, Home, Resolve(models.AdTypeBanner, "homepage"))
}

func TestVariants(t *testing.T) {
	assert.Equal(t, []string{"HOME", "home", "BANNER_HOME", "banner_home"}, Variants(models.AdTypeBanner, Home))
	assert.Equal(t,
		[]string{"PRE_ROLL", "pre_roll", "PREROLL", "preroll", "PRE-ROLL", "pre-roll"},
		Variants(models.AdTypeAudio, PreRoll))
	assert.Equal(t, []string{"X"}, Variants(models.AdType("VIDEO"), "X"))
}

func TestKnown(t *testing.T) {
	assert.True(t, Known(models.AdTypeBanner, Merch))
	assert.False(t, Known(models.AdTypeBanner, PreRoll))
	assert.True(t, Known(models.AdTypeAudio, PostRoll))
}

func TestCanonicalReturnsCopy(t *testing.T) {
	audio := Canonical(models.AdTypeAudio)
	assert.Equal(t, []string{PreRoll, MidRoll, PostRoll}, audio)
	audio[0] = "changed"
	assert.Equal(t, PreRoll, Canonical(models.AdTypeAudio)[0])
	assert.Len(t, Canonical(models.AdTypeBanner), 9)
}
