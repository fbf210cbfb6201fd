package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func fullProbes() Probes {
	return Probes{
		ScreenWidth:       1920,
		ScreenHeight:      1080,
		ColorDepth:        24,
		Locale:            "en-US",
		Timezone:          "Europe/Madrid",
		Platform:          "Linux x86_64",
		HasLocalStorage:   true,
		HasSessionStorage: true,
		HasIndexedDB:      true,
		HasTouch:          false,
		CanvasRaster:      []byte{0x89, 0x50, 0x4e, 0x47, 0x01, 0x02},
		AudioProbe:        "124.043217",
	}
}

func TestGenerateIsStable(t *testing.T) {
	first := Generate(fullProbes())
	second := Generate(fullProbes())

	assert.Equal(t, first, second)
	assert.Len(t, first, Length)
}

func TestGenerateDiffersAcrossContexts(t *testing.T) {
	base := Generate(fullProbes())

	changed := fullProbes()
	changed.Timezone = "America/New_York"
	assert.NotEqual(t, base, Generate(changed))

	changed = fullProbes()
	changed.ScreenWidth = 2560
	assert.NotEqual(t, base, Generate(changed))

	changed = fullProbes()
	changed.CanvasRaster = []byte{0x01}
	assert.NotEqual(t, base, Generate(changed))
}

func TestGenerateToleratesMissingProbes(t *testing.T) {
	assert.Len(t, Generate(Probes{}), Length)

	// A zeroed numeric probe and an absent one hash the same.
	partial := fullProbes()
	partial.ColorDepth = 0
	partial.CanvasRaster = nil
	partial.AudioProbe = ""
	assert.Len(t, Generate(partial), Length)
	assert.NotEqual(t, Generate(fullProbes()), Generate(partial))
}

func TestGenerateFieldBoundaries(t *testing.T) {
	// Values must not bleed across field positions.
	a := Generate(Probes{Locale: "en", Timezone: "US"})
	b := Generate(Probes{Locale: "enU", Timezone: "S"})
	assert.NotEqual(t, a, b)
}
