// Package fingerprint derives a low-entropy, stable pseudo-identity for a
// browsing context from device and rendering signals. The result is a soft
// heuristic: collisions and drift (e.g. after a browser update) are expected,
// and nothing downstream may treat it as a security or billing boundary.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Length is the number of hex characters in a generated fingerprint.
const Length = 32

// Probes holds the raw signals collected from a browsing context. Any probe
// that could not be collected is left at its zero value; generation never
// fails because of a missing probe.
type Probes struct {
	ScreenWidth  int
	ScreenHeight int
	ColorDepth   int
	Locale       string
	Timezone     string
	Platform     string

	// Feature flags for storage APIs and touch support.
	HasLocalStorage   bool
	HasSessionStorage bool
	HasIndexedDB      bool
	HasTouch          bool

	// CanvasRaster is the encoded pixel output of a short deterministic
	// raster drawn to an offscreen surface. Empty when unsupported.
	CanvasRaster []byte

	// AudioProbe is the rendered output of an audio-path probe, already
	// serialized by the collector. Empty when unsupported.
	AudioProbe string
}

// Generate produces a fixed-length identifier from the collected probes.
// It is stable across reloads of the same context absent configuration
// changes, not guaranteed unique, and computed without any network call.
func Generate(p Probes) string {
	var b strings.Builder

	writeField(&b, intField(p.ScreenWidth))
	writeField(&b, intField(p.ScreenHeight))
	writeField(&b, intField(p.ColorDepth))
	writeField(&b, p.Locale)
	writeField(&b, p.Timezone)
	writeField(&b, p.Platform)
	writeField(&b, boolField(p.HasLocalStorage))
	writeField(&b, boolField(p.HasSessionStorage))
	writeField(&b, boolField(p.HasIndexedDB))
	writeField(&b, boolField(p.HasTouch))
	writeField(&b, canvasDigest(p.CanvasRaster))
	writeField(&b, p.AudioProbe)

	hash := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(hash[:])[:Length]
}

// writeField appends one probe value to the canonical string. Absent probes
// contribute an empty segment so the field positions stay stable.
func writeField(b *strings.Builder, value string) {
	b.WriteString(value)
	b.WriteByte('|')
}

func intField(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// canvasDigest hashes the raster bytes so large pixel buffers do not dominate
// the canonical string. An absent raster stays an empty field.
func canvasDigest(raster []byte) string {
	if len(raster) == 0 {
		return ""
	}
	sum := sha256.Sum256(raster)
	return hex.EncodeToString(sum[:8])
}
