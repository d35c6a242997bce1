package device

import (
	"fmt"
	"math/rand"

	"github.com/Iron-Ham/ptzexplore/internal/errors"
)

// Position is an absolute camera pose.
type Position struct {
	Pan  float64 `json:"pan" msgpack:"pan"`
	Tilt float64 `json:"tilt" msgpack:"tilt"`
	Zoom float64 `json:"zoom" msgpack:"zoom"`
}

// Vector returns the position as (pan, tilt, zoom).
func (p Position) Vector() []float64 {
	return []float64{p.Pan, p.Tilt, p.Zoom}
}

// String formats the position for logs.
func (p Position) String() string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f)", p.Pan, p.Tilt, p.Zoom)
}

// Bounds limits the poses used for random starting positions.
type Bounds struct {
	PanMin  float64 `mapstructure:"pan_min"`
	PanMax  float64 `mapstructure:"pan_max"`
	TiltMin float64 `mapstructure:"tilt_min"`
	TiltMax float64 `mapstructure:"tilt_max"`
	ZoomMin float64 `mapstructure:"zoom_min"`
	ZoomMax float64 `mapstructure:"zoom_max"`
}

// DefaultBounds returns the reference pose range.
func DefaultBounds() Bounds {
	return Bounds{
		PanMin: 0, PanMax: 360,
		TiltMin: 0, TiltMax: 90,
		ZoomMin: 1, ZoomMax: 10,
	}
}

// Validate checks every range is non-empty.
func (b Bounds) Validate() error {
	for _, r := range []struct {
		name     string
		min, max float64
	}{
		{"pan", b.PanMin, b.PanMax},
		{"tilt", b.TiltMin, b.TiltMax},
		{"zoom", b.ZoomMin, b.ZoomMax},
	} {
		if r.min > r.max {
			return errors.NewValidationError(
				fmt.Sprintf("%s range is empty: [%g, %g]", r.name, r.min, r.max),
			).WithField(r.name)
		}
	}
	return nil
}

// Contains reports whether p lies within the bounds.
func (b Bounds) Contains(p Position) bool {
	return p.Pan >= b.PanMin && p.Pan <= b.PanMax &&
		p.Tilt >= b.TiltMin && p.Tilt <= b.TiltMax &&
		p.Zoom >= b.ZoomMin && p.Zoom <= b.ZoomMax
}

// Clamp moves p to the nearest pose inside the bounds.
func (b Bounds) Clamp(p Position) Position {
	return Position{
		Pan:  clamp(p.Pan, b.PanMin, b.PanMax),
		Tilt: clamp(p.Tilt, b.TiltMin, b.TiltMax),
		Zoom: clamp(p.Zoom, b.ZoomMin, b.ZoomMax),
	}
}

// Random draws a uniform pose within the bounds.
func (b Bounds) Random(rng *rand.Rand) Position {
	return Position{
		Pan:  b.PanMin + rng.Float64()*(b.PanMax-b.PanMin),
		Tilt: b.TiltMin + rng.Float64()*(b.TiltMax-b.TiltMin),
		Zoom: b.ZoomMin + rng.Float64()*(b.ZoomMax-b.ZoomMin),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
