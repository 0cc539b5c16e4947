package lapse

import (
	"fmt"
	"math"
)

// Rotation is a clockwise quarter-turn applied to a sequence's frames on read.
type Rotation int

const (
	RotationNone Rotation = 0
	Rotation90   Rotation = 90
	Rotation180  Rotation = 180
	Rotation270  Rotation = 270
)

// Next returns the following rotation in the cycle none → 90 → 180 → 270 → none.
func (r Rotation) Next() Rotation {
	switch r {
	case RotationNone:
		return Rotation90
	case Rotation90:
		return Rotation180
	case Rotation180:
		return Rotation270
	default:
		return RotationNone
	}
}

func (r Rotation) Degrees() int {
	return int(r)
}

func (r Rotation) Radians() float64 {
	return float64(r) * math.Pi / 180
}

// SwapsDimensions reports whether the rotated canvas exchanges width and height.
func (r Rotation) SwapsDimensions() bool {
	return r == Rotation90 || r == Rotation270
}

// CanvasSize returns the output size of a w×h image after rotation.
func (r Rotation) CanvasSize(w, h int) (int, int) {
	if r.SwapsDimensions() {
		return h, w
	}
	return w, h
}

func (r Rotation) Valid() bool {
	switch r {
	case RotationNone, Rotation90, Rotation180, Rotation270:
		return true
	}
	return false
}

func ParseRotation(degrees int) (Rotation, error) {
	r := Rotation(degrees)
	if !r.Valid() {
		return RotationNone, fmt.Errorf("invalid rotation %d: must be 0, 90, 180 or 270", degrees)
	}
	return r, nil
}
