// Package geometry provides the axis-aligned box primitives shared by the
// fusion, grouping and layout stages.
package geometry

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"math"
)

// Box is an axis-aligned bounding box in integer pixel coordinates.
// A box is valid only when X2 > X1 and Y2 > Y1.
type Box struct {
	X1 int
	Y1 int
	X2 int
	Y2 int
}

// NewBox constructs a Box from corner coordinates ensuring ordering.
func NewBox(x1, y1, x2, y2 int) Box {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return Box{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

// FromRect converts an image.Rectangle to a Box.
func FromRect(r image.Rectangle) Box {
	return Box{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
}

// Width returns the box width (may be negative for malformed boxes).
func (b Box) Width() int { return b.X2 - b.X1 }

// Height returns the box height (may be negative for malformed boxes).
func (b Box) Height() int { return b.Y2 - b.Y1 }

// Valid reports whether the box has positive width and height.
func (b Box) Valid() bool { return b.X2 > b.X1 && b.Y2 > b.Y1 }

// Center returns the box center in float coordinates.
func (b Box) Center() (float64, float64) {
	return float64(b.X1+b.X2) / 2, float64(b.Y1+b.Y2) / 2
}

// Rect converts the box to an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Bounds returns the box itself so that Box satisfies Boxed.
func (b Box) Bounds() Box { return b }

// Resize returns a new box anchored at (X1, Y1) with both dimensions
// multiplied by factor. Dimensions never drop below one pixel.
func (b Box) Resize(factor float64) Box {
	w := int(math.Round(float64(b.Width()) * factor))
	h := int(math.Round(float64(b.Height()) * factor))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return Box{X1: b.X1, Y1: b.Y1, X2: b.X1 + w, Y2: b.Y1 + h}
}

func (b Box) String() string {
	return fmt.Sprintf("[%d,%d,%d,%d]", b.X1, b.Y1, b.X2, b.Y2)
}

// MarshalJSON encodes the box as [x1,y1,x2,y2].
func (b Box) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]int{b.X1, b.Y1, b.X2, b.Y2})
}

// UnmarshalJSON decodes a box from [x1,y1,x2,y2]. Fractional coordinates
// produced by some detectors are rounded to the nearest pixel.
func (b *Box) UnmarshalJSON(data []byte) error {
	var raw []float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("bbox: %w", err)
	}
	if len(raw) != 4 {
		return errors.New("bbox: expected 4 coordinates")
	}
	b.X1 = int(math.Round(raw[0]))
	b.Y1 = int(math.Round(raw[1]))
	b.X2 = int(math.Round(raw[2]))
	b.Y2 = int(math.Round(raw[3]))
	return nil
}
