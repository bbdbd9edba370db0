package utils

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
)

// ClampRect intersects rect with bounds. The result may be empty.
func ClampRect(rect, bounds image.Rectangle) image.Rectangle {
	return rect.Canon().Intersect(bounds)
}

// CropImageRect crops an image to the given rectangle, clamped to its bounds.
// The boolean is false when nothing of rect lies inside the image.
func CropImageRect(img image.Image, rect image.Rectangle) (*image.NRGBA, bool) {
	if img == nil {
		return nil, false
	}
	rect = ClampRect(rect, img.Bounds())
	if rect.Empty() {
		return nil, false
	}
	return imaging.Crop(img, rect), true
}

// Placeholder returns a flat image of the given size, used where a crop is
// unavailable.
func Placeholder(w, h int, col color.Color) *image.NRGBA {
	return imaging.New(max(w, 1), max(h, 1), col)
}

// FillRect paints rect in dst with a solid colour.
func FillRect(dst draw.Image, rect image.Rectangle, col color.Color) {
	draw.Draw(dst, rect.Intersect(dst.Bounds()), image.NewUniform(col), image.Point{}, draw.Src)
}

// DrawRect draws an axis-aligned rectangle outline into dst.
func DrawRect(dst *image.RGBA, rect image.Rectangle, col color.Color, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	rect = rect.Intersect(dst.Bounds())
	if rect.Empty() {
		return
	}
	for t := range thickness {
		yTop := rect.Min.Y + t
		yBot := rect.Max.Y - 1 - t
		for x := rect.Min.X; x < rect.Max.X; x++ {
			dst.Set(x, yTop, col)
			dst.Set(x, yBot, col)
		}
	}
	for t := range thickness {
		xLeft := rect.Min.X + t
		xRight := rect.Max.X - 1 - t
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			dst.Set(xLeft, y, col)
			dst.Set(xRight, y, col)
		}
	}
}
