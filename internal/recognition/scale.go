package recognition

import (
	"image"
	"math"
)

// ScaleRect multiplies every coordinate of r by factor, rounding to the nearest pixel.
// Regions found on an image downsampled by f are mapped back with factor 1/f.
func ScaleRect(r image.Rectangle, factor float64) image.Rectangle {
	scale := func(v int) int {
		return int(math.Round(float64(v) * factor))
	}
	return image.Rect(scale(r.Min.X), scale(r.Min.Y), scale(r.Max.X), scale(r.Max.Y))
}
