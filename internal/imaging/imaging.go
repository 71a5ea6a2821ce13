// Package imaging contains the pixel work of the recognition loop: downsampling
// before detection, drawing labelled boxes and JPEG encoding for the preview.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"

	"github.com/disintegration/gift"
	"github.com/fogleman/gg"
)

// Label strip geometry, in pixels of the original frame
const (
	boxLineWidth = 2
	stripHeight  = 35
	textInset    = 6
)

var (
	boxColor  = color.RGBA{0, 255, 0, 255}
	textColor = color.RGBA{255, 255, 255, 255}
)

// Annotation is one labelled box to draw
type Annotation struct {
	Region image.Rectangle
	Label  string
}

// Downscale resizes img by factor in both dimensions. A factor of 1 returns img unchanged.
func Downscale(img image.Image, factor float64) image.Image {
	if factor <= 0 || factor >= 1 {
		return img
	}
	b := img.Bounds()
	w := int(math.Round(float64(b.Dx()) * factor))
	h := int(math.Round(float64(b.Dy()) * factor))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	g := gift.New(gift.Resize(w, h, gift.LinearResampling))
	dst := image.NewRGBA(g.Bounds(b))
	g.Draw(dst, img)
	return dst
}

// Annotate draws a box and a filled label strip for every annotation on a copy of img.
// Without annotations img itself is returned untouched.
func Annotate(img image.Image, annotations []Annotation) image.Image {
	if len(annotations) == 0 {
		return img
	}

	origin := img.Bounds().Min
	dc := gg.NewContextForImage(img)

	for _, a := range annotations {
		r := a.Region.Sub(origin)
		left, top := float64(r.Min.X), float64(r.Min.Y)
		right, bottom := float64(r.Max.X), float64(r.Max.Y)

		dc.SetColor(boxColor)
		dc.SetLineWidth(boxLineWidth)
		dc.DrawRectangle(left, top, right-left, bottom-top)
		dc.Stroke()

		dc.DrawRectangle(left, bottom-stripHeight, right-left, stripHeight)
		dc.Fill()

		dc.SetColor(textColor)
		dc.DrawString(a.Label, left+textInset, bottom-textInset)
	}

	return dc.Image()
}

// EncodeJPEG encodes img for the preview and the history
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
