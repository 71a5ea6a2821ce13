package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestDownscale(t *testing.T) {
	img := solid(640, 480, color.RGBA{10, 20, 30, 255})

	small := Downscale(img, 0.25)
	assert.Equal(t, 160, small.Bounds().Dx())
	assert.Equal(t, 120, small.Bounds().Dy())

	assert.Same(t, img, Downscale(img, 1).(*image.RGBA))
}

func TestDownscaleTinyImage(t *testing.T) {
	small := Downscale(solid(2, 2, color.RGBA{A: 255}), 0.25)
	assert.Equal(t, 1, small.Bounds().Dx())
	assert.Equal(t, 1, small.Bounds().Dy())
}

func TestAnnotateWithoutFacesReturnsInput(t *testing.T) {
	img := solid(100, 80, color.RGBA{1, 2, 3, 255})
	out := Annotate(img, nil)
	assert.Same(t, img, out.(*image.RGBA))
}

func TestAnnotateDrawsBoxAndStrip(t *testing.T) {
	black := color.RGBA{0, 0, 0, 255}
	img := solid(200, 200, black)

	out := Annotate(img, []Annotation{{Region: image.Rect(40, 40, 160, 160), Label: "ALICE"}})
	require.Equal(t, img.Bounds(), out.Bounds())

	// input stays untouched
	assert.Equal(t, black, img.RGBAAt(40, 100))

	r, g, b, _ := out.At(40, 100).RGBA()
	assert.Zero(t, r>>8)
	assert.Greater(t, g>>8, uint32(200))
	assert.Zero(t, b>>8)

	// inside the label strip, away from the text
	r, g, _, _ = out.At(155, 150).RGBA()
	assert.Zero(t, r>>8)
	assert.Greater(t, g>>8, uint32(200))

	// centre of the face stays untouched
	assert.Equal(t, color.RGBAModel.Convert(black), color.RGBAModel.Convert(out.At(100, 80)))
}

func TestEncodeJPEG(t *testing.T) {
	data, err := EncodeJPEG(solid(16, 16, color.RGBA{200, 0, 0, 255}), 0)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 16), img.Bounds())
}
