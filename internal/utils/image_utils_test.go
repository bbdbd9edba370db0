package utils

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	FillRect(img, img.Bounds(), c)
	return img
}

func TestCropImageRect(t *testing.T) {
	img := solid(100, 50, color.RGBA{R: 200, A: 255})

	crop, ok := CropImageRect(img, image.Rect(10, 10, 30, 20))
	require.True(t, ok)
	assert.Equal(t, 20, crop.Bounds().Dx())
	assert.Equal(t, 10, crop.Bounds().Dy())

	// Partially outside is clamped.
	crop, ok = CropImageRect(img, image.Rect(90, 40, 150, 80))
	require.True(t, ok)
	assert.Equal(t, 10, crop.Bounds().Dx())
	assert.Equal(t, 10, crop.Bounds().Dy())

	_, ok = CropImageRect(img, image.Rect(200, 200, 300, 300))
	assert.False(t, ok)

	_, ok = CropImageRect(nil, image.Rect(0, 0, 10, 10))
	assert.False(t, ok)
}

func TestPlaceholder(t *testing.T) {
	p := Placeholder(0, 5, color.Gray{Y: 128})
	assert.Equal(t, 1, p.Bounds().Dx())
	assert.Equal(t, 5, p.Bounds().Dy())
	r, g, b, _ := p.At(0, 0).RGBA()
	assert.Equal(t, r, g)
	assert.Equal(t, g, b)
}

func TestDrawRect(t *testing.T) {
	img := solid(20, 20, color.White)
	red := color.RGBA{R: 255, A: 255}
	DrawRect(img, image.Rect(2, 2, 10, 10), red, 1)

	assert.Equal(t, red, img.RGBAAt(2, 2))
	assert.Equal(t, red, img.RGBAAt(9, 9))
	assert.Equal(t, red, img.RGBAAt(5, 2))
	assert.NotEqual(t, red, img.RGBAAt(5, 5))

	// Entirely off-canvas is a no-op.
	DrawRect(img, image.Rect(50, 50, 60, 60), red, 2)
}

func TestSaveAndLoadPNG(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "shot.png")
	require.NoError(t, SavePNG(path, solid(12, 7, color.Black)))

	img, meta, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, 12, img.Bounds().Dx())
	assert.Equal(t, "png", meta.Format)
	assert.Equal(t, 7, meta.Height)
	assert.Positive(t, meta.SizeBytes)
}

func TestLoadImageErrors(t *testing.T) {
	_, _, err := LoadImage("")
	var ipe *ImageProcessingError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, "load", ipe.Operation)

	_, _, err = LoadImage("shot.gif")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")

	dir := t.TempDir()
	bad := filepath.Join(dir, "broken.png")
	require.NoError(t, os.WriteFile(bad, []byte("not a png"), 0o600))
	_, _, err = LoadImage(bad)
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, "decode", ipe.Operation)

	assert.True(t, IsSupportedImage("a/b/C.JPG"))
	assert.False(t, IsSupportedImage("notes.txt"))
}
