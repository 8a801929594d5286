package imageio

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/facevote/internal/domain"
	"github.com/andresmejia3/facevote/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestLoadDropsAlpha(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 0})
	src.SetNRGBA(1, 0, color.NRGBA{R: 200, G: 100, B: 50, A: 128})

	path := filepath.Join(t.TempDir(), "alpha.png")
	writePNG(t, path, src)

	img, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 10, G: 20, B: 30, A: 255}, img.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{R: 200, G: 100, B: 50, A: 255}, img.RGBAAt(1, 0))
}

func TestLoadExpandsGray(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 1, 1))
	src.SetGray(0, 0, color.Gray{Y: 77})

	path := filepath.Join(t.TempDir(), "gray.png")
	writePNG(t, path, src)

	img, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 77, G: 77, B: 77, A: 255}, img.RGBAAt(0, 0))
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "nope.jpg"), nil)
	assert.ErrorIs(t, err, domain.ErrImageLoad)

	bad := filepath.Join(dir, "bad.jpg")
	require.NoError(t, os.WriteFile(bad, []byte("definitely not a jpeg"), 0644))
	_, err = Load(bad, nil)
	assert.ErrorIs(t, err, domain.ErrImageLoad)
}

func TestToRGBRebasesOrigin(t *testing.T) {
	src := image.NewRGBA(image.Rect(5, 5, 7, 6))
	src.SetRGBA(6, 5, color.RGBA{R: 1, G: 2, B: 3, A: 255})

	img := ToRGB(src)
	assert.Equal(t, image.Rect(0, 0, 2, 1), img.Bounds())
	assert.Equal(t, color.RGBA{R: 1, G: 2, B: 3, A: 255}, img.RGBAAt(1, 0))
}

func TestPackRGB(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	img.SetRGBA(1, 0, color.RGBA{R: 4, G: 5, B: 6, A: 255})
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, PackRGB(img))
}

func TestAnnotate(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	box := types.BoundingBox{Top: 10, Right: 50, Bottom: 40, Left: 20}

	Annotate(img, box, "alice")

	assert.Equal(t, BoxColor, img.RGBAAt(20, 10), "top-left corner")
	assert.Equal(t, BoxColor, img.RGBAAt(50, 40), "bottom-right corner")
	assert.Equal(t, color.RGBA{}, img.RGBAAt(35, 25), "box interior untouched")

	var white int
	for y := 40; y < 60; y++ {
		for x := 20; x < 60; x++ {
			if img.RGBAAt(x, y) == TextColor {
				white++
			}
		}
	}
	assert.Positive(t, white, "label text should be drawn below the box")
}

func TestAnnotateClipsAtEdge(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 30, 30))
	assert.NotPanics(t, func() {
		Annotate(img, types.BoundingBox{Top: 5, Right: 29, Bottom: 29, Left: 5}, "a very long label")
	})
}

func TestAnnotatedPathAndSave(t *testing.T) {
	dir := t.TempDir()
	path := AnnotatedPath(filepath.Join(dir, "annotated"), "/photos/trip/beach.jpeg")
	assert.Equal(t, filepath.Join(dir, "annotated", "beach_annotated.png"), path)

	require.NoError(t, SavePNG(image.NewRGBA(image.Rect(0, 0, 3, 3)), path))
	_, err := Load(path, nil)
	assert.NoError(t, err)
}
