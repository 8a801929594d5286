package imageio

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/facevote/internal/types"
	"github.com/google/renameio"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	BoxColor  = color.RGBA{R: 0, G: 0, B: 255, A: 255}
	TextColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

var labelFace = basicfont.Face7x13

// Annotate outlines box on img and writes label beneath it on a filled box.
func Annotate(img *image.RGBA, box types.BoundingBox, label string) {
	r := box.Rect()
	outline(img, r, BoxColor)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(TextColor),
		Face: labelFace,
	}
	metrics := labelFace.Metrics()
	width := d.MeasureString(label).Ceil()
	height := (metrics.Ascent + metrics.Descent).Ceil()

	textBox := image.Rect(r.Min.X, r.Max.Y, r.Min.X+width, r.Max.Y+height)
	draw.Draw(img, textBox.Intersect(img.Bounds()), image.NewUniform(BoxColor), image.Point{}, draw.Src)
	outline(img, textBox, BoxColor)

	d.Dot = fixed.Point26_6{
		X: fixed.I(textBox.Min.X),
		Y: fixed.I(textBox.Min.Y) + metrics.Ascent,
	}
	d.DrawString(label)
}

// outline draws a one pixel rectangle border. Pixels outside img are ignored by SetRGBA.
func outline(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	if r.Empty() {
		return
	}
	for x := r.Min.X; x <= r.Max.X; x++ {
		img.SetRGBA(x, r.Min.Y, c)
		img.SetRGBA(x, r.Max.Y, c)
	}
	for y := r.Min.Y; y <= r.Max.Y; y++ {
		img.SetRGBA(r.Min.X, y, c)
		img.SetRGBA(r.Max.X, y, c)
	}
}

// AnnotatedPath names the annotated copy of srcPath inside dir.
func AnnotatedPath(dir, srcPath string) string {
	base := filepath.Base(srcPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, stem+"_annotated.png")
}

// SavePNG writes img to path, creating parent directories as needed.
func SavePNG(img image.Image, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	t, err := renameio.TempFile("", path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer t.Cleanup()

	if err := png.Encode(t, img); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return t.CloseAtomicallyReplace()
}
