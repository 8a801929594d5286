// Package imageio loads input photos into a uniform opaque RGB raster and writes annotated copies.
package imageio

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"log/slog"
	"os"

	"github.com/andresmejia3/facevote/internal/domain"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Load decodes the image at path and normalises it to opaque RGB. Alpha is dropped rather than
// composited, and grayscale and palette images are expanded, so the distinction between those
// source modes is lost.
func Load(path string, log *slog.Logger) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrImageLoad.WithMessage("image %s does not exist", path).WithError(err)
		}
		return nil, domain.ErrImageLoad.WithMessage("cannot open image %s", path).WithError(err)
	}
	defer f.Close()

	src, format, err := image.Decode(f)
	if err != nil {
		return nil, domain.ErrImageLoad.WithMessage("cannot decode image %s", path).WithError(err)
	}

	if log != nil {
		log.Debug("image mode before conversion", slog.String("path", path), slog.String("format", format), slog.String("mode", Mode(src)))
	}
	img := ToRGB(src)
	if log != nil {
		log.Debug("image mode after conversion", slog.String("path", path), slog.String("mode", "RGB"))
	}
	return img, nil
}

// ToRGB copies src into a new RGBA raster whose alpha is always fully opaque.
func ToRGB(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	switch src.(type) {
	case *image.YCbCr, *image.Gray, *image.Gray16, *image.CMYK:
		// Opaque models: a straight copy is already RGB.
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
		return dst
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			off := dst.PixOffset(x-b.Min.X, y-b.Min.Y)
			dst.Pix[off] = c.R
			dst.Pix[off+1] = c.G
			dst.Pix[off+2] = c.B
			dst.Pix[off+3] = 0xff
		}
	}
	return dst
}

// Mode names the color model of a decoded image, for logging.
func Mode(img image.Image) string {
	switch img.(type) {
	case *image.RGBA, *image.RGBA64:
		return "RGBA"
	case *image.NRGBA, *image.NRGBA64:
		return "NRGBA"
	case *image.YCbCr:
		return "YCbCr"
	case *image.Gray, *image.Gray16:
		return "Gray"
	case *image.Paletted:
		return "Paletted"
	case *image.CMYK:
		return "CMYK"
	}
	return fmt.Sprintf("%T", img)
}

// PackRGB flattens img into row-major R,G,B bytes.
func PackRGB(img *image.RGBA) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			out = append(out, row[x*4], row[x*4+1], row[x*4+2])
		}
	}
	return out
}
