// Package facetest provides a scripted face.Detector for tests that must not depend on a native
// face library.
package facetest

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/andresmejia3/facevote/internal/types"
)

// Fake recognizes images by the color of their top-left pixel. Each color maps to the faces that
// "appear" in any image painted that color; unknown colors contain no faces.
type Fake struct {
	mu    sync.Mutex
	faces map[color.RGBA][]types.FaceResult

	// DetectErr, when set, is returned by every DetectFaces call.
	DetectErr error

	Detects atomic.Int32
	Embeds  atomic.Int32
	Closed  atomic.Bool
}

func New() *Fake {
	return &Fake{faces: make(map[color.RGBA][]types.FaceResult)}
}

// Set registers the faces found in images of color c. Boxes are assigned left to right.
func (f *Fake) Set(c color.RGBA, vecs ...types.Embedding) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.FaceResult, len(vecs))
	for i, v := range vecs {
		left := i * 10
		out[i] = types.FaceResult{
			Box: types.BoundingBox{Top: 1, Right: left + 8, Bottom: 9, Left: left + 1},
			Vec: v,
		}
	}
	f.faces[c] = out
	return f
}

func (f *Fake) lookup(img *image.RGBA) []types.FaceResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if img.Rect.Empty() {
		return nil
	}
	return f.faces[img.RGBAAt(img.Rect.Min.X, img.Rect.Min.Y)]
}

func (f *Fake) DetectFaces(ctx context.Context, img *image.RGBA, model types.Model) ([]types.BoundingBox, error) {
	f.Detects.Add(1)
	if f.DetectErr != nil {
		return nil, f.DetectErr
	}
	faces := f.lookup(img)
	if len(faces) == 0 {
		return nil, nil
	}
	boxes := make([]types.BoundingBox, len(faces))
	for i, r := range faces {
		boxes[i] = r.Box
	}
	return boxes, nil
}

func (f *Fake) EmbedFaces(ctx context.Context, img *image.RGBA, boxes []types.BoundingBox) ([]types.Embedding, error) {
	f.Embeds.Add(1)
	faces := f.lookup(img)
	out := make([]types.Embedding, 0, len(boxes))
	for _, b := range boxes {
		found := false
		for _, r := range faces {
			if r.Box == b {
				out = append(out, r.Vec)
				found = true
				break
			}
		}
		if !found {
			return nil, errors.New("facetest: box not produced by this fake")
		}
	}
	return out, nil
}

func (f *Fake) Close() error {
	f.Closed.Store(true)
	return nil
}

// WriteImage writes a solid 32x16 PNG of color c to path, creating parent directories.
func WriteImage(t testing.TB, path string, c color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 32; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	fh, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer fh.Close()
	if err := png.Encode(fh, img); err != nil {
		t.Fatal(err)
	}
}
