//go:build dlib

package face

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	goface "github.com/Kagami/go-face"

	"github.com/andresmejia3/facevote/internal/types"
)

// dlibDetector runs dlib in-process through go-face. go-face only exposes detection and
// description together, so the last result is kept and EmbedFaces pairs boxes to it by overlap.
type dlibDetector struct {
	rec *goface.Recognizer

	mu        sync.Mutex
	lastImg   *image.RGBA
	lastModel types.Model
	last      []goface.Face
}

func newDlibDetector(modelsDir string) (Detector, error) {
	rec, err := goface.NewRecognizer(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load dlib models from %s: %w", modelsDir, err)
	}
	return &dlibDetector{rec: rec}, nil
}

func (d *dlibDetector) recognize(img *image.RGBA, model types.Model) ([]goface.Face, error) {
	// go-face only accepts JPEG input.
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("failed to encode frame for dlib: %w", err)
	}
	if model == types.ModelAccurate {
		return d.rec.RecognizeCNN(buf.Bytes())
	}
	return d.rec.Recognize(buf.Bytes())
}

func (d *dlibDetector) DetectFaces(ctx context.Context, img *image.RGBA, model types.Model) ([]types.BoundingBox, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	faces, err := d.recognize(img, model)
	if err != nil {
		return nil, err
	}
	d.lastImg, d.lastModel, d.last = img, model, faces

	boxes := make([]types.BoundingBox, len(faces))
	for i, f := range faces {
		boxes[i] = types.BoxFromRect(f.Rectangle)
	}
	return boxes, nil
}

func (d *dlibDetector) EmbedFaces(ctx context.Context, img *image.RGBA, boxes []types.BoundingBox) ([]types.Embedding, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	faces := d.last
	if d.lastImg != img {
		// Boxes from another image: detect again with the model that produced the cached result.
		model := d.lastModel
		if model == "" {
			model = types.ModelFast
		}
		var err error
		if faces, err = d.recognize(img, model); err != nil {
			return nil, err
		}
		d.lastImg, d.last = img, faces
	}

	rects := make([]image.Rectangle, len(faces))
	for i, f := range faces {
		rects[i] = f.Rectangle
	}

	out := make([]types.Embedding, len(boxes))
	for i, b := range boxes {
		j := bestOverlap(b.Rect(), rects)
		if j < 0 {
			return nil, fmt.Errorf("no dlib face overlaps box %s", b)
		}
		vec := make(types.Embedding, len(faces[j].Descriptor))
		for k, v := range faces[j].Descriptor {
			vec[k] = float64(v)
		}
		out[i] = vec
	}
	return out, nil
}

func (d *dlibDetector) Close() error {
	d.rec.Close()
	return nil
}
