// Package face defines the narrow boundary to the external face detection and embedding library.
package face

import (
	"context"
	"fmt"
	"image"

	"github.com/andresmejia3/facevote/internal/types"
)

// Detector locates faces and computes their embeddings. Implementations wrap the native library;
// everything above this interface is testable with a fake.
type Detector interface {
	// DetectFaces returns the bounding box of every face in img.
	DetectFaces(ctx context.Context, img *image.RGBA, model types.Model) ([]types.BoundingBox, error)
	// EmbedFaces returns one embedding per box, in the same order.
	EmbedFaces(ctx context.Context, img *image.RGBA, boxes []types.BoundingBox) ([]types.Embedding, error)
	Close() error
}

// Backend names a Detector implementation.
type Backend string

const (
	BackendPython Backend = "python"
	BackendDlib   Backend = "dlib"
)

// Faces runs detection then embedding and pairs the results. A Pool serves both steps from the
// same engine, since an engine may only be able to embed boxes it detected itself.
func Faces(ctx context.Context, d Detector, img *image.RGBA, model types.Model) ([]types.FaceResult, error) {
	if p, ok := d.(*Pool); ok {
		var out []types.FaceResult
		err := p.withEngine(ctx, func(e Detector) error {
			var err error
			out, err = faces(ctx, e, img, model)
			return err
		})
		return out, err
	}
	return faces(ctx, d, img, model)
}

func faces(ctx context.Context, d Detector, img *image.RGBA, model types.Model) ([]types.FaceResult, error) {
	boxes, err := d.DetectFaces(ctx, img, model)
	if err != nil {
		return nil, err
	}
	if len(boxes) == 0 {
		return nil, nil
	}
	vecs, err := d.EmbedFaces(ctx, img, boxes)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(boxes) {
		return nil, fmt.Errorf("embedder returned %d embeddings for %d faces", len(vecs), len(boxes))
	}

	out := make([]types.FaceResult, len(boxes))
	for i := range boxes {
		out[i] = types.FaceResult{Box: boxes[i], Vec: vecs[i]}
	}
	return out, nil
}
