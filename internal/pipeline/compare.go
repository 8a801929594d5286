package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/andresmejia3/facevote/internal/domain"
	"github.com/andresmejia3/facevote/internal/face"
	"github.com/andresmejia3/facevote/internal/imageio"
	"github.com/andresmejia3/facevote/internal/match"
	"github.com/andresmejia3/facevote/internal/types"
)

// CompareReport holds, for one face of the first image, a verdict and a distance per face of the
// second image, in detection order.
type CompareReport struct {
	Face      types.BoundingBox
	Matches   []bool
	Distances []float64
}

// Compare checks every face of image1 against every face of image2. No encoding store is involved.
func (r *Runner) Compare(ctx context.Context, image1, image2 string, model types.Model) ([]CompareReport, error) {
	faces1, err := r.facesIn(ctx, image1, model)
	if err != nil {
		return nil, err
	}
	faces2, err := r.facesIn(ctx, image2, model)
	if err != nil {
		return nil, err
	}

	known := make([]types.Embedding, len(faces2))
	for i, f := range faces2 {
		known[i] = f.Vec
	}

	reports := make([]CompareReport, len(faces1))
	out := r.out()
	for i, f := range faces1 {
		matches, dists := match.Compare(known, f.Vec, r.threshold())
		reports[i] = CompareReport{Face: f.Box, Matches: matches, Distances: dists}
		fmt.Fprintf(out, "Results: %v\n", matches)
		fmt.Fprintf(out, "Distances: %s\n", formatDistances(dists))
	}
	r.logger().Info("compared", "image1", image1, "faces1", len(faces1), "image2", image2, "faces2", len(faces2))
	return reports, nil
}

func (r *Runner) facesIn(ctx context.Context, path string, model types.Model) ([]types.FaceResult, error) {
	img, err := imageio.Load(path, r.logger())
	if err != nil {
		return nil, err
	}
	faces, err := face.Faces(ctx, r.Detector, img, model)
	if err != nil {
		return nil, domain.ErrDetector.WithMessage("Face detection failed for %s", path).WithError(err)
	}
	return faces, nil
}

func formatDistances(d []float64) string {
	parts := make([]string, len(d))
	for i, v := range d {
		parts[i] = strconv.FormatFloat(v, 'f', 4, 64)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
