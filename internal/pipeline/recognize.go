package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"text/tabwriter"

	"github.com/andresmejia3/facevote/internal/domain"
	"github.com/andresmejia3/facevote/internal/face"
	"github.com/andresmejia3/facevote/internal/faceset"
	"github.com/andresmejia3/facevote/internal/imageio"
	"github.com/andresmejia3/facevote/internal/match"
	"github.com/andresmejia3/facevote/internal/types"
)

// RecognizedFace is one detected face and its vote outcome.
type RecognizedFace struct {
	Box    types.BoundingBox
	Result match.Result
}

// Recognition is the outcome for one query image.
type Recognition struct {
	Image     string
	Annotated string
	Faces     []RecognizedFace
}

// Recognize loads the store at location and identifies every face in imagePath.
func (r *Runner) Recognize(ctx context.Context, imagePath string, model types.Model, location string) (*Recognition, error) {
	set, err := faceset.Load(location)
	if err != nil {
		return nil, err
	}
	return r.RecognizeWith(ctx, set, imagePath, model)
}

// RecognizeWith identifies every face in imagePath against an already loaded set, writes the
// annotated copy and prints a per-face table. An image without faces still gets an (unmarked) copy.
func (r *Runner) RecognizeWith(ctx context.Context, set *faceset.LabeledFaceSet, imagePath string, model types.Model) (*Recognition, error) {
	log := r.logger()

	img, err := imageio.Load(imagePath, log)
	if err != nil {
		return nil, err
	}
	faces, err := face.Faces(ctx, r.Detector, img, model)
	if err != nil {
		return nil, domain.ErrDetector.WithMessage("Face detection failed for %s", imagePath).WithError(err)
	}

	rec := &Recognition{Image: imagePath, Faces: make([]RecognizedFace, len(faces))}
	for i, f := range faces {
		res := match.Match(f.Vec, set, r.threshold())
		rec.Faces[i] = RecognizedFace{Box: f.Box, Result: res}
		imageio.Annotate(img, f.Box, res.String())
	}

	rec.Annotated = imageio.AnnotatedPath(r.AnnotatedDir, imagePath)
	if err := imageio.SavePNG(img, rec.Annotated); err != nil {
		return nil, fmt.Errorf("failed to save annotated image: %w", err)
	}
	log.Info("recognized", "image", imagePath, "faces", len(faces), "annotated", rec.Annotated)

	r.printRecognition(rec)

	if r.Viewer != nil {
		if err := r.Viewer(ctx, rec.Annotated); err != nil {
			log.Warn("could not open viewer", "path", rec.Annotated, "error", err)
		}
	}
	return rec, nil
}

func (r *Runner) printRecognition(rec *Recognition) {
	out := r.out()
	fmt.Fprintf(out, "📷 %s: %d face(s) → %s\n", rec.Image, len(rec.Faces), rec.Annotated)
	if len(rec.Faces) == 0 {
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "FACE\tLABEL\tVOTES\tBOX")
	fmt.Fprintln(w, "----\t-----\t-----\t---")
	for i, f := range rec.Faces {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", i+1, f.Result, f.Result.Votes, f.Box)
	}
	w.Flush()
}

// ValidationSummary reports a ValidateAll batch.
type ValidationSummary struct {
	Results []*Recognition
	Skipped []string
}

// ValidateAll runs recognition on every regular file under root, recursively. Files that cannot be
// loaded as images are logged and skipped; any other error stops the batch.
func (r *Runner) ValidateAll(ctx context.Context, root string, model types.Model, location string) (*ValidationSummary, error) {
	log := r.logger()
	set, err := faceset.Load(location)
	if err != nil {
		return nil, err
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		typ, err := entryType(path, d)
		switch {
		case err != nil:
			log.Warn("skipping unreadable validation entry", "path", path, "error", err)
		case typ.IsRegular():
			files = append(files, path)
		default:
			log.Warn("skipping non-regular validation entry", "path", path, "type", typ.String())
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrInvalidArgument.WithMessage("Validation directory %s does not exist", root).WithError(err)
		}
		return nil, fmt.Errorf("failed to walk validation directory: %w", err)
	}
	log.Info("validating", "root", root, "files", len(files), "model", model)

	summary := &ValidationSummary{}
	bar := r.newBar(len(files), "Validating")
	defer bar.Finish()
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		rec, err := r.RecognizeWith(ctx, set, path, model)
		bar.Add(1)
		if errors.Is(err, domain.ErrImageLoad) {
			log.Warn("skipping validation file", "path", path, "error", err)
			summary.Skipped = append(summary.Skipped, path)
			continue
		}
		if err != nil {
			return summary, err
		}
		summary.Results = append(summary.Results, rec)
	}

	fmt.Fprintf(r.out(), "✅ Validated %d image(s), skipped %d\n", len(summary.Results), len(summary.Skipped))
	return summary, nil
}
