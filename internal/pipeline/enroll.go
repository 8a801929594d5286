package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gammazero/workerpool"

	"github.com/andresmejia3/facevote/internal/domain"
	"github.com/andresmejia3/facevote/internal/face"
	"github.com/andresmejia3/facevote/internal/faceset"
	"github.com/andresmejia3/facevote/internal/imageio"
	"github.com/andresmejia3/facevote/internal/types"
)

type enrollJob struct {
	label string
	path  string
}

// EnrollStats summarizes a Build.
type EnrollStats struct {
	Images  int
	Skipped int
	Faces   int
}

// Enroll builds the face set from trainingRoot and overwrites the store at location.
func (r *Runner) Enroll(ctx context.Context, trainingRoot string, model types.Model, location string) (*faceset.LabeledFaceSet, error) {
	set, stats, err := r.Build(ctx, trainingRoot, model)
	if err != nil {
		return nil, err
	}
	if err := faceset.Save(set, location); err != nil {
		return nil, fmt.Errorf("failed to save encodings: %w", err)
	}
	r.logger().Info("enrollment complete",
		"images", stats.Images, "skipped", stats.Skipped, "faces", stats.Faces,
		"labels", len(set.Summary()), "path", location)
	fmt.Fprintf(r.out(), "✅ Enrolled %d face(s) from %d image(s) into %s\n", stats.Faces, stats.Images-stats.Skipped, location)
	return set, nil
}

// Build walks trainingRoot/<label>/* and embeds every face found. Images are processed on up to
// r.Workers engines, but the set is assembled in walk order so vote tie-breaks do not depend on
// scheduling. Unreadable images are logged and skipped; detector failures abort the build.
func (r *Runner) Build(ctx context.Context, trainingRoot string, model types.Model) (*faceset.LabeledFaceSet, EnrollStats, error) {
	log := r.logger()
	jobs, err := listTraining(trainingRoot, log)
	if err != nil {
		return nil, EnrollStats{}, err
	}
	stats := EnrollStats{Images: len(jobs)}
	log.Info("enrolling", "root", trainingRoot, "images", len(jobs), "model", model)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([][]types.Embedding, len(jobs))
	skipped := make([]bool, len(jobs))
	bar := r.newBar(len(jobs), "Enrolling")

	var (
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
	}

	workers := r.Workers
	if workers < 1 {
		workers = 1
	}
	wp := workerpool.New(workers)
	for i, job := range jobs {
		i, job := i, job
		wp.Submit(func() {
			defer bar.Add(1)
			if ctx.Err() != nil {
				return
			}

			img, err := imageio.Load(job.path, log)
			if err != nil {
				log.Warn("skipping training image", "path", job.path, "error", err)
				skipped[i] = true
				return
			}
			faces, err := face.Faces(ctx, r.Detector, img, model)
			if err != nil {
				fail(domain.ErrDetector.WithMessage("Face detection failed for %s", job.path).WithError(err))
				return
			}
			if len(faces) == 0 {
				log.Debug("no face found", "path", job.path)
			}
			vecs := make([]types.Embedding, len(faces))
			for k, f := range faces {
				vecs[k] = f.Vec
			}
			results[i] = vecs
		})
	}
	wp.StopWait()
	bar.Finish()

	if firstErr != nil {
		return nil, stats, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}

	set := &faceset.LabeledFaceSet{}
	for i, job := range jobs {
		if skipped[i] {
			stats.Skipped++
		}
		for _, vec := range results[i] {
			set.Append(job.label, vec)
			stats.Faces++
		}
	}
	return set, stats, nil
}

// listTraining returns every regular file directly inside each immediate subdirectory of root,
// labelled by that subdirectory, in lexical order. Symlinks are followed.
func listTraining(root string, log *slog.Logger) ([]enrollJob, error) {
	labels, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrInvalidArgument.WithMessage("Training directory %s does not exist", root).WithError(err)
		}
		return nil, fmt.Errorf("failed to read training directory: %w", err)
	}

	var jobs []enrollJob
	for _, l := range labels {
		dir := filepath.Join(root, l.Name())
		typ, err := entryType(dir, l)
		if err != nil {
			log.Warn("skipping unreadable training entry", "path", dir, "error", err)
			continue
		}
		if !typ.IsDir() {
			log.Debug("ignoring file outside a label directory", "path", dir)
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", dir, err)
		}
		for _, e := range entries {
			path := filepath.Join(dir, e.Name())
			typ, err := entryType(path, e)
			if err != nil {
				log.Warn("skipping unreadable training entry", "path", path, "error", err)
				continue
			}
			if !typ.IsRegular() {
				log.Warn("skipping non-regular training entry", "path", path, "type", typ.String())
				continue
			}
			jobs = append(jobs, enrollJob{label: l.Name(), path: path})
		}
	}
	return jobs, nil
}
