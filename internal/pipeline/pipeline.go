// Package pipeline wires the image loader, detector, encoding store and match engine into the
// four user-facing actions: enrollment, recognition, validation and comparison.
package pipeline

import (
	"context"
	"io"
	"log/slog"

	"github.com/schollz/progressbar/v3"

	"github.com/andresmejia3/facevote/internal/face"
	"github.com/andresmejia3/facevote/internal/match"
)

// Runner carries the collaborators shared by every action of a run. It holds no per-image state.
type Runner struct {
	Detector  face.Detector
	Threshold float64
	Log       *slog.Logger

	// AnnotatedDir receives <stem>_annotated.png for every recognized image.
	AnnotatedDir string
	// Workers bounds the number of images enrolled concurrently.
	Workers int

	// Out receives the human-readable results. Progress receives progress bars; nil disables them.
	Out      io.Writer
	Progress io.Writer

	// Viewer, when set, is called with each annotated image after it is written.
	Viewer func(ctx context.Context, path string) error
}

func (r *Runner) threshold() float64 {
	if r.Threshold <= 0 {
		return match.DefaultThreshold
	}
	return r.Threshold
}

func (r *Runner) logger() *slog.Logger {
	if r.Log == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r.Log
}

func (r *Runner) out() io.Writer {
	if r.Out == nil {
		return io.Discard
	}
	return r.Out
}

func (r *Runner) newBar(n int, description string) *progressbar.ProgressBar {
	if r.Progress == nil {
		return progressbar.DefaultSilent(int64(n), description)
	}
	return progressbar.NewOptions(n,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(r.Progress),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}
