package face

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/andresmejia3/facevote/internal/types"
	"github.com/andresmejia3/facevote/internal/worker"
)

// Options selects and configures the detector backend.
type Options struct {
	Backend     Backend
	PythonBin   string
	Script      string
	ReadTimeout time.Duration
	ModelsDir   string
}

// Pool shares a fixed set of engines between goroutines. Each call borrows one idle engine for its
// duration, so a Pool is itself a Detector that is safe for concurrent use.
type Pool struct {
	idle chan Detector
	all  []Detector
}

func NewPool(ds ...Detector) *Pool {
	p := &Pool{idle: make(chan Detector, len(ds)), all: ds}
	for _, d := range ds {
		p.idle <- d
	}
	return p
}

// Open starts n engines of the configured backend.
func Open(ctx context.Context, opts Options, n int) (*Pool, error) {
	if n < 1 {
		n = 1
	}
	var ds []Detector
	for i := 0; i < n; i++ {
		d, err := openOne(ctx, opts, i)
		if err != nil {
			for _, started := range ds {
				started.Close()
			}
			return nil, err
		}
		ds = append(ds, d)
	}
	return NewPool(ds...), nil
}

func openOne(ctx context.Context, opts Options, id int) (Detector, error) {
	switch opts.Backend {
	case BackendPython, "":
		w, err := worker.NewPythonWorker(ctx, id, worker.Config{
			PythonBin:   opts.PythonBin,
			Script:      opts.Script,
			ReadTimeout: opts.ReadTimeout,
		})
		if err != nil {
			return nil, err
		}
		return w, nil
	case BackendDlib:
		return newDlibDetector(opts.ModelsDir)
	}
	return nil, fmt.Errorf("unknown detector backend %q", opts.Backend)
}

// Size is the number of engines in the pool.
func (p *Pool) Size() int {
	return len(p.all)
}

// Engines exposes the pooled detectors, e.g. to report a crashed worker's logs.
func (p *Pool) Engines() []Detector {
	return p.all
}

func (p *Pool) acquire(ctx context.Context) (Detector, error) {
	select {
	case d := <-p.idle:
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// withEngine runs fn with one borrowed engine held for its whole duration.
func (p *Pool) withEngine(ctx context.Context, fn func(Detector) error) error {
	d, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer func() { p.idle <- d }()
	return fn(d)
}

func (p *Pool) DetectFaces(ctx context.Context, img *image.RGBA, model types.Model) ([]types.BoundingBox, error) {
	d, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { p.idle <- d }()
	return d.DetectFaces(ctx, img, model)
}

func (p *Pool) EmbedFaces(ctx context.Context, img *image.RGBA, boxes []types.BoundingBox) ([]types.Embedding, error) {
	d, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { p.idle <- d }()
	return d.EmbedFaces(ctx, img, boxes)
}

// Close shuts down every engine. It must not be called while requests are in flight.
func (p *Pool) Close() error {
	var errs []error
	for _, d := range p.all {
		if err := d.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
