package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/andresmejia3/facevote/internal/config"
	"github.com/andresmejia3/facevote/internal/domain"
	"github.com/andresmejia3/facevote/internal/face"
	"github.com/andresmejia3/facevote/internal/faceset"
	"github.com/andresmejia3/facevote/internal/pipeline"
	"github.com/andresmejia3/facevote/internal/utils"
	"github.com/andresmejia3/facevote/internal/worker"
)

// Version is the application version.
const Version = "0.1.0"

// app is the state of one invocation. Nothing in here outlives the process.
type app struct {
	in          io.Reader
	out, errOut io.Writer

	flags   config.Config // raw flag values; only the ones set on the command line are applied
	cfgFile string
	verbose bool

	cfg   config.Config
	log   *slog.Logger
	runID string

	openDetector func(ctx context.Context, cfg *config.Config) (face.Detector, error)

	// stage and crashed describe the last failure for the error report.
	stage   string
	crashed *utils.SafeCommand
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{
		in:           in,
		out:          out,
		errOut:       errOut,
		flags:        config.Defaults(),
		openDetector: openPool,
	}
}

func openPool(ctx context.Context, cfg *config.Config) (face.Detector, error) {
	return face.Open(ctx, face.Options{
		Backend:     face.Backend(cfg.Backend),
		PythonBin:   cfg.PythonBin,
		Script:      cfg.WorkerScript,
		ReadTimeout: cfg.Timeout(),
		ModelsDir:   cfg.DlibModelsDir,
	}, cfg.Workers)
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "facevote",
		Short: "Face enrollment and majority-vote recognition",
		Long: "Enroll labelled faces from training/<label>/*, then recognize, validate or compare faces.\n" +
			"Actions may be combined and always run in the order train, validate, test, compare.",
		Version:           Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context())
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	f := &a.flags
	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "YAML config file")
	pf.StringVar(&f.TrainingDir, "training-dir", f.TrainingDir, "Training root with one subdirectory per label")
	pf.StringVar(&f.ValidationDir, "validation-dir", f.ValidationDir, "Validation root")
	pf.StringVar(&f.OutputDir, "output-dir", f.OutputDir, "Directory for generated files")
	pf.StringVar(&f.EncodingsPath, "encodings", "", "Encodings file (default <output-dir>/encodings.json)")
	pf.StringVar(&f.AnnotatedDir, "annotated-dir", "", "Directory for annotated images (default <output-dir>/annotated)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVar(&f.LogFormat, "log-format", f.LogFormat, "Log format: text or json")
	pf.BoolVarP(&f.Quiet, "quiet", "q", false, "Hide progress bars")

	fl := root.Flags()
	fl.BoolVar(&f.Train, "train", false, "Enroll faces from the training directory")
	fl.BoolVar(&f.Validate, "validate", false, "Recognize every image under the validation directory")
	fl.BoolVar(&f.Test, "test", false, "Recognize faces in the image given with -f")
	fl.StringVarP(&f.TestImage, "file", "f", "", "Image to recognize with --test")
	fl.BoolVar(&f.Compare, "compare", false, "Compare the faces of --image1 against those of --image2")
	fl.StringVar(&f.Image1, "image1", "", "First image for --compare")
	fl.StringVar(&f.Image2, "image2", "", "Second image for --compare")
	fl.StringVarP(&f.Model, "model", "m", f.Model, "Detector model: fast (hog, CPU) or accurate (cnn, GPU)")
	fl.Float64VarP(&f.Threshold, "threshold", "t", f.Threshold, "Maximum embedding distance for a match (lower is stricter)")
	fl.StringVar(&f.Backend, "backend", f.Backend, "Detector backend: python or dlib")
	fl.StringVar(&f.PythonBin, "python", f.PythonBin, "Python interpreter for the worker")
	fl.StringVar(&f.WorkerScript, "worker-script", f.WorkerScript, "Path to the face_recognition worker script")
	fl.StringVar(&f.DlibModelsDir, "dlib-models", f.DlibModelsDir, "Directory holding the dlib model files (dlib backend)")
	fl.IntVarP(&f.Workers, "workers", "w", f.Workers, "Number of parallel detector engines")
	fl.StringVar(&f.WorkerTimeout, "worker-timeout", f.WorkerTimeout, "Max time to wait for one detector response (0 disables)")
	fl.BoolVar(&f.Show, "show", false, "Open annotated images in the system viewer")

	root.AddCommand(a.listCmd(), a.resetCmd())
	return root
}

// flagFields copies a flag's value from the raw flag config into the resolved one.
var flagFields = map[string]func(dst, src *config.Config){
	"output-dir":     func(d, s *config.Config) { d.OutputDir = s.OutputDir },
	"encodings":      func(d, s *config.Config) { d.EncodingsPath = s.EncodingsPath },
	"annotated-dir":  func(d, s *config.Config) { d.AnnotatedDir = s.AnnotatedDir },
	"log-format":     func(d, s *config.Config) { d.LogFormat = s.LogFormat },
	"quiet":          func(d, s *config.Config) { d.Quiet = s.Quiet },
	"model":          func(d, s *config.Config) { d.Model = s.Model },
	"threshold":      func(d, s *config.Config) { d.Threshold = s.Threshold },
	"training-dir":   func(d, s *config.Config) { d.TrainingDir = s.TrainingDir },
	"validation-dir": func(d, s *config.Config) { d.ValidationDir = s.ValidationDir },
	"backend":        func(d, s *config.Config) { d.Backend = s.Backend },
	"python":         func(d, s *config.Config) { d.PythonBin = s.PythonBin },
	"worker-script":  func(d, s *config.Config) { d.WorkerScript = s.WorkerScript },
	"dlib-models":    func(d, s *config.Config) { d.DlibModelsDir = s.DlibModelsDir },
	"workers":        func(d, s *config.Config) { d.Workers = s.Workers },
	"worker-timeout": func(d, s *config.Config) { d.WorkerTimeout = s.WorkerTimeout },
	"show":           func(d, s *config.Config) { d.Show = s.Show },
}

// setup resolves the configuration (defaults, then --config file, then FACEVOTE_* environment,
// then explicit flags) and builds the run logger.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	a.stage = "Invalid configuration"
	_ = godotenv.Load()

	cfg := config.Defaults()
	if a.cfgFile != "" {
		if err := config.LoadFile(a.cfgFile, &cfg); err != nil {
			return err
		}
	}
	if err := config.ApplyEnv(&cfg); err != nil {
		return err
	}
	cmd.Flags().Visit(func(fl *pflag.Flag) {
		if apply, ok := flagFields[fl.Name]; ok {
			apply(&cfg, &a.flags)
		}
	})

	// Actions are command-line only.
	cfg.Train, cfg.Validate, cfg.Test, cfg.Compare = a.flags.Train, a.flags.Validate, a.flags.Test, a.flags.Compare
	cfg.TestImage, cfg.Image1, cfg.Image2 = a.flags.TestImage, a.flags.Image1, a.flags.Image2
	if a.verbose {
		cfg.LogLevel = "debug"
	}

	log, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat, a.errOut)
	if err != nil {
		return domain.ErrInvalidArgument.WithError(err)
	}
	a.runID = uuid.NewString()
	a.log = log.With("run_id", a.runID)
	a.cfg = cfg
	a.stage = ""
	return nil
}

func (a *app) runner(det face.Detector) *pipeline.Runner {
	r := &pipeline.Runner{
		Detector:     det,
		Threshold:    a.cfg.Threshold,
		Log:          a.log,
		AnnotatedDir: a.cfg.Annotated(),
		Workers:      a.cfg.Workers,
		Out:          a.out,
	}
	if !a.cfg.Quiet {
		r.Progress = a.errOut
	}
	if a.cfg.Show {
		r.Viewer = utils.OpenViewer
	}
	return r
}

// run executes the requested actions in their fixed order.
func (a *app) run(ctx context.Context) (err error) {
	a.stage = "Invalid arguments"
	if err := a.cfg.Check(); err != nil {
		return err
	}
	if err := a.cfg.EnsureDirs(); err != nil {
		return err
	}

	// Recognition needs a store; report a missing one before paying for detector startup.
	if (a.cfg.Validate || a.cfg.Test) && !a.cfg.Train {
		a.stage = "Recognition failed"
		if a.cfg.Validate {
			a.stage = "Validation failed"
		}
		if _, err := faceset.Load(a.cfg.Encodings()); err != nil {
			return err
		}
	}

	a.stage = "Failed to start face detector"
	det, err := a.openDetector(ctx, &a.cfg)
	if err != nil {
		return domain.ErrDetector.WithMessage("Could not start the %s backend", a.cfg.Backend).WithError(err)
	}
	defer func() {
		if cerr := det.Close(); cerr != nil {
			a.log.Debug("detector shutdown", "error", cerr)
		}
		if err != nil {
			a.crashed = crashLogs(det)
		}
	}()

	r := a.runner(det)
	model := a.cfg.DetectorModel()
	a.log.Debug("run configured", "model", model, "threshold", a.cfg.Threshold, "backend", a.cfg.Backend, "workers", a.cfg.Workers)

	if a.cfg.Train {
		a.stage = "Training failed"
		if _, err := r.Enroll(ctx, a.cfg.TrainingDir, model, a.cfg.Encodings()); err != nil {
			return err
		}
	}
	if a.cfg.Validate {
		a.stage = "Validation failed"
		if _, err := r.ValidateAll(ctx, a.cfg.ValidationDir, model, a.cfg.Encodings()); err != nil {
			return err
		}
	}
	if a.cfg.Test {
		a.stage = "Recognition failed"
		if _, err := r.Recognize(ctx, a.cfg.TestImage, model, a.cfg.Encodings()); err != nil {
			return err
		}
	}
	if a.cfg.Compare {
		a.stage = "Comparison failed"
		if _, err := r.Compare(ctx, a.cfg.Image1, a.cfg.Image2, model); err != nil {
			return err
		}
	}
	a.stage = ""
	return nil
}

// crashLogs returns the first python worker that left something on stderr.
func crashLogs(det face.Detector) *utils.SafeCommand {
	engines := []face.Detector{det}
	if p, ok := det.(*face.Pool); ok {
		engines = p.Engines()
	}
	for _, e := range engines {
		if w, ok := e.(*worker.PythonWorker); ok && w.Cmd != nil && w.Cmd.Stderr.Len() > 0 {
			return w.Cmd
		}
	}
	return nil
}

func (a *app) execute(ctx context.Context, args []string) error {
	root := a.rootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(os.Stdin, os.Stdout, os.Stderr)
	if err := a.execute(ctx, os.Args[1:]); err != nil {
		stage := a.stage
		if stage == "" {
			stage = "Command failed"
		}
		utils.ShowError(stage, err, a.crashed)
		stop()
		os.Exit(1)
	}
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}
