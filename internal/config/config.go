// Package config holds the explicit configuration of one facevote run.
package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/andresmejia3/facevote/internal/domain"
	"github.com/andresmejia3/facevote/internal/match"
	"github.com/andresmejia3/facevote/internal/types"
)

// EnvPrefix namespaces the environment overrides, e.g. FACEVOTE_PYTHON_BIN.
const EnvPrefix = "FACEVOTE"

type Config struct {
	// Actions and their arguments only come from the command line.
	Train     bool   `yaml:"-"`
	Validate  bool   `yaml:"-"`
	Test      bool   `yaml:"-"`
	Compare   bool   `yaml:"-"`
	TestImage string `yaml:"-"`
	Image1    string `yaml:"-"`
	Image2    string `yaml:"-"`

	Model     string  `yaml:"model"`
	Threshold float64 `yaml:"threshold"`

	TrainingDir   string `yaml:"training_dir"`
	ValidationDir string `yaml:"validation_dir"`
	OutputDir     string `yaml:"output_dir"`
	EncodingsPath string `yaml:"encodings"`    // empty means <OutputDir>/encodings.json
	AnnotatedDir  string `yaml:"annotated_dir"` // empty means <OutputDir>/annotated

	Backend       string `yaml:"backend"`
	WorkerScript  string `yaml:"worker_script"`
	PythonBin     string `yaml:"python_bin"`
	DlibModelsDir string `yaml:"dlib_models_dir"`
	Workers       int    `yaml:"workers"`
	WorkerTimeout string `yaml:"worker_timeout"`

	Show      bool   `yaml:"show"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	Quiet     bool   `yaml:"quiet"`
}

func Defaults() Config {
	return Config{
		Model:         string(types.ModelFast),
		Threshold:     match.DefaultThreshold,
		TrainingDir:   "training",
		ValidationDir: "validation",
		OutputDir:     "output",
		Backend:       "python",
		WorkerScript:  "python/worker.py",
		PythonBin:     "python3",
		DlibModelsDir: "models",
		Workers:       1,
		WorkerTimeout: "0",
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// LoadFile overlays the YAML file at path onto c. Keys absent from the file keep their value.
func LoadFile(path string, c *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return domain.ErrInvalidArgument.WithMessage("Invalid config file %s", path).WithError(err)
	}
	return nil
}

// envOverrides lists the settings that describe the machine rather than the run.
type envOverrides struct {
	Backend       string `envconfig:"BACKEND"`
	PythonBin     string `envconfig:"PYTHON_BIN"`
	WorkerScript  string `envconfig:"WORKER_SCRIPT"`
	DlibModelsDir string `envconfig:"DLIB_MODELS_DIR"`
	Workers       int    `envconfig:"WORKERS"`
	WorkerTimeout string `envconfig:"WORKER_TIMEOUT"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
	LogFormat     string `envconfig:"LOG_FORMAT"`
}

// ApplyEnv overlays FACEVOTE_* environment variables onto c. Unset variables leave c untouched.
func ApplyEnv(c *Config) error {
	env := envOverrides{
		Backend:       c.Backend,
		PythonBin:     c.PythonBin,
		WorkerScript:  c.WorkerScript,
		DlibModelsDir: c.DlibModelsDir,
		Workers:       c.Workers,
		WorkerTimeout: c.WorkerTimeout,
		LogLevel:      c.LogLevel,
		LogFormat:     c.LogFormat,
	}
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return domain.ErrInvalidArgument.WithMessage("Invalid %s_* environment", EnvPrefix).WithError(err)
	}
	c.Backend = env.Backend
	c.PythonBin = env.PythonBin
	c.WorkerScript = env.WorkerScript
	c.DlibModelsDir = env.DlibModelsDir
	c.Workers = env.Workers
	c.WorkerTimeout = env.WorkerTimeout
	c.LogLevel = env.LogLevel
	c.LogFormat = env.LogFormat
	return nil
}

// HasAction reports whether any of the four actions was requested.
func (c *Config) HasAction() bool {
	return c.Train || c.Validate || c.Test || c.Compare
}

// Encodings is the resolved Encoding Store path.
func (c *Config) Encodings() string {
	if c.EncodingsPath != "" {
		return c.EncodingsPath
	}
	return filepath.Join(c.OutputDir, "encodings.json")
}

// Annotated is the resolved directory for annotated recognition output.
func (c *Config) Annotated() string {
	if c.AnnotatedDir != "" {
		return c.AnnotatedDir
	}
	return filepath.Join(c.OutputDir, "annotated")
}

// DetectorModel returns the parsed model. Call Check first.
func (c *Config) DetectorModel() types.Model {
	m, err := types.ParseModel(c.Model)
	if err != nil {
		return types.ModelFast
	}
	return m
}

// Timeout returns the parsed worker read timeout. Call Check first.
func (c *Config) Timeout() time.Duration {
	d, _ := time.ParseDuration(c.WorkerTimeout)
	return d
}

// Check validates the combination of actions and settings.
func (c *Config) Check() error {
	invalid := domain.ErrInvalidArgument.WithMessage
	switch {
	case !c.HasAction():
		return invalid("nothing to do: pass at least one of --train, --validate, --test, --compare")
	case c.Test && c.TestImage == "":
		return invalid("--test requires an image path (-f)")
	case c.Compare && (c.Image1 == "" || c.Image2 == ""):
		return invalid("--compare requires both --image1 and --image2")
	case !(c.Threshold > 0) || math.IsInf(c.Threshold, 1):
		return invalid("threshold must be a positive finite distance, got %v", c.Threshold)
	case c.Workers < 1:
		return invalid("workers must be at least 1, got %d", c.Workers)
	}
	if _, err := types.ParseModel(c.Model); err != nil {
		return domain.ErrInvalidArgument.WithError(err)
	}
	if d, err := time.ParseDuration(c.WorkerTimeout); err != nil || d < 0 {
		return invalid("invalid worker timeout %q", c.WorkerTimeout)
	}
	switch c.Backend {
	case "python", "dlib":
	default:
		return invalid("unknown backend %q (want python or dlib)", c.Backend)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return invalid("unknown log format %q (want text or json)", c.LogFormat)
	}
	return nil
}

// EnsureDirs creates the working directories if they are missing.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.TrainingDir, c.ValidationDir, c.OutputDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
