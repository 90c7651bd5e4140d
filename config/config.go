// Package config loads the facemerge settings from the embedded defaults, an optional
// YAML file and the environment, in this order of precedence.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"maps"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/esimov/facemerge/batch"
	"github.com/esimov/facemerge/detect"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Detector backends.
const (
	BackendRemote = "remote"
	BackendPigo   = "pigo"
	BackendMock   = "mock"
)

type Config struct {
	Detector DetectorConfig `yaml:"detector"`
	Pigo     PigoConfig     `yaml:"pigo"`
	Batch    BatchConfig    `yaml:"batch"`
	Store    StoreConfig    `yaml:"store"`
}

type DetectorConfig struct {
	Backend  string        `yaml:"backend"`
	Endpoint string        `yaml:"endpoint"`
	Key      string        `yaml:"key"`
	Timeout  time.Duration `yaml:"timeout"`
}

type PigoConfig struct {
	FaceCascade   string                       `yaml:"face_cascade"`
	PuplocCascade string                       `yaml:"puploc_cascade"`
	FlplocDir     string                       `yaml:"flploc_dir"`
	MinSize       int                          `yaml:"min_size"`
	MaxSize       int                          `yaml:"max_size"`
	ShiftFactor   float64                      `yaml:"shift_factor"`
	ScaleFactor   float64                      `yaml:"scale_factor"`
	IoUThreshold  float64                      `yaml:"iou_threshold"`
	QThreshold    float32                      `yaml:"q_threshold"`
	Angle         float64                      `yaml:"angle"`
	Perturb       int                          `yaml:"perturb"`
	Landmarks     map[string]detect.FlpBinding `yaml:"landmarks"`
}

type BatchConfig struct {
	Concurrency    int           `yaml:"concurrency"`
	SoftCap        int           `yaml:"soft_cap"`
	Extensions     []string      `yaml:"extensions"`
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
}

type StoreConfig struct {
	Path string `yaml:"path"` // SQLite database file, results are not persisted when empty
}

// LoadDotEnv exports the variables of a .env file. Without an explicit path a missing
// ./.env is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		_ = godotenv.Load()
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("could not load %s: %w", path, err)
	}
	return nil
}

// Load returns the defaults overridden by the YAML file at path (if not empty) and by
// the FACEMERGE_* environment variables.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("could not read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("could not parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	envString("FACEMERGE_BACKEND", &c.Detector.Backend)
	envString("FACEMERGE_ENDPOINT", &c.Detector.Endpoint)
	envString("FACEMERGE_KEY", &c.Detector.Key)
	envString("FACEMERGE_FACE_CASCADE", &c.Pigo.FaceCascade)
	envString("FACEMERGE_PUPLOC_CASCADE", &c.Pigo.PuplocCascade)
	envString("FACEMERGE_FLPLOC_DIR", &c.Pigo.FlplocDir)
	envString("FACEMERGE_DB", &c.Store.Path)

	if s := os.Getenv("FACEMERGE_EXTENSIONS"); s != "" {
		c.Batch.Extensions = strings.Split(s, ",")
	}
	if err := envDuration("FACEMERGE_TIMEOUT", &c.Detector.Timeout); err != nil {
		return err
	}
	if err := envInt("FACEMERGE_CONCURRENCY", &c.Batch.Concurrency); err != nil {
		return err
	}
	return envInt("FACEMERGE_SOFT_CAP", &c.Batch.SoftCap)
}

func envString(key string, dst *string) {
	if s := os.Getenv(key); s != "" {
		*dst = s
	}
}

func envInt(key string, dst *int) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

// Validate checks the settings needed by the selected backend and the batch runner.
func (c *Config) Validate() error {
	var errs []error
	switch c.Detector.Backend {
	case BackendRemote:
		if c.Detector.Endpoint == "" {
			errs = append(errs, errors.New("detector endpoint is required for the remote backend"))
		}
		if c.Detector.Key == "" {
			errs = append(errs, errors.New("subscription key is required for the remote backend"))
		}
	case BackendPigo:
		if c.Pigo.FaceCascade == "" || c.Pigo.PuplocCascade == "" || c.Pigo.FlplocDir == "" {
			errs = append(errs, errors.New("pigo backend needs the face, pupil and landmark cascades"))
		}
	case BackendMock:
	default:
		errs = append(errs, fmt.Errorf("unknown detector backend %q", c.Detector.Backend))
	}
	if c.Batch.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("concurrency must be positive, got %d", c.Batch.Concurrency))
	}
	if c.Batch.SoftCap < 0 {
		errs = append(errs, fmt.Errorf("soft cap must not be negative, got %d", c.Batch.SoftCap))
	}
	if len(batch.NormalizeExtensions(c.Batch.Extensions)) == 0 {
		errs = append(errs, errors.New("at least one image extension is required"))
	}
	if c.Batch.BackoffInitial <= 0 || c.Batch.BackoffMax < c.Batch.BackoffInitial {
		errs = append(errs, fmt.Errorf("invalid backoff bounds %v..%v", c.Batch.BackoffInitial, c.Batch.BackoffMax))
	}
	return errors.Join(errs...)
}

// RemoteDetectorConfig returns the settings of the remote detection client.
func (c *Config) RemoteDetectorConfig() detect.RemoteConfig {
	return detect.RemoteConfig{
		Endpoint: c.Detector.Endpoint,
		Key:      c.Detector.Key,
		Timeout:  c.Detector.Timeout,
	}
}

// PigoDetectorConfig returns the settings of the local detector.
func (c *Config) PigoDetectorConfig() (detect.PigoConfig, error) {
	p := c.Pigo
	cfg := detect.PigoConfig{
		FaceCascade:   p.FaceCascade,
		PuplocCascade: p.PuplocCascade,
		FlplocDir:     p.FlplocDir,
		MinSize:       p.MinSize,
		MaxSize:       p.MaxSize,
		ShiftFactor:   p.ShiftFactor,
		ScaleFactor:   p.ScaleFactor,
		IoUThreshold:  p.IoUThreshold,
		QThreshold:    p.QThreshold,
		Angle:         p.Angle,
		Perturb:       p.Perturb,
	}
	if len(p.Landmarks) > 0 {
		b, err := detect.ParseBindings(p.Landmarks)
		if err != nil {
			return detect.PigoConfig{}, err
		}
		// Configured landmarks override the defaults one by one.
		cfg.Bindings = maps.Clone(detect.DefaultBindings)
		maps.Copy(cfg.Bindings, b)
	}
	return cfg, nil
}

// BatchOptions returns the runner options. Callbacks are left to the caller.
func (c *Config) BatchOptions() batch.Options {
	return batch.Options{
		Extensions:  batch.NormalizeExtensions(c.Batch.Extensions),
		Concurrency: c.Batch.Concurrency,
		SoftCap:     c.Batch.SoftCap,
		Backoff:     batch.ExponentialBackoff(c.Batch.BackoffInitial, c.Batch.BackoffMax),
	}
}
