// Package config defines process configuration and its loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers defaults, an optional YAML file and the environment.
// - Errors are wrapped with this package's sentinels.
package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/okian/vmafmotion/internal/adapters/framesource"
	"github.com/okian/vmafmotion/internal/domain/predict"
	"github.com/okian/vmafmotion/internal/domain/search"
	"github.com/okian/vmafmotion/pkg/logger"
	"github.com/okian/vmafmotion/pkg/metrics"
)

// MaxListEntries caps every list setting.
const MaxListEntries = 32

// Clip describes one raw video to analyze.
type Clip struct {
	Path   string  `koanf:"path"`
	Width  int     `koanf:"width"`
	Height int     `koanf:"height"`
	FPS    float64 `koanf:"fps"`
	// PixFmt is one of gray, yuv420p, yuv422p, yuv444p. Empty means yuv420p.
	PixFmt string `koanf:"pix_fmt"`
}

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the handler: text, json or console.
	LogFormat string `koanf:"log_format"`

	// Workers bounds how many clips are analyzed at once.
	Workers int `koanf:"workers"`

	// MemoryLimitBytes caps plane memory per invocation. Zero means no cap.
	MemoryLimitBytes int64 `koanf:"memory_limit_bytes"`

	// Mode is all_frames, all_local_frames, or empty to skip the gap search.
	Mode string `koanf:"mode"`

	// MotionMap is an optional cell restriction file.
	MotionMap string `koanf:"motion_map"`

	// CellDiffs emits per-cell differences for every frame pair.
	CellDiffs bool `koanf:"cell_diffs"`

	// Output is the diagnostic stream path. Empty means stdout.
	Output string `koanf:"output"`

	// FeatureDir, when set, receives one motion feature log per clip.
	FeatureDir string `koanf:"feature_dir"`

	// MetricsFile, when set, receives the metrics registry on exit.
	MetricsFile string `koanf:"metrics_file"`

	// MetricsEnabled turns every metrics recorder on or off.
	MetricsEnabled   bool              `koanf:"metrics_enabled"`
	MetricsNamespace string            `koanf:"metrics_namespace"`
	MetricsSubsystem string            `koanf:"metrics_subsystem"`
	MetricsPrefix    string            `koanf:"metrics_prefix"`
	MetricsLabels    map[string]string `koanf:"metrics_labels"`
	// MetricsBuckets are the latency histogram buckets in seconds.
	MetricsBuckets []float64 `koanf:"metrics_buckets"`

	Clips    []Clip   `koanf:"clips"`
	Models   []string `koanf:"models"`
	Features []string `koanf:"features"`
	Imports  []string `koanf:"imports"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: logger.FormatText,
		Workers:   runtime.NumCPU(),
		Mode:      search.AllFrames.String(),

		MetricsEnabled: true,
	}
}

// Validate checks every field and returns the first problem found.
func (c *Config) Validate() error {
	switch c.LogFormat {
	case logger.FormatText, logger.FormatJSON, logger.FormatConsole:
	default:
		return fmt.Errorf("%w: log_format %q", ErrInvalidConfig, c.LogFormat)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative", ErrInvalidConfig)
	}
	if c.MemoryLimitBytes < 0 {
		return fmt.Errorf("%w: memory_limit_bytes must not be negative", ErrInvalidConfig)
	}
	if _, _, err := c.SearchMode(); err != nil {
		return err
	}
	if err := metrics.Validate(c.MetricsOptions()...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	for name, n := range map[string]int{
		"clips":    len(c.Clips),
		"models":   len(c.Models),
		"features": len(c.Features),
		"imports":  len(c.Imports),

		"metrics_labels":  len(c.MetricsLabels),
		"metrics_buckets": len(c.MetricsBuckets),
	} {
		if n > MaxListEntries {
			return fmt.Errorf("%w: %d %s exceed the limit of %d", ErrInvalidConfig, n, name, MaxListEntries)
		}
	}

	for i, clip := range c.Clips {
		if err := clip.validate(c.Mode != ""); err != nil {
			return fmt.Errorf("%w: clips[%d]: %w", ErrInvalidConfig, i, err)
		}
	}
	if _, err := c.ModelConfigs(); err != nil {
		return err
	}
	for i, f := range c.Features {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("%w: features[%d] is empty", ErrInvalidConfig, i)
		}
	}
	return nil
}

// SearchMode returns the configured search mode, or false when the search
// is disabled.
func (c *Config) SearchMode() (search.Mode, bool, error) {
	if c.Mode == "" {
		return 0, false, nil
	}
	m, err := search.ParseMode(c.Mode)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return m, true, nil
}

// ModelConfigs parses every model token.
func (c *Config) ModelConfigs() ([]predict.ModelConfig, error) {
	out := make([]predict.ModelConfig, 0, len(c.Models))
	for i, tok := range c.Models {
		mc, err := predict.ParseModelConfig(tok)
		if err != nil {
			return nil, fmt.Errorf("%w: models[%d]: %w", ErrInvalidConfig, i, err)
		}
		out = append(out, mc)
	}
	return out, nil
}

func (c Clip) validate(searching bool) error {
	if c.Path == "" {
		return fmt.Errorf("path is required")
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("dimensions %dx%d", c.Width, c.Height)
	}
	if searching && c.FPS <= 0 {
		return fmt.Errorf("fps is required for the gap search")
	}
	if _, err := framesource.ParsePixelFormat(c.PixFmt); err != nil {
		return err
	}
	return nil
}

// MetricsOptions maps the metrics settings to manager options. Empty
// settings keep the manager defaults.
func (c *Config) MetricsOptions() []metrics.Option {
	return []metrics.Option{
		metrics.WithMetricsEnabled(c.MetricsEnabled),
		metrics.WithNamespace(c.MetricsNamespace),
		metrics.WithSubsystem(c.MetricsSubsystem),
		metrics.WithMetricPrefix(c.MetricsPrefix),
		metrics.WithCustomLabels(c.MetricsLabels),
		metrics.WithHistogramBuckets(c.MetricsBuckets),
	}
}
