// Package config loads the agent configuration. Everything is supplied at
// startup; nothing is reloaded at runtime.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultFileName = "config.yaml"

// Config captures the user-adjustable knobs for the capture pipeline.
type Config struct {
	Paths    PathsConfig    `yaml:"paths"`
	Throttle ThrottleConfig `yaml:"throttle"`
	Flush    FlushConfig    `yaml:"flush"`
	Window   WindowConfig   `yaml:"window"`
	Screens  ScreensConfig  `yaml:"screenshots"`
	Upload   UploadConfig   `yaml:"upload"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`

	// Source records where the configuration came from (defaults or a file).
	Source string `yaml:"-"`
}

// PathsConfig controls filesystem locations.
type PathsConfig struct {
	// SpoolDir receives completed flush files, immutable once written.
	SpoolDir string `yaml:"spool_dir"`
	// DataDir holds the catalog database, session manifests and screenshots.
	DataDir string `yaml:"data_dir"`
}

// ThrottleConfig sets per-kind minimum inter-event intervals. Clicks, key
// presses and focus changes are never throttled.
type ThrottleConfig struct {
	MouseMoveMS   int `yaml:"mouse_move_ms"`
	MouseScrollMS int `yaml:"mouse_scroll_ms"`
}

// FlushConfig controls rotation cadence.
type FlushConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	SizeThreshold   int `yaml:"size_threshold"`
	MaxWriteRetries int `yaml:"max_write_retries"`
}

// WindowConfig controls active-window polling.
type WindowConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
}

// ScreensConfig controls the screenshot scheduler.
type ScreensConfig struct {
	Enabled   bool `yaml:"enabled"`
	PerWindow int  `yaml:"per_window"`
}

// UploadConfig controls the optional spool uploader.
type UploadConfig struct {
	Enabled         bool   `yaml:"enabled"`
	BackendURL      string `yaml:"backend_url"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	// PollMode forces directory polling instead of fsnotify.
	PollMode bool `yaml:"poll_mode"`
	// DeleteAfterUpload removes the local file once the upload succeeds.
	DeleteAfterUpload bool `yaml:"delete_after_upload"`
}

// MetricsConfig controls the optional Prometheus listener. An empty address
// disables it.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// LoggingConfig defines log verbosity and formatting.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the baseline configuration used when no overrides are
// supplied.
func Default() Config {
	return Config{
		Paths: PathsConfig{
			SpoolDir: "activity/spool",
			DataDir:  "activity",
		},
		Throttle: ThrottleConfig{
			MouseMoveMS:   50,
			MouseScrollMS: 100,
		},
		Flush: FlushConfig{
			IntervalSeconds: 300,
			SizeThreshold:   5000,
			MaxWriteRetries: 3,
		},
		Window: WindowConfig{
			PollIntervalSeconds: 1,
		},
		Screens: ScreensConfig{
			Enabled:   false,
			PerWindow: 4,
		},
		Upload: UploadConfig{
			Enabled:           false,
			IntervalSeconds:   30,
			DeleteAfterUpload: true,
		},
		Metrics: MetricsConfig{Address: ""},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Source: "<defaults>",
	}
}

// Load reads configuration from disk if present, otherwise returning
// defaults. When path is empty the loader tries ./config.yaml but tolerates
// a missing file.
func Load(path string) (Config, error) {
	cfg := Default()

	candidate := strings.TrimSpace(path)
	explicit := candidate != ""
	if !explicit {
		candidate = DefaultFileName
	}

	data, err := os.ReadFile(candidate)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if explicit {
				return cfg, fmt.Errorf("config file %q not found", candidate)
			}
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config file %q: %w", candidate, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file %q: %w", candidate, err)
	}
	cfg.Source = candidate

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate ensures essential configuration values are present and sensible.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Paths.SpoolDir) == "" {
		return errors.New("paths.spool_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must not be empty")
	}
	if c.Throttle.MouseMoveMS < 0 {
		return errors.New("throttle.mouse_move_ms must not be negative")
	}
	if c.Throttle.MouseScrollMS < 0 {
		return errors.New("throttle.mouse_scroll_ms must not be negative")
	}
	if c.Flush.IntervalSeconds <= 0 {
		return errors.New("flush.interval_seconds must be positive")
	}
	if c.Flush.SizeThreshold < 0 {
		return errors.New("flush.size_threshold must not be negative")
	}
	if c.Flush.MaxWriteRetries < 0 {
		return errors.New("flush.max_write_retries must not be negative")
	}
	if c.Window.PollIntervalSeconds <= 0 {
		return errors.New("window.poll_interval_seconds must be positive")
	}
	if c.Screens.Enabled && c.Screens.PerWindow <= 0 {
		return errors.New("screenshots.per_window must be positive when enabled")
	}
	if c.Upload.Enabled {
		if strings.TrimSpace(c.Upload.BackendURL) == "" {
			return errors.New("upload.backend_url must be set when upload is enabled")
		}
		if c.Upload.IntervalSeconds <= 0 {
			return errors.New("upload.interval_seconds must be positive")
		}
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("unsupported log format %q", c.Logging.Format)
	}
	return nil
}

// MouseMoveInterval returns the mouse move throttle as a duration.
func (c Config) MouseMoveInterval() time.Duration {
	return time.Duration(c.Throttle.MouseMoveMS) * time.Millisecond
}

// MouseScrollInterval returns the mouse scroll throttle as a duration.
func (c Config) MouseScrollInterval() time.Duration {
	return time.Duration(c.Throttle.MouseScrollMS) * time.Millisecond
}

// FlushInterval returns the rotation period as a duration.
func (c Config) FlushInterval() time.Duration {
	return time.Duration(c.Flush.IntervalSeconds) * time.Second
}

// WindowPollInterval returns the active-window poll period as a duration.
func (c Config) WindowPollInterval() time.Duration {
	return time.Duration(c.Window.PollIntervalSeconds) * time.Second
}

// UploadInterval returns the uploader sweep period as a duration.
func (c Config) UploadInterval() time.Duration {
	return time.Duration(c.Upload.IntervalSeconds) * time.Second
}
