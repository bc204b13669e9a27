package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/audiolimiter/internal/limiter"
)

// ValidBackendNames lists the backends shipped with audiolimiter.
// Used by [Validate] to warn about unrecognised backend names.
var ValidBackendNames = []string{"miniaudio", "synth"}

// Value ranges enforced by [Validate].
const (
	MaxTimeConstMs   = 10_000.0
	MaxLatencyMs     = 1000
	MinMeterInterval = 10 * time.Millisecond
)

// DefaultPath returns the per-user config file location,
// <user config dir>/audiolimiter/config.yaml.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: locate user config dir: %w", err)
	}
	return filepath.Join(dir, "audiolimiter", "config.yaml"), nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is like [Load] but returns [Default] when no file exists at
// path yet. A file that exists but cannot be parsed is still an error.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Debug("no config file, using defaults", "path", path)
		return Default(), nil
	}
	return cfg, err
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Fields absent from the document keep their [Default] values; an empty
// document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	if cfg.Backend == "" {
		errs = append(errs, errors.New("backend is required"))
	} else if !slices.Contains(ValidBackendNames, cfg.Backend) {
		slog.Warn("unknown backend name; it must be registered at startup", "backend", cfg.Backend, "known", ValidBackendNames)
	}

	// Limiter
	thr := float64(cfg.Limiter.ThresholdDB)
	if math.IsNaN(thr) || thr < limiter.MinThresholdDB || thr > limiter.MaxThresholdDB {
		errs = append(errs, fmt.Errorf("limiter.threshold_db %g is out of range [%g, %g]",
			thr, limiter.MinThresholdDB, limiter.MaxThresholdDB))
	}
	errs = appendTimeConst(errs, "limiter.attack_ms", cfg.Limiter.AttackMs)
	errs = appendTimeConst(errs, "limiter.release_ms", cfg.Limiter.ReleaseMs)

	// Audio
	if cfg.Audio.LatencyMs <= 0 || cfg.Audio.LatencyMs > MaxLatencyMs {
		errs = append(errs, fmt.Errorf("audio.latency_ms %d is out of range (0, %d]", cfg.Audio.LatencyMs, MaxLatencyMs))
	}
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}

	// Server
	if cfg.Server.MeterInterval < MinMeterInterval {
		errs = append(errs, fmt.Errorf("server.meter_interval %s is below the %s minimum", cfg.Server.MeterInterval, MinMeterInterval))
	}

	return errors.Join(errs...)
}

func appendTimeConst(errs []error, field string, ms float64) []error {
	if math.IsNaN(ms) || ms < 0 || ms > MaxTimeConstMs {
		return append(errs, fmt.Errorf("%s %g is out of range [0, %g]", field, ms, MaxTimeConstMs))
	}
	return errs
}

// Save writes cfg to path as YAML, creating the parent directory if needed.
// The file is written to a temporary sibling and renamed into place, so a
// concurrent reader (such as a [Watcher]) never sees a partial file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: encode yaml: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: create %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("config: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("config: write %q: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: close %q: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("config: replace %q: %w", path, err)
	}
	return nil
}
