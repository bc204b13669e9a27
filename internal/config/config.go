// Package config provides the configuration schema, loader, file watcher and
// backend registry for audiolimiter.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/audiolimiter/internal/limiter"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l onto a [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Defaults applied by [Default] and to fields missing from a config file.
const (
	DefaultBackend       = "miniaudio"
	DefaultThresholdDB   = limiter.DefaultThresholdDB
	DefaultAttackMs      = 25.0
	DefaultReleaseMs     = 50.0
	DefaultLatencyMs     = 30
	DefaultListenAddr    = "127.0.0.1:8089"
	DefaultMeterInterval = 100 * time.Millisecond
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadOrDefault].
type Config struct {
	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// Backend selects the audio backend registered in the [Registry]
	// (e.g., "miniaudio", "synth").
	Backend string `yaml:"backend"`

	Devices DevicesConfig `yaml:"devices"`
	Limiter LimiterConfig `yaml:"limiter"`
	Audio   AudioConfig   `yaml:"audio"`
	Server  ServerConfig  `yaml:"server"`
}

// DevicesConfig holds the persisted device selection. Devices are matched by
// display name, so the selection survives re-enumeration and restarts.
type DevicesConfig struct {
	Input  string `yaml:"input"`
	Output string `yaml:"output"`
}

// LimiterConfig holds the gain computer settings.
type LimiterConfig struct {
	// ThresholdDB is the output ceiling in dBFS, in [-200, 0]. Stored as
	// float32 so files written by earlier releases read back unchanged.
	// Hot-reloadable.
	ThresholdDB float32 `yaml:"threshold_db"`

	// AttackMs and ReleaseMs are the gain smoothing time constants. Changes
	// apply the next time the pipeline starts.
	AttackMs  float64 `yaml:"attack_ms"`
	ReleaseMs float64 `yaml:"release_ms"`
}

// AudioConfig holds stream settings applied when the pipeline starts.
type AudioConfig struct {
	// LatencyMs is the amount of silence the bridge is primed with. The bridge
	// holds twice this amount.
	LatencyMs int `yaml:"latency_ms"`

	// SampleRate is the preferred rate when both devices support several.
	// 0 lets the devices decide.
	SampleRate int `yaml:"sample_rate"`
}

// ServerConfig holds the control API settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the control API (e.g., "127.0.0.1:8089").
	// Empty disables the API.
	ListenAddr string `yaml:"listen_addr"`

	// MeterInterval is the push period of the live meter websocket.
	MeterInterval time.Duration `yaml:"meter_interval"`
}

// Default returns a config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		LogLevel: LogInfo,
		Backend:  DefaultBackend,
		Limiter: LimiterConfig{
			ThresholdDB: DefaultThresholdDB,
			AttackMs:    DefaultAttackMs,
			ReleaseMs:   DefaultReleaseMs,
		},
		Audio: AudioConfig{
			LatencyMs: DefaultLatencyMs,
		},
		Server: ServerConfig{
			ListenAddr:    DefaultListenAddr,
			MeterInterval: DefaultMeterInterval,
		},
	}
}

// Latency returns [AudioConfig.LatencyMs] as a duration.
func (a AudioConfig) Latency() time.Duration {
	return time.Duration(a.LatencyMs) * time.Millisecond
}
