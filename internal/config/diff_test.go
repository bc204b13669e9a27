package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/audiolimiter/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	d := config.Diff(cfg, cfg)
	if !d.Empty() {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
}

func TestDiff_ThresholdChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Limiter.ThresholdDB = -6

	d := config.Diff(old, new)
	if !d.ThresholdChanged {
		t.Error("expected ThresholdChanged=true")
	}
	if d.NewThresholdDB != -6 {
		t.Errorf("expected NewThresholdDB=-6, got %g", d.NewThresholdDB)
	}
	if d.StartOptionsChanged || d.DevicesChanged || len(d.RestartRequired) != 0 {
		t.Errorf("only the threshold should change, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_StartOptionsChanged(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"attack", func(c *config.Config) { c.Limiter.AttackMs = 5 }},
		{"release", func(c *config.Config) { c.Limiter.ReleaseMs = 500 }},
		{"latency", func(c *config.Config) { c.Audio.LatencyMs = 60 }},
		{"sample rate", func(c *config.Config) { c.Audio.SampleRate = 44100 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old := config.Default()
			new := config.Default()
			tt.mutate(new)
			d := config.Diff(old, new)
			if !d.StartOptionsChanged {
				t.Error("expected StartOptionsChanged=true")
			}
			if d.ThresholdChanged {
				t.Error("expected ThresholdChanged=false")
			}
		})
	}
}

func TestDiff_DevicesChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Devices.Output = "Headphones"

	d := config.Diff(old, new)
	if !d.DevicesChanged {
		t.Error("expected DevicesChanged=true")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Backend = "synth"
	new.Server.ListenAddr = ":0"
	new.Server.MeterInterval = time.Second

	d := config.Diff(old, new)
	want := []string{"backend", "server.listen_addr", "server.meter_interval"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired: got %v, want %v", d.RestartRequired, want)
	}
	if d.Empty() {
		t.Error("diff should not be empty")
	}
}
