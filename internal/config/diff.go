package config

// ConfigDiff describes what changed between two configs.
// Threshold and log level are hot-applied; everything else is reported so the
// caller can tell the user when a change takes effect.
type ConfigDiff struct {
	ThresholdChanged bool
	NewThresholdDB   float64

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// StartOptionsChanged is true when attack, release, latency or sample
	// rate changed. These apply the next time the pipeline starts.
	StartOptionsChanged bool

	// DevicesChanged is true when the persisted input or output name changed.
	DevicesChanged bool

	// RestartRequired lists settings that only take effect after the program
	// restarts (backend, server address).
	RestartRequired []string
}

// Empty reports whether nothing relevant changed.
func (d ConfigDiff) Empty() bool {
	return !d.ThresholdChanged && !d.LogLevelChanged && !d.StartOptionsChanged &&
		!d.DevicesChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Limiter.ThresholdDB != new.Limiter.ThresholdDB {
		d.ThresholdChanged = true
		d.NewThresholdDB = float64(new.Limiter.ThresholdDB)
	}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}

	if old.Limiter.AttackMs != new.Limiter.AttackMs ||
		old.Limiter.ReleaseMs != new.Limiter.ReleaseMs ||
		old.Audio != new.Audio {
		d.StartOptionsChanged = true
	}

	d.DevicesChanged = old.Devices != new.Devices

	if old.Backend != new.Backend {
		d.RestartRequired = append(d.RestartRequired, "backend")
	}
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.MeterInterval != new.Server.MeterInterval {
		d.RestartRequired = append(d.RestartRequired, "server.meter_interval")
	}

	return d
}
