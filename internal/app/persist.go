package app

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/audiolimiter/internal/config"
	"github.com/MrWong99/audiolimiter/internal/pipeline"
)

// persistOnTransition saves the selection whenever the pipeline starts or
// stops, so it survives a crash as well as a graceful shutdown.
func (a *App) persistOnTransition(s pipeline.State) {
	if err := a.Persist(); err != nil {
		slog.Warn("failed to persist selection", "state", s, "path", a.cfgPath, "err", err)
	}
}

// Persist writes the current device names and threshold to the config file.
// The file is re-read first so only those fields change; settings overridden
// on the command line are not written back. A file that exists but does not
// load is left alone.
//
// Persist is a no-op when no config path was set.
func (a *App) Persist() error {
	if a.cfgPath == "" {
		return nil
	}
	a.persistMu.Lock()
	defer a.persistMu.Unlock()

	cfg, err := config.LoadOrDefault(a.cfgPath)
	if err != nil {
		return fmt.Errorf("app: persist: %w", err)
	}

	sel := a.sel.Get()
	if cfg.Devices.Input == sel.Input &&
		cfg.Devices.Output == sel.Output &&
		cfg.Limiter.ThresholdDB == float32(sel.ThresholdDB) {
		return nil
	}
	cfg.Devices.Input = sel.Input
	cfg.Devices.Output = sel.Output
	cfg.Limiter.ThresholdDB = float32(sel.ThresholdDB)

	save := func() error { return config.Save(a.cfgPath, cfg) }
	if a.watcher != nil {
		err = a.watcher.Suppress(save)
	} else {
		err = save()
	}
	if err != nil {
		return fmt.Errorf("app: persist: %w", err)
	}
	return nil
}
