package audio

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/antzucaro/matchr"
)

// suggestThreshold is the minimum Jaro-Winkler score for [Catalog.Suggest]
// to return a candidate.
const suggestThreshold = 0.80

// Catalog is a stateless query layer over a [Backend]'s device enumeration.
// Every call re-enumerates, so results always reflect the current device set.
//
// Catalog is safe for concurrent use.
type Catalog struct {
	backend Backend
}

// NewCatalog returns a Catalog backed by b.
func NewCatalog(b Backend) *Catalog {
	return &Catalog{backend: b}
}

// List returns all devices currently available. An enumeration failure is
// logged and yields an empty list: "no devices" is a valid state for callers
// to display.
func (c *Catalog) List(ctx context.Context) []Device {
	devices, err := c.backend.Devices(ctx)
	if err != nil {
		slog.Warn("device enumeration failed", "backend", c.backend.Name(), "err", err)
		return nil
	}
	return devices
}

// ListDirection returns the devices able to serve dir.
func (c *Catalog) ListDirection(ctx context.Context, dir Direction) []Device {
	all := c.List(ctx)
	out := make([]Device, 0, len(all))
	for _, d := range all {
		if d.Direction.Has(dir) {
			out = append(out, d)
		}
	}
	return out
}

// Find resolves a persisted display name to a device in the current
// enumeration. An empty name, or a name that no longer matches any device
// able to serve dir, returns ok == false ("no device selected").
func (c *Catalog) Find(ctx context.Context, name string, dir Direction) (Device, bool) {
	if name == "" {
		return Device{}, false
	}
	return FindByName(c.List(ctx), name, dir)
}

// Suggest returns the name of the device most similar to name, for use in
// hints when a persisted name no longer resolves. It never selects a device.
func (c *Catalog) Suggest(ctx context.Context, name string, dir Direction) (string, bool) {
	return SuggestName(c.ListDirection(ctx, dir), name)
}

// FindByName looks up name (exact match) among devices able to serve dir.
func FindByName(devices []Device, name string, dir Direction) (Device, bool) {
	i := slices.IndexFunc(devices, func(d Device) bool {
		return d.Name == name && d.Direction.Has(dir)
	})
	if i < 0 {
		return Device{}, false
	}
	return devices[i], true
}

// SuggestName returns the device name closest to name by case-insensitive
// Jaro-Winkler similarity, provided the score reaches suggestThreshold.
func SuggestName(devices []Device, name string) (string, bool) {
	if name == "" {
		return "", false
	}
	target := strings.ToLower(name)
	best, bestScore := "", 0.0
	for _, d := range devices {
		score := matchr.JaroWinkler(target, strings.ToLower(d.Name), false)
		if score > bestScore {
			best, bestScore = d.Name, score
		}
	}
	if bestScore < suggestThreshold {
		return "", false
	}
	return best, true
}
