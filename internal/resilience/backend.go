package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/audiolimiter/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Backend = (*GuardedBackend)(nil)

// GuardedBackend is an [audio.Backend] whose device enumeration runs through
// a [Breaker]. Opening streams is passed straight through: a start request is
// an explicit user action and always reaches the platform.
type GuardedBackend struct {
	audio.Backend
	breaker *Breaker
}

// Guard wraps b. The breaker name defaults to the backend name.
func Guard(b audio.Backend, cfg BreakerConfig) *GuardedBackend {
	if cfg.Name == "" {
		cfg.Name = b.Name() + " enumeration"
	}
	return &GuardedBackend{Backend: b, breaker: NewBreaker(cfg)}
}

// Devices implements [audio.Backend].
func (g *GuardedBackend) Devices(ctx context.Context) ([]audio.Device, error) {
	var (
		devices []audio.Device
		callErr error
	)
	err := g.breaker.Do(func() error {
		devices, callErr = g.Backend.Devices(ctx)
		if callErr != nil && ctx.Err() != nil {
			// Cancelled by the caller, not a platform failure.
			return nil
		}
		return callErr
	})
	if err == nil {
		err = callErr
	}
	if err != nil {
		return nil, fmt.Errorf("enumerate %s devices: %w", g.Backend.Name(), err)
	}
	return devices, nil
}

// Breaker returns the breaker guarding enumeration.
func (g *GuardedBackend) Breaker() *Breaker { return g.breaker }

// Unwrap returns the guarded backend.
func (g *GuardedBackend) Unwrap() audio.Backend { return g.Backend }
