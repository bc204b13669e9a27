package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/audiolimiter/internal/pipeline"
	"github.com/MrWong99/audiolimiter/pkg/audio"
)

// ErrNotRunning is reported by [Pipeline] while no audio is flowing.
var ErrNotRunning = errors.New("pipeline not running")

// Pipeline returns a checker that passes while status reports a running
// pipeline.
func Pipeline(status func() pipeline.Status) Checker {
	return Checker{
		Name: "pipeline",
		Check: func(context.Context) error {
			st := status()
			if !st.Running() {
				return fmt.Errorf("%w (state %s)", ErrNotRunning, st.State)
			}
			return nil
		},
	}
}

// Devices returns a checker that passes when the backend currently offers
// at least one input and one output device.
func Devices(c *audio.Catalog) Checker {
	return Checker{
		Name: "devices",
		Check: func(ctx context.Context) error {
			var in, out int
			for _, d := range c.List(ctx) {
				if d.Direction.Has(audio.DirectionInput) {
					in++
				}
				if d.Direction.Has(audio.DirectionOutput) {
					out++
				}
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			switch {
			case in == 0 && out == 0:
				return errors.New("no audio devices")
			case in == 0:
				return errors.New("no input devices")
			case out == 0:
				return errors.New("no output devices")
			}
			return nil
		},
	}
}
