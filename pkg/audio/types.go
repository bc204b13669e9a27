package audio

import (
	"fmt"
	"strings"
	"time"
)

// Direction tags a device as able to capture, render, or both.
type Direction int

const (
	// DirectionInput marks a capture-capable device.
	DirectionInput Direction = 1 << iota

	// DirectionOutput marks a playback-capable device.
	DirectionOutput

	// DirectionBoth marks a device that can both capture and render.
	DirectionBoth = DirectionInput | DirectionOutput
)

// String returns the human-readable name of the direction.
func (d Direction) String() string {
	switch d {
	case DirectionInput:
		return "input"
	case DirectionOutput:
		return "output"
	case DirectionBoth:
		return "both"
	default:
		return "unknown"
	}
}

// MarshalText encodes the direction as its name.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Has reports whether d includes every capability in other.
func (d Direction) Has(other Direction) bool {
	return other != 0 && d&other == other
}

// Format describes the sample rate and channel count of a stream. Samples are
// always interleaved float32.
//
// A zero SampleRate or Channels in a device's advertised formats means the
// device accepts any value for that field.
type Format struct {
	SampleRate int `json:"sample_rate" yaml:"sample_rate"`
	Channels   int `json:"channels" yaml:"channels"`
}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// Frames returns the number of frames covering d at f's sample rate.
func (f Format) Frames(d time.Duration) int {
	return int(int64(f.SampleRate) * int64(d) / int64(time.Second))
}

// IsConcrete reports whether both fields carry a definite value.
func (f Format) IsConcrete() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// Device is a reference to a device owned by a [Backend]. Device values are
// snapshots from a single enumeration and must be re-resolved by name after
// the device set is refreshed.
type Device struct {
	// ID is the backend-specific identifier, unique within one enumeration.
	ID string `json:"id"`

	// Name is the display name, used to persist a selection across runs.
	Name string `json:"name"`

	// Direction tags the device as input, output, or both.
	Direction Direction `json:"direction"`

	// Formats lists the natively supported formats, in the backend's order of
	// preference. An empty list means the backend did not report any.
	Formats []Format `json:"formats"`

	// Default is true when the backend reports this as the system default for
	// its direction.
	Default bool `json:"default"`

	// Handle is an opaque backend value needed to open the device.
	Handle any `json:"-"`
}

// String returns the device name annotated with its direction.
func (d Device) String() string {
	return fmt.Sprintf("%s (%s)", d.Name, d.Direction)
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	r := "any"
	if rate > 0 {
		r = fmt.Sprintf("%dHz", rate)
	}
	ch := "mono"
	switch {
	case channels == 0:
		ch = "any channels"
	case channels == 2:
		ch = "stereo"
	case channels > 2:
		ch = fmt.Sprintf("%dch", channels)
	}
	return r + " " + ch
}

// FormatList renders formats as a comma separated list.
func FormatList(formats []Format) string {
	if len(formats) == 0 {
		return "(unreported)"
	}
	parts := make([]string, len(formats))
	for i, f := range formats {
		parts[i] = f.String()
	}
	return strings.Join(parts, ", ")
}
