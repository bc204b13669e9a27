// Package audio defines the device model and backend interfaces that connect
// the limiter pipeline to a platform audio subsystem.
//
// The two primary abstractions are:
//
//   - [Backend]: enumerates devices and opens capture/playback [Stream]s.
//   - [Stream]: a single running device stream whose callback is invoked by
//     the backend on its own real-time thread.
//
// Implementations are provided by backend adapter packages (audio/miniaudio,
// audio/synth). The interfaces are intentionally narrow so the pipeline stays
// decoupled from any particular audio API.
//
// This package lives under pkg/ because external code (third-party backends)
// is expected to implement [Backend] and [Stream].
package audio

import (
	"context"
	"errors"
)

// ErrUnsupportedFormat is returned by backends when a stream cannot be opened
// with the requested [Format].
var ErrUnsupportedFormat = errors.New("audio: unsupported format")

// CaptureFunc receives one block of interleaved input samples. The slice is
// only valid for the duration of the call.
//
// CaptureFunc runs on a real-time thread owned by the backend: it must not
// allocate, block, or perform I/O.
type CaptureFunc func(in []float32)

// PlaybackFunc fills one block of interleaved output samples. Every element of
// out must be written; the slice is only valid for the duration of the call.
//
// PlaybackFunc runs on a real-time thread owned by the backend: it must not
// allocate, block, or perform I/O.
type PlaybackFunc func(out []float32)

// Stream is a single open device stream.
//
// Implementations must be safe to Close from a goroutine other than the
// callback thread.
type Stream interface {
	// Start begins invoking the stream's callback.
	Start() error

	// Close stops the stream and releases the device. When Close returns, the
	// callback is not executing and will never be invoked again. It is safe to
	// call Close more than once; subsequent calls return nil.
	Close() error
}

// Backend is the entry point for a platform audio subsystem.
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// Name returns the registry name of the backend (e.g. "miniaudio").
	Name() string

	// Devices enumerates the currently available devices. The device set may
	// change between calls.
	Devices(ctx context.Context) ([]Device, error)

	// OpenCapture opens dev for capture with format f. The stream is created
	// stopped; call [Stream.Start] to begin receiving callbacks.
	OpenCapture(dev Device, f Format, fn CaptureFunc) (Stream, error)

	// OpenPlayback opens dev for playback with format f. The stream is created
	// stopped; call [Stream.Start] to begin receiving callbacks.
	OpenPlayback(dev Device, f Format, fn PlaybackFunc) (Stream, error)

	// Close releases backend-wide resources. Streams must be closed first.
	Close() error
}
