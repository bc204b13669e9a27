// Package mock provides an in-memory mock implementation of [audio.Backend]
// and [audio.Stream] for use in unit tests.
//
// The mock never spawns goroutines: tests drive the stream callbacks by
// calling [Stream.Capture] and [Stream.Playback] directly, which makes the
// real-time side of a pipeline fully deterministic.
//
// Typical usage:
//
//	b := &mock.Backend{DevicesResult: []audio.Device{
//	    mock.Device("Mic", audio.DirectionInput, audio.Format{SampleRate: 48000, Channels: 2}),
//	    mock.Device("Speakers", audio.DirectionOutput, audio.Format{SampleRate: 48000, Channels: 2}),
//	}}
//	// ... start a pipeline on b ...
//	b.LastCapture().Capture(block)
//	b.LastPlayback().Playback(out)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/audiolimiter/pkg/audio"
)

// Compile-time interface assertions.
var _ audio.Backend = (*Backend)(nil)
var _ audio.Stream = (*Stream)(nil)

// Device is a convenience constructor for a mock [audio.Device] whose ID
// equals its name.
func Device(name string, dir audio.Direction, formats ...audio.Format) audio.Device {
	return audio.Device{ID: name, Name: name, Direction: dir, Formats: formats}
}

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock [audio.Stream]. Callbacks run synchronously on the test
// goroutine and hold the stream lock, so [Stream.Close] waits for an
// in-flight callback exactly as a real backend must.
type Stream struct {
	mu sync.Mutex

	// Device and Format record what the stream was opened with.
	Device audio.Device
	Format audio.Format

	// StartError is returned by [Stream.Start].
	StartError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// Invocations counts callbacks actually delivered.
	Invocations int

	capture  audio.CaptureFunc
	playback audio.PlaybackFunc
	started  bool
	closed   bool
}

// Start implements [audio.Stream].
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartError != nil {
		return s.StartError
	}
	s.started = true
	return nil
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.closed = true
	s.started = false
	return nil
}

// Capture delivers in to the capture callback. It reports false (and does
// nothing) when the stream is not a started, open capture stream.
func (s *Stream) Capture(in []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.closed || s.capture == nil {
		return false
	}
	s.Invocations++
	s.capture(in)
	return true
}

// Playback asks the playback callback to fill out. It reports false (and
// leaves out untouched) when the stream is not a started, open playback stream.
func (s *Stream) Playback(out []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.closed || s.playback == nil {
		return false
	}
	s.Invocations++
	s.playback(out)
	return true
}

// Started reports whether Start succeeded and Close has not been called.
func (s *Stream) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Backend ──────────────────────────────────────────────────────────────────

// Backend is a mock implementation of [audio.Backend].
// Set the exported Result/Error fields before use; inspect the recorded
// streams after.
type Backend struct {
	mu sync.Mutex

	// DevicesResult is returned by [Backend.Devices].
	DevicesResult []audio.Device

	// DevicesError is returned by [Backend.Devices].
	DevicesError error

	// CaptureErrors maps device names to errors returned by OpenCapture.
	CaptureErrors map[string]error

	// PlaybackErrors maps device names to errors returned by OpenPlayback.
	PlaybackErrors map[string]error

	// CallCountDevices records how many times Devices was called.
	CallCountDevices int

	// Captures and Playbacks record every successfully opened stream in order.
	Captures  []*Stream
	Playbacks []*Stream

	// Closed records whether Close was called.
	Closed bool
}

// Name implements [audio.Backend].
func (b *Backend) Name() string { return "mock" }

// Devices implements [audio.Backend].
func (b *Backend) Devices(_ context.Context) ([]audio.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CallCountDevices++
	if b.DevicesError != nil {
		return nil, b.DevicesError
	}
	out := make([]audio.Device, len(b.DevicesResult))
	copy(out, b.DevicesResult)
	return out, nil
}

// OpenCapture implements [audio.Backend].
func (b *Backend) OpenCapture(dev audio.Device, f audio.Format, fn audio.CaptureFunc) (audio.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.CaptureErrors[dev.Name]; err != nil {
		return nil, err
	}
	s := &Stream{Device: dev, Format: f, capture: fn}
	b.Captures = append(b.Captures, s)
	return s, nil
}

// OpenPlayback implements [audio.Backend].
func (b *Backend) OpenPlayback(dev audio.Device, f audio.Format, fn audio.PlaybackFunc) (audio.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.PlaybackErrors[dev.Name]; err != nil {
		return nil, err
	}
	s := &Stream{Device: dev, Format: f, playback: fn}
	b.Playbacks = append(b.Playbacks, s)
	return s, nil
}

// Close implements [audio.Backend].
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Closed = true
	return nil
}

// LastCapture returns the most recently opened capture stream, or nil.
func (b *Backend) LastCapture() *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.Captures) == 0 {
		return nil
	}
	return b.Captures[len(b.Captures)-1]
}

// LastPlayback returns the most recently opened playback stream, or nil.
func (b *Backend) LastPlayback() *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.Playbacks) == 0 {
		return nil
	}
	return b.Playbacks[len(b.Playbacks)-1]
}

// OpenedStreams returns the total number of streams opened so far.
func (b *Backend) OpenedStreams() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Captures) + len(b.Playbacks)
}
