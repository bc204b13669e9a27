// Package synth provides a hardware-free [audio.Backend].
//
// The backend exposes one input device, "Test Tone", producing a sine whose
// level alternates between a quiet passage and a loud burst, and one output
// device, "Null Output", that renders into nothing. Each open stream is driven
// by its own goroutine on a ticker at the block period, which is close enough
// to a real device thread for demos, smoke tests and CI machines without a
// sound card.
package synth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/audiolimiter/pkg/audio"
)

// Device names.
const (
	ToneName = "Test Tone"
	NullName = "Null Output"
)

// Defaults.
const (
	DefaultBlock  = 10 * time.Millisecond
	DefaultToneHz = 440.0
	// Tone amplitudes in dBFS for the quiet and burst passages.
	DefaultQuietDB = -30.0
	DefaultBurstDB = 0.0
	DefaultPeriod  = 2 * time.Second
)

var formats = []audio.Format{
	{SampleRate: 48000, Channels: 2},
	{SampleRate: 44100, Channels: 2},
	{SampleRate: 48000, Channels: 1},
}

// ErrUnknownDevice is returned when a stream is requested for a device this
// backend does not expose.
var ErrUnknownDevice = errors.New("synth: unknown device")

// Compile-time interface assertions.
var (
	_ audio.Backend = (*Backend)(nil)
	_ audio.Stream  = (*Stream)(nil)
)

// Option configures a [Backend].
type Option func(*Backend)

// WithBlock sets the callback period. Non-positive values are ignored.
// Default: [DefaultBlock].
func WithBlock(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.block = d
		}
	}
}

// WithTone sets the test tone frequency and its quiet and burst levels.
func WithTone(hz, quietDB, burstDB float64) Option {
	return func(b *Backend) {
		b.toneHz = hz
		b.quietDB = quietDB
		b.burstDB = burstDB
	}
}

// WithPeriod sets the length of one quiet+burst cycle; the burst occupies the
// second half. Non-positive values are ignored. Default: [DefaultPeriod].
func WithPeriod(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.period = d
		}
	}
}

// Backend is the synthetic audio backend.
type Backend struct {
	block   time.Duration
	toneHz  float64
	quietDB float64
	burstDB float64
	period  time.Duration
}

// New returns a synthetic backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		block:   DefaultBlock,
		toneHz:  DefaultToneHz,
		quietDB: DefaultQuietDB,
		burstDB: DefaultBurstDB,
		period:  DefaultPeriod,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Name implements [audio.Backend].
func (b *Backend) Name() string { return "synth" }

// Devices implements [audio.Backend].
func (b *Backend) Devices(_ context.Context) ([]audio.Device, error) {
	return []audio.Device{
		{ID: "synth:tone", Name: ToneName, Direction: audio.DirectionInput, Formats: formats, Default: true},
		{ID: "synth:null", Name: NullName, Direction: audio.DirectionOutput, Formats: formats, Default: true},
	}, nil
}

// OpenCapture implements [audio.Backend].
func (b *Backend) OpenCapture(dev audio.Device, f audio.Format, fn audio.CaptureFunc) (audio.Stream, error) {
	if dev.Name != ToneName {
		return nil, fmt.Errorf("%w: %q is not a capture device", ErrUnknownDevice, dev.Name)
	}
	s, err := b.newStream(f)
	if err != nil {
		return nil, err
	}
	tone := newTone(f, b.toneHz, b.quietDB, b.burstDB, b.period)
	s.tick = func(buf []float32) {
		tone.fill(buf)
		fn(buf)
	}
	return s, nil
}

// OpenPlayback implements [audio.Backend].
func (b *Backend) OpenPlayback(dev audio.Device, f audio.Format, fn audio.PlaybackFunc) (audio.Stream, error) {
	if dev.Name != NullName {
		return nil, fmt.Errorf("%w: %q is not a playback device", ErrUnknownDevice, dev.Name)
	}
	s, err := b.newStream(f)
	if err != nil {
		return nil, err
	}
	s.tick = func(buf []float32) {
		fn(buf)
		s.peak.Store(math.Float32bits(audio.PeakAbs(buf)))
	}
	return s, nil
}

// Close implements [audio.Backend].
func (b *Backend) Close() error { return nil }

func (b *Backend) newStream(f audio.Format) (*Stream, error) {
	if !supported(f) {
		return nil, fmt.Errorf("%w: %s", audio.ErrUnsupportedFormat, f)
	}
	frames := max(f.Frames(b.block), 1)
	return &Stream{
		period: b.block,
		buf:    make([]float32, frames*f.Channels),
		done:   make(chan struct{}),
	}, nil
}

func supported(f audio.Format) bool {
	for _, sf := range formats {
		if sf == f {
			return true
		}
	}
	return false
}

// Stream is one synthetic device stream.
type Stream struct {
	period time.Duration
	buf    []float32
	tick   func([]float32)

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup

	blocks atomic.Uint64
	peak   atomic.Uint32
}

// Start implements [audio.Stream].
func (s *Stream) Start() error {
	select {
	case <-s.done:
		return errors.New("synth: stream closed")
	default:
	}
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.run()
	})
	return nil
}

func (s *Stream) run() {
	defer s.wg.Done()
	t := time.NewTicker(s.period)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			s.tick(s.buf)
			s.blocks.Add(1)
		}
	}
}

// Close implements [audio.Stream]. It waits for the driving goroutine, so no
// callback runs once Close has returned.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	s.wg.Wait()
	return nil
}

// Blocks returns the number of callbacks delivered so far.
func (s *Stream) Blocks() uint64 { return s.blocks.Load() }

// PeakDB returns the peak of the last rendered block of a playback stream.
func (s *Stream) PeakDB() float64 {
	return audio.LinearToDB(float64(math.Float32frombits(s.peak.Load())))
}

// tone generates the alternating test signal. It is only used from one
// stream goroutine.
type tone struct {
	channels    int
	step        float64
	phase       float64
	quiet       float64
	burst       float64
	periodFrame int
	frame       int
}

func newTone(f audio.Format, hz, quietDB, burstDB float64, period time.Duration) *tone {
	return &tone{
		channels:    f.Channels,
		step:        2 * math.Pi * hz / float64(f.SampleRate),
		quiet:       audio.DBToLinear(quietDB),
		burst:       audio.DBToLinear(burstDB),
		periodFrame: max(f.Frames(period), 2),
	}
}

func (t *tone) fill(buf []float32) {
	for i := 0; i+t.channels <= len(buf); i += t.channels {
		amp := t.quiet
		if t.frame >= t.periodFrame/2 {
			amp = t.burst
		}
		v := float32(amp * math.Sin(t.phase))
		for ch := 0; ch < t.channels; ch++ {
			buf[i+ch] = v
		}
		t.phase += t.step
		if t.phase >= 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
		t.frame++
		if t.frame == t.periodFrame {
			t.frame = 0
		}
	}
}
