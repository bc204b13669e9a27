// Package pipeline binds an input and an output device into a running
// limiter: captured blocks flow through a [bridge.Ring] into the output
// callback, which limits them against the live threshold before they reach
// the device.
//
// [Open] builds a [Handle] for two already-resolved devices. [Controller]
// owns the Idle/Running state machine on top of it and resolves persisted
// device names through an [audio.Catalog] immediately before every start.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/audiolimiter/internal/bridge"
	"github.com/MrWong99/audiolimiter/internal/limiter"
	"github.com/MrWong99/audiolimiter/pkg/audio"
)

// Sentinel errors returned by [Open] and [Controller.Start]. Callers match
// them with [errors.Is]; every failure leaves no stream open.
var (
	// ErrDeviceNotSelected means an input or output device is missing or its
	// persisted name no longer matches a present device.
	ErrDeviceNotSelected = errors.New("pipeline: device not selected")

	// ErrDeviceUnavailable means the backend failed to open or start a
	// stream on a selected device.
	ErrDeviceUnavailable = errors.New("pipeline: device unavailable")

	// ErrFormatMismatch means the two devices share no native (sample rate,
	// channels) format. No resampling is attempted.
	ErrFormatMismatch = errors.New("pipeline: no common stream format")

	// ErrAlreadyRunning is returned by [Controller.Start] while a pipeline
	// is running.
	ErrAlreadyRunning = errors.New("pipeline: already running")
)

// Default buffering parameters.
const (
	DefaultLatency = 30 * time.Millisecond

	// ringLatencyFactor sizes the bridge relative to the priming latency.
	ringLatencyFactor = 2
)

// Options tunes a pipeline. Zero durations and time constants select the
// defaults.
type Options struct {
	// ThresholdDB is the initial limiter threshold.
	ThresholdDB float64

	// Latency is the amount of silence primed into the bridge before output
	// starts. Default: [DefaultLatency].
	Latency time.Duration

	// SampleRate is the preferred rate during format negotiation. Zero lets
	// the devices decide.
	SampleRate int

	// AttackMs and ReleaseMs are the envelope time constants. Zero selects
	// the limiter defaults.
	AttackMs  float64
	ReleaseMs float64
}

func (o Options) withDefaults() Options {
	if o.Latency <= 0 {
		o.Latency = DefaultLatency
	}
	if o.AttackMs == 0 {
		o.AttackMs = limiter.DefaultAttackMs
	}
	if o.ReleaseMs == 0 {
		o.ReleaseMs = limiter.DefaultReleaseMs
	}
	return o
}

// Stats is a diagnostics snapshot of a running pipeline.
type Stats struct {
	Bridge          bridge.Stats `json:"bridge"`
	GainReductionDB float64      `json:"gain_reduction_db"`
	InputPeakDB     float64      `json:"input_peak_db"`
	OutputPeakDB    float64      `json:"output_peak_db"`
}

// Handle is one running pipeline: both device streams plus the bridge,
// limiter and threshold cell they share. A Handle is never restarted; stop it
// and open a new one.
type Handle struct {
	input     audio.Device
	output    audio.Device
	format    audio.Format
	startedAt time.Time

	ring      *bridge.Ring
	lim       *limiter.Limiter
	threshold *limiter.Threshold

	inStream  audio.Stream
	outStream audio.Stream

	// Last block peaks as float32 bits, written by the callbacks.
	inPeak  atomic.Uint32
	outPeak atomic.Uint32

	stopOnce sync.Once
	stopErr  error
}

// Open negotiates a common format for in and out, builds the bridge and the
// limiter, then opens and starts the output stream followed by the input
// stream. On any failure every stream opened so far is closed again.
func Open(ctx context.Context, b audio.Backend, in, out audio.Device, opts Options) (*Handle, error) {
	if in.Name == "" && in.ID == "" {
		return nil, fmt.Errorf("%w: no input device", ErrDeviceNotSelected)
	}
	if out.Name == "" && out.ID == "" {
		return nil, fmt.Errorf("%w: no output device", ErrDeviceNotSelected)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	format, ok := audio.Negotiate(in, out, opts.SampleRate)
	if !ok {
		return nil, fmt.Errorf("%w: input %q offers %s, output %q offers %s",
			ErrFormatMismatch, in.Name, audio.FormatList(in.Formats), out.Name, audio.FormatList(out.Formats))
	}

	latencyFrames := max(format.Frames(opts.Latency), 1)
	ring, err := bridge.New(latencyFrames*ringLatencyFactor, format.Channels)
	if err != nil {
		return nil, fmt.Errorf("pipeline: create bridge: %w", err)
	}
	lim, err := limiter.New(format.SampleRate, format.Channels,
		limiter.WithAttack(opts.AttackMs),
		limiter.WithRelease(opts.ReleaseMs),
	)
	if err != nil {
		return nil, fmt.Errorf("pipeline: create limiter: %w", err)
	}
	ring.Prime(latencyFrames)

	h := &Handle{
		input:     in,
		output:    out,
		format:    format,
		ring:      ring,
		lim:       lim,
		threshold: limiter.NewThreshold(opts.ThresholdDB),
	}
	h.inPeak.Store(math.Float32bits(0))
	h.outPeak.Store(math.Float32bits(0))

	h.outStream, err = b.OpenPlayback(out, format, h.render)
	if err != nil {
		return nil, fmt.Errorf("%w: open output %q: %w", ErrDeviceUnavailable, out.Name, err)
	}
	h.inStream, err = b.OpenCapture(in, format, h.capture)
	if err != nil {
		_ = h.outStream.Close()
		return nil, fmt.Errorf("%w: open input %q: %w", ErrDeviceUnavailable, in.Name, err)
	}

	if err := h.outStream.Start(); err != nil {
		_ = h.closeStreams()
		return nil, fmt.Errorf("%w: start output %q: %w", ErrDeviceUnavailable, out.Name, err)
	}
	if err := h.inStream.Start(); err != nil {
		_ = h.closeStreams()
		return nil, fmt.Errorf("%w: start input %q: %w", ErrDeviceUnavailable, in.Name, err)
	}
	h.startedAt = time.Now()
	return h, nil
}

// capture runs on the input device's callback thread.
func (h *Handle) capture(in []float32) {
	h.ring.Write(in)
	h.inPeak.Store(math.Float32bits(audio.PeakAbs(in)))
}

// render runs on the output device's callback thread.
func (h *Handle) render(out []float32) {
	h.ring.Read(out)
	h.lim.Process(out, out, h.threshold.Get())
	h.outPeak.Store(math.Float32bits(audio.PeakAbs(out)))
}

// Stop closes the input stream, then the output stream. When Stop returns no
// callback of this handle is running or will run again. Stop is idempotent.
func (h *Handle) Stop() error {
	h.stopOnce.Do(func() {
		h.stopErr = h.closeStreams()
	})
	return h.stopErr
}

func (h *Handle) closeStreams() error {
	var errs []error
	if h.inStream != nil {
		if err := h.inStream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close input %q: %w", h.input.Name, err))
		}
	}
	if h.outStream != nil {
		if err := h.outStream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output %q: %w", h.output.Name, err))
		}
	}
	return errors.Join(errs...)
}

// SetThreshold updates the live threshold. The next output block uses it.
func (h *Handle) SetThreshold(db float64) { h.threshold.Set(db) }

// ThresholdDB returns the live threshold.
func (h *Handle) ThresholdDB() float64 { return h.threshold.Get() }

// Format returns the negotiated stream format.
func (h *Handle) Format() audio.Format { return h.format }

// Input returns the capture device.
func (h *Handle) Input() audio.Device { return h.input }

// Output returns the playback device.
func (h *Handle) Output() audio.Device { return h.output }

// StartedAt returns when both streams were started.
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Stats returns the current diagnostics of the handle.
func (h *Handle) Stats() Stats {
	return Stats{
		Bridge:          h.ring.Stats(),
		GainReductionDB: h.lim.GainReductionDB(),
		InputPeakDB:     peakDB(&h.inPeak),
		OutputPeakDB:    peakDB(&h.outPeak),
	}
}

// silenceFloorDB stands in for -Inf in meter readings so they stay JSON
// encodable.
const silenceFloorDB = -120.0

func peakDB(v *atomic.Uint32) float64 {
	db := audio.LinearToDB(float64(math.Float32frombits(v.Load())))
	if math.IsNaN(db) || math.IsInf(db, 0) {
		return silenceFloorDB
	}
	return max(db, silenceFloorDB)
}
