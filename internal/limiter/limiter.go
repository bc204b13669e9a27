// Package limiter implements the feed-forward peak limiter applied to every
// output block, and the threshold cell that controls it.
//
// The limiter tracks a per-channel peak envelope (instant attack, release
// decay) and smooths a per-channel gain toward T/envelope with a one-pole
// filter whose coefficient depends on direction: the attack coefficient when
// the gain must fall, the release coefficient when it recovers. Envelope
// state is carried across blocks and is never reset while a stream runs, so
// live threshold changes are click-free.
//
// [Limiter.Process] performs no allocation and no blocking call and may run
// inside a real-time audio callback.
package limiter

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/MrWong99/audiolimiter/pkg/audio"
)

// Default envelope time constants in milliseconds.
const (
	DefaultAttackMs  = 25.0
	DefaultReleaseMs = 50.0
)

// epsilon keeps the gain computer away from a division by zero on silence.
const epsilon = 1e-12

const maxTimeConstantMs = 10_000.0

// Option configures a [Limiter].
type Option func(*Limiter)

// WithAttack sets the attack time constant in milliseconds.
func WithAttack(ms float64) Option {
	return func(l *Limiter) { l.attackMs = ms }
}

// WithRelease sets the release time constant in milliseconds.
func WithRelease(ms float64) Option {
	return func(l *Limiter) { l.releaseMs = ms }
}

// Limiter is the stateful gain computer for one running pipeline.
//
// Process and Gain must only be called from a single goroutine (the output
// callback). GainReductionDB may be read concurrently from any goroutine.
type Limiter struct {
	sampleRate int
	channels   int
	attackMs   float64
	releaseMs  float64

	attackCoeff  float64
	releaseCoeff float64

	// Per-channel envelope state.
	env  []float64
	gain []float64

	// Cached linear threshold for the last seen dB value.
	thresholdDB  float64
	thresholdLin float64

	// Lowest gain applied in the most recent block, as float64 bits.
	minGain atomic.Uint64
}

// New returns a Limiter for interleaved blocks with the given channel count
// at sampleRate. All envelope state starts at unity gain.
func New(sampleRate, channels int, opts ...Option) (*Limiter, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("limiter: sample rate must be positive: %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("limiter: channel count must be positive: %d", channels)
	}
	l := &Limiter{
		sampleRate: sampleRate,
		channels:   channels,
		attackMs:   DefaultAttackMs,
		releaseMs:  DefaultReleaseMs,
		env:        make([]float64, channels),
		gain:       make([]float64, channels),
	}
	for _, o := range opts {
		o(l)
	}
	if err := validateTimeConstant("attack", l.attackMs); err != nil {
		return nil, err
	}
	if err := validateTimeConstant("release", l.releaseMs); err != nil {
		return nil, err
	}
	l.attackCoeff = Coefficient(l.attackMs, sampleRate)
	l.releaseCoeff = Coefficient(l.releaseMs, sampleRate)
	l.thresholdDB = math.NaN()
	l.Reset()
	return l, nil
}

func validateTimeConstant(name string, ms float64) error {
	if math.IsNaN(ms) || ms < 0 || ms > maxTimeConstantMs {
		return fmt.Errorf("limiter: %s must be in [0, %g] ms: %g", name, maxTimeConstantMs, ms)
	}
	return nil
}

// Coefficient returns the one-pole smoothing coefficient exp(-1/(R·τ)) for a
// time constant of ms milliseconds at sampleRate. A zero time constant yields
// 0 (the filter follows its target instantly).
func Coefficient(ms float64, sampleRate int) float64 {
	if ms <= 0 || sampleRate <= 0 {
		return 0
	}
	return math.Exp(-1 / (float64(sampleRate) * ms / 1000))
}

// Reset returns every channel to unity gain and a silent envelope.
func (l *Limiter) Reset() {
	for ch := range l.gain {
		l.gain[ch] = 1
		l.env[ch] = 0
	}
	l.minGain.Store(math.Float64bits(1))
}

// Process limits src into dst using thresholdDB. dst and src may be the same
// slice. Only min(len(dst), len(src)) samples are processed; samples are
// assigned to channels by their interleaved position.
//
// Non-finite input samples are written as silence and leave the envelope
// untouched.
func (l *Limiter) Process(dst, src []float32, thresholdDB float64) {
	if thresholdDB != l.thresholdDB {
		l.thresholdDB = thresholdDB
		l.thresholdLin = audio.DBToLinear(thresholdDB)
	}
	t := l.thresholdLin
	attack, release := l.attackCoeff, l.releaseCoeff

	n := min(len(dst), len(src))
	minGain := 1.0
	ch := 0
	for i := 0; i < n; i++ {
		s := float64(src[i])
		if math.IsNaN(s) || math.IsInf(s, 0) {
			dst[i] = 0
		} else {
			env := release * l.env[ch]
			if level := math.Abs(s); level > env {
				env = level
			}
			l.env[ch] = env

			target := math.Min(1, t/math.Max(env, epsilon))
			g := l.gain[ch]
			if target != g {
				a := release
				if target < g {
					a = attack
				}
				g = a*g + (1-a)*target
				l.gain[ch] = g
			}
			minGain = math.Min(minGain, g)
			dst[i] = float32(s * g)
		}

		ch++
		if ch == l.channels {
			ch = 0
		}
	}
	l.minGain.Store(math.Float64bits(minGain))
}

// Gain returns the current gain factor of channel ch, in (0, 1].
func (l *Limiter) Gain(ch int) float64 {
	return l.gain[ch]
}

// GainReductionDB returns the deepest gain reduction applied during the most
// recent block as a non-negative dB amount.
func (l *Limiter) GainReductionDB() float64 {
	g := math.Float64frombits(l.minGain.Load())
	if g >= 1 {
		return 0
	}
	return -audio.LinearToDB(g)
}

// Channels returns the interleaved channel count.
func (l *Limiter) Channels() int { return l.channels }

// SampleRate returns the sample rate the coefficients were derived for.
func (l *Limiter) SampleRate() int { return l.sampleRate }
