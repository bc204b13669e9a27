// Package bridge carries captured samples from the input callback to the
// output callback.
//
// [Ring] is a bounded single-producer/single-consumer ring buffer of
// interleaved float32 samples. Both ends are non-blocking and lock-free: the
// producer owns the write cursor, the consumer owns the read cursor, and each
// publishes its progress with a single atomic store. Every transfer moves
// whole frames so channels can never rotate inside the buffer.
//
// Overflow drops the newest frames that do not fit. Underrun fills the
// missing part of the read with silence. Both are counted, never reported as
// errors.
package bridge

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrInvalidSize is returned by [New] for a non-positive capacity or channel
// count.
var ErrInvalidSize = errors.New("bridge: capacity and channels must be positive")

// Stats is a snapshot of the ring's diagnostics counters.
type Stats struct {
	// Overflows counts writes that could not store every frame offered.
	Overflows uint64 `json:"overflows"`
	// DroppedSamples is the total number of samples discarded on overflow.
	DroppedSamples uint64 `json:"dropped_samples"`
	// Underruns counts reads that had to be padded with silence.
	Underruns uint64 `json:"underruns"`
	// MissingSamples is the total number of silent samples inserted.
	MissingSamples uint64 `json:"missing_samples"`
	// BufferedFrames is the fill level at snapshot time.
	BufferedFrames int `json:"buffered_frames"`
	// CapacityFrames is the fixed ring size.
	CapacityFrames int `json:"capacity_frames"`
}

// Ring is a fixed-capacity SPSC sample queue. Write and Prime may only be
// called by the producer, Read only by the consumer. Stats, Buffered and the
// accessors are safe from any goroutine.
type Ring struct {
	buf      []float32
	size     uint64
	channels uint64

	// Monotonic sample cursors. write-read is the number of buffered samples.
	read  atomic.Uint64
	write atomic.Uint64

	overflows atomic.Uint64
	dropped   atomic.Uint64
	underruns atomic.Uint64
	missing   atomic.Uint64
}

// New allocates a ring holding frames interleaved frames of channels samples.
func New(frames, channels int) (*Ring, error) {
	if frames <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: frames=%d channels=%d", ErrInvalidSize, frames, channels)
	}
	size := uint64(frames) * uint64(channels)
	return &Ring{
		buf:      make([]float32, size),
		size:     size,
		channels: uint64(channels),
	}, nil
}

// Write copies as many whole frames of src as fit and returns the number of
// samples stored. A trailing partial frame is ignored. Frames that do not fit
// are dropped and counted as one overflow.
func (r *Ring) Write(src []float32) int {
	n := uint64(len(src)) - uint64(len(src))%r.channels
	if n == 0 {
		return 0
	}
	w := r.write.Load()
	free := r.size - (w - r.read.Load())
	take := min(n, free)

	r.copyIn(w, src[:take])
	r.write.Store(w + take)

	if take < n {
		r.overflows.Add(1)
		r.dropped.Add(n - take)
	}
	return int(take)
}

// Read fills dst with buffered samples in FIFO order and returns how many
// were real. The rest of dst, if any, is set to silence and the shortfall of
// whole frames is counted as one underrun. A trailing partial frame in dst is
// always silence.
func (r *Ring) Read(dst []float32) int {
	n := uint64(len(dst)) - uint64(len(dst))%r.channels
	rd := r.read.Load()
	avail := r.write.Load() - rd
	take := min(n, avail)

	if take > 0 {
		start := rd % r.size
		first := copy(dst[:take], r.buf[start:])
		copy(dst[first:take], r.buf)
		r.read.Store(rd + take)
	}
	clear(dst[take:])

	if take < n {
		r.underruns.Add(1)
		r.missing.Add(n - take)
	}
	return int(take)
}

// Prime queues frames of silence (bounded by free space) and returns the
// number of frames queued. It sets the initial playback latency and must be
// called by the producer before the consumer starts.
func (r *Ring) Prime(frames int) int {
	if frames <= 0 {
		return 0
	}
	w := r.write.Load()
	free := r.size - (w - r.read.Load())
	take := min(uint64(frames)*r.channels, free)
	for i := uint64(0); i < take; i++ {
		r.buf[(w+i)%r.size] = 0
	}
	r.write.Store(w + take)
	return int(take / r.channels)
}

func (r *Ring) copyIn(w uint64, src []float32) {
	start := w % r.size
	first := copy(r.buf[start:], src)
	copy(r.buf, src[first:])
}

// Buffered returns the number of frames currently queued.
func (r *Ring) Buffered() int {
	rd := r.read.Load()
	return int((r.write.Load() - rd) / r.channels)
}

// Capacity returns the ring size in frames.
func (r *Ring) Capacity() int { return int(r.size / r.channels) }

// Channels returns the number of interleaved channels per frame.
func (r *Ring) Channels() int { return int(r.channels) }

// Stats returns a snapshot of the diagnostics counters.
func (r *Ring) Stats() Stats {
	return Stats{
		Overflows:      r.overflows.Load(),
		DroppedSamples: r.dropped.Load(),
		Underruns:      r.underruns.Load(),
		MissingSamples: r.missing.Load(),
		BufferedFrames: r.Buffered(),
		CapacityFrames: r.Capacity(),
	}
}
