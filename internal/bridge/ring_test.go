package bridge_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/audiolimiter/internal/bridge"
)

func newRing(t *testing.T, frames, channels int) *bridge.Ring {
	t.Helper()
	r, err := bridge.New(frames, channels)
	require.NoError(t, err)
	return r
}

func TestNew_InvalidSize(t *testing.T) {
	t.Parallel()
	_, err := bridge.New(0, 2)
	assert.ErrorIs(t, err, bridge.ErrInvalidSize)
	_, err = bridge.New(16, 0)
	assert.ErrorIs(t, err, bridge.ErrInvalidSize)
}

func TestRing_FIFO(t *testing.T) {
	t.Parallel()
	r := newRing(t, 8, 2)

	assert.Equal(t, 4, r.Write([]float32{1, 2, 3, 4}))
	assert.Equal(t, 2, r.Write([]float32{5, 6}))
	assert.Equal(t, 3, r.Buffered())

	dst := make([]float32, 6)
	assert.Equal(t, 6, r.Read(dst))
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, dst)
	assert.Zero(t, r.Buffered())
	assert.Zero(t, r.Stats().Underruns)
}

func TestRing_WrapAround(t *testing.T) {
	t.Parallel()
	r := newRing(t, 3, 2) // six samples

	dst := make([]float32, 4)
	for round := 0; round < 10; round++ {
		base := float32(round * 4)
		src := []float32{base + 1, base + 2, base + 3, base + 4}
		require.Equal(t, 4, r.Write(src))
		require.Equal(t, 4, r.Read(dst))
		require.Equal(t, src, dst, "round %d", round)
	}
	assert.Equal(t, bridge.Stats{CapacityFrames: 3}, r.Stats())
}

func TestRing_OverflowDropsNewestFrames(t *testing.T) {
	t.Parallel()
	r := newRing(t, 2, 2)

	n := r.Write([]float32{1, 2, 3, 4, 5, 6})
	assert.Equal(t, 4, n)

	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.Overflows)
	assert.Equal(t, uint64(2), stats.DroppedSamples)

	// A full ring drops everything and counts another event.
	assert.Zero(t, r.Write([]float32{7, 8}))
	stats = r.Stats()
	assert.Equal(t, uint64(2), stats.Overflows)
	assert.Equal(t, uint64(4), stats.DroppedSamples)

	dst := make([]float32, 4)
	r.Read(dst)
	assert.Equal(t, []float32{1, 2, 3, 4}, dst, "oldest frames survive")
}

func TestRing_UnderrunFillsSilence(t *testing.T) {
	t.Parallel()
	r := newRing(t, 8, 2)
	r.Write([]float32{0.5, -0.5})

	dst := []float32{9, 9, 9, 9, 9, 9}
	n := r.Read(dst)
	assert.Equal(t, 2, n)
	assert.Equal(t, []float32{0.5, -0.5, 0, 0, 0, 0}, dst)

	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.Underruns)
	assert.Equal(t, uint64(4), stats.MissingSamples)

	// Fully starved read: exactly len(dst) samples of silence.
	starved := []float32{1, 1, 1, 1}
	assert.Zero(t, r.Read(starved))
	assert.Equal(t, []float32{0, 0, 0, 0}, starved)
	assert.Equal(t, uint64(2), r.Stats().Underruns)
}

func TestRing_PartialFramesAreIgnored(t *testing.T) {
	t.Parallel()
	r := newRing(t, 4, 2)

	assert.Equal(t, 2, r.Write([]float32{1, 2, 3}))
	assert.Equal(t, 1, r.Buffered())

	dst := []float32{7, 7, 7}
	assert.Equal(t, 2, r.Read(dst))
	assert.Equal(t, []float32{1, 2, 0}, dst)
	assert.Zero(t, r.Stats().Underruns, "a trailing partial frame is not an underrun")
}

func TestRing_Prime(t *testing.T) {
	t.Parallel()
	r := newRing(t, 4, 2)

	// Dirty the buffer first so priming has to write real zeros.
	r.Write([]float32{1, 1, 1, 1, 1, 1, 1, 1})
	r.Read(make([]float32, 8))

	assert.Equal(t, 3, r.Prime(3))
	assert.Equal(t, 3, r.Buffered())
	assert.Equal(t, 1, r.Prime(10), "bounded by free space")
	assert.Zero(t, r.Prime(0))

	dst := make([]float32, 8)
	assert.Equal(t, 8, r.Read(dst))
	assert.Equal(t, make([]float32, 8), dst)
}

func TestRing_ConcurrentSPSC(t *testing.T) {
	t.Parallel()
	const total = 200_000
	r := newRing(t, 256, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		block := make([]float32, 0, 97)
		next := 1
		for next <= total {
			block = block[:0]
			for i := 0; i < cap(block) && next+i <= total; i++ {
				block = append(block, float32(next+i))
			}
			// Retry whatever was dropped so the consumer sees every value.
			for off := 0; off < len(block); {
				off += r.Write(block[off:])
			}
			next += len(block)
		}
	}()

	dst := make([]float32, 61)
	want := float32(1)
	for want <= total {
		n := r.Read(dst)
		for _, v := range dst[:n] {
			require.Equal(t, want, v, "FIFO order violated")
			want++
		}
		for _, v := range dst[n:] {
			require.Zero(t, v, "padding must be silence")
		}
	}
	<-done
	assert.Zero(t, r.Buffered())
}
