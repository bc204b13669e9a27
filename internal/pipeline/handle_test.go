package pipeline_test

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/audiolimiter/internal/pipeline"
	"github.com/MrWong99/audiolimiter/pkg/audio"
	"github.com/MrWong99/audiolimiter/pkg/audio/mock"
)

func TestOpen_RequiresBothDevices(t *testing.T) {
	t.Parallel()
	b := newBackend()
	mic := mock.Device("Mic", audio.DirectionInput, stereo48k)

	_, err := pipeline.Open(context.Background(), b, mic, audio.Device{}, pipeline.Options{})
	assert.ErrorIs(t, err, pipeline.ErrDeviceNotSelected)
	_, err = pipeline.Open(context.Background(), b, audio.Device{}, mic, pipeline.Options{})
	assert.ErrorIs(t, err, pipeline.ErrDeviceNotSelected)
	assert.Zero(t, b.OpenedStreams())
}

func TestOpen_CancelledContext(t *testing.T) {
	t.Parallel()
	b := newBackend()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pipeline.Open(ctx, b,
		mock.Device("Mic", audio.DirectionInput, stereo48k),
		mock.Device("Speakers", audio.DirectionOutput, stereo48k),
		pipeline.Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, b.OpenedStreams())
}

func TestOpen_MismatchMessageNamesFormats(t *testing.T) {
	t.Parallel()
	b := newBackend()
	_, err := pipeline.Open(context.Background(), b,
		mock.Device("Mic", audio.DirectionInput, stereo44k),
		mock.Device("Speakers", audio.DirectionOutput, stereo48k),
		pipeline.Options{})
	require.ErrorIs(t, err, pipeline.ErrFormatMismatch)
	assert.ErrorContains(t, err, "44100Hz stereo")
	assert.ErrorContains(t, err, "48000Hz stereo")
}

func TestOpen_LatencyPrimesBridge(t *testing.T) {
	t.Parallel()
	b := newBackend()
	h, err := pipeline.Open(context.Background(), b,
		mock.Device("Mic", audio.DirectionInput, stereo48k),
		mock.Device("Speakers", audio.DirectionOutput, stereo48k),
		pipeline.Options{ThresholdDB: -20, Latency: 10 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Stop() })

	st := h.Stats()
	assert.Equal(t, 480, st.Bridge.BufferedFrames)
	assert.Equal(t, 960, st.Bridge.CapacityFrames)
	assert.Equal(t, -20.0, h.ThresholdDB())
	assert.False(t, h.StartedAt().IsZero())
}

func TestHandle_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	b := newBackend()
	h, err := pipeline.Open(context.Background(), b,
		mock.Device("Mic", audio.DirectionInput, stereo48k),
		mock.Device("Speakers", audio.DirectionOutput, stereo48k),
		pipeline.Options{})
	require.NoError(t, err)

	require.NoError(t, h.Stop())
	require.NoError(t, h.Stop())
	assert.Equal(t, 1, b.LastCapture().CallCountClose)
	assert.Equal(t, 1, b.LastPlayback().CallCountClose)
}

func TestHandle_ThresholdTakesEffectNextBlock(t *testing.T) {
	t.Parallel()
	b := newBackend()
	h, err := pipeline.Open(context.Background(), b,
		mock.Device("Mic", audio.DirectionInput, stereo48k),
		mock.Device("Speakers", audio.DirectionOutput, stereo48k),
		pipeline.Options{ThresholdDB: 0, Latency: time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Stop() })

	capture, playback := b.LastCapture(), b.LastPlayback()
	out := make([]float32, 96)
	playback.Playback(out) // primed silence

	in := stereoSine(48, 0, 0.5)
	capture.Capture(in)
	playback.Playback(out)
	assert.Equal(t, in, out, "0 dB passes audio untouched")

	h.SetThreshold(-40)
	capture.Capture(stereoSine(48, 48, 0.5))
	playback.Playback(out)
	assert.Less(t, h.Stats().OutputPeakDB, audio.LinearToDB(0.5), "new threshold applied to the next block")
}

func TestHandle_NonFiniteInputKeepsStatsEncodable(t *testing.T) {
	t.Parallel()
	b := newBackend()
	c, _ := newController(t, b)
	require.NoError(t, c.Start(context.Background(), "Mic", "Speakers", -20))

	capture, playback := b.LastCapture(), b.LastPlayback()
	inf := float32(math.Inf(1))
	capture.Capture([]float32{inf, float32(math.NaN()), -inf, 0.25})
	out := make([]float32, 4)
	for range 4 {
		playback.Playback(out)
	}

	st := c.Status()
	for name, db := range map[string]float64{
		"input peak":     st.Stats.InputPeakDB,
		"output peak":    st.Stats.OutputPeakDB,
		"gain reduction": st.Stats.GainReductionDB,
	} {
		assert.False(t, math.IsInf(db, 0) || math.IsNaN(db), "%s = %v", name, db)
	}
	assert.InDelta(t, audio.LinearToDB(0.25), st.Stats.InputPeakDB, 1e-6)

	_, err := json.Marshal(st)
	require.NoError(t, err, "status must stay JSON encodable")
}
