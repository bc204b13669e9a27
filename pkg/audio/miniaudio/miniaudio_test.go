package miniaudio_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/audiolimiter/pkg/audio"
	"github.com/MrWong99/audiolimiter/pkg/audio/miniaudio"
)

// newBackend skips the test on machines without a usable audio subsystem.
func newBackend(t *testing.T) *miniaudio.Backend {
	t.Helper()
	if testing.Short() {
		t.Skip("touches the platform audio subsystem")
	}
	b, err := miniaudio.New()
	if err != nil {
		t.Skipf("no audio subsystem: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBackend_Devices(t *testing.T) {
	b := newBackend(t)
	devices, err := b.Devices(context.Background())
	require.NoError(t, err)
	for _, d := range devices {
		assert.NotEmpty(t, d.ID)
		assert.True(t, d.Direction == audio.DirectionInput || d.Direction == audio.DirectionOutput, "device %s", d)
		for _, f := range d.Formats {
			assert.GreaterOrEqual(t, f.SampleRate, 0)
			assert.GreaterOrEqual(t, f.Channels, 0)
		}
	}
	assert.Equal(t, "miniaudio", b.Name())
}

func TestBackend_RejectsForeignDevices(t *testing.T) {
	b := newBackend(t)
	foreign := audio.Device{ID: "x", Name: "Elsewhere", Direction: audio.DirectionInput}
	_, err := b.OpenCapture(foreign, audio.Format{SampleRate: 48000, Channels: 2}, func([]float32) {})
	assert.Error(t, err)

	_, err = b.OpenPlayback(foreign, audio.Format{}, func([]float32) {})
	assert.ErrorIs(t, err, audio.ErrUnsupportedFormat)
}

func TestBackend_ClosedBackend(t *testing.T) {
	b := newBackend(t)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "close is idempotent")

	_, err := b.Devices(context.Background())
	assert.ErrorIs(t, err, miniaudio.ErrClosed)
}
