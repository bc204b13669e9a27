package pipeline_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/audiolimiter/internal/pipeline"
)

func TestSelectionStore(t *testing.T) {
	t.Parallel()
	s := pipeline.NewSelectionStore(pipeline.Selection{Input: "Mic", ThresholdDB: 12})
	assert.Equal(t, pipeline.Selection{Input: "Mic", ThresholdDB: 0}, s.Get(), "threshold clamped on construction")

	s.SetDevices("USB Mic", "Speakers")
	assert.Equal(t, -200.0, s.SetThreshold(-500))
	assert.Equal(t, -20.0, s.SetThreshold(math.NaN()))
	assert.Equal(t, pipeline.Selection{Input: "USB Mic", Output: "Speakers", ThresholdDB: -20}, s.Get())
}

func TestController_StartSelected(t *testing.T) {
	t.Parallel()
	c, _ := newController(t, newBackend())
	s := pipeline.NewSelectionStore(pipeline.Selection{Input: "Mic", Output: "Speakers", ThresholdDB: -12})

	require.NoError(t, c.StartSelected(context.Background(), s))
	st := c.Status()
	assert.True(t, st.Running())
	assert.Equal(t, "Mic", st.Input)
	assert.Equal(t, -12.0, st.ThresholdDB)

	require.NoError(t, c.Stop())
	s.SetDevices("", "Speakers")
	assert.ErrorIs(t, c.StartSelected(context.Background(), s), pipeline.ErrDeviceNotSelected)
}
