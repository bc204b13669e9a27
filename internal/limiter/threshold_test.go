package limiter_test

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/audiolimiter/internal/limiter"
)

func TestClampThreshold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want float64
	}{
		{-20, -20},
		{0, 0},
		{3, 0},
		{-200, -200},
		{-250, -200},
		{math.Inf(1), 0},
		{math.Inf(-1), -200},
		{math.NaN(), limiter.DefaultThresholdDB},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, limiter.ClampThreshold(tc.in), "clamp(%v)", tc.in)
	}
}

func TestThreshold_SetGet(t *testing.T) {
	t.Parallel()
	th := limiter.NewThreshold(-20)
	assert.Equal(t, -20.0, th.Get())

	th.Set(-6.5)
	assert.Equal(t, -6.5, th.Get())

	th.Set(12)
	assert.Equal(t, 0.0, th.Get())
}

func TestThreshold_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	th := limiter.NewThreshold(-10)
	valid := map[float64]bool{-10: true, -20: true, -30: true}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		values := []float64{-10, -20, -30}
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				th.Set(values[i%len(values)])
			}
		}
	}()

	for i := 0; i < 100_000; i++ {
		v := th.Get()
		require.True(t, valid[v], "torn or foreign value %v", v)
	}
	close(stop)
	wg.Wait()

	// A write is eventually visible to a reader on another goroutine.
	th.Set(-42)
	got := make(chan float64)
	go func() {
		for th.Get() != -42 {
		}
		got <- th.Get()
	}()
	select {
	case v := <-got:
		assert.Equal(t, -42.0, v)
	case <-time.After(5 * time.Second):
		t.Fatal("threshold write never observed")
	}
}
