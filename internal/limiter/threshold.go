package limiter

import (
	"math"
	"sync/atomic"
)

// Threshold range and default, in dBFS.
const (
	MinThresholdDB     = -200.0
	MaxThresholdDB     = 0.0
	DefaultThresholdDB = -20.0
)

// Threshold is the shared threshold cell: written by the control path, read
// by the audio path once per block. Both operations are a single atomic
// access on the IEEE-754 bits, so they are wait-free and a reader never
// observes a torn value. Latest write wins.
type Threshold struct {
	bits atomic.Uint64
}

// NewThreshold returns a cell initialised to db (clamped).
func NewThreshold(db float64) *Threshold {
	t := &Threshold{}
	t.Set(db)
	return t
}

// Set stores db, clamped to [MinThresholdDB, MaxThresholdDB]. NaN stores the
// default.
func (t *Threshold) Set(db float64) {
	t.bits.Store(math.Float64bits(ClampThreshold(db)))
}

// Get returns the most recently stored threshold in dBFS.
func (t *Threshold) Get() float64 {
	return math.Float64frombits(t.bits.Load())
}

// ClampThreshold limits db to the valid threshold range. NaN maps to
// DefaultThresholdDB.
func ClampThreshold(db float64) float64 {
	switch {
	case math.IsNaN(db):
		return DefaultThresholdDB
	case db < MinThresholdDB:
		return MinThresholdDB
	case db > MaxThresholdDB:
		return MaxThresholdDB
	}
	return db
}
