package pipeline

import (
	"context"
	"sync"

	"github.com/MrWong99/audiolimiter/internal/limiter"
)

// Selection is the user's device and threshold choice. Device names are
// resolved against the live enumeration each time a pipeline starts, so a
// selection stays meaningful across device hot-plug and restarts.
type Selection struct {
	Input       string  `json:"input"`
	Output      string  `json:"output"`
	ThresholdDB float64 `json:"threshold_db"`
}

// SelectionStore holds the current [Selection] shared by the front ends
// (control API, TUI, config reload). It is safe for concurrent use.
type SelectionStore struct {
	mu  sync.Mutex
	sel Selection
}

// NewSelectionStore returns a store holding sel with its threshold clamped.
func NewSelectionStore(sel Selection) *SelectionStore {
	sel.ThresholdDB = limiter.ClampThreshold(sel.ThresholdDB)
	return &SelectionStore{sel: sel}
}

// Get returns the current selection.
func (s *SelectionStore) Get() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel
}

// SetDevices replaces the device names.
func (s *SelectionStore) SetDevices(input, output string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel.Input = input
	s.sel.Output = output
}

// SetThreshold stores db clamped to the valid range and returns the stored
// value.
func (s *SelectionStore) SetThreshold(db float64) float64 {
	db = limiter.ClampThreshold(db)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel.ThresholdDB = db
	return db
}

// StartSelected starts a pipeline with the store's current selection.
func (c *Controller) StartSelected(ctx context.Context, s *SelectionStore) error {
	sel := s.Get()
	return c.Start(ctx, sel.Input, sel.Output, sel.ThresholdDB)
}
