package state

import "sync/atomic"

// Store publishes snapshots to concurrent readers
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore creates a store serving initial, or an empty snapshot when nil
func NewStore(initial *Snapshot) *Store {
	if initial == nil {
		initial = Empty()
	}
	s := &Store{}
	s.current.Store(initial)
	return s
}

// Load returns the latest published snapshot
func (s *Store) Load() *Snapshot {
	return s.current.Load()
}

// Publish makes next visible to all subsequent Load calls
func (s *Store) Publish(next *Snapshot) {
	s.current.Store(next)
}
