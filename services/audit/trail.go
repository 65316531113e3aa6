package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/upb/access-control-plane/models"
	"github.com/upb/access-control-plane/repositories"
)

const historyPageSize = 1000

// ErrTrailNotEmpty is returned when history is restored into a trail that
// already recorded entries
var ErrTrailNotEmpty = errors.New("audit trail already has entries")

// Filter narrows a trail query. Zero fields match everything.
type Filter struct {
	EntityType models.EntityType
	EntityID   *uuid.UUID
	ActorID    string
	Limit      int
}

func (f Filter) matches(e *models.AuditEntry) bool {
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != nil && e.EntityID != *f.EntityID {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	return true
}

// Trail is the append-only, in-process record of committed mutations
type Trail struct {
	mu      sync.RWMutex
	entries []*models.AuditEntry
	seq     uint64
}

// NewTrail creates an empty trail
func NewTrail() *Trail {
	return &Trail{}
}

// Append assigns the next sequence number to entry and stores it.
// The entry must not be modified afterwards.
func (t *Trail) Append(entry *models.AuditEntry) *models.AuditEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	entry.Sequence = t.seq
	t.entries = append(t.entries, entry)
	return entry
}

// Restore seeds an empty trail with persisted entries. Appends made later are
// numbered after the highest restored sequence.
func (t *Trail) Restore(entries []*models.AuditEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.entries) > 0 {
		return ErrTrailNotEmpty
	}
	t.entries = append(t.entries, entries...)
	for _, e := range entries {
		if e.Sequence > t.seq {
			t.seq = e.Sequence
		}
	}
	return nil
}

// LoadHistory reads the whole persisted audit log into trail
func LoadHistory(ctx context.Context, repo repositories.AuditRepository, trail *Trail) (int, error) {
	var history []*models.AuditEntry
	for offset := 0; ; offset += historyPageSize {
		page, err := repo.List(ctx, repositories.AuditFilter{}, historyPageSize, offset)
		if err != nil {
			return 0, fmt.Errorf("failed to load audit history: %w", err)
		}
		history = append(history, page...)
		if len(page) < historyPageSize {
			break
		}
	}
	if err := trail.Restore(history); err != nil {
		return 0, err
	}
	return len(history), nil
}

// List returns copies of the matching entries in insertion order
func (t *Trail) List(filter Filter) []models.AuditEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.AuditEntry, 0)
	for _, e := range t.entries {
		if !filter.matches(e) {
			continue
		}
		out = append(out, *e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out
}

// Len returns the number of entries appended so far
func (t *Trail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
