// Package keylock serializes work per string key.
//
// Waiters on the same key are admitted in arrival order and can give up when
// their context ends. Multi-key acquisitions lock keys in sorted order so
// overlapping sets cannot deadlock.
package keylock

import (
	"context"
	"slices"
	"sync"

	"golang.org/x/sync/semaphore"
)

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Locker hands out exclusive ownership of keys
type Locker struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty Locker
func New() *Locker {
	return &Locker{entries: make(map[string]*entry)}
}

// Acquire blocks until every key is owned by the caller or ctx is done.
// On success the returned func releases all keys; on failure nothing is held.
func (l *Locker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	held := make([]*entry, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].sem.Release(1)
		}
		l.unref(keys[:len(held)])
	}

	for i, key := range keys {
		e := l.ref(key)
		if err := e.sem.Acquire(ctx, 1); err != nil {
			l.unref(keys[i : i+1])
			release()
			return nil, err
		}
		held = append(held, e)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

// Len returns the number of keys currently held or waited on
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Locker) ref(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *Locker) unref(keys []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, key := range keys {
		e := l.entries[key]
		if e == nil {
			continue
		}
		if e.refs--; e.refs == 0 {
			delete(l.entries, key)
		}
	}
}
