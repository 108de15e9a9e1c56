// Package expiry provides a map of keys to deadlines. It backs command
// cooldowns, game cooldowns, URL permits and active-viewer tracking.
//
// Expired entries are dropped lazily on lookup; Run adds an optional
// background sweep to bound memory.
package expiry

import (
	"context"
	"sync"
	"time"
)

// Map tracks keys that expire at a deadline. The zero value is not usable;
// call New.
type Map[K comparable] struct {
	mu   sync.Mutex
	now  func() time.Time
	keys map[K]time.Time
}

// New returns an empty map using the wall clock. time.Now carries a
// monotonic reading, so comparisons are immune to clock jumps.
func New[K comparable]() *Map[K] {
	return NewWithClock[K](time.Now)
}

// NewWithClock returns an empty map using now as its clock.
func NewWithClock[K comparable](now func() time.Time) *Map[K] {
	return &Map[K]{now: now, keys: make(map[K]time.Time)}
}

// Set records key as live for ttl. A non-positive ttl deletes the key.
func (m *Map[K]) Set(key K, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ttl <= 0 {
		delete(m.keys, key)
		return
	}
	m.keys[key] = m.now().Add(ttl)
}

// SetIfAbsent records key for ttl only when it is not live. It reports
// whether the key was set.
func (m *Map[K]) SetIfAbsent(key K, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.liveLocked(key); ok {
		return false
	}
	if ttl > 0 {
		m.keys[key] = m.now().Add(ttl)
	}
	return true
}

// Remaining returns how long key stays live; ok is false for absent or
// expired keys.
func (m *Map[K]) Remaining(key K) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveLocked(key)
}

// Has reports whether key is live.
func (m *Map[K]) Has(key K) bool {
	_, ok := m.Remaining(key)
	return ok
}

// Delete forgets key.
func (m *Map[K]) Delete(key K) {
	m.mu.Lock()
	delete(m.keys, key)
	m.mu.Unlock()
}

// Keys returns the live keys in no particular order.
func (m *Map[K]) Keys() []K {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	out := make([]K, 0, len(m.keys))
	for k, deadline := range m.keys {
		if now.Before(deadline) {
			out = append(out, k)
		}
	}
	return out
}

// Len returns the number of stored entries, including expired ones not yet
// swept.
func (m *Map[K]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

// Sweep drops all expired entries and returns how many were removed.
func (m *Map[K]) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for k, deadline := range m.keys {
		if !now.Before(deadline) {
			delete(m.keys, k)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (m *Map[K]) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep()
		}
	}
}

func (m *Map[K]) liveLocked(key K) (time.Duration, bool) {
	deadline, ok := m.keys[key]
	if !ok {
		return 0, false
	}
	left := deadline.Sub(m.now())
	if left <= 0 {
		delete(m.keys, key)
		return 0, false
	}
	return left, true
}
