package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryOptions configures a MemoryStore.
type MemoryOptions struct {
	// TTL is how long an entry stays valid. Zero means entries never expire.
	TTL time.Duration

	// Clock is used for expiry. Defaults to the system clock.
	Clock Clock
}

type memoryEntry[D any] struct {
	value   D
	expires time.Time
}

// MemoryStore is an in-process Store. It is safe for concurrent use.
type MemoryStore[D any] struct {
	ttl   time.Duration
	clock Clock

	mu      sync.RWMutex
	entries map[string]memoryEntry[D]
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore[D any](opts MemoryOptions) *MemoryStore[D] {
	clock := opts.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &MemoryStore[D]{
		ttl:     opts.TTL,
		clock:   clock,
		entries: make(map[string]memoryEntry[D]),
	}
}

// Get implements Store. Expired entries are reported as misses and removed.
func (m *MemoryStore[D]) Get(_ context.Context, key string) (D, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	var zero D
	if !ok {
		return zero, false, nil
	}
	if m.expired(entry, m.clock.Now()) {
		m.mu.Lock()
		// Re-check: a concurrent Set may have refreshed the entry.
		if cur, ok := m.entries[key]; ok && m.expired(cur, m.clock.Now()) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return zero, false, nil
	}
	return entry.value, true, nil
}

// Set implements Store.
func (m *MemoryStore[D]) Set(_ context.Context, key string, value D) error {
	entry := memoryEntry[D]{value: value}
	if m.ttl > 0 {
		entry.expires = m.clock.Now().Add(m.ttl)
	}

	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

// Delete implements Store.
func (m *MemoryStore[D]) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Clear implements Store.
func (m *MemoryStore[D]) Clear(_ context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry[D])
	m.mu.Unlock()
	return nil
}

// Purge removes expired entries and returns how many were dropped.
func (m *MemoryStore[D]) Purge() int {
	if m.ttl <= 0 {
		return 0
	}

	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	purged := 0
	for key, entry := range m.entries {
		if m.expired(entry, now) {
			delete(m.entries, key)
			purged++
		}
	}
	return purged
}

// Len returns the number of stored entries, expired ones included until
// they are read or purged.
func (m *MemoryStore[D]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryStore[D]) expired(e memoryEntry[D], now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}
