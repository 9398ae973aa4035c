package cache

import (
	"bytes"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     any
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryBackend is a process-local Backend for development, tests and
// single-instance deployments. Expired entries are dropped lazily and by Purge.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// WithClock replaces the backend clock. Intended for tests.
func (b *MemoryBackend) WithClock(now func() time.Time) *MemoryBackend {
	b.now = now
	return b
}

func (b *MemoryBackend) Get(_ context.Context, key string) (any, bool, error) {
	b.mu.RLock()
	entry, ok := b.entries[key]
	b.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if entry.expired(b.now()) {
		b.mu.Lock()
		if current, ok := b.entries[key]; ok && current.expired(b.now()) {
			delete(b.entries, key)
		}
		b.mu.Unlock()
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.store(key, bytes.Clone(value), ttl)
	return nil
}

// SetValue stores an already-decoded value, the way some stores hand back
// parsed objects instead of raw strings.
func (b *MemoryBackend) SetValue(key string, value any, ttl time.Duration) {
	b.store(key, value, ttl)
}

func (b *MemoryBackend) store(key string, value any, ttl time.Duration) {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = b.now().Add(ttl)
	}

	b.mu.Lock()
	b.entries[key] = entry
	b.mu.Unlock()
}

func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	delete(b.entries, key)
	b.mu.Unlock()
	return nil
}

// Purge removes expired entries and returns how many were dropped.
func (b *MemoryBackend) Purge() int {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for key, entry := range b.entries {
		if entry.expired(now) {
			delete(b.entries, key)
			removed++
		}
	}
	return removed
}

func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
