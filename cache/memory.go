package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store backed by a map.
// A capacity of 0 means unbounded; otherwise inserting into a full
// store evicts the oldest entry first.
type MemoryStore struct {
	mu        sync.RWMutex
	entries   map[string]*Entry
	capacity  int
	retention time.Duration
}

// NewMemoryStore creates an in-memory store. Entries are kept for their
// lifespan plus retention before RemoveExpired will drop them; pass a
// negative retention to use DefaultRetention.
func NewMemoryStore(capacity int, retention time.Duration) *MemoryStore {
	if retention < 0 {
		retention = DefaultRetention
	}
	return &MemoryStore{
		entries:   make(map[string]*Entry),
		capacity:  capacity,
		retention: retention,
	}
}

func (m *MemoryStore) Lookup(_ context.Context, key string) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[key]
	return entry, ok
}

func (m *MemoryStore) Insert(_ context.Context, key string, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[key]; !exists && m.capacity > 0 && len(m.entries) >= m.capacity {
		m.evictOldest()
	}
	m.entries[key] = entry
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryStore) RemoveExpired(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, entry := range m.entries {
		if entry.Age() > entry.Lifespan+m.retention {
			delete(m.entries, key)
		}
	}
	return nil
}

// Len returns the number of entries currently held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// evictOldest removes the entry with the earliest creation time.
// Caller must hold the write lock.
func (m *MemoryStore) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	for key, entry := range m.entries {
		if oldestKey == "" || entry.CreatedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.CreatedAt
		}
	}
	if oldestKey != "" {
		delete(m.entries, oldestKey)
	}
}

var _ Store = (*MemoryStore)(nil)
