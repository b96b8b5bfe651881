package fpcache

import (
	"context"
	"maps"
	"sync"
)

// memoryBackend keeps entries for the lifetime of the process only.
type memoryBackend struct {
	mu      sync.RWMutex
	entries map[Key]Entry
}

// NewMemory returns an empty cache that persists nothing.
func NewMemory() *Cache {
	return &Cache{backend: &memoryBackend{entries: make(map[Key]Entry)}}
}

func (m *memoryBackend) LoadAll(context.Context) (map[Key]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.entries), nil
}

func (m *memoryBackend) Put(_ context.Context, key Key, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry
	return nil
}

func (m *memoryBackend) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *memoryBackend) Close() error { return nil }
