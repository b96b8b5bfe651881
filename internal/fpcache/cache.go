// Package fpcache stores unit fingerprints between builds.
//
// Entries are immutable values held in a sync.Map, so workers building
// different units never contend on a shared lock and a reader always sees
// either the previous entry or the complete new one. Every write goes
// through to a Backend before it becomes visible.
package fpcache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Key identifies a cache entry: a unit built under one target context
// with one slice of the configuration.
type Key struct {
	Unit    string
	Context string
	State   string
}

// Entry is what a successful build of a unit leaves behind.
type Entry struct {
	Fingerprint string
	// Output is the artifact path and OutputDigest its digest at record time.
	Output       string
	OutputDigest string
	// Discovered lists implicit inputs reported by the compiler.
	Discovered []string
	UpdatedAt  time.Time
}

// Backend persists entries.
type Backend interface {
	LoadAll(ctx context.Context) (map[Key]Entry, error)
	Put(ctx context.Context, key Key, entry Entry) error
	Delete(ctx context.Context, key Key) error
	Close() error
}

// Cache is the in-memory view over a Backend.
type Cache struct {
	entries sync.Map // Key -> Entry
	backend Backend
}

// New loads every entry from backend.
func New(ctx context.Context, backend Backend) (*Cache, error) {
	all, err := backend.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	c := &Cache{backend: backend}
	for k, e := range all {
		c.entries.Store(k, e)
	}
	return c, nil
}

// Get returns the entry for key.
func (c *Cache) Get(key Key) (Entry, bool) {
	v, ok := c.entries.Load(key)
	if !ok {
		return Entry{}, false
	}
	return v.(Entry), true
}

// Put records an entry. It is visible to Get only after the backend
// accepted it.
func (c *Cache) Put(ctx context.Context, key Key, entry Entry) error {
	entry.Discovered = append([]string(nil), entry.Discovered...)
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	if err := c.backend.Put(ctx, key, entry); err != nil {
		return fmt.Errorf("recording fingerprint of %s: %w", key.Unit, err)
	}
	c.entries.Store(key, entry)
	return nil
}

// Delete removes the entry for key, if any.
func (c *Cache) Delete(ctx context.Context, key Key) error {
	c.entries.Delete(key)
	if err := c.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("removing fingerprint of %s: %w", key.Unit, err)
	}
	return nil
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Keys returns every key, sorted by unit, context and state.
func (c *Cache) Keys() []Key {
	var keys []Key
	c.entries.Range(func(k, _ any) bool {
		keys = append(keys, k.(Key))
		return true
	})
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Unit != b.Unit {
			return a.Unit < b.Unit
		}
		if a.Context != b.Context {
			return a.Context < b.Context
		}
		return a.State < b.State
	})
	return keys
}

// Close closes the backend.
func (c *Cache) Close() error {
	return c.backend.Close()
}

// CorruptionError reports a persisted cache that cannot be read.
type CorruptionError struct {
	Path string
	Err  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("fingerprint cache %s is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }
