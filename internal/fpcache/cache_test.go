package fpcache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/kbuildgo/internal/ctxlog"
)

func testCtx() context.Context {
	return ctxlog.Discard(context.Background())
}

func sampleEntry(fp string) Entry {
	return Entry{
		Fingerprint:  fp,
		Output:       "/out/a.o",
		OutputDigest: "sha256:abc",
		Discovered:   []string{"include/a.h"},
		UpdatedAt:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMemory(t *testing.T) {
	ctx := testCtx()
	c := NewMemory()
	key := Key{Unit: "a.o", Context: "ctx", State: "cfg"}

	_, ok := c.Get(key)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, key, sampleEntry("fp1")))
	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, sampleEntry("fp1"), got)

	other := Key{Unit: "a.o", Context: "ctx", State: "cfg2"}
	_, ok = c.Get(other)
	assert.False(t, ok, "a different configuration slice is a different key")

	require.NoError(t, c.Put(ctx, other, Entry{Fingerprint: "fp2"}))
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []Key{key, other}, c.Keys())

	e, _ := c.Get(other)
	assert.False(t, e.UpdatedAt.IsZero(), "Put stamps entries")

	require.NoError(t, c.Delete(ctx, key))
	_, ok = c.Get(key)
	assert.False(t, ok)
	require.NoError(t, c.Close())
}

func TestMemory_PutCopiesDiscovered(t *testing.T) {
	c := NewMemory()
	key := Key{Unit: "a.o"}
	e := sampleEntry("fp")
	require.NoError(t, c.Put(testCtx(), key, e))
	e.Discovered[0] = "mutated.h"

	got, _ := c.Get(key)
	assert.Equal(t, []string{"include/a.h"}, got.Discovered)
}

func TestMemory_Concurrent(t *testing.T) {
	ctx := testCtx()
	c := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := Key{Unit: fmt.Sprintf("u%d.o", i)}
			assert.NoError(t, c.Put(ctx, key, Entry{Fingerprint: "fp"}))
			_, ok := c.Get(key)
			assert.True(t, ok)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 32, c.Len())
}

func TestSQLite_Persists(t *testing.T) {
	ctx := testCtx()
	path := filepath.Join(t.TempDir(), "cache.db")
	key := Key{Unit: "a.o", Context: "ctx", State: "cfg"}
	gone := Key{Unit: "b.o", Context: "ctx", State: "cfg"}

	c, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, key, sampleEntry("fp1")))
	require.NoError(t, c.Put(ctx, key, sampleEntry("fp2")))
	require.NoError(t, c.Put(ctx, gone, Entry{Fingerprint: "x"}))
	require.NoError(t, c.Delete(ctx, gone))
	require.NoError(t, c.Close())

	c, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, 1, c.Len())
	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, sampleEntry("fp2"), got, "upsert keeps the latest entry")
}

func TestSQLite_Corrupt(t *testing.T) {
	ctx := testCtx()
	path := filepath.Join(t.TempDir(), "cache.db")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("not a database ", 512)), 0o644))

	_, err := OpenSQLite(ctx, path)
	var corrupt *CorruptionError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, path, corrupt.Path)
	assert.Contains(t, err.Error(), "is corrupt")

	c, err := OpenOrReset(ctx, path)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, 0, c.Len())
	require.NoError(t, c.Put(ctx, Key{Unit: "a.o"}, Entry{Fingerprint: "fp"}))
}
