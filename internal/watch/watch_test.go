package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/kbuildgo/internal/ctxlog"
)

type batches struct {
	mu  sync.Mutex
	all [][]string
}

func (b *batches) record(_ context.Context, paths []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, paths)
	return nil
}

func (b *batches) flat() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, batch := range b.all {
		out = append(out, batch...)
	}
	return out
}

func start(t *testing.T, w *Watcher, b *batches) {
	t.Helper()
	ctx, cancel := context.WithCancel(ctxlog.Discard(context.Background()))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx, b.record)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestWatcher_DebouncesChanges(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "drivers"), 0o755))

	w, err := New([]string{root}, nil, 100*time.Millisecond)
	require.NoError(t, err)
	b := &batches{}
	start(t, w, b)

	a := filepath.Join(root, "drivers", "a.c")
	c := filepath.Join(root, "c.c")
	require.NoError(t, os.WriteFile(a, []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(c, []byte("1"), 0o644))

	assert.Eventually(t, func() bool {
		got := b.flat()
		return contains(got, a) && contains(got, c)
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatcher_IgnoresOutputAndWatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "build")
	require.NoError(t, os.MkdirAll(out, 0o755))

	w, err := New([]string{root}, []string{out}, 50*time.Millisecond)
	require.NoError(t, err)
	b := &batches{}
	start(t, w, b)

	require.NoError(t, os.WriteFile(filepath.Join(out, "a.o"), []byte("x"), 0o644))
	sub := filepath.Join(root, "fs")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	// Give the watcher a moment to pick up the new directory.
	time.Sleep(200 * time.Millisecond)
	inode := filepath.Join(sub, "inode.c")
	require.NoError(t, os.WriteFile(inode, []byte("x"), 0o644))

	assert.Eventually(t, func() bool { return contains(b.flat(), inode) }, 5*time.Second, 20*time.Millisecond)
	for _, p := range b.flat() {
		assert.NotContains(t, p, out)
	}
}

func TestNew_MissingRoot(t *testing.T) {
	_, err := New([]string{filepath.Join(t.TempDir(), "nope")}, nil, time.Millisecond)
	assert.Error(t, err)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
