package testutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vk/kbuildgo/internal/toolchain"
)

// ExecutionRecord holds the start and end times of one invocation.
type ExecutionRecord struct {
	Start time.Time
	End   time.Time
}

// FakeCompiler is a toolchain.Compiler that records invocations instead of
// running a toolchain. Outputs are the concatenation of the unit's inputs
// and dependency artifacts, so content changes propagate to consumers.
type FakeCompiler struct {
	// Delay is slept inside every invocation.
	Delay time.Duration
	// OnCompile, if set, runs at the start of every invocation.
	OnCompile func(inv toolchain.Invocation)

	mu       sync.Mutex
	calls    []string
	records  map[string]*ExecutionRecord
	failures map[string]string
	discover map[string][]string

	active    atomic.Int32
	maxActive atomic.Int32
}

var _ toolchain.Compiler = (*FakeCompiler)(nil)

// NewFakeCompiler returns a compiler that succeeds for every unit.
func NewFakeCompiler() *FakeCompiler {
	return &FakeCompiler{
		records:  make(map[string]*ExecutionRecord),
		failures: make(map[string]string),
		discover: make(map[string][]string),
	}
}

// Fail makes invocations of unit fail with diagnostic.
func (f *FakeCompiler) Fail(unit, diagnostic string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[unit] = diagnostic
}

// Heal undoes Fail.
func (f *FakeCompiler) Heal(unit string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failures, unit)
}

// Discover makes invocations of unit report implicit inputs.
func (f *FakeCompiler) Discover(unit string, paths ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discover[unit] = paths
}

// Command renders a deterministic command line from everything that
// reaches the toolchain.
func (f *FakeCompiler) Command(inv toolchain.Invocation) (string, error) {
	names := make([]string, 0, len(inv.Config))
	for n := range inv.Config {
		names = append(names, n)
	}
	sort.Strings(names)
	var defines []string
	for _, n := range names {
		defines = append(defines, n+"="+inv.Config[n])
	}
	return fmt.Sprintf("fake-%s %s%s -o %s %s %s [%s]",
		inv.Kind, inv.Prefix, inv.Arch, inv.Output,
		strings.Join(inv.Flags, " "),
		strings.Join(append(append([]string(nil), inv.Inputs...), inv.Deps...), " "),
		strings.Join(defines, " ")), nil
}

// Compile records the invocation and writes the artifact.
func (f *FakeCompiler) Compile(ctx context.Context, inv toolchain.Invocation) (toolchain.Result, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	rec := &ExecutionRecord{Start: time.Now()}
	f.mu.Lock()
	f.calls = append(f.calls, inv.Unit)
	f.records[inv.Unit] = rec
	diagnostic, fail := f.failures[inv.Unit]
	discovered := f.discover[inv.Unit]
	f.mu.Unlock()

	if f.OnCompile != nil {
		f.OnCompile(inv)
	}
	if f.Delay > 0 {
		time.Sleep(f.Delay)
	}
	defer func() {
		f.mu.Lock()
		rec.End = time.Now()
		f.mu.Unlock()
	}()

	if fail {
		return toolchain.Result{Diagnostic: diagnostic}, errors.New("exit status 1")
	}

	var content strings.Builder
	fmt.Fprintf(&content, "%s\n", inv.Unit)
	for _, p := range append(append([]string(nil), inv.Inputs...), inv.Deps...) {
		data, err := os.ReadFile(p)
		if err != nil {
			return toolchain.Result{Diagnostic: err.Error()}, err
		}
		content.Write(data)
	}
	if err := os.MkdirAll(filepath.Dir(inv.Output), 0o755); err != nil {
		return toolchain.Result{}, err
	}
	if err := os.WriteFile(inv.Output, []byte(content.String()), 0o644); err != nil {
		return toolchain.Result{}, err
	}
	return toolchain.Result{Discovered: discovered}, nil
}

// Calls returns the units compiled so far, in invocation order.
func (f *FakeCompiler) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Reset forgets recorded calls.
func (f *FakeCompiler) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
	f.records = make(map[string]*ExecutionRecord)
}

// Record returns the timing of the last invocation of unit.
func (f *FakeCompiler) Record(unit string) (ExecutionRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[unit]
	if !ok {
		return ExecutionRecord{}, false
	}
	return *rec, true
}

// MaxConcurrent is the highest number of simultaneous invocations seen.
func (f *FakeCompiler) MaxConcurrent() int {
	return int(f.maxActive.Load())
}
