package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/kbuildgo/internal/ctxlog"
	"github.com/vk/kbuildgo/internal/fingerprint"
	"github.com/vk/kbuildgo/internal/fpcache"
	"github.com/vk/kbuildgo/internal/kconfig"
	"github.com/vk/kbuildgo/internal/model"
	"github.com/vk/kbuildgo/internal/target"
	"github.com/vk/kbuildgo/internal/testutil"
	"github.com/vk/kbuildgo/internal/toolchain"
	"github.com/vk/kbuildgo/internal/unitgraph"
)

type fixture struct {
	t     *testing.T
	src   string
	index *model.Index
	state *kconfig.State
	tc    target.Context
	cache *fpcache.Cache
	cc    *testutil.FakeCompiler
}

func parseExpr(t *testing.T, src string) hcl.Expression {
	t.Helper()
	expr, diags := hclsyntax.ParseExpression([]byte(src), "test.hcl", hcl.InitialPos)
	require.False(t, diags.HasErrors(), diags.Error())
	return expr
}

// chainUnits declares a.o -> lib.a -> vmlinux.
func chainUnits() []*model.Unit {
	return []*model.Unit{
		{Kind: model.KindObject, Name: "a.o", Inputs: []string{"a.c"}},
		{Kind: model.KindArchive, Name: "lib.a", Deps: []string{"a.o"}},
		{Kind: model.KindImage, Name: "vmlinux", Deps: []string{"lib.a"}},
	}
}

func newFixture(t *testing.T, units []*model.Unit, files map[string]string) *fixture {
	t.Helper()
	root := t.TempDir()
	src := filepath.Join(root, "src")
	testutil.WriteTree(t, src, files)

	idx, err := model.NewIndex(units)
	require.NoError(t, err)
	tc, err := target.New(target.Params{Arch: "x86_64", OutputRoot: filepath.Join(root, "out"), Parallelism: 2})
	require.NoError(t, err)

	return &fixture{
		t:     t,
		src:   src,
		index: idx,
		state: kconfig.NewState(nil, nil, nil),
		tc:    tc,
		cache: fpcache.NewMemory(),
		cc:    testutil.NewFakeCompiler(),
	}
}

func (f *fixture) options() Options {
	return Options{Parallelism: 2, Compiler: f.cc, SourceRoot: f.src}
}

func (f *fixture) build(ctx context.Context, opts Options) (*Report, error) {
	f.t.Helper()
	g, err := unitgraph.Construct(ctx, f.index, f.state, f.tc)
	require.NoError(f.t, err)
	return Build(ctx, g, f.cache, opts)
}

func (f *fixture) run() *Report {
	f.t.Helper()
	f.cc.Reset()
	report, err := f.build(testCtx(), f.options())
	require.NoError(f.t, err)
	return report
}

func (f *fixture) output(unit string) string {
	return f.tc.ArtifactPath(unit)
}

func testCtx() context.Context {
	return ctxlog.Discard(context.Background())
}

func statuses(r *Report) map[string]Status {
	out := make(map[string]Status, len(r.Units))
	for _, u := range r.Units {
		out[u.Unit] = u.Status
	}
	return out
}

func TestBuild_ChainThenNothing(t *testing.T) {
	f := newFixture(t, chainUnits(), map[string]string{"a.c": "int a;\n"})

	report := f.run()
	assert.Equal(t, []string{"a.o", "lib.a", "vmlinux"}, f.cc.Calls())
	assert.Equal(t, 3, report.Invocations)
	assert.Equal(t, 3, report.Count(Built))
	assert.NotEmpty(t, report.BuildID)

	a, _ := f.cc.Record("a.o")
	lib, _ := f.cc.Record("lib.a")
	assert.False(t, lib.Start.Before(a.End), "lib.a must start after a.o finished")

	for _, u := range report.Units {
		assert.Equal(t, "no fingerprint recorded", u.Reason, u.Unit)
		assert.NotEmpty(t, u.Fingerprint, u.Unit)
	}

	report = f.run()
	assert.Empty(t, f.cc.Calls())
	assert.Equal(t, 0, report.Invocations)
	assert.Equal(t, 3, report.Count(UpToDate))
}

func TestBuild_Idempotent(t *testing.T) {
	f := newFixture(t, chainUnits(), map[string]string{"a.c": "int a;\n"})
	first := f.run()
	for i := 0; i < 3; i++ {
		report := f.run()
		assert.Equal(t, 0, report.Invocations)
		for j, u := range report.Units {
			assert.Equal(t, first.Units[j].Fingerprint, u.Fingerprint, u.Unit)
		}
	}
}

func TestBuild_InputChangePropagates(t *testing.T) {
	units := append(chainUnits(), &model.Unit{Kind: model.KindObject, Name: "b.o", Inputs: []string{"b.c"}})
	f := newFixture(t, units, map[string]string{"a.c": "int a;\n", "b.c": "int b;\n"})
	f.run()

	testutil.Touch(t, filepath.Join(f.src, "a.c"), "int a = 1;\n")

	report := f.run()
	assert.Equal(t, []string{"a.o", "lib.a", "vmlinux"}, f.cc.Calls())
	res, _ := report.Find("a.o")
	assert.Equal(t, "fingerprint changed", res.Reason)
	res, _ = report.Find("b.o")
	assert.Equal(t, UpToDate, res.Status)

	data, err := os.ReadFile(f.output("vmlinux"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "int a = 1;")
}

func TestBuild_MtimeMode(t *testing.T) {
	f := newFixture(t, chainUnits(), map[string]string{"a.c": "int a;\n"})
	opts := f.options()
	opts.Mode = fingerprint.ModeMtime

	_, err := f.build(testCtx(), opts)
	require.NoError(t, err)

	f.cc.Reset()
	report, err := f.build(testCtx(), opts)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Count(UpToDate))

	testutil.Touch(t, filepath.Join(f.src, "a.c"), "int a;\n")
	f.cc.Reset()
	_, err = f.build(testCtx(), opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.o", "lib.a", "vmlinux"}, f.cc.Calls(),
		"a newer mtime is a change even when the content is identical")
}

func TestBuild_PartialFailureAndRecovery(t *testing.T) {
	units := []*model.Unit{
		{Kind: model.KindObject, Name: "a.o", Inputs: []string{"a.c"}},
		{Kind: model.KindArchive, Name: "lib.a", Deps: []string{"a.o"}},
		{Kind: model.KindObject, Name: "b.o", Inputs: []string{"b.c"}},
		{Kind: model.KindModule, Name: "b.ko", Deps: []string{"b.o"}},
	}
	f := newFixture(t, units, map[string]string{"a.c": "int a;\n", "b.c": "int b;\n"})
	f.cc.Fail("a.o", "a.c:1: error: expected ';'")

	report, err := f.build(testCtx(), f.options())
	require.Error(t, err)

	var failed *BuildFailedError
	require.ErrorAs(t, err, &failed)
	require.Len(t, failed.Failed, 1)
	assert.Equal(t, "a.o", failed.Failed[0].Unit)
	assert.Equal(t, "a.c:1: error: expected ';'", failed.Failed[0].Diagnostic)
	assert.Equal(t, []string{"lib.a"}, failed.Blocked)
	assert.EqualError(t, err, "build failed: 1 unit(s) failed (a.o), 1 blocked")

	var unitErr *UnitBuildError
	assert.ErrorAs(t, err, &unitErr)

	assert.Equal(t, map[string]Status{
		"a.o":   Failed,
		"lib.a": Blocked,
		"b.o":   Built,
		"b.ko":  Built,
	}, statuses(report))
	res, _ := report.Find("lib.a")
	assert.Equal(t, "dependency a.o failed", res.Reason)
	assert.NotContains(t, f.cc.Calls(), "lib.a")

	f.cc.Heal("a.o")
	report = f.run()
	assert.ElementsMatch(t, []string{"a.o", "lib.a"}, f.cc.Calls())
	assert.Equal(t, 2, report.Count(UpToDate))
}

func TestBuild_FailureForgetsFingerprint(t *testing.T) {
	f := newFixture(t, chainUnits(), map[string]string{"a.c": "int a;\n"})
	f.run()
	require.Equal(t, 3, f.cache.Len())

	testutil.Touch(t, filepath.Join(f.src, "a.c"), "int a = ;\n")
	f.cc.Fail("a.o", "syntax error")
	_, err := f.build(testCtx(), f.options())
	require.Error(t, err)
	assert.Equal(t, 2, f.cache.Len())

	// Reverting the source still rebuilds: the failed attempt may have
	// clobbered the artifact.
	testutil.Touch(t, filepath.Join(f.src, "a.c"), "int a;\n")
	f.cc.Heal("a.o")
	report := f.run()
	res, _ := report.Find("a.o")
	assert.Equal(t, Built, res.Status)
	assert.Equal(t, "no fingerprint recorded", res.Reason)
}

func TestBuild_MissingInput(t *testing.T) {
	f := newFixture(t, chainUnits(), nil)

	report, err := f.build(testCtx(), f.options())
	var failed *BuildFailedError
	require.ErrorAs(t, err, &failed)
	assert.EqualError(t, failed.Failed[0], "unit a.o failed: missing input a.c")
	assert.Equal(t, []string{"lib.a", "vmlinux"}, failed.Blocked)
	assert.Equal(t, 0, report.Invocations)
	assert.Empty(t, f.cc.Calls())
}

func TestBuild_DryRun(t *testing.T) {
	f := newFixture(t, chainUnits(), map[string]string{"a.c": "int a;\n"})
	opts := f.options()
	opts.DryRun = true

	report, err := f.build(testCtx(), opts)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 3, report.Count(WouldBuild))
	assert.Empty(t, f.cc.Calls())
	assert.Equal(t, 0, f.cache.Len())
	assert.NoFileExists(t, f.output("a.o"))

	f.run()
	assert.Len(t, f.cc.Calls(), 3)

	f.cc.Reset()
	report, err = f.build(testCtx(), opts)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Count(UpToDate))
}

func TestBuild_CancelledBeforeStart(t *testing.T) {
	f := newFixture(t, chainUnits(), map[string]string{"a.c": "int a;\n"})
	ctx, cancel := context.WithCancel(testCtx())
	cancel()

	report, err := f.build(ctx, f.options())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, report.Count(Cancelled))
	assert.Empty(t, f.cc.Calls())
}

func TestBuild_CancelledMidBuild(t *testing.T) {
	f := newFixture(t, chainUnits(), map[string]string{"a.c": "int a;\n"})
	ctx, cancel := context.WithCancel(testCtx())
	defer cancel()
	f.cc.OnCompile = func(inv toolchain.Invocation) {
		if inv.Unit == "a.o" {
			cancel()
		}
	}

	opts := f.options()
	opts.Parallelism = 1
	report, err := f.build(ctx, opts)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, map[string]Status{
		"a.o":     Built,
		"lib.a":   Cancelled,
		"vmlinux": Cancelled,
	}, statuses(report), "the running invocation completes")
	assert.FileExists(t, f.output("a.o"))

	f.cc.OnCompile = nil
	report = f.run()
	assert.Equal(t, []string{"lib.a", "vmlinux"}, f.cc.Calls())
	res, _ := report.Find("a.o")
	assert.Equal(t, UpToDate, res.Status)
}

func TestBuild_CancelledMidBuildRecordsFinishedUnits(t *testing.T) {
	f := newFixture(t, chainUnits(), map[string]string{"a.c": "int a;\n"})
	cache, err := fpcache.OpenSQLite(testCtx(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	f.cache = cache

	ctx, cancel := context.WithCancel(testCtx())
	defer cancel()
	f.cc.OnCompile = func(inv toolchain.Invocation) {
		if inv.Unit == "a.o" {
			cancel()
		}
	}

	opts := f.options()
	opts.Parallelism = 1
	report, err := f.build(ctx, opts)
	assert.ErrorIs(t, err, context.Canceled)
	var failed *BuildFailedError
	assert.False(t, errors.As(err, &failed), "cancellation is not a unit failure")
	assert.Equal(t, map[string]Status{
		"a.o":     Built,
		"lib.a":   Cancelled,
		"vmlinux": Cancelled,
	}, statuses(report))
	assert.Equal(t, 1, cache.Len(), "the finished unit is recorded")

	f.cc.OnCompile = nil
	f.run()
	assert.Equal(t, []string{"lib.a", "vmlinux"}, f.cc.Calls())
}

func TestBuild_DiamondWithFailedBranch(t *testing.T) {
	units := []*model.Unit{
		{Kind: model.KindObject, Name: "a.o", Inputs: []string{"a.c"}},
		{Kind: model.KindObject, Name: "b.o", Inputs: []string{"b.c"}},
		{Kind: model.KindArchive, Name: "c.a", Deps: []string{"a.o", "b.o"}},
	}
	for i := 0; i < 50; i++ {
		f := newFixture(t, units, map[string]string{"a.c": "int a;\n", "b.c": "int b;\n"})
		f.cc.Fail("a.o", "a.c:1: error")

		report, err := f.build(testCtx(), f.options())
		var failed *BuildFailedError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, map[string]Status{
			"a.o": Failed,
			"b.o": Built,
			"c.a": Blocked,
		}, statuses(report))
		assert.Equal(t, []string{"c.a"}, failed.Blocked)
	}
}

func TestBuild_ParallelismBound(t *testing.T) {
	var units []*model.Unit
	files := make(map[string]string)
	for _, n := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		units = append(units, &model.Unit{Kind: model.KindObject, Name: n + ".o", Inputs: []string{n + ".c"}})
		files[n+".c"] = "int " + n + ";\n"
	}
	f := newFixture(t, units, files)
	f.cc.Delay = 20 * time.Millisecond

	opts := f.options()
	opts.Parallelism = 3
	report, err := f.build(testCtx(), opts)
	require.NoError(t, err)
	assert.Equal(t, 8, report.Count(Built))
	assert.LessOrEqual(t, f.cc.MaxConcurrent(), 3)
}

func TestBuild_ImplicitInputs(t *testing.T) {
	f := newFixture(t, chainUnits(), map[string]string{
		"a.c":         "#include \"a.h\"\n",
		"include/a.h": "#define A 1\n",
	})
	header := filepath.Join(f.src, "include", "a.h")
	f.cc.Discover("a.o", header)

	f.run()
	report := f.run()
	assert.Equal(t, 3, report.Count(UpToDate), "discovered inputs are part of the stored fingerprint")

	testutil.Touch(t, header, "#define A 2\n")
	report = f.run()
	assert.Equal(t, []string{"a.o", "lib.a", "vmlinux"}, f.cc.Calls())
	res, _ := report.Find("a.o")
	assert.Equal(t, "fingerprint changed", res.Reason)

	require.NoError(t, os.Remove(header))
	f.run()
	assert.Contains(t, f.cc.Calls(), "a.o", "a vanished header makes the unit stale")

	report = f.run()
	assert.Equal(t, 3, report.Count(UpToDate))
}

func TestBuild_OutputTampering(t *testing.T) {
	f := newFixture(t, chainUnits(), map[string]string{"a.c": "int a;\n"})
	f.run()

	require.NoError(t, os.WriteFile(f.output("lib.a"), []byte("garbage"), 0o644))
	report := f.run()
	assert.Equal(t, []string{"lib.a"}, f.cc.Calls(),
		"an identical rebuild leaves the dependency fingerprint unchanged")
	res, _ := report.Find("lib.a")
	assert.Equal(t, "output modified", res.Reason)

	require.NoError(t, os.Remove(f.output("a.o")))
	report = f.run()
	assert.Equal(t, []string{"a.o"}, f.cc.Calls())
	res, _ = report.Find("a.o")
	assert.Equal(t, "output missing", res.Reason)
}

func TestBuild_ConfigSliceChange(t *testing.T) {
	units := append(chainUnits(), &model.Unit{
		Kind:   model.KindObject,
		Name:   "net.o",
		Inputs: []string{"net.c"},
		When:   parseExpr(t, "NET"),
		Uses:   []string{"NR_CPUS"},
	})
	f := newFixture(t, units, map[string]string{"a.c": "int a;\n", "net.c": "int net;\n"})
	setState := func(cpus int64) {
		f.state = kconfig.NewState(map[string]kconfig.Entry{
			"NET":     kconfig.TristateEntry(kconfig.KindTristate, kconfig.Yes),
			"NR_CPUS": kconfig.IntEntry(cpus),
		}, nil, nil)
	}
	setState(8)
	f.run()

	setState(16)
	report := f.run()
	assert.Equal(t, []string{"net.o", "vmlinux"}, f.cc.Calls(),
		"only units whose relevant configuration changed, and their consumers")
	res, _ := report.Find("a.o")
	assert.Equal(t, UpToDate, res.Status)
}

func TestBuild_ContextChange(t *testing.T) {
	f := newFixture(t, chainUnits(), map[string]string{"a.c": "int a;\n"})
	f.run()

	p := f.tc.Params()
	p.Arch = "arm64"
	tc, err := target.New(p)
	require.NoError(t, err)
	f.tc = tc

	report := f.run()
	assert.Equal(t, 3, report.Count(Built))

	p.Parallelism = 7
	f.tc, err = target.New(p)
	require.NoError(t, err)
	report = f.run()
	assert.Equal(t, 3, report.Count(UpToDate), "parallelism does not affect artifacts")
}

type recordingObserver struct {
	mu       sync.Mutex
	total    int
	started  []string
	finished map[string]Status
	report   *Report
}

func (o *recordingObserver) BuildStarted(_ context.Context, _ string, units int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.total = units
}

func (o *recordingObserver) UnitStarted(_ context.Context, _ string, u *unitgraph.Unit) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, u.ID)
}

func (o *recordingObserver) UnitFinished(_ context.Context, _ string, res UnitResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished[res.Unit] = res.Status
}

func (o *recordingObserver) BuildFinished(_ context.Context, r *Report) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.report = r
}

func TestBuild_Observers(t *testing.T) {
	units := []*model.Unit{
		{Kind: model.KindObject, Name: "a.o", Inputs: []string{"a.c"}},
		{Kind: model.KindArchive, Name: "lib.a", Deps: []string{"a.o"}},
		{Kind: model.KindObject, Name: "b.o", Inputs: []string{"b.c"}},
	}
	f := newFixture(t, units, map[string]string{"a.c": "int a;\n", "b.c": "int b;\n"})
	f.cc.Fail("a.o", "boom")

	obs := &recordingObserver{finished: make(map[string]Status)}
	opts := f.options()
	opts.Observers = []Observer{obs}
	opts.BuildID = "build-1"

	report, err := f.build(testCtx(), opts)
	require.Error(t, err)
	assert.Equal(t, "build-1", report.BuildID)
	assert.Equal(t, 3, obs.total)
	assert.ElementsMatch(t, []string{"a.o", "b.o"}, obs.started, "blocked units never start")
	assert.Equal(t, map[string]Status{"a.o": Failed, "lib.a": Blocked, "b.o": Built}, obs.finished)
	assert.Same(t, report, obs.report)
}

func TestBuild_NoCompiler(t *testing.T) {
	f := newFixture(t, chainUnits(), nil)
	g, err := unitgraph.Construct(testCtx(), f.index, f.state, f.tc)
	require.NoError(t, err)
	_, err = Build(testCtx(), g, f.cache, Options{})
	assert.Error(t, err)
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "up-to-date", UpToDate.String())
	assert.Equal(t, "would-build", WouldBuild.String())
	assert.Equal(t, "unknown", Status(99).String())
}

func TestBuildFailedError_Is(t *testing.T) {
	cause := errors.New("exit status 2")
	err := error(&BuildFailedError{Failed: []*UnitBuildError{{Unit: "x.o", Err: cause}}})
	assert.ErrorIs(t, err, cause)
}
