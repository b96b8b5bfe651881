package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vk/kbuildgo/internal/ctxlog"
	"github.com/vk/kbuildgo/internal/fingerprint"
	"github.com/vk/kbuildgo/internal/fpcache"
	"github.com/vk/kbuildgo/internal/unitgraph"
	"golang.org/x/sync/errgroup"
)

// task is the per-build state of one unit.
type task struct {
	unit   *unitgraph.Unit
	status atomic.Int32
	// pending counts unfinished dependencies.
	pending    atomic.Int32
	deps       []*task
	dependents []*task

	// Written by the goroutine that runs the task before its dependents are
	// released, so dependents read them without locking.
	fingerprint string
	result      UnitResult
}

func (t *task) setStatus(s Status) { t.status.Store(int32(s)) }

func (t *task) getStatus() Status { return Status(t.status.Load()) }

// transition moves the task from Pending to s. It fails if another
// goroutine already claimed the task.
func (t *task) transition(s Status) bool {
	return t.status.CompareAndSwap(int32(Pending), int32(s))
}

type build struct {
	id     string
	graph  *unitgraph.Graph
	cache  *fpcache.Cache
	opts   Options
	hasher *fingerprint.Hasher

	tasks       map[string]*task
	wg          sync.WaitGroup
	invocations atomic.Int64
}

// Build brings every unit of g up to date. It returns the report together
// with a *BuildFailedError when units failed, or the context error when
// the build was cancelled. Cancellation stops scheduling; invocations that
// already started run to completion.
func Build(ctx context.Context, g *unitgraph.Graph, cache *fpcache.Cache, opts Options) (*Report, error) {
	if opts.Compiler == nil {
		return nil, errors.New("engine: no compiler configured")
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	if opts.Mode == "" {
		opts.Mode = fingerprint.ModeContent
	}
	if opts.BuildID == "" {
		opts.BuildID = uuid.NewString()
	}

	b := &build{
		id:     opts.BuildID,
		graph:  g,
		cache:  cache,
		opts:   opts,
		hasher: fingerprint.NewHasher(opts.Mode, opts.SourceRoot),
		tasks:  make(map[string]*task, g.Len()),
	}
	ctx, logger := ctxlog.With(ctx, "build_id", b.id)

	order := g.Order()
	for _, id := range order {
		u, _ := g.Unit(id)
		b.tasks[id] = &task{unit: u}
	}
	for _, id := range order {
		t := b.tasks[id]
		for _, dep := range t.unit.Deps {
			d := b.tasks[dep]
			t.deps = append(t.deps, d)
			d.dependents = append(d.dependents, t)
		}
		t.pending.Store(int32(len(t.deps)))
	}

	report := &Report{BuildID: b.id, Started: time.Now(), DryRun: opts.DryRun}
	for _, o := range opts.Observers {
		o.BuildStarted(ctx, b.id, len(order))
	}

	readyChan := make(chan *task, len(order))
	rootCount := 0
	for _, id := range order {
		if t := b.tasks[id]; t.pending.Load() == 0 {
			readyChan <- t
			rootCount++
		}
	}
	logger.Debug("Found all root units.", "count", rootCount)

	b.wg.Add(len(order))
	go func() {
		// Every task releases the group only after pushing the dependents
		// it unlocked, so nothing is sent after the close.
		b.wg.Wait()
		close(readyChan)
	}()

	var workers errgroup.Group
	workers.SetLimit(opts.Parallelism)
	logger.Info("Dispatching units.", "units", len(order), "parallelism", opts.Parallelism)
	for t := range readyChan {
		workers.Go(func() error {
			b.run(ctx, t, readyChan)
			return nil
		})
	}
	_ = workers.Wait()

	report.Finished = time.Now()
	report.Invocations = int(b.invocations.Load())
	failure := &BuildFailedError{}
	for _, id := range order {
		t := b.tasks[id]
		res := t.result
		res.Unit, res.Kind, res.Status = id, t.unit.Kind, t.getStatus()
		report.Units = append(report.Units, res)
		switch res.Status {
		case Failed:
			failure.Failed = append(failure.Failed, res.Err)
		case Blocked:
			failure.Blocked = append(failure.Blocked, id)
		}
	}
	for _, o := range opts.Observers {
		o.BuildFinished(ctx, report)
	}
	logger.Info("All units completed.",
		"built", report.Count(Built),
		"up_to_date", report.Count(UpToDate),
		"failed", report.Count(Failed),
		"duration", report.Duration())

	if len(failure.Failed) > 0 {
		return report, failure
	}
	if report.Count(Cancelled) > 0 {
		return report, fmt.Errorf("build cancelled: %w", context.Cause(ctx))
	}
	return report, nil
}

// run processes one ready task and pushes the dependents it unlocks.
func (b *build) run(ctx context.Context, t *task, readyChan chan<- *task) {
	unitCtx, unitLogger := ctxlog.With(ctx, "unit", t.unit.ID)

	if ctx.Err() != nil {
		if t.transition(Cancelled) {
			unitLogger.Debug("Context cancelled, not scheduling unit.")
			t.result.Reason = "build cancelled"
			b.finish(unitCtx, t)
			b.skipDependents(unitCtx, t, Cancelled, "build cancelled")
			b.wg.Done()
		}
		return
	}
	if !t.transition(Running) {
		return
	}

	for _, o := range b.opts.Observers {
		o.UnitStarted(unitCtx, b.id, t.unit)
	}
	start := time.Now()
	status, err := b.process(unitCtx, t)
	t.result.Duration = time.Since(start)

	if err != nil {
		unitLogger.Error("Unit failed.", "error", err)
		t.result.Err = err
		t.setStatus(Failed)
		b.finish(unitCtx, t)
		b.skipDependents(unitCtx, t, Blocked, fmt.Sprintf("dependency %s failed", t.unit.ID))
		b.wg.Done()
		return
	}

	unitLogger.Debug("Unit finished.", "status", status)
	t.setStatus(status)
	b.finish(unitCtx, t)

	for _, dependent := range t.dependents {
		if dependent.pending.Add(-1) == 0 && dependent.getStatus() == Pending {
			unitLogger.Debug("Unlocking dependent unit.", "dependent", dependent.unit.ID)
			readyChan <- dependent
		}
	}
	b.wg.Done()
}

// skipDependents marks every transitive dependent of t with status s.
// Units another goroutine already claimed are left alone.
func (b *build) skipDependents(ctx context.Context, t *task, s Status, reason string) {
	logger := ctxlog.FromContext(ctx)
	for _, dependent := range t.dependents {
		if !dependent.transition(s) {
			continue
		}
		logger.Warn("Skipping dependent unit.", "dependent", dependent.unit.ID, "status", s)
		dependent.result.Reason = reason
		b.finish(ctx, dependent)
		b.skipDependents(ctx, dependent, s, reason)
		b.wg.Done()
	}
}

// finish records the final result of t and reports it to observers. The
// caller releases the task from b.wg once its dependents are dealt with.
func (b *build) finish(ctx context.Context, t *task) {
	res := t.result
	res.Unit, res.Kind, res.Status = t.unit.ID, t.unit.Kind, t.getStatus()
	res.Fingerprint = t.fingerprint
	t.result = res
	for _, o := range b.opts.Observers {
		o.UnitFinished(ctx, b.id, res)
	}
}
