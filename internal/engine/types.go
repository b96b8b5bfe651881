package engine

import (
	"context"
	"time"

	"github.com/vk/kbuildgo/internal/fingerprint"
	"github.com/vk/kbuildgo/internal/model"
	"github.com/vk/kbuildgo/internal/toolchain"
	"github.com/vk/kbuildgo/internal/unitgraph"
)

// Status is the outcome of one unit in a build.
type Status int32

const (
	Pending Status = iota
	Running
	// UpToDate units were satisfied from the fingerprint cache.
	UpToDate
	Built
	// WouldBuild is reported instead of Built in a dry run.
	WouldBuild
	Failed
	// Blocked units were not attempted because a dependency failed.
	Blocked
	// Cancelled units were not scheduled because the build was cancelled.
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case UpToDate:
		return "up-to-date"
	case Built:
		return "built"
	case WouldBuild:
		return "would-build"
	case Failed:
		return "failed"
	case Blocked:
		return "blocked"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Options configures a build.
type Options struct {
	// Parallelism bounds the number of concurrent invocations; values
	// below one mean one.
	Parallelism int
	Compiler    toolchain.Compiler
	Mode        fingerprint.Mode
	// SourceRoot resolves unit inputs.
	SourceRoot string
	// DryRun computes staleness without invoking the compiler.
	DryRun    bool
	Observers []Observer
	// BuildID labels the report; a random UUID is used when empty.
	BuildID string
}

// Observer is notified as units start and finish. Calls come from worker
// goroutines concurrently.
type Observer interface {
	BuildStarted(ctx context.Context, buildID string, units int)
	UnitStarted(ctx context.Context, buildID string, unit *unitgraph.Unit)
	UnitFinished(ctx context.Context, buildID string, res UnitResult)
	BuildFinished(ctx context.Context, report *Report)
}

// UnitResult records what happened to one unit.
type UnitResult struct {
	Unit        string
	Kind        model.UnitKind
	Status      Status
	Fingerprint string
	Duration    time.Duration
	// Reason explains why the unit was rebuilt, blocked or cancelled.
	Reason string
	Err    *UnitBuildError
}

// Report summarizes a build. Units are in topological order.
type Report struct {
	BuildID     string
	Started     time.Time
	Finished    time.Time
	DryRun      bool
	Units       []UnitResult
	Invocations int
}

// Count returns the number of units with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, u := range r.Units {
		if u.Status == s {
			n++
		}
	}
	return n
}

// Find returns the result for a unit.
func (r *Report) Find(unit string) (UnitResult, bool) {
	for _, u := range r.Units {
		if u.Unit == unit {
			return u, true
		}
	}
	return UnitResult{}, false
}

// Duration is the wall-clock time of the build.
func (r *Report) Duration() time.Duration { return r.Finished.Sub(r.Started) }
