package metrics

import (
	"context"
	"sync/atomic"

	"github.com/vk/kbuildgo/internal/engine"
	"github.com/vk/kbuildgo/internal/unitgraph"
)

// Observer feeds engine events into a Recorder.
type Observer struct {
	rec      Recorder
	inFlight atomic.Int64
}

var _ engine.Observer = (*Observer)(nil)

// NewObserver wraps rec; a nil rec records nothing.
func NewObserver(rec Recorder) *Observer {
	if rec == nil {
		rec = NoopRecorder{}
	}
	return &Observer{rec: rec}
}

func (o *Observer) BuildStarted(context.Context, string, int) {
	o.inFlight.Store(0)
	o.rec.SetUnitsInFlight(0)
}

func (o *Observer) UnitStarted(context.Context, string, *unitgraph.Unit) {
	o.rec.SetUnitsInFlight(int(o.inFlight.Add(1)))
}

func (o *Observer) UnitFinished(_ context.Context, _ string, res engine.UnitResult) {
	// Blocked and cancelled units never started.
	if res.Status != engine.Blocked && res.Status != engine.Cancelled {
		o.rec.SetUnitsInFlight(int(o.inFlight.Add(-1)))
		o.rec.ObserveUnitDuration(string(res.Kind), res.Duration)
	}
	o.rec.IncUnitResult(string(res.Kind), res.Status.String())
}

func (o *Observer) BuildFinished(_ context.Context, r *engine.Report) {
	o.rec.ObserveBuildDuration(r.Duration())
	o.rec.IncBuildOutcome(Outcome(r))
}

// Outcome classifies a finished build as success, failed or cancelled.
func Outcome(r *engine.Report) string {
	switch {
	case r.Count(engine.Failed) > 0:
		return "failed"
	case r.Count(engine.Cancelled) > 0:
		return "cancelled"
	default:
		return "success"
	}
}
