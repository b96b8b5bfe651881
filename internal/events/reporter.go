package events

import (
	"context"
	"time"

	"github.com/vk/kbuildgo/internal/ctxlog"
	"github.com/vk/kbuildgo/internal/engine"
	"github.com/vk/kbuildgo/internal/unitgraph"
	"github.com/zishang520/socket.io-client-go/socket"
)

// Event names emitted by Reporter.
const (
	EventBuildStarted  = "build_started"
	EventUnitStarted   = "unit_started"
	EventUnitFinished  = "unit_finished"
	EventBuildFinished = "build_finished"
)

// Emitter sends one event with a JSON-encodable payload.
type Emitter interface {
	Emit(event string, payload map[string]any)
}

// Reporter streams engine progress to an Emitter.
type Reporter struct {
	emit Emitter
}

var _ engine.Observer = (*Reporter)(nil)

// NewReporter returns a Reporter that emits through e.
func NewReporter(e Emitter) *Reporter {
	return &Reporter{emit: e}
}

// SocketEmitter adapts a connected socket.io client.
type SocketEmitter struct {
	Socket *socket.Socket
}

func (s SocketEmitter) Emit(event string, payload map[string]any) {
	s.Socket.Emit(event, payload)
}

// Close disconnects the underlying client.
func (s SocketEmitter) Close() {
	s.Socket.Disconnect()
}

func (r *Reporter) BuildStarted(ctx context.Context, buildID string, units int) {
	r.send(ctx, EventBuildStarted, map[string]any{
		"build_id": buildID,
		"units":    units,
	})
}

func (r *Reporter) UnitStarted(ctx context.Context, buildID string, u *unitgraph.Unit) {
	r.send(ctx, EventUnitStarted, map[string]any{
		"build_id": buildID,
		"unit":     u.ID,
		"kind":     string(u.Kind),
	})
}

func (r *Reporter) UnitFinished(ctx context.Context, buildID string, res engine.UnitResult) {
	payload := map[string]any{
		"build_id":    buildID,
		"unit":        res.Unit,
		"kind":        string(res.Kind),
		"status":      res.Status.String(),
		"duration_ms": res.Duration.Milliseconds(),
	}
	if res.Reason != "" {
		payload["reason"] = res.Reason
	}
	if res.Err != nil {
		payload["error"] = res.Err.Error()
		payload["diagnostic"] = res.Err.Diagnostic
	}
	r.send(ctx, EventUnitFinished, payload)
}

func (r *Reporter) BuildFinished(ctx context.Context, report *engine.Report) {
	counts := make(map[string]int)
	for _, u := range report.Units {
		counts[u.Status.String()]++
	}
	r.send(ctx, EventBuildFinished, map[string]any{
		"build_id":    report.BuildID,
		"dry_run":     report.DryRun,
		"started":     report.Started.Format(time.RFC3339Nano),
		"duration_ms": report.Duration().Milliseconds(),
		"invocations": report.Invocations,
		"counts":      counts,
	})
}

func (r *Reporter) send(ctx context.Context, event string, payload map[string]any) {
	ctxlog.FromContext(ctx).Debug("Emitting event", "event", event)
	r.emit.Emit(event, payload)
}
