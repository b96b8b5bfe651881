package metrics

import "time"

// Recorder defines observability hooks for builds and units.
type Recorder interface {
	ObserveUnitDuration(kind string, d time.Duration)
	IncUnitResult(kind, status string)
	ObserveBuildDuration(d time.Duration)
	IncBuildOutcome(outcome string) // outcome: success|failed|cancelled
	SetUnitsInFlight(n int)
	SetCacheEntries(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveUnitDuration(string, time.Duration) {}
func (NoopRecorder) IncUnitResult(string, string)              {}
func (NoopRecorder) ObserveBuildDuration(time.Duration)        {}
func (NoopRecorder) IncBuildOutcome(string)                    {}
func (NoopRecorder) SetUnitsInFlight(int)                      {}
func (NoopRecorder) SetCacheEntries(int)                       {}
