package engine

import (
	"fmt"
	"strings"
)

// UnitBuildError reports a unit whose compilation failed. Diagnostic holds
// the compiler output.
type UnitBuildError struct {
	Unit       string
	Diagnostic string
	Err        error
}

func (e *UnitBuildError) Error() string {
	return fmt.Sprintf("unit %s failed: %v", e.Unit, e.Err)
}

func (e *UnitBuildError) Unwrap() error { return e.Err }

// BuildFailedError aggregates the unit failures of one build.
type BuildFailedError struct {
	Failed  []*UnitBuildError
	Blocked []string
}

func (e *BuildFailedError) Error() string {
	names := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		names[i] = f.Unit
	}
	msg := fmt.Sprintf("build failed: %d unit(s) failed (%s)", len(e.Failed), strings.Join(names, ", "))
	if len(e.Blocked) > 0 {
		msg += fmt.Sprintf(", %d blocked", len(e.Blocked))
	}
	return msg
}

// Unwrap exposes the individual unit errors to errors.Is and errors.As.
func (e *BuildFailedError) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		errs[i] = f
	}
	return errs
}
