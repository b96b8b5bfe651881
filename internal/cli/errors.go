package cli

import (
	"errors"

	"github.com/vk/kbuildgo/internal/engine"
	"github.com/vk/kbuildgo/internal/kconfig"
	"github.com/vk/kbuildgo/internal/unitgraph"
)

// Process exit codes.
const (
	ExitOK           = 0
	ExitUnexpected   = 1
	ExitUsage        = 2
	ExitInconsistent = 3
	ExitBuildFailed  = 4
	ExitGraphCycle   = 5
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// ExitCodeFor maps an error returned by Execute to a process exit code.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var inconsistent *kconfig.InconsistentConfigError
	if errors.As(err, &inconsistent) {
		return ExitInconsistent
	}
	var cycle *unitgraph.GraphCycleError
	if errors.As(err, &cycle) {
		return ExitGraphCycle
	}
	var failed *engine.BuildFailedError
	if errors.As(err, &failed) {
		return ExitBuildFailed
	}
	return ExitUnexpected
}
