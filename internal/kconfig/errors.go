package kconfig

import (
	"fmt"
	"strings"
)

// InconsistentConfigError reports declarations or assignments that cannot
// produce a consistent configuration.
type InconsistentConfigError struct {
	Reason string
	// Symbols names the offending symbols, sorted.
	Symbols []string
	// Cycle is set for depends-on cycles; the first name repeats at the end.
	Cycle []string
}

func (e *InconsistentConfigError) Error() string {
	var b strings.Builder
	b.WriteString("inconsistent configuration: ")
	b.WriteString(e.Reason)
	switch {
	case len(e.Cycle) > 0:
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Cycle, " -> "))
	case len(e.Symbols) > 0:
		fmt.Fprintf(&b, ": %s", strings.Join(e.Symbols, ", "))
	}
	return b.String()
}

func inconsistent(reason string, symbols ...string) *InconsistentConfigError {
	return &InconsistentConfigError{Reason: reason, Symbols: symbols}
}
