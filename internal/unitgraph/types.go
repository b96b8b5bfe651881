package unitgraph

import (
	"fmt"
	"strings"

	"github.com/vk/kbuildgo/internal/dag"
	"github.com/vk/kbuildgo/internal/kconfig"
	"github.com/vk/kbuildgo/internal/model"
	"github.com/vk/kbuildgo/internal/target"
)

// Unit is an active build unit.
type Unit struct {
	ID   string
	Kind model.UnitKind
	// Level is the value of the activation predicate, y or m.
	Level kconfig.Tristate
	// Inputs are source paths relative to the source root.
	Inputs []string
	// Deps are the active units this one consumes, sorted. For the image
	// this includes the auto-linked objects and archives.
	Deps []string
	// Output is the artifact location under the output root.
	Output string
	// Relevant lists the symbols whose values feed this unit's fingerprint.
	Relevant []string
	Flags    []string

	decl *model.Unit
}

// Decl returns the declaration the unit was built from.
func (u *Unit) Decl() *model.Unit { return u.decl }

// Graph is the active unit graph for one configuration state and target
// context. It is immutable once constructed.
type Graph struct {
	dag     *dag.Graph
	units   map[string]*Unit
	order   []string
	state   *kconfig.State
	context target.Context
	// activation holds every symbol referenced by an activation predicate
	// in the declaration index, active or not.
	activation map[string]bool
}

// GraphCycleError is returned when active units depend on each other in a
// cycle. The first unit repeats at the end of Cycle.
type GraphCycleError struct {
	Cycle []string
}

func (e *GraphCycleError) Error() string {
	return fmt.Sprintf("unit graph cycle: %s", strings.Join(e.Cycle, " -> "))
}
