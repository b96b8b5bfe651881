package unitgraph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/vk/kbuildgo/internal/ctxlog"
	"github.com/vk/kbuildgo/internal/dag"
	"github.com/vk/kbuildgo/internal/kconfig"
	"github.com/vk/kbuildgo/internal/model"
	"github.com/vk/kbuildgo/internal/target"
)

// Construct builds the active unit graph for state and tc.
//
// A unit is included when its activation predicate is not n and it is
// either consumed by no declared unit or consumed by at least one included
// unit. The inclusion set is the greatest set satisfying both rules, so
// units reachable only through deactivated units are pruned. Edges are kept
// only between included units. The image unit additionally consumes every
// included object or archive that no included archive or module consumes.
func Construct(ctx context.Context, index *model.Index, state *kconfig.State, tc target.Context) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Construct: Starting unit graph construction.", "declared", len(index.Units))

	consumers := make(map[string][]*model.Unit)
	for _, u := range index.Units {
		for _, d := range u.Deps {
			if _, ok := index.Unit(d); !ok {
				return nil, fmt.Errorf("%s: unit %q depends on undeclared unit %q", u.DeclRange, u.Name, d)
			}
			consumers[d] = append(consumers[d], u)
		}
	}

	// First pass: evaluate activation predicates.
	levels := make(map[string]kconfig.Tristate)
	for _, u := range index.Units {
		lvl, err := state.Eval(u.When)
		if err != nil {
			return nil, fmt.Errorf("%s: unit %q: evaluating when: %w", u.DeclRange, u.Name, err)
		}
		if lvl != kconfig.No {
			levels[u.Name] = lvl
		}
	}
	logger.Debug("Construct: Activation predicates evaluated.", "active", len(levels))

	// Second pass: prune units whose every consumer is excluded, until stable.
	for changed := true; changed; {
		changed = false
		for _, u := range index.Units {
			if _, ok := levels[u.Name]; !ok {
				continue
			}
			cs := consumers[u.Name]
			if len(cs) == 0 || anyIncluded(cs, levels) {
				continue
			}
			logger.Debug("Pruning unit reachable only through inactive units.", "unit", u.Name)
			delete(levels, u.Name)
			changed = true
		}
	}

	var images []string
	for _, u := range index.Units {
		if _, ok := levels[u.Name]; ok && u.Kind == model.KindImage {
			images = append(images, u.Name)
		}
	}
	if len(images) > 1 {
		sort.Strings(images)
		return nil, fmt.Errorf("more than one active image unit: %s", strings.Join(images, ", "))
	}

	g := &Graph{
		dag:        dag.New(),
		units:      make(map[string]*Unit, len(levels)),
		state:      state,
		context:    tc,
		activation: activationSymbols(index),
	}

	// Third pass: create units and their edges.
	for _, u := range index.Units {
		lvl, ok := levels[u.Name]
		if !ok {
			continue
		}
		unit := &Unit{
			ID:       u.Name,
			Kind:     u.Kind,
			Level:    lvl,
			Inputs:   u.Inputs,
			Output:   tc.ArtifactPath(u.Name),
			Relevant: relevantSymbols(u),
			Flags:    u.Flags,
			decl:     u,
		}
		deps := make(map[string]bool)
		for _, d := range u.Deps {
			if _, ok := levels[d]; ok {
				deps[d] = true
			}
		}
		unit.Deps = sortedSet(deps)
		g.units[u.Name] = unit
		g.dag.AddNode(u.Name)
	}

	if len(images) == 1 {
		image := g.units[images[0]]
		linked := make(map[string]bool)
		for _, d := range image.Deps {
			linked[d] = true
		}
		for id, u := range g.units {
			if u.Kind != model.KindObject && u.Kind != model.KindArchive {
				continue
			}
			if consumedByArchiveOrModule(consumers[id], levels) {
				continue
			}
			linked[id] = true
		}
		image.Deps = sortedSet(linked)
		logger.Debug("Construct: Image linked.", "image", image.ID, "inputs", len(image.Deps))
	}

	for _, id := range sortedKeys(g.units) {
		for _, d := range g.units[id].Deps {
			if err := g.dag.AddEdge(d, id); err != nil {
				return nil, fmt.Errorf("linking unit %q: %w", id, err)
			}
		}
	}

	order, err := g.dag.TopologicalOrder()
	if err != nil {
		var cycleErr *dag.CycleError
		if errors.As(err, &cycleErr) {
			return nil, &GraphCycleError{Cycle: cycleErr.Path}
		}
		return nil, err
	}
	g.order = order

	logger.Debug("Construct: Unit graph construction successful.", "units", len(g.units))
	return g, nil
}

func anyIncluded(units []*model.Unit, levels map[string]kconfig.Tristate) bool {
	for _, u := range units {
		if _, ok := levels[u.Name]; ok {
			return true
		}
	}
	return false
}

func consumedByArchiveOrModule(units []*model.Unit, levels map[string]kconfig.Tristate) bool {
	for _, u := range units {
		if _, ok := levels[u.Name]; !ok {
			continue
		}
		if u.Kind == model.KindArchive || u.Kind == model.KindModule {
			return true
		}
	}
	return false
}

func relevantSymbols(u *model.Unit) []string {
	set := make(map[string]bool)
	for _, n := range kconfig.SymbolRefs(u.When) {
		set[n] = true
	}
	for _, n := range u.Uses {
		set[n] = true
	}
	return sortedSet(set)
}

func activationSymbols(index *model.Index) map[string]bool {
	set := make(map[string]bool)
	for _, u := range index.Units {
		for _, n := range kconfig.SymbolRefs(u.When) {
			set[n] = true
		}
	}
	return set
}

func sortedSet(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	return sortedKeys(set)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
