package unitgraph

import (
	"fmt"

	"github.com/vk/kbuildgo/internal/dag"
	"github.com/vk/kbuildgo/internal/kconfig"
	"github.com/vk/kbuildgo/internal/model"
	"github.com/vk/kbuildgo/internal/target"
)

// Len returns the number of active units.
func (g *Graph) Len() int { return len(g.units) }

// Unit looks up an active unit.
func (g *Graph) Unit(id string) (*Unit, bool) {
	u, ok := g.units[id]
	return u, ok
}

// IDs returns the active unit IDs in lexical order.
func (g *Graph) IDs() []string { return sortedKeys(g.units) }

// Order returns the unit IDs in a deterministic topological order.
func (g *Graph) Order() []string { return append([]string(nil), g.order...) }

// Edges returns every [dependency, dependent] pair, sorted.
func (g *Graph) Edges() [][2]string { return g.dag.Edges() }

// Dependents returns the sorted IDs of the units consuming id.
func (g *Graph) Dependents(id string) []string {
	deps, _ := g.dag.Dependents(id)
	return deps
}

// State returns the configuration the graph was built for.
func (g *Graph) State() *kconfig.State { return g.state }

// Context returns the target context the graph was built for.
func (g *Graph) Context() target.Context { return g.context }

// ConfigHash digests the values of the symbols relevant to unit id.
func (g *Graph) ConfigHash(id string) string {
	u, ok := g.units[id]
	if !ok {
		return ""
	}
	return g.state.SliceHash(u.Relevant)
}

// DefaultTargets is the "all" target set: the image plus every active
// module. A graph with neither builds everything.
func (g *Graph) DefaultTargets() []string {
	var targets []string
	for _, id := range g.IDs() {
		switch g.units[id].Kind {
		case model.KindImage, model.KindModule:
			targets = append(targets, id)
		}
	}
	if len(targets) == 0 {
		return g.IDs()
	}
	return targets
}

// Subgraph restricts the graph to targets and everything they depend on.
// The name "all" expands to DefaultTargets.
func (g *Graph) Subgraph(targets []string) (*Graph, error) {
	var ids []string
	for _, t := range targets {
		if t == "all" {
			ids = append(ids, g.DefaultTargets()...)
			continue
		}
		if _, ok := g.units[t]; !ok {
			return nil, fmt.Errorf("unknown or inactive target %q", t)
		}
		ids = append(ids, t)
	}
	keep, err := g.dag.Ancestors(ids...)
	if err != nil {
		return nil, err
	}

	sub := &Graph{
		dag:        dag.New(),
		units:      make(map[string]*Unit, len(keep)),
		state:      g.state,
		context:    g.context,
		activation: g.activation,
	}
	for _, id := range keep {
		sub.units[id] = g.units[id]
		sub.dag.AddNode(id)
	}
	for _, e := range g.dag.Edges() {
		if sub.dag.HasNode(e[0]) && sub.dag.HasNode(e[1]) {
			if err := sub.dag.AddEdge(e[0], e[1]); err != nil {
				return nil, err
			}
		}
	}
	for _, id := range g.order {
		if _, ok := sub.units[id]; ok {
			sub.order = append(sub.order, id)
		}
	}
	return sub, nil
}

// withState returns a copy of g sharing its shape but bound to state.
func (g *Graph) withState(state *kconfig.State) *Graph {
	cp := *g
	cp.state = state
	return &cp
}
