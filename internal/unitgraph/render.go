package unitgraph

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/vk/kbuildgo/internal/kconfig"
	"github.com/vk/kbuildgo/internal/model"
)

var dotShapes = map[model.UnitKind]string{
	model.KindObject:  "box",
	model.KindArchive: "folder",
	model.KindModule:  "component",
	model.KindImage:   "doubleoctagon",
}

// WriteDot renders the graph in Graphviz dot syntax. Edges point from a
// dependency to its consumer.
func (g *Graph) WriteDot(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "digraph units {")
	fmt.Fprintln(bw, "  rankdir=LR;")
	for _, id := range g.IDs() {
		u := g.units[id]
		fmt.Fprintf(bw, "  %q [shape=%s, label=%q];\n", id, dotShapes[u.Kind], id+"\n"+string(u.Kind))
	}
	for _, e := range g.Edges() {
		fmt.Fprintf(bw, "  %q -> %q;\n", e[0], e[1])
	}
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}

// WriteText lists units in build order with their dependencies.
func (g *Graph) WriteText(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, id := range g.order {
		u := g.units[id]
		fmt.Fprintf(bw, "%-8s %s", u.Kind, id)
		if u.Level == kconfig.Mod {
			fmt.Fprint(bw, " [m]")
		}
		if len(u.Deps) > 0 {
			fmt.Fprintf(bw, " <- %s", strings.Join(u.Deps, ", "))
		}
		fmt.Fprintln(bw)
	}
	return bw.Flush()
}
