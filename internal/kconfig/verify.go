package kconfig

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vk/kbuildgo/internal/model"
)

// declScope evaluates against a state using the declarations for the kinds
// of absent symbols.
type declScope struct {
	state *State
	decls *model.Declarations
}

func (d declScope) lookup(name string) (Entry, bool) {
	if e, ok := d.state.Lookup(name); ok {
		return e, true
	}
	if sym, ok := d.decls.Symbol(name); ok {
		return zeroEntry(KindOf(sym.Type)), true
	}
	return Entry{}, false
}

func (d declScope) builtin(name string) (string, bool) {
	return d.state.Builtin(name)
}

// Verify checks that state is a fixpoint for decls: every present symbol is
// declared and has its depends-on met, bool symbols are never m, and every
// visible choice has exactly one member set.
func Verify(state *State, decls *model.Declarations) error {
	sc := declScope{state: state, decls: decls}
	var bad []string

	for _, name := range state.Names() {
		sym, ok := decls.Symbol(name)
		if !ok {
			bad = append(bad, name)
			continue
		}
		dep, err := evalTri(sym.DependsOn, sc)
		if err != nil {
			return fmt.Errorf("verifying %s: %w", name, err)
		}
		if dep == No {
			bad = append(bad, name)
			continue
		}
		if sym.Choice != "" {
			c, _ := decls.Choice(sym.Choice)
			cdep, err := evalTri(c.DependsOn, sc)
			if err != nil {
				return fmt.Errorf("verifying %s: %w", name, err)
			}
			if cdep == No {
				bad = append(bad, name)
				continue
			}
		}
		e, _ := state.Lookup(name)
		if sym.Type == model.TypeBool && e.Tristate() == Mod {
			bad = append(bad, name)
		}
	}

	for _, c := range decls.Choices {
		var present, set []string
		for _, m := range c.Members {
			if e, ok := state.Lookup(m); ok {
				present = append(present, m)
				if e.Tristate() == Yes {
					set = append(set, m)
				}
			}
		}
		if len(present) > 0 && len(set) != 1 {
			bad = append(bad, present...)
		}
	}

	if len(bad) > 0 {
		sort.Strings(bad)
		return inconsistent("state is not a fixpoint of the declarations", bad...)
	}
	return nil
}

// ParseAssignment splits "NAME=VALUE" or "CONFIG_NAME=VALUE".
func ParseAssignment(s string) (string, string, error) {
	name, value, ok := strings.Cut(s, "=")
	name = strings.TrimPrefix(strings.TrimSpace(name), "CONFIG_")
	if !ok || name == "" {
		return "", "", fmt.Errorf("invalid assignment %q: expected NAME=VALUE", s)
	}
	return name, value, nil
}

// Merge returns a new delta with the entries of o applied over d.
func (d Delta) Merge(o Delta) Delta {
	out := make(Delta, len(d)+len(o))
	for k, v := range d {
		out[k] = v
	}
	for k, v := range o {
		out[k] = v
	}
	return out
}
