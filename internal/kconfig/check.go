package kconfig

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/kbuildgo/internal/dag"
	"github.com/vk/kbuildgo/internal/model"
)

// Check validates declarations before resolution: types, select targets,
// choice membership, expression references and acyclicity of depends-on.
// builtins lists the names of constants visible to expressions.
func Check(decls *model.Declarations, builtins ...string) error {
	known := make(map[string]bool, len(builtins))
	for _, b := range builtins {
		known[b] = true
	}

	var modules []string
	for _, sym := range decls.Symbols {
		if !sym.Type.Valid() {
			return inconsistent(fmt.Sprintf("invalid type %q", sym.Type), sym.Name)
		}
		if sym.Modules {
			if sym.Type != model.TypeBool {
				return inconsistent("modules symbol must be bool", sym.Name)
			}
			modules = append(modules, sym.Name)
		}
		if sym.Range != nil {
			if sym.Type != model.TypeInt && sym.Type != model.TypeHex {
				return inconsistent("range is only valid for int and hex symbols", sym.Name)
			}
			if sym.Range.Min > sym.Range.Max {
				return inconsistent("range minimum exceeds maximum", sym.Name)
			}
		}
		for _, sel := range sym.Selects {
			if !KindOf(sym.Type).IsLogic() {
				return inconsistent("only bool and tristate symbols may select", sym.Name)
			}
			target, ok := decls.Symbol(sel.Target)
			if !ok {
				return inconsistent(fmt.Sprintf("select of undeclared symbol %q", sel.Target), sym.Name)
			}
			if !KindOf(target.Type).IsLogic() {
				return inconsistent("select target must be bool or tristate", sym.Name, sel.Target)
			}
			if target.Choice != "" {
				return inconsistent(fmt.Sprintf("choice member %q cannot be selected", sel.Target), sym.Name)
			}
		}
		exprs := []hcl.Expression{sym.DependsOn}
		for _, d := range sym.Defaults {
			exprs = append(exprs, d.Value, d.When)
		}
		for _, sel := range sym.Selects {
			exprs = append(exprs, sel.When)
		}
		if err := checkRefs(decls, known, sym.Name, exprs...); err != nil {
			return err
		}
	}
	if len(modules) > 1 {
		return inconsistent("more than one modules symbol", modules...)
	}

	for _, c := range decls.Choices {
		if len(c.Members) == 0 {
			return inconsistent(fmt.Sprintf("choice %q has no members", c.Name))
		}
		members := make(map[string]bool, len(c.Members))
		for _, m := range c.Members {
			sym, _ := decls.Symbol(m)
			if sym.Type != model.TypeBool {
				return inconsistent(fmt.Sprintf("choice %q member must be bool", c.Name), m)
			}
			members[m] = true
		}
		exprs := []hcl.Expression{c.DependsOn}
		for _, d := range c.Defaults {
			name, err := choiceDefault(d)
			if err != nil {
				return inconsistent(fmt.Sprintf("choice %q: %v", c.Name, err))
			}
			if !members[name] {
				return inconsistent(fmt.Sprintf("choice %q default is not a member", c.Name), name)
			}
			exprs = append(exprs, d.When)
		}
		if err := checkRefs(decls, known, c.Name, exprs...); err != nil {
			return err
		}
	}

	return checkDependsOnCycles(decls)
}

func checkRefs(decls *model.Declarations, builtins map[string]bool, owner string, exprs ...hcl.Expression) error {
	var unknown []string
	for _, expr := range exprs {
		for _, name := range Refs(expr) {
			if _, ok := decls.Symbol(name); ok || builtins[name] || isConstant(name) {
				continue
			}
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return inconsistent(fmt.Sprintf("%s refers to undeclared symbols", owner), unknown...)
	}
	return nil
}

// choiceDefault extracts the member named by a choice default.
func choiceDefault(d *model.Default) (string, error) {
	tr, diags := hcl.AbsTraversalForExpr(d.Value)
	if diags.HasErrors() || len(tr) != 1 {
		return "", errors.New("default value must name a member")
	}
	return tr.RootName(), nil
}

// checkDependsOnCycles builds the depends-on graph (edge from referenced
// symbol to dependent) and rejects cycles. Choice members inherit the
// references of their choice.
func checkDependsOnCycles(decls *model.Declarations) error {
	g := dag.New()
	for _, sym := range decls.Symbols {
		g.AddNode(sym.Name)
	}

	link := func(expr hcl.Expression, to string) error {
		for _, ref := range Refs(expr) {
			if _, ok := decls.Symbol(ref); !ok {
				continue
			}
			if ref == to {
				return &InconsistentConfigError{Reason: "depends-on cycle", Symbols: []string{to}, Cycle: []string{to, to}}
			}
			if err := g.AddEdge(ref, to); err != nil {
				return err
			}
		}
		return nil
	}

	for _, sym := range decls.Symbols {
		if err := link(sym.DependsOn, sym.Name); err != nil {
			return err
		}
	}
	for _, c := range decls.Choices {
		for _, m := range c.Members {
			if err := link(c.DependsOn, m); err != nil {
				return err
			}
		}
	}

	var cycleErr *dag.CycleError
	if err := g.DetectCycles(); errors.As(err, &cycleErr) {
		names := append([]string(nil), cycleErr.Path[:len(cycleErr.Path)-1]...)
		sort.Strings(names)
		return &InconsistentConfigError{Reason: "depends-on cycle", Symbols: names, Cycle: cycleErr.Path}
	} else if err != nil {
		return err
	}
	return nil
}
