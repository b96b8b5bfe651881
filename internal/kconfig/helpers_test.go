package kconfig

import (
	"context"
	"testing"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/stretchr/testify/require"
	"github.com/vk/kbuildgo/internal/ctxlog"
	"github.com/vk/kbuildgo/internal/model"
)

// parseExpr is a helper to quickly parse an HCL expression string for tests.
func parseExpr(t *testing.T, s string) hcl.Expression {
	t.Helper()
	if s == "" {
		return nil
	}
	expr, diags := hclsyntax.ParseExpression([]byte(s), "test.hcl", hcl.Pos{Line: 1, Column: 1})
	require.False(t, diags.HasErrors(), "failed to parse expression %q: %s", s, diags.Error())
	return expr
}

type symOpt func(t *testing.T, s *model.Symbol)

func prompt(p string) symOpt {
	return func(_ *testing.T, s *model.Symbol) { s.Prompt = p }
}

func dependsOn(expr string) symOpt {
	return func(t *testing.T, s *model.Symbol) { s.DependsOn = parseExpr(t, expr) }
}

func def(value string, when ...string) symOpt {
	return func(t *testing.T, s *model.Symbol) {
		d := &model.Default{Value: parseExpr(t, value)}
		if len(when) > 0 {
			d.When = parseExpr(t, when[0])
		}
		s.Defaults = append(s.Defaults, d)
	}
}

func selects(target string, when ...string) symOpt {
	return func(t *testing.T, s *model.Symbol) {
		sel := &model.Select{Target: target}
		if len(when) > 0 {
			sel.When = parseExpr(t, when[0])
		}
		s.Selects = append(s.Selects, sel)
	}
}

func modules() symOpt {
	return func(_ *testing.T, s *model.Symbol) { s.Modules = true }
}

func rangeOf(min, max int64) symOpt {
	return func(_ *testing.T, s *model.Symbol) { s.Range = &model.Range{Min: min, Max: max} }
}

func sym(t *testing.T, name string, typ model.SymbolType, opts ...symOpt) *model.Symbol {
	t.Helper()
	s := &model.Symbol{Name: name, Type: typ}
	for _, o := range opts {
		o(t, s)
	}
	return s
}

func choice(t *testing.T, name string, members []string, defaults ...string) *model.Choice {
	t.Helper()
	c := &model.Choice{Name: name, Prompt: name, Members: members}
	for _, d := range defaults {
		c.Defaults = append(c.Defaults, &model.Default{Value: parseExpr(t, d)})
	}
	return c
}

func decls(t *testing.T, symbols []*model.Symbol, choices ...*model.Choice) *model.Declarations {
	t.Helper()
	d, err := model.NewDeclarations(symbols, choices)
	require.NoError(t, err)
	return d
}

func testCtx() context.Context {
	return ctxlog.Discard(context.Background())
}

func resolve(t *testing.T, prior *State, delta Delta, d *model.Declarations, opts ...Option) *State {
	t.Helper()
	s, err := Resolve(testCtx(), prior, delta, d, opts...)
	require.NoError(t, err)
	require.NoError(t, Verify(s, d))
	return s
}
