// This file contains the logic for translating HCL schema structs into the
// format-agnostic declaration model.

package hcl_adapter

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/kbuildgo/internal/ctxlog"
	"github.com/vk/kbuildgo/internal/model"
)

func (l *Loader) translateSymbol(ctx context.Context, s *symbolBlock) (*model.Symbol, error) {
	ctx, logger := ctxlog.With(ctx, "symbol", s.Name)
	logger.Debug("Translating HCL symbol to declaration model.")

	typ, err := typeExprToSymbolType(ctx, s.Type)
	if err != nil {
		return nil, fmt.Errorf("%s: symbol %q: %w", s.DeclRange, s.Name, err)
	}

	sym := &model.Symbol{
		Name:      s.Name,
		Type:      typ,
		DependsOn: definedOrNil(ctx, s.DependsOn, "depends_on"),
		Defaults:  translateDefaults(ctx, s.Defaults),
		DeclRange: s.DeclRange,
	}
	if s.Prompt != nil {
		sym.Prompt = *s.Prompt
	}
	if s.Help != nil {
		sym.Help = *s.Help
	}
	if s.Modules != nil {
		sym.Modules = *s.Modules
	}
	if isExprDefined(ctx, s.Range, "range") {
		lo, hi, err := rangeBounds(s.Range)
		if err != nil {
			return nil, fmt.Errorf("symbol %q: %w", s.Name, err)
		}
		sym.Range = &model.Range{Min: lo, Max: hi}
	}
	for _, sel := range s.Selects {
		sym.Selects = append(sym.Selects, &model.Select{
			Target: sel.Target,
			When:   definedOrNil(ctx, sel.When, "when"),
		})
	}
	return sym, nil
}

func (l *Loader) translateChoice(ctx context.Context, c *choiceBlock) (*model.Choice, error) {
	ctx, logger := ctxlog.With(ctx, "choice", c.Name)
	logger.Debug("Translating HCL choice to declaration model.")

	members, err := traversalNames(c.Members)
	if err != nil {
		return nil, fmt.Errorf("%s: choice %q members: %w", c.DeclRange, c.Name, err)
	}
	choice := &model.Choice{
		Name:      c.Name,
		DependsOn: definedOrNil(ctx, c.DependsOn, "depends_on"),
		Members:   members,
		Defaults:  translateDefaults(ctx, c.Defaults),
		DeclRange: c.DeclRange,
	}
	if c.Prompt != nil {
		choice.Prompt = *c.Prompt
	}
	return choice, nil
}

func translateDefaults(ctx context.Context, blocks []*defaultBlock) []*model.Default {
	defaults := make([]*model.Default, 0, len(blocks))
	for _, d := range blocks {
		defaults = append(defaults, &model.Default{
			Value: d.Value,
			When:  definedOrNil(ctx, d.When, "when"),
		})
	}
	return defaults
}

// translateUnit resolves unit paths against dir, the slash-separated
// directory of the declaring file relative to the source root.
func (l *Loader) translateUnit(ctx context.Context, u *unitBlock, dir string) (*model.Unit, error) {
	ctx, logger := ctxlog.With(ctx, "unit_kind", u.Kind, "unit", u.Name)
	logger.Debug("Translating HCL unit to declaration model.")

	kind := model.UnitKind(u.Kind)
	if !kind.Valid() {
		return nil, fmt.Errorf("%s: unit %q has unknown kind %q", u.DeclRange, u.Name, u.Kind)
	}

	unit := &model.Unit{
		Kind:      kind,
		Name:      joinUnitPath(dir, u.Name),
		When:      definedOrNil(ctx, u.When, "when"),
		Flags:     u.Flags,
		DeclRange: u.DeclRange,
	}
	for _, in := range u.Inputs {
		unit.Inputs = append(unit.Inputs, joinUnitPath(dir, in))
	}
	for _, dep := range u.Deps {
		unit.Deps = append(unit.Deps, joinUnitPath(dir, dep))
	}
	if isExprDefined(ctx, u.Uses, "uses") {
		uses, err := traversalNames(u.Uses)
		if err != nil {
			return nil, fmt.Errorf("unit %q uses: %w", unit.Name, err)
		}
		unit.Uses = uses
	}
	return unit, nil
}

// diagsError wraps HCL diagnostics with the file they came from.
func diagsError(action, file string, diags hcl.Diagnostics) error {
	return fmt.Errorf("failed to %s HCL file %s: %w", action, file, diags)
}
