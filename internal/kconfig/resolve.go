package kconfig

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/vk/kbuildgo/internal/ctxlog"
	"github.com/vk/kbuildgo/internal/model"
	"github.com/zclconf/go-cty/cty"
)

// BuiltinArch is the name under which the target architecture is visible
// to expressions.
const BuiltinArch = "ARCH"

// Delta holds user assignments keyed by symbol name. Values use .config
// syntax: y, m, n, "text", 42, 0x1f. An empty value clears the user value of
// an int or hex symbol.
type Delta map[string]string

// Option configures Resolve.
type Option func(*resolver)

// WithBuiltin makes a constant visible to expressions.
func WithBuiltin(name, value string) Option {
	return func(r *resolver) { r.builtins[name] = value }
}

// WithArch is shorthand for WithBuiltin(BuiltinArch, arch).
func WithArch(arch string) Option {
	return WithBuiltin(BuiltinArch, arch)
}

// WithMaxPasses overrides the iteration bound.
func WithMaxPasses(n int) Option {
	return func(r *resolver) { r.maxPasses = n }
}

type selector struct {
	from *model.Symbol
	sel  *model.Select
}

type resolver struct {
	decls     *model.Declarations
	builtins  map[string]string
	maxPasses int
	logger    *slog.Logger

	modules    string
	reverse    map[string][]selector
	user       map[string]Entry
	choiceUser map[string]string

	values  map[string]Entry
	visible map[string]bool
}

func (r *resolver) lookup(name string) (Entry, bool) {
	e, ok := r.values[name]
	return e, ok
}

func (r *resolver) builtin(name string) (string, bool) {
	v, ok := r.builtins[name]
	return v, ok
}

// Resolve computes the configuration state reached from prior after applying
// delta. prior may be nil. Unknown symbols in delta are an error; unknown
// symbols in prior are dropped with a warning. Assignments to symbols
// without a prompt are ignored, as they are computed.
func Resolve(ctx context.Context, prior *State, delta Delta, decls *model.Declarations, opts ...Option) (*State, error) {
	r := &resolver{
		decls:      decls,
		builtins:   make(map[string]string),
		logger:     ctxlog.FromContext(ctx),
		reverse:    make(map[string][]selector),
		user:       make(map[string]Entry),
		choiceUser: make(map[string]string),
		values:     make(map[string]Entry, len(decls.Symbols)),
		visible:    make(map[string]bool, len(decls.Symbols)),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxPasses <= 0 {
		r.maxPasses = 2*(len(decls.Symbols)+len(decls.Choices)) + 8
	}

	builtinNames := make([]string, 0, len(r.builtins))
	for n := range r.builtins {
		builtinNames = append(builtinNames, n)
	}
	if err := Check(decls, builtinNames...); err != nil {
		return nil, err
	}

	for _, sym := range decls.Symbols {
		if sym.Modules {
			r.modules = sym.Name
		}
		for _, sel := range sym.Selects {
			r.reverse[sel.Target] = append(r.reverse[sel.Target], selector{from: sym, sel: sel})
		}
		r.values[sym.Name] = zeroEntry(KindOf(sym.Type))
	}

	if err := r.seed(prior, delta); err != nil {
		return nil, err
	}

	var changed []string
	for pass := 1; pass <= r.maxPasses; pass++ {
		var err error
		changed, err = r.pass()
		if err != nil {
			return nil, err
		}
		r.logger.Debug("Resolution pass complete.", "pass", pass, "changed", len(changed))
		if len(changed) == 0 {
			return r.state(), nil
		}
	}
	sort.Strings(changed)
	return nil, inconsistent(fmt.Sprintf("no fixpoint after %d passes", r.maxPasses), changed...)
}

// seed installs user values from prior, then from delta.
func (r *resolver) seed(prior *State, delta Delta) error {
	if prior != nil {
		for _, name := range prior.Names() {
			sym, ok := r.decls.Symbol(name)
			if !ok {
				r.logger.Warn("Ignoring unknown symbol in prior configuration.", "symbol", name)
				continue
			}
			if !sym.HasPrompt() {
				continue
			}
			e, _ := prior.Lookup(name)
			v, err := e.convert(KindOf(sym.Type))
			if err != nil {
				r.logger.Warn("Ignoring prior value of wrong type.", "symbol", name, "error", err)
				continue
			}
			if sym.Choice != "" {
				if _, taken := r.choiceUser[sym.Choice]; !taken && v.Tristate() == Yes {
					r.choiceUser[sym.Choice] = name
				}
				continue
			}
			r.user[name] = v
		}
	}

	names := make([]string, 0, len(delta))
	for n := range delta {
		names = append(names, n)
	}
	sort.Strings(names)

	picked := make(map[string][]string)
	for _, name := range names {
		sym, ok := r.decls.Symbol(name)
		if !ok {
			return inconsistent("assignment to undeclared symbol", name)
		}
		v, err := ParseEntry(KindOf(sym.Type), delta[name])
		if err != nil {
			return inconsistent(err.Error(), name)
		}
		if !sym.HasPrompt() {
			r.logger.Warn("Symbol has no prompt; assignment ignored.", "symbol", name)
			continue
		}
		if sym.Choice != "" {
			if v.Tristate() == Yes {
				picked[sym.Choice] = append(picked[sym.Choice], name)
			} else if r.choiceUser[sym.Choice] == name {
				delete(r.choiceUser, sym.Choice)
			}
			continue
		}
		if !v.Kind.IsLogic() && v.Value.IsNull() {
			delete(r.user, name)
			continue
		}
		r.user[name] = v
	}
	for choice, members := range picked {
		if len(members) > 1 {
			return inconsistent(fmt.Sprintf("more than one member of choice %q set to y", choice), members...)
		}
		r.choiceUser[choice] = members[0]
	}
	return nil
}

// pass recomputes every symbol once, in declaration order, and returns the
// names whose value or visibility changed.
func (r *resolver) pass() ([]string, error) {
	var changed []string
	update := func(name string, e Entry, visible bool) {
		if prev := r.values[name]; !prev.Equal(e) || r.visible[name] != visible {
			changed = append(changed, name)
		}
		r.values[name] = e
		r.visible[name] = visible
	}

	for _, sym := range r.decls.Symbols {
		if sym.Choice != "" {
			continue
		}
		e, visible, err := r.compute(sym)
		if err != nil {
			return nil, fmt.Errorf("symbol %s: %w", sym.Name, err)
		}
		update(sym.Name, e, visible)
	}

	for _, c := range r.decls.Choices {
		sel, candidates, err := r.computeChoice(c)
		if err != nil {
			return nil, fmt.Errorf("choice %s: %w", c.Name, err)
		}
		for _, m := range c.Members {
			switch {
			case m == sel:
				update(m, TristateEntry(KindBool, Yes), true)
			case slices.Contains(candidates, m):
				update(m, TristateEntry(KindBool, No), true)
			default:
				update(m, zeroEntry(KindBool), false)
			}
		}
	}
	return changed, nil
}

func (r *resolver) modulesEnabled() bool {
	if r.modules == "" {
		return true
	}
	return r.values[r.modules].Tristate() == Yes
}

func (r *resolver) compute(sym *model.Symbol) (Entry, bool, error) {
	kind := KindOf(sym.Type)
	dep, err := evalTri(sym.DependsOn, r)
	if err != nil {
		return Entry{}, false, err
	}
	if dep == No {
		return zeroEntry(kind), false, nil
	}

	if kind.IsLogic() {
		rev := No
		for _, s := range r.reverse[sym.Name] {
			sv := r.values[s.from.Name].Tristate()
			if sv == No || !r.visible[s.from.Name] {
				continue
			}
			w, err := evalTri(s.sel.When, r)
			if err != nil {
				return Entry{}, false, err
			}
			rev = maxTri(rev, minTri(sv, w))
		}

		base := No
		if u, ok := r.user[sym.Name]; ok {
			base = u.Tristate()
		} else {
			for _, d := range sym.Defaults {
				w, err := evalTri(d.When, r)
				if err != nil {
					return Entry{}, false, err
				}
				if w == No {
					continue
				}
				v, err := evalTri(d.Value, r)
				if err != nil {
					return Entry{}, false, err
				}
				base = minTri(v, w)
				break
			}
		}

		v := minTri(maxTri(base, rev), dep)
		if v == Mod && (kind == KindBool || !r.modulesEnabled()) {
			v = Yes
		}
		return TristateEntry(kind, v), true, nil
	}

	if u, ok := r.user[sym.Name]; ok {
		if n, isNum := u.Int(); !isNum || sym.Range.Contains(n) {
			return u, true, nil
		}
		r.logger.Debug("User value out of range; using default.", "symbol", sym.Name, "value", u.String())
	}
	for _, d := range sym.Defaults {
		w, err := evalTri(d.When, r)
		if err != nil {
			return Entry{}, false, err
		}
		if w == No {
			continue
		}
		v, err := evalValue(d.Value, r)
		if err != nil {
			return Entry{}, false, err
		}
		e, err := fromValue(kind, v)
		if err != nil {
			return Entry{}, false, err
		}
		return clamp(e, sym.Range), true, nil
	}
	switch {
	case kind == KindString:
		return StringEntry(""), true, nil
	case sym.Range != nil && kind == KindInt:
		return IntEntry(sym.Range.Min), true, nil
	case sym.Range != nil && kind == KindHex:
		return HexEntry(sym.Range.Min), true, nil
	}
	return zeroEntry(kind), true, nil
}

// computeChoice picks the active member. It returns "" when the choice is
// hidden or has no visible member.
func (r *resolver) computeChoice(c *model.Choice) (string, []string, error) {
	dep, err := evalTri(c.DependsOn, r)
	if err != nil || dep == No {
		return "", nil, err
	}
	var candidates []string
	for _, m := range c.Members {
		sym, _ := r.decls.Symbol(m)
		md, err := evalTri(sym.DependsOn, r)
		if err != nil {
			return "", nil, err
		}
		if md != No {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return "", nil, nil
	}
	if u, ok := r.choiceUser[c.Name]; ok && slices.Contains(candidates, u) {
		return u, candidates, nil
	}
	for _, d := range c.Defaults {
		w, err := evalTri(d.When, r)
		if err != nil {
			return "", nil, err
		}
		if w == No {
			continue
		}
		name, err := choiceDefault(d)
		if err != nil {
			return "", nil, err
		}
		if slices.Contains(candidates, name) {
			return name, candidates, nil
		}
	}
	return candidates[0], candidates, nil
}

func (r *resolver) state() *State {
	entries := make(map[string]Entry)
	kinds := make(map[string]Kind, len(r.values))
	for _, sym := range r.decls.Symbols {
		kinds[sym.Name] = KindOf(sym.Type)
		if r.visible[sym.Name] {
			entries[sym.Name] = r.values[sym.Name]
		}
	}
	return NewState(entries, kinds, r.builtins)
}

// fromValue converts an evaluated default into an entry of kind k.
func fromValue(k Kind, v cty.Value) (Entry, error) {
	if v.IsNull() {
		return zeroEntry(k), nil
	}
	if !v.IsKnown() {
		return Entry{}, fmt.Errorf("default value is unknown")
	}
	switch v.Type() {
	case cty.String:
		return ParseEntry(k, v.AsString())
	case cty.Number:
		n, _ := v.AsBigFloat().Int64()
		switch k {
		case KindInt:
			return IntEntry(n), nil
		case KindHex:
			return HexEntry(n), nil
		case KindString:
			return StringEntry(v.AsBigFloat().Text('f', -1)), nil
		}
	}
	return Entry{}, fmt.Errorf("cannot use %s value as %s default", v.Type().FriendlyName(), k)
}

func clamp(e Entry, rng *model.Range) Entry {
	n, ok := e.Int()
	if !ok || rng == nil {
		return e
	}
	switch {
	case n < rng.Min:
		n = rng.Min
	case n > rng.Max:
		n = rng.Max
	default:
		return e
	}
	if e.Kind == KindHex {
		return HexEntry(n)
	}
	return IntEntry(n)
}
