package kconfig

import (
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// scope resolves names during expression evaluation. lookup returns the
// entry of a declared symbol, with its unset value when it is not visible.
type scope interface {
	lookup(name string) (Entry, bool)
	builtin(name string) (string, bool)
}

// Functions is the function table available to value expressions.
var Functions = map[string]function.Function{
	"concat":    stdlib.ConcatFunc,
	"contains":  stdlib.ContainsFunc,
	"format":    stdlib.FormatFunc,
	"join":      stdlib.JoinFunc,
	"length":    stdlib.LengthFunc,
	"lower":     stdlib.LowerFunc,
	"max":       stdlib.MaxFunc,
	"min":       stdlib.MinFunc,
	"substr":    stdlib.SubstrFunc,
	"trimspace": stdlib.TrimSpaceFunc,
	"upper":     stdlib.UpperFunc,
}

// Refs returns the distinct root names an expression refers to, sorted.
func Refs(expr hcl.Expression) []string {
	if expr == nil {
		return nil
	}
	seen := make(map[string]bool)
	var names []string
	for _, tr := range expr.Variables() {
		n := tr.RootName()
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// SymbolRefs is Refs without the tristate literals.
func SymbolRefs(expr hcl.Expression) []string {
	var names []string
	for _, n := range Refs(expr) {
		if !isConstant(n) {
			names = append(names, n)
		}
	}
	return names
}

// isConstant reports whether a bare identifier is one of the tristate
// literals.
func isConstant(name string) bool {
	_, ok := ParseTristate(name)
	return ok
}

// evalTri evaluates expr with tristate semantics. A nil expression is y.
func evalTri(expr hcl.Expression, sc scope) (Tristate, error) {
	if expr == nil {
		return Yes, nil
	}
	switch e := expr.(type) {
	case *hclsyntax.ParenthesesExpr:
		return evalTri(e.Expression, sc)

	case *hclsyntax.UnaryOpExpr:
		if e.Op == hclsyntax.OpLogicalNot {
			v, err := evalTri(e.Val, sc)
			if err != nil {
				return No, err
			}
			return Yes - v, nil
		}

	case *hclsyntax.BinaryOpExpr:
		switch e.Op {
		case hclsyntax.OpLogicalAnd, hclsyntax.OpLogicalOr:
			l, err := evalTri(e.LHS, sc)
			if err != nil {
				return No, err
			}
			r, err := evalTri(e.RHS, sc)
			if err != nil {
				return No, err
			}
			if e.Op == hclsyntax.OpLogicalAnd {
				return minTri(l, r), nil
			}
			return maxTri(l, r), nil
		case hclsyntax.OpEqual, hclsyntax.OpNotEqual,
			hclsyntax.OpGreaterThan, hclsyntax.OpGreaterThanOrEqual,
			hclsyntax.OpLessThan, hclsyntax.OpLessThanOrEqual:
			l, err := evalValue(e.LHS, sc)
			if err != nil {
				return No, err
			}
			r, err := evalValue(e.RHS, sc)
			if err != nil {
				return No, err
			}
			ok, err := compare(e.Op, l, r)
			if err != nil {
				return No, fmt.Errorf("%s: %w", e.SrcRange, err)
			}
			if ok {
				return Yes, nil
			}
			return No, nil
		}

	case *hclsyntax.ConditionalExpr:
		c, err := evalTri(e.Condition, sc)
		if err != nil {
			return No, err
		}
		if c != No {
			return evalTri(e.TrueResult, sc)
		}
		return evalTri(e.FalseResult, sc)

	case *hclsyntax.ScopeTraversalExpr:
		if len(e.Traversal) == 1 {
			return nameTri(e.Traversal.RootName(), sc, e.SrcRange)
		}
	}

	v, err := evalValue(expr, sc)
	if err != nil {
		return No, err
	}
	return toTri(v, expr.Range())
}

func nameTri(name string, sc scope, rng hcl.Range) (Tristate, error) {
	if e, ok := sc.lookup(name); ok {
		return e.Tristate(), nil
	}
	if t, ok := ParseTristate(name); ok {
		return t, nil
	}
	if b, ok := sc.builtin(name); ok {
		if b == "" {
			return No, nil
		}
		return Yes, nil
	}
	return No, fmt.Errorf("%s: reference to undeclared symbol %q", rng, name)
}

// evalValue evaluates expr to a cty value. Logic values are returned as
// strings "n", "m" or "y" so they compare naturally with string literals.
func evalValue(expr hcl.Expression, sc scope) (cty.Value, error) {
	switch e := expr.(type) {
	case *hclsyntax.ParenthesesExpr:
		return evalValue(e.Expression, sc)

	case *hclsyntax.LiteralValueExpr:
		return normalize(e.Val), nil

	case *hclsyntax.ScopeTraversalExpr:
		if len(e.Traversal) == 1 {
			return nameValue(e.Traversal.RootName(), sc, e.SrcRange)
		}

	case *hclsyntax.UnaryOpExpr:
		if e.Op == hclsyntax.OpLogicalNot {
			return triValue(expr, sc)
		}

	case *hclsyntax.BinaryOpExpr:
		switch e.Op {
		case hclsyntax.OpLogicalAnd, hclsyntax.OpLogicalOr,
			hclsyntax.OpEqual, hclsyntax.OpNotEqual,
			hclsyntax.OpGreaterThan, hclsyntax.OpGreaterThanOrEqual,
			hclsyntax.OpLessThan, hclsyntax.OpLessThanOrEqual:
			return triValue(expr, sc)
		}

	case *hclsyntax.ConditionalExpr:
		c, err := evalTri(e.Condition, sc)
		if err != nil {
			return cty.NilVal, err
		}
		if c != No {
			return evalValue(e.TrueResult, sc)
		}
		return evalValue(e.FalseResult, sc)
	}

	// Templates, arithmetic and function calls go through HCL itself with
	// only the referenced names bound.
	vars := make(map[string]cty.Value)
	for _, name := range Refs(expr) {
		v, err := nameValue(name, sc, expr.Range())
		if err != nil {
			return cty.NilVal, err
		}
		vars[name] = v
	}
	val, diags := expr.Value(&hcl.EvalContext{Variables: vars, Functions: Functions})
	if diags.HasErrors() {
		return cty.NilVal, diags
	}
	return normalize(val), nil
}

func triValue(expr hcl.Expression, sc scope) (cty.Value, error) {
	t, err := evalTri(expr, sc)
	if err != nil {
		return cty.NilVal, err
	}
	return cty.StringVal(t.String()), nil
}

func nameValue(name string, sc scope, rng hcl.Range) (cty.Value, error) {
	if e, ok := sc.lookup(name); ok {
		return e.Value, nil
	}
	if isConstant(name) {
		return cty.StringVal(name), nil
	}
	if b, ok := sc.builtin(name); ok {
		return cty.StringVal(b), nil
	}
	return cty.NilVal, fmt.Errorf("%s: reference to undeclared symbol %q", rng, name)
}

// normalize turns booleans into logic strings.
func normalize(v cty.Value) cty.Value {
	if v.IsKnown() && !v.IsNull() && v.Type() == cty.Bool {
		if v.True() {
			return cty.StringVal("y")
		}
		return cty.StringVal("n")
	}
	return v
}

func toTri(v cty.Value, rng hcl.Range) (Tristate, error) {
	if !v.IsKnown() {
		return No, fmt.Errorf("%s: expression value is unknown", rng)
	}
	if v.IsNull() {
		return No, nil
	}
	switch v.Type() {
	case cty.String:
		s := v.AsString()
		if t, ok := ParseTristate(s); ok {
			return t, nil
		}
		if s == "" {
			return No, nil
		}
		return Yes, nil
	case cty.Number:
		if v.AsBigFloat().Sign() == 0 {
			return No, nil
		}
		return Yes, nil
	}
	return No, fmt.Errorf("%s: cannot use %s value as a condition", rng, v.Type().FriendlyName())
}

// compare applies a comparison operator. Two logic values compare in
// n < m < y order, two numbers numerically (hex strings included), and
// anything else as strings. Null equals only null and is never ordered.
func compare(op *hclsyntax.Operation, l, r cty.Value) (bool, error) {
	l, r = normalize(l), normalize(r)
	if !l.IsKnown() || !r.IsKnown() {
		return false, fmt.Errorf("comparison of unknown values")
	}
	if l.IsNull() || r.IsNull() {
		both := l.IsNull() && r.IsNull()
		switch op {
		case hclsyntax.OpEqual:
			return both, nil
		case hclsyntax.OpNotEqual:
			return !both, nil
		}
		return false, nil
	}

	var c int
	if lt, rt, ok := bothTri(l, r); ok {
		c = int(lt) - int(rt)
	} else if ln, rn, ok := bothNumbers(l, r); ok {
		c = ln.Cmp(rn)
	} else {
		ls, lok := asString(l)
		rs, rok := asString(r)
		if !lok || !rok {
			return false, fmt.Errorf("cannot compare %s with %s", l.Type().FriendlyName(), r.Type().FriendlyName())
		}
		c = strings.Compare(ls, rs)
	}

	switch op {
	case hclsyntax.OpEqual:
		return c == 0, nil
	case hclsyntax.OpNotEqual:
		return c != 0, nil
	case hclsyntax.OpGreaterThan:
		return c > 0, nil
	case hclsyntax.OpGreaterThanOrEqual:
		return c >= 0, nil
	case hclsyntax.OpLessThan:
		return c < 0, nil
	case hclsyntax.OpLessThanOrEqual:
		return c <= 0, nil
	}
	return false, fmt.Errorf("unsupported comparison operator")
}

func bothTri(l, r cty.Value) (Tristate, Tristate, bool) {
	if l.Type() != cty.String || r.Type() != cty.String {
		return No, No, false
	}
	lt, lok := ParseTristate(l.AsString())
	rt, rok := ParseTristate(r.AsString())
	return lt, rt, lok && rok
}

func bothNumbers(l, r cty.Value) (*big.Float, *big.Float, bool) {
	ln, lok := asNumber(l)
	rn, rok := asNumber(r)
	return ln, rn, lok && rok
}

func asNumber(v cty.Value) (*big.Float, bool) {
	switch v.Type() {
	case cty.Number:
		return v.AsBigFloat(), true
	case cty.String:
		s := strings.TrimSpace(v.AsString())
		if n, err := strconv.ParseInt(s, 0, 64); err == nil {
			return new(big.Float).SetInt64(n), true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return big.NewFloat(f), true
		}
	}
	return nil, false
}

func asString(v cty.Value) (string, bool) {
	switch v.Type() {
	case cty.String:
		return v.AsString(), true
	case cty.Number:
		return v.AsBigFloat().Text('f', -1), true
	}
	return "", false
}
