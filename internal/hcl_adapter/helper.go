package hcl_adapter

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/kbuildgo/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// isExprDefined checks if an HCL expression was actually present in the source
// code. The HCL decoder often populates optional fields with non-nil, zero-width
// expression objects, so a simple nil check is insufficient.
func isExprDefined(ctx context.Context, expr hcl.Expression, attrName string) bool {
	if expr == nil {
		return false
	}

	// A real attribute occupies bytes in the file, while a placeholder for an
	// omitted optional attribute has a zero-width range.
	exprRange := expr.Range()
	isDefined := exprRange.End.Byte > exprRange.Start.Byte

	ctxlog.FromContext(ctx).Debug("Checking if HCL attribute was explicitly defined.",
		"attribute", attrName,
		"hcl_range", exprRange.String(),
		"is_defined", isDefined,
	)
	return isDefined
}

// definedOrNil returns expr when it was written in the source, nil otherwise.
func definedOrNil(ctx context.Context, expr hcl.Expression, attrName string) hcl.Expression {
	if isExprDefined(ctx, expr, attrName) {
		return expr
	}
	return nil
}

// traversalNames reads a list of bare identifiers such as `[NET, PCI]`.
func traversalNames(expr hcl.Expression) ([]string, error) {
	items, diags := hcl.ExprList(expr)
	if diags.HasErrors() {
		return nil, diags
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		tr, diags := hcl.AbsTraversalForExpr(item)
		if diags.HasErrors() {
			return nil, diags
		}
		if len(tr) != 1 {
			return nil, fmt.Errorf("%s: expected a bare symbol name", item.Range())
		}
		names = append(names, tr.RootName())
	}
	return names, nil
}

// rangeBounds decodes `range = [MIN, MAX]`. Bounds may be numbers or
// strings, the latter allowing hex notation like "0x1000".
func rangeBounds(expr hcl.Expression) (int64, int64, error) {
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return 0, 0, diags
	}
	if !val.Type().IsTupleType() && !val.Type().IsListType() || val.LengthInt() != 2 {
		return 0, 0, fmt.Errorf("%s: range must be a two-element list", expr.Range())
	}
	var bounds [2]int64
	for i, el := range val.AsValueSlice() {
		switch {
		case el.Type() == cty.Number:
			if err := gocty.FromCtyValue(el, &bounds[i]); err != nil {
				return 0, 0, fmt.Errorf("%s: %w", expr.Range(), err)
			}
		case el.Type() == cty.String:
			n, err := strconv.ParseInt(strings.TrimSpace(el.AsString()), 0, 64)
			if err != nil {
				return 0, 0, fmt.Errorf("%s: invalid range bound %q", expr.Range(), el.AsString())
			}
			bounds[i] = n
		default:
			return 0, 0, fmt.Errorf("%s: range bounds must be numbers", expr.Range())
		}
	}
	return bounds[0], bounds[1], nil
}

// joinUnitPath resolves a unit-relative path against the declaring file's
// directory. A leading "/" anchors the path at the tree root instead.
func joinUnitPath(dir, p string) string {
	if strings.HasPrefix(p, "/") {
		return path.Clean(strings.TrimPrefix(p, "/"))
	}
	return path.Clean(path.Join(dir, p))
}
