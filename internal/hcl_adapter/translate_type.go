// This file contains the logic for parsing symbol type keywords (`bool`,
// `tristate`, `string`, `int`, `hex`).

package hcl_adapter

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/kbuildgo/internal/ctxlog"
	"github.com/vk/kbuildgo/internal/model"
	"github.com/zclconf/go-cty/cty"
)

// typeExprToSymbolType converts a type expression into a model.SymbolType.
// Both the bare keyword form (`type = tristate`) and the quoted form
// (`type = "tristate"`) are accepted.
func typeExprToSymbolType(ctx context.Context, expr hcl.Expression) (model.SymbolType, error) {
	logger := ctxlog.FromContext(ctx)

	var keyword string
	switch v := expr.(type) {
	case *hclsyntax.ScopeTraversalExpr:
		if len(v.Traversal) != 1 {
			return "", fmt.Errorf("invalid type keyword: traversal path is not a single identifier")
		}
		keyword = v.Traversal.RootName()
	case *hclsyntax.TemplateExpr:
		val, diags := v.Value(nil)
		if diags.HasErrors() || val.Type() != cty.String {
			return "", fmt.Errorf("type must be a keyword or a literal string")
		}
		keyword = val.AsString()
	default:
		return "", fmt.Errorf("unsupported expression for type definition: %T", v)
	}

	t := model.SymbolType(keyword)
	if !t.Valid() {
		return "", fmt.Errorf("unknown symbol type %q", keyword)
	}
	logger.Debug("Parsed symbol type.", "keyword", keyword)
	return t, nil
}
