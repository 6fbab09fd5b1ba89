package graph

import (
	"strings"

	"github.com/corewald/flowgraph/graph/expr"
)

// resolveVariables evaluates a NodeConfig's `variables`/`args`/`output` map
// against state: values wrapped in `{ }` are value expressions (spec.md
// §4.3), anything else is a literal string constant.
func resolveVariables(vars map[string]string, st State) (map[string]any, *Error) {
	out := make(map[string]any, len(vars))
	for key, raw := range vars {
		v, err := resolveValue(raw, st)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

// resolveValue evaluates a single value-expression-or-literal string.
func resolveValue(raw string, st State) (any, *Error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		v, err := expr.EvalValue(trimmed, st)
		if err != nil {
			return nil, WrapError(ErrExpressionError, "", err)
		}
		return v, nil
	}
	return raw, nil
}
