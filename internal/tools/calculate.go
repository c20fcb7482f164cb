package tools

import (
	"context"
	"fmt"
	"math"

	"github.com/Knetic/govaluate"
)

// Calculate evaluates params["expression"] with govaluate. Variables and
// functions are rejected; the result is a float64 or a bool.
func Calculate(ctx context.Context, action string, params map[string]any) (any, error) {
	expression := stringParam(params, "expression")
	expr, err := govaluate.NewEvaluableExpression(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expression, err)
	}
	if vars := expr.Vars(); len(vars) > 0 {
		return nil, fmt.Errorf("expression %q references unknown names %v", expression, vars)
	}

	out, err := expr.Evaluate(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate %q: %w", expression, err)
	}
	switch v := out.(type) {
	case float64:
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return nil, fmt.Errorf("expression %q has no finite value (division by zero?)", expression)
		}
		return v, nil
	case bool:
		return v, nil
	}
	return nil, fmt.Errorf("expression %q evaluated to %T, not a number", expression, out)
}
