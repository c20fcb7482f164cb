package executor

import (
	"fmt"
	"maps"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"
)

// refPattern matches $step, $step.field and $step.field[0] references.
var (
	refPattern      = regexp.MustCompile(`\$([a-zA-Z_][a-zA-Z0-9_]*)((?:\.[a-zA-Z0-9_]+|\[[0-9]+\])*)`)
	accessorPattern = regexp.MustCompile(`(\.[a-zA-Z0-9_]+|\[[0-9]+\])`)
)

// Evaluator evaluates step guards with govaluate. Only the functions it was
// built with are callable from expressions.
type Evaluator struct {
	functions map[string]govaluate.ExpressionFunction
}

// NewEvaluator returns an evaluator with the built-in functions plus extra.
// Entries in extra override built-ins of the same name.
func NewEvaluator(extra map[string]govaluate.ExpressionFunction) *Evaluator {
	fns := builtinFunctions()
	maps.Copy(fns, extra)
	return &Evaluator{functions: fns}
}

// ValidateExpression checks that expr parses with the built-in functions.
func ValidateExpression(expr string) error {
	return NewEvaluator(nil).Validate(expr)
}

// Validate checks that expr parses. $ references are accepted.
func (ev *Evaluator) Validate(expr string) error {
	rewritten, _ := rewriteRefs(expr, nil)
	_, err := govaluate.NewEvaluableExpressionWithFunctions(rewritten, ev.functions)
	return err
}

// Evaluate runs expr against scope. $id references resolve against results
// first and then against scope; unresolved references evaluate to nil.
func (ev *Evaluator) Evaluate(expr string, scope map[string]any, results map[string]any) (any, error) {
	params := make(map[string]any, len(scope))
	for k, v := range scope {
		params[k] = normalizeNumber(v)
	}

	lookup := func(id string) (any, bool) {
		if v, ok := results[id]; ok {
			return v, true
		}
		v, ok := scope[id]
		return v, ok
	}
	rewritten, refs := rewriteRefs(expr, lookup)
	for name, v := range refs {
		params[name] = normalizeNumber(v)
	}

	compiled, err := govaluate.NewEvaluableExpressionWithFunctions(rewritten, ev.functions)
	if err != nil {
		return nil, fmt.Errorf("failed to parse expression %q: %w", expr, err)
	}
	out, err := compiled.Evaluate(params)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", expr, err)
	}
	return out, nil
}

// EvaluateCondition is Evaluate for guards: the result must be a boolean.
func (ev *Evaluator) EvaluateCondition(expr string, scope map[string]any, results map[string]any) (bool, error) {
	out, err := ev.Evaluate(expr, scope, results)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q evaluated to %T, not a boolean", expr, out)
	}
	return b, nil
}

// rewriteRefs replaces $id.field[0] with the identifier id_field_0 and
// returns the resolved values by identifier. A nil lookup only rewrites.
func rewriteRefs(expr string, lookup func(string) (any, bool)) (string, map[string]any) {
	values := map[string]any{}
	rewritten := refPattern.ReplaceAllStringFunc(expr, func(matched string) string {
		m := refPattern.FindStringSubmatch(matched)
		id, accessors := m[1], accessorPattern.FindAllString(m[2], -1)

		name := id
		for _, acc := range accessors {
			if strings.HasPrefix(acc, ".") {
				name += "_" + acc[1:]
			} else {
				name += "_" + acc[1:len(acc)-1]
			}
		}
		if lookup == nil {
			return name
		}

		val, ok := lookup(id)
		for _, acc := range accessors {
			if !ok {
				break
			}
			val, ok = access(val, acc)
		}
		if !ok {
			val = nil
		}
		values[name] = val
		return name
	})
	return rewritten, values
}

func access(val any, accessor string) (any, bool) {
	if field, isField := strings.CutPrefix(accessor, "."); isField {
		m, ok := val.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[field]
		return v, ok
	}

	idx, err := strconv.Atoi(accessor[1 : len(accessor)-1])
	if err != nil {
		return nil, false
	}
	rv := reflect.ValueOf(val)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if idx < 0 || idx >= rv.Len() {
		return nil, false
	}
	return rv.Index(idx).Interface(), true
}

// list hides a []any from govaluate, which would otherwise spread it into
// separate function arguments.
type list []any

// normalizeNumber widens Go numeric types to float64, the only numeric type
// govaluate compares, and wraps lists.
func normalizeNumber(v any) any {
	switch n := v.(type) {
	case []any:
		return list(n)
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	}
	return v
}

func builtinFunctions() map[string]govaluate.ExpressionFunction {
	return map[string]govaluate.ExpressionFunction{
		"len": func(args ...any) (any, error) {
			// govaluate calls with no arguments when the argument is nil.
			if len(args) == 0 {
				return float64(0), nil
			}
			if len(args) != 1 {
				return nil, fmt.Errorf("len expects 1 argument, got %d", len(args))
			}
			if args[0] == nil {
				return float64(0), nil
			}
			rv := reflect.ValueOf(args[0])
			switch rv.Kind() {
			case reflect.String, reflect.Slice, reflect.Array, reflect.Map:
				return float64(rv.Len()), nil
			}
			return nil, fmt.Errorf("len: unsupported type %T", args[0])
		},
		"contains": func(args ...any) (any, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("contains expects 2 arguments, got %d", len(args))
			}
			if items, ok := args[0].(list); ok {
				for _, item := range items {
					if reflect.DeepEqual(normalizeNumber(item), args[1]) {
						return true, nil
					}
				}
				return false, nil
			}
			return strings.Contains(fmt.Sprint(args[0]), fmt.Sprint(args[1])), nil
		},
		"lower": func(args ...any) (any, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("lower expects 1 argument, got %d", len(args))
			}
			return strings.ToLower(fmt.Sprint(args[0])), nil
		},
		"upper": func(args ...any) (any, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("upper expects 1 argument, got %d", len(args))
			}
			return strings.ToUpper(fmt.Sprint(args[0])), nil
		},
		"empty": func(args ...any) (any, error) {
			if len(args) == 0 {
				return true, nil
			}
			if len(args) != 1 {
				return nil, fmt.Errorf("empty expects 1 argument, got %d", len(args))
			}
			if args[0] == nil {
				return true, nil
			}
			rv := reflect.ValueOf(args[0])
			switch rv.Kind() {
			case reflect.String, reflect.Slice, reflect.Array, reflect.Map:
				return rv.Len() == 0, nil
			}
			return false, nil
		},
	}
}
