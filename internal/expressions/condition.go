package expressions

import (
	"reflect"

	"github.com/lockstep-run/lockstep/pkg/schema"
)

// EvaluateCondition evaluates an if-step predicate against the scoped
// document (vars and results namespaces under the root marker).
// Resolution failures flow into the operator semantics: exists is
// false, eq/ne compare against an absent value, gt/lt are false.
// An unknown operator is a structural error — the condition vocabulary
// is closed.
func EvaluateCondition(cond *schema.Condition, scope map[string]any) (bool, error) {
	if cond == nil {
		return false, schema.NewError(schema.ErrCodeStructural, "if step is missing its condition")
	}

	val, found := Resolve(scope, cond.Path)

	switch cond.Op {
	case schema.OpExists:
		return found && val != nil, nil
	case schema.OpEq:
		if !found {
			return cond.Value == nil, nil
		}
		return deepEqual(val, cond.Value), nil
	case schema.OpNe:
		if !found {
			return cond.Value != nil, nil
		}
		return !deepEqual(val, cond.Value), nil
	case schema.OpGt:
		left, lok := asNumber(val)
		right, rok := asNumber(cond.Value)
		return found && lok && rok && left > right, nil
	case schema.OpLt:
		left, lok := asNumber(val)
		right, rok := asNumber(cond.Value)
		return found && lok && rok && left < right, nil
	default:
		return false, schema.NewErrorf(schema.ErrCodeStructural,
			"unknown condition operator %q: must be one of exists, eq, ne, gt, lt", cond.Op)
	}
}

// deepEqual compares two JSON values structurally. Numeric values are
// normalized first so 2 and 2.0 compare equal regardless of how the
// caller's decoder typed them.
func deepEqual(a, b any) bool {
	if an, ok := asNumber(a); ok {
		bn, bok := asNumber(b)
		return bok && an == bn
	}
	return reflect.DeepEqual(a, b)
}

// asNumber extracts a float64 from the numeric types a JSON decode can
// produce. Anything else reports false.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
