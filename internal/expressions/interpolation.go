package expressions

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	openMarker  = "{{"
	closeMarker = "}}"
	varsPrefix  = "vars"
)

// Interpolate expands every {{expr}} placeholder in a string with the
// stringified resolved value. Only the vars namespace is addressable;
// an unresolved or out-of-namespace expression becomes the empty
// string. An unclosed marker is left verbatim.
func Interpolate(s string, vars map[string]any) string {
	if !strings.Contains(s, openMarker) {
		return s
	}

	scope := map[string]any{varsPrefix: vars}

	var result strings.Builder
	result.Grow(len(s))

	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], openMarker)
		if idx == -1 {
			result.WriteString(s[i:])
			break
		}
		result.WriteString(s[i : i+idx])
		start := i + idx + len(openMarker)

		end := strings.Index(s[start:], closeMarker)
		if end == -1 {
			// Unclosed marker: keep the rest verbatim.
			result.WriteString(s[i+idx:])
			break
		}
		end += start

		expr := strings.TrimSpace(s[start:end])
		if val, ok := resolveVarsExpr(expr, scope); ok {
			result.WriteString(stringify(val))
		}

		i = end + len(closeMarker)
	}

	return result.String()
}

// InterpolateDeep walks an arbitrary JSON value and interpolates every
// string in it. A string that is exactly one placeholder becomes the
// resolved value's native type (object, array, number, boolean, null);
// when that lone placeholder does not resolve, the original string is
// kept so the payload stays inspectable. Strings mixing placeholders
// with other text fall back to scalar interpolation. Maps and slices
// are rebuilt, never mutated in place.
func InterpolateDeep(v any, vars map[string]any) any {
	switch val := v.(type) {
	case string:
		if expr, ok := wholePlaceholder(val); ok {
			resolved, found := resolveVarsExpr(expr, map[string]any{varsPrefix: vars})
			if !found {
				return val
			}
			return resolved
		}
		return Interpolate(val, vars)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = InterpolateDeep(item, vars)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = InterpolateDeep(item, vars)
		}
		return out
	default:
		return v
	}
}

// wholePlaceholder reports whether s is exactly one {{expr}} token and
// returns the trimmed inner expression.
func wholePlaceholder(s string) (string, bool) {
	if !strings.HasPrefix(s, openMarker) || !strings.HasSuffix(s, closeMarker) {
		return "", false
	}
	inner := s[len(openMarker) : len(s)-len(closeMarker)]
	if strings.Contains(inner, openMarker) || strings.Contains(inner, closeMarker) {
		return "", false
	}
	return strings.TrimSpace(inner), true
}

// resolveVarsExpr resolves a vars.* expression through the path
// resolver. Expressions outside the vars namespace never resolve.
func resolveVarsExpr(expr string, scope map[string]any) (any, bool) {
	if expr != varsPrefix && !strings.HasPrefix(expr, varsPrefix+".") && !strings.HasPrefix(expr, varsPrefix+"[") {
		return nil, false
	}
	return Resolve(scope, RootMarker+"."+expr)
}

// stringify converts a resolved value into its inline string form.
// Strings embed without quotes; structures JSON-encode inline.
func stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
