package validation

import (
	"fmt"
	"math"
	"reflect"
)

// SubsetValidator validates JSON values against the supported JSON
// Schema subset: type (single or list), enum, object properties /
// required / additionalProperties:false, array items / minItems /
// maxItems, and $ref. Validation is structural and collects every
// violation found rather than failing fast. Unknown or malformed
// schema fragments impose no constraint: workflows are never blocked
// on schema features outside the subset.
type SubsetValidator struct {
	refs *RefResolver
}

// NewSubsetValidator creates a validator. refs may be nil when the
// caller supplied no schema paths; any $ref encountered then fails hard.
func NewSubsetValidator(refs *RefResolver) *SubsetValidator {
	return &SubsetValidator{refs: refs}
}

// Validate checks value against schemaDoc and returns human-readable
// violations, capped at limit (0 means uncapped). A $ref that cannot be
// resolved is a hard error: validation call sites require the
// reference to exist.
func (v *SubsetValidator) Validate(value any, schemaDoc map[string]any, limit int) ([]string, error) {
	run := &subsetRun{validator: v, limit: limit}
	if err := run.walk("$", value, schemaDoc, map[string]bool{}); err != nil {
		return nil, err
	}
	return run.violations, nil
}

type subsetRun struct {
	validator  *SubsetValidator
	limit      int
	violations []string
}

func (r *subsetRun) report(format string, args ...any) {
	if r.limit > 0 && len(r.violations) >= r.limit {
		return
	}
	r.violations = append(r.violations, fmt.Sprintf(format, args...))
}

func (r *subsetRun) full() bool {
	return r.limit > 0 && len(r.violations) >= r.limit
}

func (r *subsetRun) walk(path string, value any, schemaDoc map[string]any, visiting map[string]bool) error {
	if len(schemaDoc) == 0 || r.full() {
		return nil
	}

	if name, ok := schemaDoc["$ref"].(string); ok {
		return r.walkRef(path, value, name, visiting)
	}

	if typ, ok := schemaDoc["type"]; ok {
		r.checkType(path, value, typ)
	}
	if enum, ok := schemaDoc["enum"].([]any); ok {
		r.checkEnum(path, value, enum)
	}

	if obj, isObj := value.(map[string]any); isObj {
		if err := r.walkObject(path, obj, schemaDoc, visiting); err != nil {
			return err
		}
	}
	if arr, isArr := value.([]any); isArr {
		if err := r.walkArray(path, arr, schemaDoc, visiting); err != nil {
			return err
		}
	}

	return nil
}

func (r *subsetRun) walkRef(path string, value any, name string, visiting map[string]bool) error {
	if visiting[name] {
		r.report("%s: circular schema reference %q", path, name)
		return nil
	}
	if r.validator.refs == nil {
		return fmt.Errorf("schema reference %q used but no schema paths configured", name)
	}
	resolved, err := r.validator.refs.Resolve(name)
	if err != nil {
		return err
	}
	visiting[name] = true
	err = r.walk(path, value, resolved, visiting)
	delete(visiting, name)
	return err
}

func (r *subsetRun) checkType(path string, value any, declared any) {
	var allowed []string
	switch t := declared.(type) {
	case string:
		allowed = []string{t}
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				allowed = append(allowed, s)
			}
		}
	default:
		return // malformed type fragment: permissive
	}
	if len(allowed) == 0 {
		return
	}

	actual := typeName(value)
	for _, want := range allowed {
		if typeMatches(value, want) {
			return
		}
	}
	r.report("%s: expected type %s, got %s", path, joinTypes(allowed), actual)
}

func (r *subsetRun) checkEnum(path string, value any, enum []any) {
	for _, candidate := range enum {
		if jsonEqual(value, candidate) {
			return
		}
	}
	r.report("%s: value is not one of the allowed enum values", path)
}

func (r *subsetRun) walkObject(path string, obj map[string]any, schemaDoc map[string]any, visiting map[string]bool) error {
	props, _ := schemaDoc["properties"].(map[string]any)

	if required, ok := schemaDoc["required"].([]any); ok {
		for _, item := range required {
			name, ok := item.(string)
			if !ok {
				continue
			}
			if _, present := obj[name]; !present {
				r.report("%s: missing required property %q", path, name)
			}
		}
	}

	if ap, ok := schemaDoc["additionalProperties"].(bool); ok && !ap {
		for key := range obj {
			if _, declared := props[key]; !declared {
				r.report("%s: additional property %q is not allowed", path, key)
			}
		}
	}

	for name, propSchema := range props {
		child, present := obj[name]
		if !present {
			continue
		}
		sub, ok := propSchema.(map[string]any)
		if !ok {
			continue // malformed property schema: permissive
		}
		if err := r.walk(path+"."+name, child, sub, visiting); err != nil {
			return err
		}
	}

	return nil
}

func (r *subsetRun) walkArray(path string, arr []any, schemaDoc map[string]any, visiting map[string]bool) error {
	if minItems, ok := schemaNumber(schemaDoc["minItems"]); ok && float64(len(arr)) < minItems {
		r.report("%s: array has %d items, minimum is %d", path, len(arr), int(minItems))
	}
	if maxItems, ok := schemaNumber(schemaDoc["maxItems"]); ok && float64(len(arr)) > maxItems {
		r.report("%s: array has %d items, maximum is %d", path, len(arr), int(maxItems))
	}

	items, ok := schemaDoc["items"].(map[string]any)
	if !ok {
		return nil
	}
	for i, item := range arr {
		if err := r.walk(fmt.Sprintf("%s[%d]", path, i), item, items, visiting); err != nil {
			return err
		}
	}
	return nil
}

// --- value helpers ---

func typeName(v any) string {
	switch n := v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case float64:
		if n == math.Trunc(n) {
			return "integer"
		}
		return "number"
	case int, int64:
		return "integer"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func typeMatches(v any, want string) bool {
	actual := typeName(v)
	if want == actual {
		return true
	}
	// integers are numbers.
	return want == "number" && actual == "integer"
}

func joinTypes(types []string) string {
	if len(types) == 1 {
		return types[0]
	}
	out := ""
	for i, t := range types {
		if i > 0 {
			out += " or "
		}
		out += t
	}
	return out
}

func schemaNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// jsonEqual compares two JSON values with numeric normalization so
// enum membership does not depend on how the decoder typed a number.
func jsonEqual(a, b any) bool {
	if an, ok := schemaNumber(a); ok {
		bn, bok := schemaNumber(b)
		return bok && an == bn
	}
	return reflect.DeepEqual(a, b)
}
