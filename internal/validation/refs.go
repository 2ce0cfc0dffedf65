package validation

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/lockstep-run/lockstep/internal/workspace"
	"github.com/lockstep-run/lockstep/pkg/schema"
)

// maxSchemaDirs caps the candidate directory list a caller may supply.
const maxSchemaDirs = 10

// RefResolver maps bare $ref names to JSON schema documents under an
// allow-listed, workspace-contained set of directories.
type RefResolver struct {
	dirs []string // absolute, contained, deduped, searched in order
}

// NewRefResolver builds a resolver from workspace-relative candidate
// directories. Directories that are absolute or resolve outside the
// workspace root are silently dropped so the rest of the list stays
// usable. Duplicates are removed; at most 10 entries survive.
func NewRefResolver(root string, candidates []string) *RefResolver {
	seen := make(map[string]struct{}, len(candidates))
	dirs := make([]string, 0, len(candidates))
	for _, cand := range candidates {
		if len(dirs) >= maxSchemaDirs {
			break
		}
		abs, err := workspace.Contain(root, cand)
		if err != nil {
			continue
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		dirs = append(dirs, abs)
	}
	return &RefResolver{dirs: dirs}
}

// Resolve loads the schema document for a bare reference name. The
// name must not contain a path separator; this is rejected before any
// filesystem access. The ".json" extension is appended when absent.
func (r *RefResolver) Resolve(name string) (map[string]any, error) {
	if name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty schema reference")
	}
	if strings.ContainsAny(name, `/\`) {
		return nil, schema.NewErrorf(schema.ErrCodePathDenied,
			"schema reference %q must be a bare name without path separators", name)
	}

	file := name
	if !strings.HasSuffix(file, ".json") {
		file += ".json"
	}

	for _, dir := range r.dirs {
		data, err := os.ReadFile(filepath.Join(dir, file))
		if err != nil {
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"schema reference %q is not a JSON object: %v", name, err).WithCause(err)
		}
		return doc, nil
	}

	return nil, schema.NewErrorf(schema.ErrCodeNotFound,
		"schema reference %q not found in any schema path", name)
}

// DeepResolve recursively expands every $ref node reachable from the
// root schema into a self-contained document for caller-facing use.
// Unresolvable or circular references are left as unexpanded $ref
// markers rather than raising: the expansion is advisory.
func (r *RefResolver) DeepResolve(schemaDoc map[string]any) map[string]any {
	expanded, _ := r.deepResolveValue(schemaDoc, map[string]bool{}).(map[string]any)
	if expanded == nil {
		return schemaDoc
	}
	return expanded
}

func (r *RefResolver) deepResolveValue(v any, visiting map[string]bool) any {
	switch node := v.(type) {
	case map[string]any:
		if name, ok := node["$ref"].(string); ok {
			if visiting[name] {
				return copyMap(node) // circular: leave the marker
			}
			resolved, err := r.Resolve(name)
			if err != nil {
				return copyMap(node) // unresolvable: leave the marker
			}
			visiting[name] = true
			expanded := r.deepResolveValue(resolved, visiting)
			delete(visiting, name)
			return expanded
		}
		out := make(map[string]any, len(node))
		for k, item := range node {
			out[k] = r.deepResolveValue(item, visiting)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, item := range node {
			out[i] = r.deepResolveValue(item, visiting)
		}
		return out
	default:
		return v
	}
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
