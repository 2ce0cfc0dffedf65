package expressions

import (
	"strconv"
	"strings"
)

// RootMarker is the mandatory first segment of every path expression.
const RootMarker = "root"

// Resolve evaluates a restricted path expression against a rooted
// document. The grammar is root.<ident>[.<ident>|[<index>]]...; e.g.
// root.results.fetch.json.items[2].name. Any malformed token — a
// non-numeric index, an empty segment, a missing root marker — yields
// not-found rather than an error, as does indexing into a non-array or
// keying into a non-object.
func Resolve(root map[string]any, expr string) (any, bool) {
	segs := strings.Split(expr, ".")
	if len(segs) == 0 {
		return nil, false
	}

	name, indexes, ok := parseSegment(segs[0])
	if !ok || name != RootMarker {
		return nil, false
	}

	current, ok := applyIndexes(any(root), indexes)
	if !ok {
		return nil, false
	}

	for _, seg := range segs[1:] {
		name, indexes, ok := parseSegment(seg)
		if !ok {
			return nil, false
		}
		obj, isObj := current.(map[string]any)
		if !isObj {
			return nil, false
		}
		val, exists := obj[name]
		if !exists {
			return nil, false
		}
		current, ok = applyIndexes(val, indexes)
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// parseSegment splits one dot-delimited segment into its identifier and
// bracketed index suffixes. Returns ok=false for any malformed shape.
func parseSegment(seg string) (string, []int, bool) {
	open := strings.IndexByte(seg, '[')
	if open == -1 {
		if seg == "" || strings.ContainsAny(seg, "]") {
			return "", nil, false
		}
		return seg, nil, true
	}

	name := seg[:open]
	if name == "" {
		return "", nil, false
	}

	var indexes []int
	rest := seg[open:]
	for rest != "" {
		if rest[0] != '[' {
			return "", nil, false
		}
		close := strings.IndexByte(rest, ']')
		if close == -1 {
			return "", nil, false
		}
		idxStr := rest[1:close]
		idx, err := strconv.Atoi(idxStr)
		if err != nil || idx < 0 || strings.HasPrefix(idxStr, "+") {
			return "", nil, false
		}
		indexes = append(indexes, idx)
		rest = rest[close+1:]
	}

	return name, indexes, true
}

// applyIndexes walks bracketed indexes into nested arrays.
func applyIndexes(val any, indexes []int) (any, bool) {
	current := val
	for _, idx := range indexes {
		arr, isArr := current.([]any)
		if !isArr || idx >= len(arr) {
			return nil, false
		}
		current = arr[idx]
	}
	return current, true
}
