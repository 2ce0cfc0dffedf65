package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pathScope() map[string]any {
	return map[string]any{
		"vars": map[string]any{
			"name":  "alpha",
			"count": float64(3),
			"items": []any{"a", "b", map[string]any{"deep": true}},
			"null":  nil,
		},
		"results": map[string]any{
			"fetch": map[string]any{
				"json": map[string]any{
					"rows": []any{
						map[string]any{"id": float64(1)},
						map[string]any{"id": float64(2)},
					},
				},
			},
		},
	}
}

func TestResolve_SimpleKeys(t *testing.T) {
	val, ok := Resolve(pathScope(), "root.vars.name")
	require.True(t, ok)
	assert.Equal(t, "alpha", val)
}

func TestResolve_IndexedPath(t *testing.T) {
	val, ok := Resolve(pathScope(), "root.results.fetch.json.rows[1].id")
	require.True(t, ok)
	assert.Equal(t, float64(2), val)
}

func TestResolve_NestedIndexIntoObject(t *testing.T) {
	val, ok := Resolve(pathScope(), "root.vars.items[2].deep")
	require.True(t, ok)
	assert.Equal(t, true, val)
}

func TestResolve_NullValueIsFound(t *testing.T) {
	val, ok := Resolve(pathScope(), "root.vars.null")
	require.True(t, ok)
	assert.Nil(t, val)
}

func TestResolve_MissingRootMarker(t *testing.T) {
	_, ok := Resolve(pathScope(), "vars.name")
	assert.False(t, ok)
}

func TestResolve_MissingKey(t *testing.T) {
	_, ok := Resolve(pathScope(), "root.vars.unknown")
	assert.False(t, ok)
}

func TestResolve_MalformedTokensYieldNotFound(t *testing.T) {
	for _, expr := range []string{
		"",
		"root.",
		"root..name",
		"root.vars.items[x]",
		"root.vars.items[-1]",
		"root.vars.items[+1]",
		"root.vars.items[",
		"root.vars.items]0[",
		"root.vars.items[0",
		".root.vars.name",
	} {
		_, ok := Resolve(pathScope(), expr)
		assert.False(t, ok, "expr %q should not resolve", expr)
	}
}

func TestResolve_IndexIntoNonArray(t *testing.T) {
	_, ok := Resolve(pathScope(), "root.vars.name[0]")
	assert.False(t, ok)
}

func TestResolve_KeyIntoNonObject(t *testing.T) {
	_, ok := Resolve(pathScope(), "root.vars.name.sub")
	assert.False(t, ok)
}

func TestResolve_IndexOutOfRange(t *testing.T) {
	_, ok := Resolve(pathScope(), "root.vars.items[9]")
	assert.False(t, ok)
}

func TestResolve_RootAlone(t *testing.T) {
	val, ok := Resolve(pathScope(), "root")
	require.True(t, ok)
	assert.Contains(t, val.(map[string]any), "vars")
}
