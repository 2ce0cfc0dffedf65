package validation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lockstep-run/lockstep/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSchema drops a schema file into a workspace-relative directory.
func writeSchema(t *testing.T, root, dir, name, content string) {
	t.Helper()
	full := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(full, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(full, name), []byte(content), 0o644))
}

func TestRefResolver_ResolveAppendsExtension(t *testing.T) {
	root := t.TempDir()
	writeSchema(t, root, "schemas", "user.json", `{"type":"object"}`)

	r := NewRefResolver(root, []string{"schemas"})

	doc, err := r.Resolve("user")
	require.NoError(t, err)
	assert.Equal(t, "object", doc["type"])

	doc, err = r.Resolve("user.json")
	require.NoError(t, err)
	assert.Equal(t, "object", doc["type"])
}

func TestRefResolver_SearchOrder(t *testing.T) {
	root := t.TempDir()
	writeSchema(t, root, "first", "shared.json", `{"type":"string"}`)
	writeSchema(t, root, "second", "shared.json", `{"type":"number"}`)

	r := NewRefResolver(root, []string{"first", "second"})

	doc, err := r.Resolve("shared")
	require.NoError(t, err)
	assert.Equal(t, "string", doc["type"])
}

func TestRefResolver_PathSeparatorRejectedBeforeFilesystem(t *testing.T) {
	// No directories at all: a separator must be rejected up front, not
	// reported as not-found after a lookup.
	r := NewRefResolver(t.TempDir(), nil)

	for _, name := range []string{"../escape", "a/b", `a\b`, "/etc/passwd"} {
		_, err := r.Resolve(name)
		require.Error(t, err, "name %q", name)
		lerr, ok := err.(*schema.LockstepError)
		require.True(t, ok)
		assert.Equal(t, schema.ErrCodePathDenied, lerr.Code, "name %q", name)
	}
}

func TestRefResolver_NotFound(t *testing.T) {
	r := NewRefResolver(t.TempDir(), []string{"schemas"})
	_, err := r.Resolve("ghost")
	require.Error(t, err)
	lerr, ok := err.(*schema.LockstepError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNotFound, lerr.Code)
}

func TestRefResolver_EscapingDirsSilentlyDropped(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ws")
	require.NoError(t, os.MkdirAll(root, 0o755))
	writeSchema(t, root, "good", "thing.json", `{"type":"boolean"}`)

	// Escaping and absolute candidates are dropped; the good one survives.
	r := NewRefResolver(root, []string{"../outside", "/abs/path", "good"})

	doc, err := r.Resolve("thing")
	require.NoError(t, err)
	assert.Equal(t, "boolean", doc["type"])
}

func TestRefResolver_DedupeAndCap(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 15; i++ {
		writeSchema(t, root, filepath.Join("d", string(rune('a'+i))), "x.json", `{}`)
	}

	candidates := make([]string, 0, 30)
	for i := 0; i < 15; i++ {
		dir := filepath.Join("d", string(rune('a'+i)))
		candidates = append(candidates, dir, dir) // duplicates
	}

	r := NewRefResolver(root, candidates)
	assert.Len(t, r.dirs, maxSchemaDirs)
}

func TestRefResolver_DeepResolve(t *testing.T) {
	root := t.TempDir()
	writeSchema(t, root, "schemas", "address.json",
		`{"type":"object","properties":{"city":{"type":"string"}}}`)
	writeSchema(t, root, "schemas", "user.json",
		`{"type":"object","properties":{"address":{"$ref":"address"}}}`)

	r := NewRefResolver(root, []string{"schemas"})

	expanded := r.DeepResolve(map[string]any{"$ref": "user"})
	props := expanded["properties"].(map[string]any)
	address := props["address"].(map[string]any)
	assert.Equal(t, "object", address["type"])
	assert.NotContains(t, address, "$ref")
}

func TestRefResolver_DeepResolveLeavesUnresolvable(t *testing.T) {
	r := NewRefResolver(t.TempDir(), nil)

	schemaDoc := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"thing": map[string]any{"$ref": "missing"},
		},
	}
	expanded := r.DeepResolve(schemaDoc)
	thing := expanded["properties"].(map[string]any)["thing"].(map[string]any)
	assert.Equal(t, "missing", thing["$ref"])
}

func TestRefResolver_DeepResolveCircularLeftAsMarker(t *testing.T) {
	root := t.TempDir()
	writeSchema(t, root, "schemas", "a.json",
		`{"type":"object","properties":{"b":{"$ref":"b"}}}`)
	writeSchema(t, root, "schemas", "b.json",
		`{"type":"object","properties":{"a":{"$ref":"a"}}}`)

	r := NewRefResolver(root, []string{"schemas"})

	expanded := r.DeepResolve(map[string]any{"$ref": "a"})
	b := expanded["properties"].(map[string]any)["b"].(map[string]any)
	a := b["properties"].(map[string]any)["a"].(map[string]any)
	assert.Equal(t, "a", a["$ref"]) // cycle cut with the marker intact
}
