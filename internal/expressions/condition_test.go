package expressions

import (
	"testing"

	"github.com/lockstep-run/lockstep/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func condScope() map[string]any {
	return map[string]any{
		"vars": map[string]any{
			"env":   "prod",
			"count": float64(5),
			"null":  nil,
			"tags":  []any{"a", "b"},
		},
		"results": map[string]any{
			"build": map[string]any{"ok": true},
		},
	}
}

func evalCond(t *testing.T, path, op string, value any) bool {
	t.Helper()
	ok, err := EvaluateCondition(&schema.Condition{Path: path, Op: op, Value: value}, condScope())
	require.NoError(t, err)
	return ok
}

func TestCondition_Exists(t *testing.T) {
	assert.True(t, evalCond(t, "root.results.build.ok", schema.OpExists, nil))
	assert.False(t, evalCond(t, "root.results.deploy.ok", schema.OpExists, nil))
	// Defined but null is not "exists".
	assert.False(t, evalCond(t, "root.vars.null", schema.OpExists, nil))
}

func TestCondition_Eq(t *testing.T) {
	assert.True(t, evalCond(t, "root.vars.env", schema.OpEq, "prod"))
	assert.False(t, evalCond(t, "root.vars.env", schema.OpEq, "dev"))
	// Deep structural equality over arrays.
	assert.True(t, evalCond(t, "root.vars.tags", schema.OpEq, []any{"a", "b"}))
	// Numeric equality is normalized across int/float64.
	assert.True(t, evalCond(t, "root.vars.count", schema.OpEq, 5))
}

func TestCondition_Ne(t *testing.T) {
	assert.True(t, evalCond(t, "root.vars.env", schema.OpNe, "dev"))
	assert.False(t, evalCond(t, "root.vars.env", schema.OpNe, "prod"))
}

func TestCondition_GtLt(t *testing.T) {
	assert.True(t, evalCond(t, "root.vars.count", schema.OpGt, float64(4)))
	assert.False(t, evalCond(t, "root.vars.count", schema.OpGt, float64(5)))
	assert.True(t, evalCond(t, "root.vars.count", schema.OpLt, float64(6)))
	// Non-numeric resolved value: false, not an error.
	assert.False(t, evalCond(t, "root.vars.env", schema.OpGt, float64(0)))
	// Unresolved path: false.
	assert.False(t, evalCond(t, "root.vars.missing", schema.OpLt, float64(1)))
}

func TestCondition_UnknownOperator(t *testing.T) {
	_, err := EvaluateCondition(&schema.Condition{Path: "root.vars.env", Op: "matches"}, condScope())
	require.Error(t, err)
	lerr, ok := err.(*schema.LockstepError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeStructural, lerr.Code)
}

func TestCondition_Missing(t *testing.T) {
	_, err := EvaluateCondition(nil, condScope())
	require.Error(t, err)
}
