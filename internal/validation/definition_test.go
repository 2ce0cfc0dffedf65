package validation

import (
	"testing"

	"github.com/lockstep-run/lockstep/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDefValidator(t *testing.T) *DefinitionValidator {
	t.Helper()
	v, err := NewDefinitionValidator()
	require.NoError(t, err)
	return v
}

func TestDefinition_ValidWorkflow(t *testing.T) {
	doc := `{
		"name": "release",
		"vars": {"env": "prod"},
		"steps": [
			{"id": "build", "kind": "exec", "cmd": "make", "args": ["build"], "retries": 2},
			{"id": "review", "kind": "agent", "prompt": "Review the build", "outputSchema": {"type": "object"}},
			{"id": "gate", "kind": "if",
				"condition": {"path": "root.vars.env", "op": "eq", "value": "prod"},
				"then": [{"id": "deploy", "kind": "exec", "cmd": "make", "args": ["deploy"]}],
				"else": [{"id": "skip-note", "kind": "exec", "cmd": "true"}]}
		]
	}`

	wf, err := newDefValidator(t).Validate([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "release", wf.Name)
	require.Len(t, wf.Steps, 3)
	assert.Equal(t, schema.StepKindIf, wf.Steps[2].Kind)
	assert.Len(t, wf.Steps[2].Then, 1)
}

func TestDefinition_NotJSON(t *testing.T) {
	_, err := newDefValidator(t).Validate([]byte(`{nope`))
	require.Error(t, err)
}

func TestDefinition_MissingSteps(t *testing.T) {
	_, err := newDefValidator(t).Validate([]byte(`{"name":"x"}`))
	require.Error(t, err)
}

func TestDefinition_UnknownStepKind(t *testing.T) {
	doc := `{"steps":[{"id":"a","kind":"teleport"}]}`
	_, err := newDefValidator(t).Validate([]byte(doc))
	require.Error(t, err)
	lerr, ok := err.(*schema.LockstepError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeStructural, lerr.Code)
}

func TestDefinition_ExecRequiresCmd(t *testing.T) {
	doc := `{"steps":[{"id":"a","kind":"exec"}]}`
	_, err := newDefValidator(t).Validate([]byte(doc))
	require.Error(t, err)
}

func TestDefinition_AgentRequiresPromptAndSchema(t *testing.T) {
	doc := `{"steps":[{"id":"a","kind":"agent","prompt":"do it"}]}`
	_, err := newDefValidator(t).Validate([]byte(doc))
	require.Error(t, err)
}

func TestDefinition_DuplicateIDsAcrossBranches(t *testing.T) {
	// Ids are flat across branches: results live in one flat map.
	doc := `{"steps":[
		{"id":"a","kind":"exec","cmd":"true"},
		{"id":"gate","kind":"if",
			"condition":{"path":"root.vars.x","op":"exists"},
			"then":[{"id":"a","kind":"exec","cmd":"true"}]}
	]}`
	_, err := newDefValidator(t).Validate([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step id")
}

func TestDefinition_DeprecatedAgentIDField(t *testing.T) {
	doc := `{"steps":[{"id":"v","kind":"agent","prompt":"p","outputSchema":{},"agentId":"x"}]}`
	_, err := newDefValidator(t).Validate([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deprecated")
	assert.Contains(t, err.Error(), "assigneeAgentId")
}

func TestDefinition_UnknownTopLevelField(t *testing.T) {
	_, err := newDefValidator(t).Validate([]byte(`{"steps":[],"surprise":1}`))
	require.Error(t, err)
}
