package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lockstep-run/lockstep/internal/validation"
	"github.com/lockstep-run/lockstep/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAgentHandler(t *testing.T, root string) *AgentHandler {
	t.Helper()
	refs := validation.NewRefResolver(root, []string{"schemas"})
	return NewAgentHandler(refs, validation.NewSubsetValidator(refs), nil)
}

func verdictSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           map[string]any{"verdict": map[string]any{"enum": []any{"pass", "fail"}}},
		"required":             []any{"verdict"},
		"additionalProperties": false,
	}
}

func agentStep() *schema.Step {
	return &schema.Step{
		ID:              "review",
		Kind:            schema.StepKindAgent,
		Prompt:          "Review {{vars.target}}",
		Input:           map[string]any{"target": "{{vars.target}}"},
		OutputSchema:    verdictSchema(),
		MaxAttempts:     3,
		AssigneeAgentID: "critic",
	}
}

func TestAgent_FirstCallPauses(t *testing.T) {
	h := testAgentHandler(t, t.TempDir())
	ec := testContext(map[string]any{"target": "build.log"})

	req, err := h.Handle(context.Background(), agentStep(), ec)
	require.NoError(t, err)
	require.NotNil(t, req)

	assert.Equal(t, "run-1:review:1", req.RequestID)
	assert.Equal(t, "review", req.StepID)
	assert.Equal(t, "critic", req.AssigneeAgentID)
	assert.Equal(t, 1, req.Attempt)
	assert.Equal(t, 3, req.MaxAttempts)
	assert.Equal(t, "Review build.log", req.Prompt)
	assert.Equal(t, map[string]any{"target": "build.log"}, req.Input)
	assert.Nil(t, req.RetryContext)
	assert.Equal(t, 1, ec.Attempts["review"])
}

func TestAgent_ValidOutputConverges(t *testing.T) {
	h := testAgentHandler(t, t.TempDir())
	ec := testContext(nil)
	ec.Attempts["review"] = 1
	ec.AgentOutputs["run-1:review:1"] = map[string]any{"verdict": "pass"}

	req, err := h.Handle(context.Background(), agentStep(), ec)
	require.NoError(t, err)
	assert.Nil(t, req)

	result := ec.Results["review"]
	require.NotNil(t, result)
	assert.True(t, result.OK)
	assert.Equal(t, schema.StepKindAgent, result.Kind)
	assert.Equal(t, map[string]any{"verdict": "pass"}, result.JSON)
}

func TestAgent_InvalidOutputRequestsRetry(t *testing.T) {
	h := testAgentHandler(t, t.TempDir())
	ec := testContext(nil)
	ec.Attempts["review"] = 1
	ec.AgentOutputs["run-1:review:1"] = map[string]any{"verdict": "maybe", "note": "?"}

	req, err := h.Handle(context.Background(), agentStep(), ec)
	require.NoError(t, err)
	require.NotNil(t, req)

	assert.Equal(t, "run-1:review:2", req.RequestID)
	assert.Equal(t, 2, req.Attempt)
	assert.Equal(t, 2, ec.Attempts["review"])
	require.NotNil(t, req.RetryContext)
	assert.Equal(t, 1, req.RetryContext.PreviousAttempt)
	assert.Len(t, req.RetryContext.Errors, 2) // bad enum value, extra property
	assert.Nil(t, ec.Results["review"])
}

func TestAgent_ExhaustionIsTerminal(t *testing.T) {
	h := testAgentHandler(t, t.TempDir())
	step := agentStep()
	ec := testContext(nil)
	ec.Attempts["review"] = 3
	ec.AgentOutputs["run-1:review:3"] = map[string]any{"verdict": "nope"}

	_, err := h.Handle(context.Background(), step, ec)
	require.Error(t, err)
	lerr, ok := err.(*schema.LockstepError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeAgentSchema, lerr.Code)
	assert.Equal(t, "review", lerr.StepID)
	assert.NotEmpty(t, lerr.Details["errors"])
}

func TestAgent_StaleRequestIDIgnored(t *testing.T) {
	h := testAgentHandler(t, t.TempDir())
	ec := testContext(nil)
	ec.Attempts["review"] = 2
	// Output keyed to the already-consumed first attempt must not count.
	ec.AgentOutputs["run-1:review:1"] = map[string]any{"verdict": "pass"}

	req, err := h.Handle(context.Background(), agentStep(), ec)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, "run-1:review:2", req.RequestID)
	assert.Nil(t, ec.Results["review"])
}

func TestAgent_RequestSchemaDeepResolved(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "schemas"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "schemas", "verdict.json"),
		[]byte(`{"type":"object","required":["verdict"]}`), 0o644))

	h := testAgentHandler(t, root)
	step := agentStep()
	step.OutputSchema = map[string]any{"$ref": "verdict"}

	req, err := h.Handle(context.Background(), step, testContext(nil))
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, "object", req.Schema["type"])
	assert.NotContains(t, req.Schema, "$ref")
}

func TestAgent_MissingRunIDIsStructural(t *testing.T) {
	h := testAgentHandler(t, t.TempDir())
	ec := schema.NewExecutionContext("", nil, nil, nil, nil, nil)

	_, err := h.Handle(context.Background(), agentStep(), ec)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeStructural, lockstepCode(t, err))
}

func TestRequestID(t *testing.T) {
	assert.Equal(t, "run-9:v:2", RequestID("run-9", "v", 2))
}
