package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lockstep-run/lockstep/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// workflowSchemaJSON is the JSON Schema for WorkflowDocument validation.
// Embedded as a constant to avoid filesystem dependencies.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://lockstep.run/schemas/workflow.json",
  "type": "object",
  "required": ["steps"],
  "properties": {
    "name": { "type": "string" },
    "version": { "type": "string" },
    "vars": { "type": "object" },
    "steps": {
      "type": "array",
      "items": { "$ref": "#/$defs/step" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["id", "kind"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "kind": { "type": "string", "enum": ["exec", "agent", "if"] },
        "cmd": { "type": "string", "minLength": 1 },
        "args": { "type": "array", "items": { "type": "string" } },
        "timeoutMs": { "type": "integer", "minimum": 1 },
        "retries": { "type": "integer" },
        "env": { "type": "object", "additionalProperties": { "type": "string" } },
        "io": { "$ref": "#/$defs/io" },
        "prompt": { "type": "string" },
        "input": { "type": "object" },
        "outputSchema": { "type": "object" },
        "maxAttempts": { "type": "integer" },
        "assigneeAgentId": { "type": "string" },
        "agentId": { "type": "string" },
        "session": { "$ref": "#/$defs/session" },
        "condition": { "$ref": "#/$defs/condition" },
        "then": { "type": "array", "items": { "$ref": "#/$defs/step" } },
        "else": { "type": "array", "items": { "$ref": "#/$defs/step" } }
      },
      "additionalProperties": false,
      "allOf": [
        {
          "if": { "properties": { "kind": { "const": "exec" } }, "required": ["kind"] },
          "then": { "required": ["cmd"] }
        },
        {
          "if": { "properties": { "kind": { "const": "agent" } }, "required": ["kind"] },
          "then": { "required": ["prompt", "outputSchema"] }
        },
        {
          "if": { "properties": { "kind": { "const": "if" } }, "required": ["kind"] },
          "then": { "required": ["condition", "then"] }
        }
      ]
    },
    "io": {
      "type": "object",
      "required": ["mode"],
      "properties": {
        "mode": { "type": "string", "enum": ["none", "file", "stream"] },
        "inputs": { "type": "array", "items": { "$ref": "#/$defs/file_contract" } },
        "outputs": { "type": "array", "items": { "$ref": "#/$defs/file_contract" } },
        "stdin": {
          "type": "object",
          "required": ["from"],
          "properties": {
            "from": { "type": "string" },
            "schema": { "type": "object" }
          },
          "additionalProperties": false
        },
        "stdout": {
          "type": "object",
          "properties": {
            "schema": { "type": "object" }
          },
          "additionalProperties": false
        }
      },
      "additionalProperties": false
    },
    "file_contract": {
      "type": "object",
      "required": ["path"],
      "properties": {
        "path": { "type": "string", "minLength": 1 },
        "schema": { "type": "object" }
      },
      "additionalProperties": false
    },
    "session": {
      "type": "object",
      "properties": {
        "mode": { "type": "string", "enum": ["ephemeral", "sticky"] },
        "label": { "type": "string" },
        "reset": { "type": "boolean" }
      },
      "additionalProperties": false
    },
    "condition": {
      "type": "object",
      "required": ["path", "op"],
      "properties": {
        "path": { "type": "string" },
        "op": { "type": "string", "enum": ["exists", "eq", "ne", "gt", "lt"] },
        "value": {}
      },
      "additionalProperties": false
    }
  }
}`

// DefinitionValidator validates incoming workflow documents against the
// embedded JSON Schema plus the structural rules JSON Schema cannot
// express. It is safe for concurrent use.
type DefinitionValidator struct {
	workflowSchema *jsonschema.Schema
}

// NewDefinitionValidator compiles the embedded workflow schema once.
func NewDefinitionValidator() (*DefinitionValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource("https://lockstep.run/schemas/workflow.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}

	wfSchema, err := c.Compile("https://lockstep.run/schemas/workflow.json")
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &DefinitionValidator{workflowSchema: wfSchema}, nil
}

// Validate parses and validates a raw workflow document. It returns the
// decoded document or a structural error describing the first problem a
// caller must fix.
func (v *DefinitionValidator) Validate(raw []byte) (*schema.WorkflowDocument, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStructural, "workflow document is not valid JSON").WithCause(err)
	}
	if err := v.workflowSchema.Validate(doc); err != nil {
		return nil, toLockstepError(err)
	}

	var wf schema.WorkflowDocument
	if err := json.Unmarshal(raw, &wf); err != nil {
		return nil, schema.NewError(schema.ErrCodeStructural, "failed to decode workflow document").WithCause(err)
	}

	// Structural checks the JSON Schema cannot express.
	if err := checkDeprecatedFields(doc); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	if err := checkStepIDs(wf.Steps, seen); err != nil {
		return nil, err
	}

	return &wf, nil
}

// checkStepIDs enforces flat id uniqueness across all branches: results
// live in one flat map, so nesting grants no separate scope.
func checkStepIDs(steps []schema.Step, seen map[string]struct{}) error {
	for i := range steps {
		step := &steps[i]
		if _, exists := seen[step.ID]; exists {
			return schema.NewErrorf(schema.ErrCodeStructural, "duplicate step id %q", step.ID)
		}
		seen[step.ID] = struct{}{}
		if step.Kind == schema.StepKindIf {
			if err := checkStepIDs(step.Then, seen); err != nil {
				return err
			}
			if err := checkStepIDs(step.Else, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkDeprecatedFields walks the raw document for fields that were
// renamed and now abort the run with a pointer at the replacement.
func checkDeprecatedFields(doc any) error {
	steps, ok := rawField(doc, "steps").([]any)
	if !ok {
		return nil
	}
	return checkDeprecatedSteps(steps)
}

func checkDeprecatedSteps(steps []any) error {
	for _, raw := range steps {
		step, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if _, has := step["agentId"]; has {
			id, _ := step["id"].(string)
			return schema.NewErrorf(schema.ErrCodeStructural,
				"field \"agentId\" is deprecated: use \"assigneeAgentId\"").WithStep(id)
		}
		for _, branch := range []string{"then", "else"} {
			if nested, ok := step[branch].([]any); ok {
				if err := checkDeprecatedSteps(nested); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func rawField(doc any, key string) any {
	m, ok := doc.(map[string]any)
	if !ok {
		return nil
	}
	return m[key]
}

// toLockstepError converts a jsonschema.ValidationError into a
// structural LockstepError with clear messages for agent consumption.
func toLockstepError(err error) *schema.LockstepError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeStructural, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeStructural, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeStructural, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("workflow document failed validation with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeStructural, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf
// error messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
