package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lockstep-run/lockstep/internal/engine"
	"github.com/lockstep-run/lockstep/internal/logging"
	"github.com/lockstep-run/lockstep/internal/validation"
	"github.com/lockstep-run/lockstep/pkg/schema"
	"github.com/mark3labs/mcp-go/mcp"
)

// handleRun executes or resumes a workflow. All outcomes — done,
// needs_agent, and the failure taxonomy — are returned as JSON text so
// callers can branch on the ok/status/error fields.
func (s *LockstepServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID, err := req.RequireString("agent_id")
	if err != nil {
		return failureResult("agent_id is required")
	}
	workflowRaw := mcp.ParseStringMap(req, "workflow", nil)
	if workflowRaw == nil {
		return failureResult("workflow is required")
	}

	runID := req.GetString("run_id", "")
	if runID == "" {
		runID = uuid.New().String()
	}

	ctx = logging.WithRunID(logging.WithAgentID(ctx, agentID), runID)
	log := logging.LogWith(ctx, s.logger)

	root, err := s.workspaces.Root(ctx, agentID)
	if err != nil {
		return failureResult(err.Error())
	}

	workflowBytes, err := json.Marshal(workflowRaw)
	if err != nil {
		return failureResult(fmt.Sprintf("invalid workflow: %v", err))
	}
	wf, err := s.definitions.Validate(workflowBytes)
	if err != nil {
		return failureResult(err.Error())
	}

	overrides := mcp.ParseStringMap(req, "vars", nil)
	priorResults, err := decodeResults(mcp.ParseStringMap(req, "results", nil))
	if err != nil {
		return failureResult(err.Error())
	}
	agentOutputs := mcp.ParseStringMap(req, "agentOutputs", nil)
	attempts := decodeAttempts(mcp.ParseStringMap(req, "attempts", nil))
	schemaPaths := decodeSchemaPaths(mcp.ParseStringMap(req, "ref", nil))

	ec := schema.NewExecutionContext(runID, wf.Vars, overrides, priorResults, agentOutputs, attempts)

	refs := validation.NewRefResolver(root, schemaPaths)
	subset := validation.NewSubsetValidator(refs)
	execRunner := engine.NewExecRunner(engine.ExecConfig{
		WorkspaceRoot:  root,
		Subset:         subset,
		DefaultTimeout: s.defaultTimeout,
		MaxOutputSize:  s.maxOutputSize,
		Logger:         s.logger,
	})
	agentHandler := engine.NewAgentHandler(refs, subset, s.logger)
	interp := engine.NewInterpreter(execRunner, agentHandler, s.logger)

	log.InfoContext(ctx, "running workflow",
		"workflow", wf.Name, "steps", len(wf.Steps))

	outcome, runErr := interp.Run(ctx, wf.Steps, ec)
	if runErr != nil {
		return runFailureResult(runErr)
	}

	response := map[string]any{
		"ok":       true,
		"status":   outcome.Status,
		"runId":    runID,
		"results":  outcome.Results,
		"attempts": outcome.Attempts,
	}
	if outcome.Status == schema.StatusNeedsAgent {
		response["requests"] = outcome.Requests
	}
	return marshalResult(response)
}

// runFailureResult maps a terminal interpreter error onto the wire
// taxonomy. Agent schema exhaustion has its own shape naming the step
// and the collected validation messages.
func runFailureResult(err error) (*mcp.CallToolResult, error) {
	var lerr *schema.LockstepError
	if errors.As(err, &lerr) && lerr.Code == schema.ErrCodeAgentSchema {
		payload := map[string]any{
			"ok":     false,
			"error":  "agent_output_schema_failed",
			"stepId": lerr.StepID,
		}
		if errs, ok := lerr.Details["errors"]; ok {
			payload["errors"] = errs
		}
		return marshalResult(payload)
	}
	return failureResult(err.Error())
}

func failureResult(msg string) (*mcp.CallToolResult, error) {
	return marshalResult(map[string]any{"ok": false, "error": msg})
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// decodeResults converts the caller's raw results map back into typed
// step results. A malformed record is a caller contract error: resume
// state must round-trip exactly as it was handed out.
func decodeResults(raw map[string]any) (map[string]*schema.StepResult, error) {
	if raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeCallerContract, "invalid results map").WithCause(err)
	}
	var results map[string]*schema.StepResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, schema.NewError(schema.ErrCodeCallerContract, "invalid results map").WithCause(err)
	}
	return results, nil
}

func decodeAttempts(raw map[string]any) map[string]int {
	if raw == nil {
		return nil
	}
	attempts := make(map[string]int, len(raw))
	for k, v := range raw {
		if n, ok := v.(float64); ok && n > 0 {
			attempts[k] = int(n)
		}
	}
	return attempts
}

func decodeSchemaPaths(ref map[string]any) []string {
	if ref == nil {
		return nil
	}
	rawPaths, ok := ref["schemaPaths"].([]any)
	if !ok {
		return nil
	}
	paths := make([]string, 0, len(rawPaths))
	for _, p := range rawPaths {
		if s, ok := p.(string); ok {
			paths = append(paths, s)
		}
	}
	return paths
}
