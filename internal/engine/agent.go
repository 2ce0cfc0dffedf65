package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lockstep-run/lockstep/internal/expressions"
	"github.com/lockstep-run/lockstep/internal/logging"
	"github.com/lockstep-run/lockstep/internal/validation"
	"github.com/lockstep-run/lockstep/pkg/schema"
)

// retryContextLimit caps the validation messages carried on a pause
// request or a terminal schema failure.
const retryContextLimit = 30

// AgentHandler drives the convergence protocol for agent steps.
// Per step the states are Unstarted -> AwaitingOutput(attempt) ->
// {Converged | AwaitingOutput(attempt+1) | Failed}; the monotonic
// attempt counter in the ExecutionContext is the sole driver, and the
// requestId "<runId>:<stepId>:<attempt>" binds supplied output to one
// exact attempt so stale or replayed output is never accepted.
type AgentHandler struct {
	refs   *validation.RefResolver
	subset *validation.SubsetValidator
	logger *slog.Logger
}

// NewAgentHandler creates an AgentHandler.
func NewAgentHandler(refs *validation.RefResolver, subset *validation.SubsetValidator, logger *slog.Logger) *AgentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentHandler{refs: refs, subset: subset, logger: logger}
}

// Handle advances one agent step. A non-nil request means the run must
// pause and ask the caller for output. (nil, nil) means the step
// converged and the run continues. An error is terminal for the run.
func (h *AgentHandler) Handle(ctx context.Context, step *schema.Step, ec *schema.ExecutionContext) (*schema.AgentRequest, error) {
	if ec.RunID == "" {
		return nil, schema.NewError(schema.ErrCodeStructural,
			"a run id is required to execute agent steps").WithStep(step.ID)
	}

	maxAttempts := ClampAttempts(step.MaxAttempts, DefaultAgentAttempts)
	attempt := ec.Attempts[step.ID]
	if attempt == 0 {
		attempt = 1
		ec.Attempts[step.ID] = attempt
	}

	requestID := RequestID(ec.RunID, step.ID, attempt)
	log := logging.LogWith(ctx, h.logger)

	output, present := ec.AgentOutputs[requestID]
	if !present {
		return h.buildRequest(step, attempt, maxAttempts, requestID, ec, nil), nil
	}

	violations, err := h.subset.Validate(output, step.OutputSchema, retryContextLimit)
	if err != nil {
		if lerr, ok := err.(*schema.LockstepError); ok {
			return nil, lerr.WithStep(step.ID)
		}
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "agent output validation failed: %v", err).WithStep(step.ID)
	}

	if len(violations) == 0 {
		ec.Results[step.ID] = &schema.StepResult{
			Kind: schema.StepKindAgent,
			OK:   true,
			JSON: output,
		}
		log.InfoContext(ctx, "agent output accepted", slog.Int("attempt", attempt))
		return nil, nil
	}

	next := attempt + 1
	ec.Attempts[step.ID] = next
	if next > maxAttempts {
		log.WarnContext(ctx, "agent output rejected, attempts exhausted",
			slog.Int("attempt", attempt), slog.Int("max_attempts", maxAttempts))
		return nil, schema.NewErrorf(schema.ErrCodeAgentSchema,
			"agent output for step %q failed schema validation after %d attempt(s)", step.ID, maxAttempts).
			WithStep(step.ID).
			WithDetails(map[string]any{"errors": violations})
	}

	log.InfoContext(ctx, "agent output rejected, requesting retry",
		slog.Int("attempt", attempt), slog.Int("violations", len(violations)))
	retry := &schema.RetryContext{PreviousAttempt: attempt, Errors: violations}
	nextID := RequestID(ec.RunID, step.ID, next)
	return h.buildRequest(step, next, maxAttempts, nextID, ec, retry), nil
}

// buildRequest assembles a pause request: interpolated prompt and
// input, routing hints passed through untouched, and the caller-facing
// schema with every reachable $ref deep-expanded. Validation on resume
// uses the declared (non-expanded) schema; the expansion is advisory.
func (h *AgentHandler) buildRequest(step *schema.Step, attempt, maxAttempts int, requestID string, ec *schema.ExecutionContext, retry *schema.RetryContext) *schema.AgentRequest {
	input, _ := expressions.InterpolateDeep(step.Input, ec.Vars).(map[string]any)
	return &schema.AgentRequest{
		RequestID:       requestID,
		StepID:          step.ID,
		AssigneeAgentID: step.AssigneeAgentID,
		Session:         step.Session,
		Attempt:         attempt,
		MaxAttempts:     maxAttempts,
		Prompt:          expressions.Interpolate(step.Prompt, ec.Vars),
		Input:           input,
		Schema:          h.refs.DeepResolve(step.OutputSchema),
		RetryContext:    retry,
	}
}

// RequestID builds the stable identifier binding one pause request to
// exactly one attempt of one step of one run.
func RequestID(runID, stepID string, attempt int) string {
	return fmt.Sprintf("%s:%s:%d", runID, stepID, attempt)
}
