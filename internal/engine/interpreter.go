package engine

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/lockstep-run/lockstep/internal/expressions"
	"github.com/lockstep-run/lockstep/internal/logging"
	"github.com/lockstep-run/lockstep/pkg/schema"
)

// Interpreter walks a step sequence in declared order, dispatching per
// step kind, and decides whether to continue, pause for external agent
// output, or finish. Execution is strictly sequential; the interpreter
// holds no state of its own between invocations — everything resumable
// lives in the ExecutionContext the caller threads through.
type Interpreter struct {
	exec   *ExecRunner
	agent  *AgentHandler
	logger *slog.Logger
}

// NewInterpreter wires an interpreter from its step runners.
func NewInterpreter(exec *ExecRunner, agent *AgentHandler, logger *slog.Logger) *Interpreter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interpreter{exec: exec, agent: agent, logger: logger}
}

// Run executes steps against the context. It returns a done outcome, a
// needs_agent outcome carrying pause requests, or an error for the
// terminal failures of spec taxonomy (structural, retry-exhausted,
// agent schema failure). A step whose prior result shows success is
// skipped entirely: side effects are never repeated across resumes.
func (it *Interpreter) Run(ctx context.Context, steps []schema.Step, ec *schema.ExecutionContext) (*schema.Outcome, error) {
	outcome, err := it.runSequence(ctx, steps, ec)
	if err != nil {
		return nil, err
	}
	if outcome != nil {
		return outcome, nil
	}
	return &schema.Outcome{
		Status:   schema.StatusDone,
		Results:  ec.Results,
		Attempts: ec.Attempts,
	}, nil
}

// runSequence walks one step sequence. A nil outcome with nil error
// means the sequence ran to completion; a non-nil outcome is a pause
// that must propagate immediately — no later sibling runs.
func (it *Interpreter) runSequence(ctx context.Context, steps []schema.Step, ec *schema.ExecutionContext) (*schema.Outcome, error) {
	for i := range steps {
		step := &steps[i]
		if step.ID == "" {
			return nil, schema.NewError(schema.ErrCodeStructural, "step is missing its id")
		}

		stepCtx := logging.WithStepID(ctx, step.ID)
		log := logging.LogWith(stepCtx, it.logger)

		if prior, done := ec.Results[step.ID]; done && prior.OK {
			log.DebugContext(stepCtx, "step already completed, skipping")
			continue
		}

		switch step.Kind {
		case schema.StepKindExec:
			result, err := it.exec.Run(stepCtx, step, ec)
			if result != nil {
				ec.Results[step.ID] = result
			}
			if err != nil {
				return nil, err
			}

		case schema.StepKindAgent:
			request, err := it.agent.Handle(stepCtx, step, ec)
			if err != nil {
				return nil, err
			}
			if request != nil {
				log.InfoContext(stepCtx, "pausing for agent output",
					slog.String("request_id", request.RequestID),
					slog.Int("attempt", request.Attempt))
				return &schema.Outcome{
					Status:   schema.StatusNeedsAgent,
					Requests: []*schema.AgentRequest{request},
					Results:  ec.Results,
					Attempts: ec.Attempts,
				}, nil
			}

		case schema.StepKindIf:
			branch, err := it.selectBranch(step, ec)
			if err != nil {
				return nil, err
			}
			outcome, err := it.runSequence(ctx, branch, ec)
			if err != nil {
				return nil, err
			}
			if outcome != nil {
				return outcome, nil // pause propagates past siblings
			}

		default:
			return nil, schema.NewErrorf(schema.ErrCodeStructural,
				"unknown step kind %q", step.Kind).WithStep(step.ID)
		}
	}
	return nil, nil
}

// selectBranch evaluates the if condition once and picks then or else
// (an absent else is an empty sequence).
func (it *Interpreter) selectBranch(step *schema.Step, ec *schema.ExecutionContext) ([]schema.Step, error) {
	scope, err := ConditionScope(ec)
	if err != nil {
		return nil, err
	}
	ok, err := expressions.EvaluateCondition(step.Condition, scope)
	if err != nil {
		if lerr, isLerr := err.(*schema.LockstepError); isLerr {
			return nil, lerr.WithStep(step.ID)
		}
		return nil, err
	}
	if ok {
		return step.Then, nil
	}
	return step.Else, nil
}

// ConditionScope builds the rooted document conditions and stream
// sub-paths resolve against: exactly the vars and results namespaces.
// Results are round-tripped through JSON so the path resolver sees
// plain maps rather than result structs.
func ConditionScope(ec *schema.ExecutionContext) (map[string]any, error) {
	normalized, err := toJSONValue(ec.Results)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "failed to normalize results for path resolution").WithCause(err)
	}
	return map[string]any{
		"vars":    ec.Vars,
		"results": normalized,
	}, nil
}

// toJSONValue round-trips a Go value through JSON encoding so path
// resolution and validation operate on generic JSON shapes.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
