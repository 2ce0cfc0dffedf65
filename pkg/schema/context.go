package schema

// ExecutionContext is the resumable unit of state for one run. The
// caller owns persistence: the context is rebuilt from the invocation
// on every call and handed back at every pause or completion point.
type ExecutionContext struct {
	RunID        string                 `json:"runId"`
	Vars         map[string]any         `json:"vars"`
	Results      map[string]*StepResult `json:"results"`
	AgentOutputs map[string]any         `json:"agentOutputs"`
	Attempts     map[string]int         `json:"attempts"`
}

// NewExecutionContext builds a context from workflow-declared vars,
// caller overrides, and prior state. Overrides win over declared vars;
// nil maps are normalized so steps can mutate freely.
func NewExecutionContext(runID string, declared, overrides map[string]any, results map[string]*StepResult, agentOutputs map[string]any, attempts map[string]int) *ExecutionContext {
	vars := make(map[string]any, len(declared)+len(overrides))
	for k, v := range declared {
		vars[k] = v
	}
	for k, v := range overrides {
		vars[k] = v
	}
	if results == nil {
		results = make(map[string]*StepResult)
	}
	if agentOutputs == nil {
		agentOutputs = make(map[string]any)
	}
	if attempts == nil {
		attempts = make(map[string]int)
	}
	return &ExecutionContext{
		RunID:        runID,
		Vars:         vars,
		Results:      results,
		AgentOutputs: agentOutputs,
		Attempts:     attempts,
	}
}

// StepResult records the outcome of one step. Exec steps keep the last
// attempt only; the failing attempt number survives on Attempt.
type StepResult struct {
	Kind    StepKind `json:"kind"`
	OK      bool     `json:"ok"`
	Stdout  string   `json:"stdout,omitempty"` // absent in stream mode
	Stderr  string   `json:"stderr,omitempty"`
	IOMode  IOMode   `json:"ioMode,omitempty"`
	JSON    any      `json:"json,omitempty"` // agent: validated output; exec stream: parsed stdout
	Error   string   `json:"error,omitempty"`
	Attempt int      `json:"attempt,omitempty"`
}

// OutcomeStatus enumerates terminal interpreter states.
type OutcomeStatus string

const (
	StatusDone       OutcomeStatus = "done"
	StatusNeedsAgent OutcomeStatus = "needs_agent"
)

// Outcome is the result of one interpreter invocation: either the run
// finished, or it paused awaiting externally-produced agent output.
type Outcome struct {
	Status   OutcomeStatus          `json:"status"`
	Requests []*AgentRequest        `json:"requests,omitempty"`
	Results  map[string]*StepResult `json:"results"`
	Attempts map[string]int         `json:"attempts"`
}

// AgentRequest asks the caller to produce JSON for one attempt of one
// agent step. RequestID is "<runId>:<stepId>:<attempt>" and must be
// echoed back as the agentOutputs key on the next call.
type AgentRequest struct {
	RequestID       string         `json:"requestId"`
	StepID          string         `json:"stepId"`
	AssigneeAgentID string         `json:"assigneeAgentId,omitempty"`
	Session         *SessionPolicy `json:"session,omitempty"`
	Attempt         int            `json:"attempt"`
	MaxAttempts     int            `json:"maxAttempts"`
	Prompt          string         `json:"prompt"`
	Input           map[string]any `json:"input,omitempty"`
	Schema          map[string]any `json:"schema,omitempty"`
	RetryContext    *RetryContext  `json:"retryContext,omitempty"`
}

// RetryContext carries validation feedback for a re-requested attempt.
type RetryContext struct {
	PreviousAttempt int      `json:"previousAttempt"`
	Errors          []string `json:"errors"`
}
