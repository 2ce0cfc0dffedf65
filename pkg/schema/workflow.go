package schema

// WorkflowDocument is the JSON-serializable workflow format.
// Agents provide it inline on every lockstep.run call; lockstep never
// stores it between calls.
type WorkflowDocument struct {
	Name    string         `json:"name,omitempty"`
	Version string         `json:"version,omitempty"`
	Vars    map[string]any `json:"vars,omitempty"`
	Steps   []Step         `json:"steps"`
}

// StepKind enumerates the closed set of step variants.
type StepKind string

const (
	StepKindExec  StepKind = "exec"
	StepKindAgent StepKind = "agent"
	StepKindIf    StepKind = "if"
)

// Step is the tagged union of workflow step variants. Kind selects the
// variant; fields outside the selected variant are ignored. Unknown
// kinds are a structural error, never a silent no-op.
type Step struct {
	ID   string   `json:"id"`
	Kind StepKind `json:"kind"`

	// exec
	Cmd       string            `json:"cmd,omitempty"`
	Args      []string          `json:"args,omitempty"`
	TimeoutMS int64             `json:"timeoutMs,omitempty"`
	Retries   int               `json:"retries,omitempty"` // clamped to [1,5], default 1
	Env       map[string]string `json:"env,omitempty"`
	IO        *IOContract       `json:"io,omitempty"`

	// agent
	Prompt          string         `json:"prompt,omitempty"`
	Input           map[string]any `json:"input,omitempty"`
	OutputSchema    map[string]any `json:"outputSchema,omitempty"`
	MaxAttempts     int            `json:"maxAttempts,omitempty"` // clamped to [1,5], default 2
	AssigneeAgentID string         `json:"assigneeAgentId,omitempty"`
	Session         *SessionPolicy `json:"session,omitempty"`

	// if
	Condition *Condition `json:"condition,omitempty"`
	Then      []Step     `json:"then,omitempty"`
	Else      []Step     `json:"else,omitempty"`
}

// SessionPolicy is opaque routing metadata for agent steps. The
// interpreter passes it through on pause requests and never interprets it.
type SessionPolicy struct {
	Mode  string `json:"mode,omitempty"` // ephemeral | sticky
	Label string `json:"label,omitempty"`
	Reset bool   `json:"reset,omitempty"`
}

// Condition is the restricted predicate evaluated by if steps.
type Condition struct {
	Path  string `json:"path"` // root.<namespace>.<field>[...]
	Op    string `json:"op"`   // exists | eq | ne | gt | lt
	Value any    `json:"value,omitempty"`
}

// Condition operators.
const (
	OpExists = "exists"
	OpEq     = "eq"
	OpNe     = "ne"
	OpGt     = "gt"
	OpLt     = "lt"
)

// IOMode selects how an exec step exchanges data with its subprocess.
type IOMode string

const (
	IOModeNone   IOMode = "none"
	IOModeFile   IOMode = "file"
	IOModeStream IOMode = "stream"
)

// IOContract declares the data contract of an exec step.
// File mode reads and validates workspace-relative JSON files before
// and after execution. Stream mode feeds a prior step's output to
// stdin and requires stdout to be a single JSON document.
type IOContract struct {
	Mode    IOMode          `json:"mode"`
	Inputs  []FileContract  `json:"inputs,omitempty"`  // file mode: read+validate before exec
	Outputs []FileContract  `json:"outputs,omitempty"` // file mode: read+validate after exec
	Stdin   *StreamContract `json:"stdin,omitempty"`   // stream mode: optional stdin source
	Stdout  *StreamSchema   `json:"stdout,omitempty"`  // stream mode: optional stdout schema
}

// FileContract binds a workspace-relative JSON file to an optional schema.
type FileContract struct {
	Path   string         `json:"path"`
	Schema map[string]any `json:"schema,omitempty"`
}

// StreamContract pulls stdin from a prior step's stream result at a
// sub-path (root.results.<id>.json[...]) and optionally validates it.
type StreamContract struct {
	From   string         `json:"from"`
	Schema map[string]any `json:"schema,omitempty"`
}

// StreamSchema optionally constrains the parsed stdout document.
type StreamSchema struct {
	Schema map[string]any `json:"schema,omitempty"`
}
