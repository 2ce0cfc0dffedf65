package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeExecution      = "EXECUTION_ERROR"
	ErrCodeTimeout        = "TIMEOUT_ERROR"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodePathDenied     = "PATH_DENIED"
	ErrCodeStructural     = "STRUCTURAL_ERROR"
	ErrCodeAgentSchema    = "AGENT_SCHEMA_FAILED"
	ErrCodeRetryExhausted = "RETRY_EXHAUSTED"
	ErrCodeInterpolation  = "INTERPOLATION_ERROR"
	ErrCodeCallerContract = "CALLER_CONTRACT_ERROR"
)

// LockstepError is the structured error type for all lockstep operations.
type LockstepError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *LockstepError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *LockstepError) Unwrap() error {
	return e.Cause
}

// NewError creates a new LockstepError.
func NewError(code, message string) *LockstepError {
	return &LockstepError{Code: code, Message: message}
}

// NewErrorf creates a new LockstepError with a formatted message.
func NewErrorf(code, format string, args ...any) *LockstepError {
	return &LockstepError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *LockstepError) WithStep(stepID string) *LockstepError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *LockstepError) WithCause(err error) *LockstepError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *LockstepError) WithDetails(details map[string]any) *LockstepError {
	e.Details = details
	return e
}
