package engine

// Attempt bounds guarantee termination: every retrying construct is
// clamped into [1,5] regardless of what the workflow declares.
const (
	MinAttempts = 1
	MaxAttempts = 5

	DefaultExecRetries   = 1
	DefaultAgentAttempts = 2
)

// ClampAttempts normalizes a declared retry/attempt count. Zero means
// undeclared and takes the default; anything outside [1,5] is clamped
// inclusive on both ends.
func ClampAttempts(declared, fallback int) int {
	n := declared
	if n == 0 {
		n = fallback
	}
	if n < MinAttempts {
		return MinAttempts
	}
	if n > MaxAttempts {
		return MaxAttempts
	}
	return n
}
