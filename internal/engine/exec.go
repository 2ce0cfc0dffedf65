package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/lockstep-run/lockstep/internal/expressions"
	"github.com/lockstep-run/lockstep/internal/logging"
	"github.com/lockstep-run/lockstep/internal/validation"
	"github.com/lockstep-run/lockstep/internal/workspace"
	"github.com/lockstep-run/lockstep/pkg/schema"
)

const (
	// DefaultExecTimeout bounds a subprocess when the step declares no
	// timeoutMs. Per-step overrides have no upper cap at this layer.
	DefaultExecTimeout = 5 * time.Minute

	defaultMaxOutputSize = 10 * 1024 * 1024 // 10MB
	maxStderrInError     = 4 * 1024
	ioViolationLimit     = 30
)

// ExecRunner executes exec steps: interpolates the command descriptor,
// enforces the step's I/O contract, spawns a bounded subprocess inside
// the workspace root, and retries failed attempts up to the clamped cap.
type ExecRunner struct {
	workspaceRoot  string
	subset         *validation.SubsetValidator
	defaultTimeout time.Duration
	maxOutputSize  int64
	logger         *slog.Logger
}

// ExecConfig configures an ExecRunner.
type ExecConfig struct {
	WorkspaceRoot  string
	Subset         *validation.SubsetValidator
	DefaultTimeout time.Duration
	MaxOutputSize  int64
	Logger         *slog.Logger
}

// NewExecRunner creates an ExecRunner with teacher defaults applied.
func NewExecRunner(cfg ExecConfig) *ExecRunner {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultExecTimeout
	}
	if cfg.MaxOutputSize <= 0 {
		cfg.MaxOutputSize = defaultMaxOutputSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ExecRunner{
		workspaceRoot:  cfg.WorkspaceRoot,
		subset:         cfg.Subset,
		defaultTimeout: cfg.DefaultTimeout,
		maxOutputSize:  cfg.MaxOutputSize,
		logger:         cfg.Logger,
	}
}

// Run executes one exec step with bounded retries. On success the
// returned result is recorded by the interpreter; on exhaustion the
// last attempt's result (error string plus failing attempt number) is
// recorded and the final error propagates as the run's terminal error.
func (r *ExecRunner) Run(ctx context.Context, step *schema.Step, ec *schema.ExecutionContext) (*schema.StepResult, error) {
	retries := ClampAttempts(step.Retries, DefaultExecRetries)
	log := logging.LogWith(ctx, r.logger)

	var lastResult *schema.StepResult
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		result, err := r.runAttempt(ctx, step, ec)
		if err == nil {
			result.OK = true
			return result, nil
		}

		result.OK = false
		result.Error = truncate(err.Error(), maxStderrInError)
		result.Attempt = attempt
		lastResult, lastErr = result, err

		if !isRetryableExecError(err) {
			log.WarnContext(ctx, "exec step failed with non-retryable error", slog.String("error", err.Error()))
			break
		}
		if attempt < retries {
			log.WarnContext(ctx, "exec attempt failed, retrying",
				slog.Int("attempt", attempt), slog.Int("retries", retries), slog.String("error", err.Error()))
		}
	}

	terminal := schema.NewErrorf(schema.ErrCodeRetryExhausted,
		"exec step failed after %d attempt(s): %s", lastResult.Attempt, lastErr.Error()).
		WithStep(step.ID).WithCause(lastErr)
	return lastResult, terminal
}

// runAttempt performs one full attempt: I/O pre-validation, subprocess
// execution, and I/O post-validation. Every attempt independently
// re-validates and re-runs the contract.
func (r *ExecRunner) runAttempt(ctx context.Context, step *schema.Step, ec *schema.ExecutionContext) (*schema.StepResult, error) {
	mode := schema.IOModeNone
	if step.IO != nil && step.IO.Mode != "" {
		mode = step.IO.Mode
	}
	result := &schema.StepResult{Kind: schema.StepKindExec, IOMode: mode}

	command := expressions.Interpolate(step.Cmd, ec.Vars)
	args := make([]string, len(step.Args))
	for i, a := range step.Args {
		args[i] = expressions.Interpolate(a, ec.Vars)
	}
	if command == "" {
		return result, schema.NewError(schema.ErrCodeStructural, "exec step has an empty command").WithStep(step.ID)
	}

	var stdin []byte
	switch mode {
	case schema.IOModeFile:
		if err := r.checkFileContracts(step.IO.Inputs, ec, "input"); err != nil {
			return result, err
		}
	case schema.IOModeStream:
		data, err := r.resolveStreamInput(step, ec)
		if err != nil {
			return result, err
		}
		stdin = data
	}

	timeout := r.defaultTimeout
	if step.TimeoutMS > 0 {
		timeout = time.Duration(step.TimeoutMS) * time.Millisecond
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, command, args...)
	cmd.Dir = r.workspaceRoot
	if len(step.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range step.Env {
			cmd.Env = append(cmd.Env, k+"="+expressions.Interpolate(v, ec.Vars))
		}
	}
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, limit: r.maxOutputSize}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: r.maxOutputSize}

	runErr := cmd.Run()
	result.Stderr = stderrBuf.String()

	if execCtx.Err() == context.DeadlineExceeded {
		return result, schema.NewErrorf(schema.ErrCodeTimeout,
			"command timed out after %s and was killed", timeout).WithStep(step.ID)
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return result, schema.NewErrorf(schema.ErrCodeExecution,
				"command exited with status %d: %s", exitErr.ExitCode(), truncate(result.Stderr, maxStderrInError)).
				WithStep(step.ID)
		}
		// Spawn failure (e.g. command not found).
		return result, schema.NewErrorf(schema.ErrCodeExecution, "failed to run command: %v", runErr).
			WithStep(step.ID).WithCause(runErr)
	}

	switch mode {
	case schema.IOModeNone:
		result.Stdout = strings.TrimSpace(stdoutBuf.String())
	case schema.IOModeFile:
		result.Stdout = strings.TrimSpace(stdoutBuf.String())
		if err := r.checkFileContracts(step.IO.Outputs, ec, "output"); err != nil {
			return result, err
		}
	case schema.IOModeStream:
		parsed, err := parseSingleJSON(stdoutBuf.Bytes())
		if err != nil {
			return result, schema.NewErrorf(schema.ErrCodeValidation,
				"stream output is not a single JSON document: %v", err).WithStep(step.ID)
		}
		if step.IO.Stdout != nil && step.IO.Stdout.Schema != nil {
			if err := r.validateValue(parsed, step.IO.Stdout.Schema, "stream output"); err != nil {
				return result, err
			}
		}
		result.JSON = parsed // stdout itself stays absent in stream mode
	}

	return result, nil
}

// checkFileContracts reads each declared file from a contained
// workspace-relative path, parses it as JSON, and validates it when a
// schema is declared. Any contract violation fails this attempt.
func (r *ExecRunner) checkFileContracts(contracts []schema.FileContract, ec *schema.ExecutionContext, role string) error {
	for _, contract := range contracts {
		rel := expressions.Interpolate(contract.Path, ec.Vars)
		abs, err := workspace.Contain(r.workspaceRoot, rel)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "%s file %q: %v", role, rel, err).WithCause(err)
		}
		var value any
		if err := json.Unmarshal(data, &value); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "%s file %q is not valid JSON: %v", role, rel, err).WithCause(err)
		}
		if contract.Schema != nil {
			if err := r.validateValue(value, contract.Schema, fmt.Sprintf("%s file %q", role, rel)); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveStreamInput pulls stdin from a prior step's stream result at
// the declared sub-path, validates it if a schema is declared, and
// serializes it for the subprocess.
func (r *ExecRunner) resolveStreamInput(step *schema.Step, ec *schema.ExecutionContext) ([]byte, error) {
	if step.IO.Stdin == nil {
		return nil, nil
	}
	scope, err := ConditionScope(ec)
	if err != nil {
		return nil, err
	}
	value, found := expressions.Resolve(scope, step.IO.Stdin.From)
	if !found {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"stream input path %q did not resolve", step.IO.Stdin.From).WithStep(step.ID)
	}
	if step.IO.Stdin.Schema != nil {
		if err := r.validateValue(value, step.IO.Stdin.Schema, "stream input"); err != nil {
			return nil, err
		}
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "failed to serialize stream input").WithCause(err)
	}
	return data, nil
}

func (r *ExecRunner) validateValue(value any, schemaDoc map[string]any, what string) error {
	violations, err := r.subset.Validate(value, schemaDoc, ioViolationLimit)
	if err != nil {
		return err
	}
	if len(violations) > 0 {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"%s failed schema validation: %s", what, strings.Join(violations, "; ")).
			WithDetails(map[string]any{"violations": violations})
	}
	return nil
}

// isRetryableExecError classifies attempt failures. Validation,
// timeout, and execution failures retry up to the cap; resolution and
// structural failures abort immediately — retrying cannot fix a path
// that escapes the workspace or a reference that does not exist.
func isRetryableExecError(err error) bool {
	var lerr *schema.LockstepError
	if !errors.As(err, &lerr) {
		return true
	}
	switch lerr.Code {
	case schema.ErrCodePathDenied, schema.ErrCodeNotFound, schema.ErrCodeStructural:
		return false
	default:
		return true
	}
}

// parseSingleJSON decodes exactly one JSON document and rejects any
// trailing non-whitespace output.
func parseSingleJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		return nil, errors.New("extraneous output after the JSON document")
	}
	return value, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "... (truncated)"
}

// limitedWriter wraps a writer and silently discards bytes beyond the
// limit. Write always reports the full len(p) consumed to prevent the
// subprocess from blocking on a full pipe.
type limitedWriter struct {
	w       io.Writer
	limit   int64
	written int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	total := len(p) // Capture original length before any truncation.
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return total, nil
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := lw.w.Write(p)
	lw.written += int64(n)
	if err != nil {
		return total, err
	}
	return total, nil
}
