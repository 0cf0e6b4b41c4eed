package invoke

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/metalab-io/moshpit/internal/logger"
	moshpiterrors "github.com/metalab-io/moshpit/pkg/errors"
)

// Invocation describes one external tool run. It is immutable once
// constructed and consumed exactly once.
type Invocation struct {
	Tool    string
	Args    []string
	Dir     string
	Env     map[string]string
	Timeout time.Duration
}

// Result captures what the tool produced: exit status, both output streams
// and wall-clock duration.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner executes tool invocations. Actions depend on this interface so
// tests can substitute fakes without touching PATH.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (Result, error)
}

// ExecRunner runs invocations as child processes. When Verbose is set the
// tool's streams are mirrored to the parent's stdout/stderr while still
// being captured for diagnostics.
type ExecRunner struct {
	Log     *logger.Logger
	Verbose bool
}

// NewRunner creates an ExecRunner.
func NewRunner(log *logger.Logger, verbose bool) *ExecRunner {
	return &ExecRunner{Log: log, Verbose: verbose}
}

var _ Runner = (*ExecRunner)(nil)

// Run executes the invocation. Failures surface as ToolNotFoundError or
// ToolExecutionError; a failed run is never retried.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	path, err := exec.LookPath(inv.Tool)
	if err != nil {
		return Result{}, moshpiterrors.NewToolNotFoundError(inv.Tool, err)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if inv.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, path, inv.Args...)
	if inv.Dir != "" {
		cmd.Dir = inv.Dir
	}
	cmd.Env = buildEnv(inv.Env)

	var stdoutBuf, stderrBuf bytes.Buffer
	if r.Verbose {
		cmd.Stdout = io.MultiWriter(os.Stdout, &stdoutBuf)
		cmd.Stderr = io.MultiWriter(os.Stderr, &stderrBuf)
	} else {
		cmd.Stdout = &stdoutBuf
		cmd.Stderr = &stderrBuf
	}

	r.Log.Command(inv.Tool, inv.Args)

	start := time.Now()
	runErr := cmd.Run()
	res := Result{
		Stdout:   strings.TrimSpace(stdoutBuf.String()),
		Stderr:   strings.TrimSpace(stderrBuf.String()),
		Duration: time.Since(start),
	}

	if runErr == nil {
		return res, nil
	}

	if runCtx.Err() != nil {
		return res, moshpiterrors.NewToolExecutionError(inv.Tool, -1, PrimaryOutput(res), runCtx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, moshpiterrors.NewToolExecutionError(inv.Tool, res.ExitCode, PrimaryOutput(res), runErr)
	}

	return res, moshpiterrors.NewToolExecutionError(inv.Tool, -1, PrimaryOutput(res), fmt.Errorf("cannot start %s: %w", inv.Tool, runErr))
}

// PrimaryOutput returns stderr if present, otherwise stdout. External tools
// in this domain write their diagnostics to either stream.
func PrimaryOutput(res Result) string {
	if res.Stderr != "" {
		return res.Stderr
	}
	return res.Stdout
}

func buildEnv(custom map[string]string) []string {
	env := os.Environ()
	for k, v := range custom {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
