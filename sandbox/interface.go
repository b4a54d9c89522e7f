package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// ExitStatusTimeout is the exit status of coreutils timeout(1), used by
// grading harnesses to signal that a test ran out of time.
const ExitStatusTimeout = 124

// RunOption configures a single command execution
type RunOption func(*runOptions)

type runOptions struct {
	dir      string
	env      []string
	combined bool
}

// WithDir sets the working directory of the command
func WithDir(dir string) RunOption {
	return func(o *runOptions) {
		o.dir = dir
	}
}

// WithEnv sets the full environment of the command. Without it the command
// inherits the environment of the worker.
func WithEnv(env []string) RunOption {
	return func(o *runOptions) {
		o.env = env
	}
}

// WithCombinedOutput makes stdout carry both streams in the order they were
// written. stderr is still returned on its own.
func WithCombinedOutput() RunOption {
	return func(o *runOptions) {
		o.combined = true
	}
}

// CommandRunner defines an interface for executing system commands
type CommandRunner interface {
	RunCommand(ctx context.Context, args []string, opts ...RunOption) (stdout, stderr string, exitCode int, err error)
}

// RealCommandRunner implements CommandRunner using actual exec commands
type RealCommandRunner struct{}

// RunCommand executes the given command with arguments. A non-zero exit is
// reported through exitCode, not err.
func (RealCommandRunner) RunCommand(ctx context.Context, args []string, opts ...RunOption) (stdout, stderr string, exitCode int, err error) {
	if len(args) < 1 {
		return "", "", 0, fmt.Errorf("no command provided")
	}

	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // Safe as this is controlled input
	cmd.Dir = o.dir
	cmd.Env = o.env

	var stdoutBuf lockedBuffer
	var stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	if o.combined {
		cmd.Stderr = io.MultiWriter(&stdoutBuf, &stderrBuf)
	} else {
		cmd.Stderr = &stderrBuf
	}

	err = cmd.Run()

	if err != nil {
		var exitError *exec.ExitError
		if !errors.As(err, &exitError) {
			return stdoutBuf.String(), stderrBuf.String(), 0, err
		}
		exitCode = exitError.ExitCode()
	}

	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// lockedBuffer is written by the stdout and stderr copiers at the same time
// when output is combined.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
