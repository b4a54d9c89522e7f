package sandbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ScriptResult is the outcome of a script that started.
type ScriptResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Script runs shell scripts on the host. There is no isolation and no
// resource limit.
type Script struct {
	logger    *zap.Logger
	shell     string
	cmdRunner CommandRunner
}

// ScriptOption defines a functional option for Script
type ScriptOption func(*Script)

// WithScriptCommandRunner sets the CommandRunner for Script
func WithScriptCommandRunner(cmdRunner CommandRunner) ScriptOption {
	return func(s *Script) {
		s.cmdRunner = cmdRunner
	}
}

// WithScriptShell sets the interpreter used for scripts
func WithScriptShell(shell string) ScriptOption {
	return func(s *Script) {
		if shell != "" {
			s.shell = shell
		}
	}
}

// NewScript creates a new Script runner with default implementations and optional interfaces
func NewScript(logger *zap.Logger, opts ...ScriptOption) *Script {
	s := &Script{
		logger:    logger,
		shell:     "bash",
		cmdRunner: &RealCommandRunner{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes scriptPath with the shell inside dir using exactly env.
func (s *Script) Run(ctx context.Context, scriptPath, dir string, env []string) (ScriptResult, error) {
	s.logger.Debug("running script",
		zap.String("shell", s.shell),
		zap.String("script", scriptPath),
		zap.String("dir", dir))

	stdout, stderr, exitCode, err := s.cmdRunner.RunCommand(ctx, []string{s.shell, scriptPath},
		WithDir(dir), WithEnv(env))
	if ctx.Err() != nil {
		return ScriptResult{Stdout: stdout, Stderr: stderr, ExitCode: exitCode},
			fmt.Errorf("script interrupted: %w", ctx.Err())
	}
	if err != nil {
		return ScriptResult{}, fmt.Errorf("failed to run script: %w", err)
	}
	return ScriptResult{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}, nil
}
