package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/isdmx/testbot/master"
	"github.com/isdmx/testbot/sandbox"
)

// Artifact names of script jobs
const (
	ArtifactStdout = "stdout.txt"
	ArtifactStderr = "stderr.txt"
)

const runScriptName = "run.sh"

// ScriptRunner runs a script in a directory with a given environment.
type ScriptRunner interface {
	Run(ctx context.Context, scriptPath, dir string, env []string) (sandbox.ScriptResult, error)
}

// ScriptExecutor grades a submission by running the environment's run.sh
// directly on the host.
type ScriptExecutor struct {
	*Job
	env    envTest
	runner ScriptRunner

	script  string
	environ []string
}

// NewScriptExecutor creates a script executor.
func NewScriptExecutor(ref master.JobRef, deps Deps, cache EnvironmentCache, runner ScriptRunner) *ScriptExecutor {
	job := NewJob(master.KindScript, ref, deps)
	return &ScriptExecutor{
		Job:    job,
		env:    envTest{job: job, cache: cache},
		runner: runner,
	}
}

// Prepare provisions the workspace and builds the script environment from
// the worker's own environment plus the job variables.
func (s *ScriptExecutor) Prepare(ctx context.Context) error {
	if err := s.Job.Prepare(ctx); err != nil {
		return err
	}
	if err := s.env.prepare(ctx); err != nil {
		return err
	}
	path, err := s.env.requireFile(runScriptName)
	if err != nil {
		return err
	}
	if path, err = filepath.Abs(path); err != nil {
		return infraError("failed to resolve test script path", err)
	}
	s.script = path
	s.environ = overlayEnv(os.Environ(), s.env.vars)
	return nil
}

// Run executes the script and extracts the result from stdout.
func (s *ScriptExecutor) Run(ctx context.Context) (any, error) {
	if _, err := s.Job.Run(ctx); err != nil {
		return nil, err
	}

	res, err := s.runner.Run(ctx, s.script, s.Workspace, s.environ)
	if err != nil {
		return nil, infraError("failed to run test script", err)
	}
	if res.Stdout != "" {
		s.Artifacts[ArtifactStdout] = []byte(res.Stdout)
	}
	if res.Stderr != "" {
		s.Artifacts[ArtifactStderr] = []byte(res.Stderr)
	}
	if res.ExitCode != 0 {
		return nil, s.env.failure(res.ExitCode, []byte(res.Stderr), "test script")
	}
	return s.env.result([]byte(res.Stdout)), nil
}

// overlayEnv returns base with every key of vars set, replacing existing
// entries.
func overlayEnv(base []string, vars map[string]string) []string {
	out := make([]string, 0, len(base)+len(vars))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := vars[key]; !ok {
			out = append(out, kv)
		}
	}
	for k, v := range vars {
		out = append(out, k+"="+v)
	}
	return out
}
