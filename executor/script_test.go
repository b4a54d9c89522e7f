package executor

import (
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/testbot/master"
	"github.com/isdmx/testbot/sandbox"
)

// MockScriptRunner implements ScriptRunner for testing
type MockScriptRunner struct {
	run func(env map[string]string) sandbox.ScriptResult

	script string
	dir    string
	env    []string
}

func (m *MockScriptRunner) Run(_ context.Context, scriptPath, dir string, env []string) (sandbox.ScriptResult, error) {
	m.script, m.dir, m.env = scriptPath, dir, env
	vars := map[string]string{}
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		vars[k] = v
	}
	return m.run(vars), nil
}

var scriptEnv = map[string]string{
	"run.sh": "#!/bin/bash\necho \"$RESULT_TAG 87\"\n",
}

func TestScriptExecutor(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		m := newMockMaster(master.KindScript)
		runner := &MockScriptRunner{run: func(env map[string]string) sandbox.ScriptResult {
			return sandbox.ScriptResult{Stdout: env[VarResultTag] + " 87\n"}
		}}
		s := NewScriptExecutor(testRef, newTestDeps(t, m), newMockCache(t, scriptEnv), runner)

		result, err := Start(context.Background(), s)
		require.NoError(t, err)
		assert.Equal(t, json.Number("87"), result)

		assert.Equal(t, s.Workspace, runner.dir)
		assert.True(t, strings.HasSuffix(runner.script, "/work-1/run.sh"))
		assert.Contains(t, runner.env, "SUBMISSION_ID=7")
		assert.Contains(t, m.lastUpload(), ArtifactStdout)
		assert.NotContains(t, m.lastUpload(), ArtifactStderr)
	})

	t.Run("InheritsWorkerEnvironment", func(t *testing.T) {
		t.Setenv("TESTBOT_TEST_MARKER", "present")
		t.Setenv(VarSubmissionID, "stale")

		m := newMockMaster(master.KindScript)
		runner := &MockScriptRunner{run: func(map[string]string) sandbox.ScriptResult { return sandbox.ScriptResult{} }}
		s := NewScriptExecutor(testRef, newTestDeps(t, m), newMockCache(t, scriptEnv), runner)

		_, err := Start(context.Background(), s)
		require.NoError(t, err)
		assert.Contains(t, runner.env, "TESTBOT_TEST_MARKER=present")
		assert.Contains(t, runner.env, "SUBMISSION_ID=7")
		assert.NotContains(t, runner.env, "SUBMISSION_ID=stale")
	})

	t.Run("Timeout", func(t *testing.T) {
		m := newMockMaster(master.KindScript)
		runner := &MockScriptRunner{run: func(map[string]string) sandbox.ScriptResult {
			return sandbox.ScriptResult{Stdout: "partial\n", ExitCode: 124}
		}}
		s := NewScriptExecutor(testRef, newTestDeps(t, m), newMockCache(t, scriptEnv), runner)

		_, err := Start(context.Background(), s)
		requireKind(t, err, TimeoutError)
		assert.Equal(t, []byte("partial\n"), m.lastUpload()[ArtifactStdout])
	})

	t.Run("ErrorTagsFromStderr", func(t *testing.T) {
		m := newMockMaster(master.KindScript)
		runner := &MockScriptRunner{run: func(env map[string]string) sandbox.ScriptResult {
			return sandbox.ScriptResult{Stderr: env[VarErrorTag] + " compile error\n", ExitCode: 1}
		}}
		s := NewScriptExecutor(testRef, newTestDeps(t, m), newMockCache(t, scriptEnv), runner)

		_, err := Start(context.Background(), s)
		requireKind(t, err, ExecutionError)
		assert.Equal(t, "compile error", err.Error())
		assert.Contains(t, m.lastUpload(), ArtifactStderr)
	})

	t.Run("MissingRunScript", func(t *testing.T) {
		m := newMockMaster(master.KindScript)
		s := NewScriptExecutor(testRef, newTestDeps(t, m), newMockCache(t, map[string]string{"Dockerfile": "FROM x"}), &MockScriptRunner{})

		_, err := Start(context.Background(), s)
		requireKind(t, err, ConfigurationError)
		assert.Contains(t, err.Error(), "run.sh not found")
	})

	t.Run("UnsafeRequirementName", func(t *testing.T) {
		m := newMockMaster(master.KindScript)
		m.info.Submission.Files[0].Requirement.Name = "../../evil.py"
		s := NewScriptExecutor(testRef, newTestDeps(t, m), newMockCache(t, scriptEnv), &MockScriptRunner{})

		_, err := Start(context.Background(), s)
		requireKind(t, err, ConfigurationError)
		assert.Empty(t, m.downloads)
	})
}

func TestScriptExecutorEndToEnd(t *testing.T) {
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}

	files := map[string]string{
		"run.sh": strings.Join([]string{
			`#!/bin/bash`,
			`set -e`,
			`test -f submission/submission.py`,
			`echo "grading $SUBMISSION_ID"`,
			`echo "$RESULT_TAG 50"`,
			`echo "$RESULT_TAG 87"`,
			``,
		}, "\n"),
	}

	t.Run("Result", func(t *testing.T) {
		m := newMockMaster(master.KindScript)
		runner := sandbox.NewScript(zaptest.NewLogger(t))
		s := NewScriptExecutor(testRef, newTestDeps(t, m), newMockCache(t, files), runner)

		result, err := Start(context.Background(), s)
		require.NoError(t, err)
		assert.Equal(t, json.Number("87"), result)
		assert.Contains(t, string(m.lastUpload()[ArtifactStdout]), "grading 7")
	})

	t.Run("Timeout", func(t *testing.T) {
		m := newMockMaster(master.KindScript)
		runner := sandbox.NewScript(zaptest.NewLogger(t))
		timeoutEnv := map[string]string{"run.sh": "echo 'too slow' >&2\nexit 124\n"}
		s := NewScriptExecutor(testRef, newTestDeps(t, m), newMockCache(t, timeoutEnv), runner)

		_, err := Start(context.Background(), s)
		requireKind(t, err, TimeoutError)
		assert.Equal(t, "too slow\n", string(m.lastUpload()[ArtifactStderr]))
	})
}

func TestOverlayEnv(t *testing.T) {
	out := overlayEnv([]string{"PATH=/bin", "RESULT_TAG=old", "EMPTY="}, map[string]string{"RESULT_TAG": "new"})
	assert.ElementsMatch(t, []string{"PATH=/bin", "EMPTY=", "RESULT_TAG=new"}, out)
}
