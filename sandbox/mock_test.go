package sandbox

import (
	"context"
	"strings"
	"sync"
)

type mockResult struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
}

// MockCommandRunner implements CommandRunner for testing
type MockCommandRunner struct {
	mu             sync.Mutex
	commandResults map[string]mockResult
	defaultResult  mockResult
	calls          [][]string
	callOpts       []runOptions
	// onRun is called with the context of every command
	onRun func(ctx context.Context, args []string)
}

func (m *MockCommandRunner) RunCommand(ctx context.Context, args []string, opts ...RunOption) (stdout, stderr string, exitCode int, err error) {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}

	m.mu.Lock()
	m.calls = append(m.calls, args)
	m.callOpts = append(m.callOpts, o)
	onRun := m.onRun
	m.mu.Unlock()

	if onRun != nil {
		onRun(ctx, args)
	}

	cmdKey := strings.Join(args, " ")
	if result, exists := m.commandResults[cmdKey]; exists {
		return result.stdout, result.stderr, result.exitCode, result.err
	}
	return m.defaultResult.stdout, m.defaultResult.stderr, m.defaultResult.exitCode, m.defaultResult.err
}

func (m *MockCommandRunner) Calls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.calls...)
}
