package executor

import (
	"archive/tar"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/testbot/master"
	"github.com/isdmx/testbot/sandbox"
)

// MockMaster implements Master for testing
type MockMaster struct {
	mu sync.Mutex

	info      *master.SubmissionAndConfig
	files     map[int64][]byte
	startErr  error
	getErr    error
	uploadErr error

	started   int
	downloads []string
	uploads   []map[string][]byte
}

func (m *MockMaster) ReportStarted(context.Context, master.JobRef, string, int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
	return m.startErr
}

func (m *MockMaster) GetSubmissionAndConfig(context.Context, master.JobRef) (*master.SubmissionAndConfig, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	info := *m.info
	return &info, nil
}

func (m *MockMaster) DownloadSubmissionFile(_ context.Context, _ master.JobRef, file master.SubmissionFile, dest string) error {
	m.mu.Lock()
	m.downloads = append(m.downloads, dest)
	m.mu.Unlock()

	content, ok := m.files[file.ID]
	if !ok {
		return master.ErrChecksumMismatch
	}
	return os.WriteFile(dest, content, 0o600)
}

func (m *MockMaster) UploadOutputFiles(_ context.Context, _ master.JobRef, files map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make(map[string][]byte, len(files))
	for k, v := range files {
		copied[k] = v
	}
	m.uploads = append(m.uploads, copied)
	return m.uploadErr
}

func (m *MockMaster) uploadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploads)
}

func (m *MockMaster) lastUpload() map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.uploads) == 0 {
		return nil
	}
	return m.uploads[len(m.uploads)-1]
}

// MockCache serves a single archive from a directory
type MockCache struct {
	dir string
	rel string
	err error
}

func (m *MockCache) Resolve(context.Context, master.Environment) (string, error) {
	return m.rel, m.err
}

func (m *MockCache) Path(rel string) string {
	return filepath.Join(m.dir, rel)
}

// newMockCache writes files into env.tar and serves it.
func newMockCache(t *testing.T, files map[string]string) *MockCache {
	t.Helper()
	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, "env.tar"))
	require.NoError(t, err)
	defer f.Close()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tar.NewWriter(f)
	for _, name := range names {
		body := files[name]
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name, Mode: 0o755, Size: int64(len(body)), Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return &MockCache{dir: dir, rel: "env.tar"}
}

// MockEngine implements ContainerEngine for testing
type MockEngine struct {
	buildLog string
	buildErr error
	// run produces the result of RunContainer from the run params
	run       func(params sandbox.RunParams) sandbox.ContainerResult
	runErr    error
	removeErr error

	builtTags []string
	runNames  []string
	runParams []sandbox.RunParams
	removed   []string
}

func (m *MockEngine) BuildImage(_ context.Context, _ string, tag string) (string, error) {
	m.builtTags = append(m.builtTags, tag)
	return m.buildLog, m.buildErr
}

func (m *MockEngine) RunContainer(_ context.Context, _ string, name string, params sandbox.RunParams) (sandbox.ContainerResult, error) {
	m.runNames = append(m.runNames, name)
	m.runParams = append(m.runParams, params)
	if m.runErr != nil {
		if m.run != nil {
			return m.run(params), m.runErr
		}
		return sandbox.ContainerResult{}, m.runErr
	}
	if m.run == nil {
		return sandbox.ContainerResult{}, nil
	}
	return m.run(params), nil
}

func (m *MockEngine) RemoveImage(_ context.Context, image string) error {
	m.removed = append(m.removed, image)
	return m.removeErr
}

var testRef = master.JobRef{SubmissionID: 7, TestConfigID: 3, WorkID: "work-1"}

func int64Ptr(v int64) *int64 { return &v }

func boolPtr(v bool) *bool { return &v }

func float64Ptr(v float64) *float64 { return &v }

// newTestDeps creates a data folder with the standard layout.
func newTestDeps(t *testing.T, m *MockMaster) Deps {
	t.Helper()
	layout := Layout{DataFolder: t.TempDir()}
	require.NoError(t, layout.EnsureDirs(master.Kinds))
	return Deps{
		Master:   m,
		Layout:   layout,
		Logger:   zaptest.NewLogger(t),
		Hostname: "test-host",
		PID:      1234,
	}
}

func newInfo(kind master.Kind) *master.SubmissionAndConfig {
	return &master.SubmissionAndConfig{
		Submission: master.Submission{
			ID:          7,
			SubmitterID: 11,
			Files: []master.SubmissionFile{
				{ID: 100, MD5: "x", Requirement: master.FileRequirement{ID: 9, Name: "submission.py"}},
			},
		},
		Config: master.TestConfig{
			ID:          3,
			Type:        kind,
			IsEnabled:   true,
			Environment: &master.Environment{ID: 2, MD5: "env", Name: "env.tar"},
		},
	}
}

func newMockMaster(kind master.Kind) *MockMaster {
	return &MockMaster{
		info:  newInfo(kind),
		files: map[int64][]byte{100: []byte("def hello():\n    return 'Hello'\n")},
	}
}

func requireKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	require.Error(t, err)
	var e *Error
	require.True(t, errors.As(err, &e), "expected *Error, got %T: %v", err, err)
	require.Equal(t, kind, KindOf(err), "error: %v", err)
}
