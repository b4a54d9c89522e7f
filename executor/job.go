package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/isdmx/testbot/master"
)

// ErrNotPrepared is returned by Run when Prepare did not complete.
var ErrNotPrepared = errors.New("job is not prepared")

// Master is the part of the master API a job talks to.
type Master interface {
	ReportStarted(ctx context.Context, ref master.JobRef, hostname string, pid int) error
	GetSubmissionAndConfig(ctx context.Context, ref master.JobRef) (*master.SubmissionAndConfig, error)
	DownloadSubmissionFile(ctx context.Context, ref master.JobRef, file master.SubmissionFile, dest string) error
	UploadOutputFiles(ctx context.Context, ref master.JobRef, files map[string][]byte) error
}

// State is the lifecycle state of a job.
type State int

// Job states
const (
	StateNew State = iota
	StatePrepared
	StateRunComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StatePrepared:
		return "PREPARED"
	case StateRunComplete:
		return "RUN_COMPLETE"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Artifacts maps output file names to their content.
type Artifacts map[string][]byte

// Deps holds what every job shares with the worker process.
type Deps struct {
	Master   Master
	Layout   Layout
	Logger   *zap.Logger
	Hostname string
	PID      int
}

// Job carries the state common to all executors. Concrete executors embed it.
type Job struct {
	Ref  master.JobRef
	Kind master.Kind

	Submission master.Submission
	Config     master.TestConfig
	Workspace  string
	Artifacts  Artifacts

	master   Master
	layout   Layout
	logger   *zap.Logger
	hostname string
	pid      int
	state    State
}

// NewJob creates a job of the given kind.
func NewJob(kind master.Kind, ref master.JobRef, deps Deps) *Job {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{
		Ref:       ref,
		Kind:      kind,
		Artifacts: Artifacts{},
		master:    deps.Master,
		layout:    deps.Layout,
		logger: logger.With(
			zap.String("kind", string(kind)),
			zap.String("work_id", ref.WorkID),
			zap.Int64("submission_id", ref.SubmissionID)),
		hostname: deps.Hostname,
		pid:      deps.PID,
		state:    StateNew,
	}
}

// State returns the lifecycle state.
func (j *Job) State() State {
	return j.state
}

// Logger returns the job's logger.
func (j *Job) Logger() *zap.Logger {
	return j.logger
}

func (j *Job) base() *Job {
	return j
}

// Prepare reports the job as started, fetches the submission and the test
// configuration and checks that they belong to this job. Nothing is written
// to the workspace.
func (j *Job) Prepare(ctx context.Context) error {
	if err := j.master.ReportStarted(ctx, j.Ref, j.hostname, j.pid); err != nil {
		return infraError("failed to report job start", err)
	}

	info, err := j.master.GetSubmissionAndConfig(ctx, j.Ref)
	if err != nil {
		return infraError("failed to get submission and config", err)
	}
	if info.Submission.ID != j.Ref.SubmissionID {
		return configErrorf("submission id mismatch: requested %d, got %d", j.Ref.SubmissionID, info.Submission.ID)
	}
	if info.Config.ID != j.Ref.TestConfigID {
		return configErrorf("test config id mismatch: requested %d, got %d", j.Ref.TestConfigID, info.Config.ID)
	}
	if info.Config.Type != j.Kind {
		return configErrorf("invalid config type for %s executor: %s", j.Kind, info.Config.Type)
	}
	if !info.Config.IsEnabled {
		return configErrorf("test config %d is disabled", info.Config.ID)
	}
	j.Submission = info.Submission
	j.Config = info.Config

	if err := requireDir(j.layout.DataFolder); err != nil {
		return infraError("data folder is not available", err)
	}
	worksRoot := j.layout.WorksRoot(j.Kind)
	if err := requireDir(worksRoot); err != nil {
		return infraError("work folder root is not available", err)
	}

	if !isPlainName(j.Ref.WorkID) {
		return configErrorf("invalid work id %q", j.Ref.WorkID)
	}
	workspace := filepath.Join(worksRoot, j.Ref.WorkID)
	switch _, err := os.Lstat(workspace); {
	case err == nil:
		return configErrorf("work folder already exists: %s", workspace)
	case !errors.Is(err, os.ErrNotExist):
		return infraError("failed to check work folder", err)
	}
	j.Workspace = workspace

	j.logger.Debug("job prepared", zap.String("workspace", workspace))
	return nil
}

// Run does nothing itself. Executors call it first to make sure Prepare
// completed.
func (j *Job) Run(context.Context) (any, error) {
	if j.state != StatePrepared {
		return nil, fmt.Errorf("%w (state %s)", ErrNotPrepared, j.state)
	}
	return nil, nil
}

// CleanUp uploads the collected artifacts, if any.
func (j *Job) CleanUp(ctx context.Context) error {
	if len(j.Artifacts) == 0 {
		return nil
	}
	if err := j.master.UploadOutputFiles(ctx, j.Ref, j.Artifacts); err != nil {
		return infraError("failed to upload output files", err)
	}
	j.logger.Debug("output files uploaded", zap.Int("count", len(j.Artifacts)))
	return nil
}

// Executor is implemented by every concrete executor. It can only be
// satisfied by types embedding *Job.
type Executor interface {
	Prepare(ctx context.Context) error
	Run(ctx context.Context) (any, error)
	CleanUp(ctx context.Context) error
	base() *Job
}

// Start prepares e and runs it. CleanUp runs exactly once after Run, even
// when Run fails or panics. A CleanUp failure replaces a successful result
// and is joined to a Run failure.
func Start(ctx context.Context, e Executor) (result any, err error) {
	j := e.base()

	if err := e.Prepare(ctx); err != nil {
		j.state = StateFailed
		return nil, err
	}
	j.state = StatePrepared

	returned := false
	defer func() {
		if cleanErr := e.CleanUp(ctx); cleanErr != nil {
			if err == nil {
				result = nil
				err = cleanErr
			} else {
				err = errors.Join(err, cleanErr)
			}
		}
		if err != nil || !returned {
			j.state = StateFailed
		} else {
			j.state = StateRunComplete
		}
	}()

	result, err = e.Run(ctx)
	returned = true
	return result, err
}

func requireDir(path string) error {
	if path == "" {
		return errors.New("path is empty")
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}

// isPlainName reports whether name can be used as a single path element.
func isPlainName(name string) bool {
	return name != "" && name != "." && name != ".." && filepath.Base(name) == name && filepath.IsLocal(name)
}
