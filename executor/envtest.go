package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/isdmx/testbot/envcache"
	"github.com/isdmx/testbot/master"
	"github.com/isdmx/testbot/sandbox"
	"github.com/isdmx/testbot/tag"
)

// EnvironmentCache resolves environments to local archives.
type EnvironmentCache interface {
	Resolve(ctx context.Context, env master.Environment) (string, error)
	Path(rel string) string
}

// Names of the variables exposed to graded processes.
const (
	VarSubmissionID    = "SUBMISSION_ID"
	VarSubmitterID     = "SUBMITTER_ID"
	VarSubmitterTeamID = "SUBMITTER_TEAM_ID"
	VarResultTag       = "RESULT_TAG"
	VarErrorTag        = "ERROR_TAG"
)

const submissionDir = "submission"

// envTest provisions a workspace from a grading environment and the
// submission files. It is shared by the container and script executors.
type envTest struct {
	job   *Job
	cache EnvironmentCache

	tags tag.Tags
	vars map[string]string
}

func (e *envTest) prepare(ctx context.Context) error {
	j := e.job
	env := j.Config.Environment
	if env == nil {
		return configErrorf("test environment not specified")
	}

	rel, err := e.cache.Resolve(ctx, *env)
	if err != nil {
		return fmt.Errorf("failed to resolve test environment: %w", err)
	}
	if err := envcache.Unpack(e.cache.Path(rel), j.Workspace); err != nil {
		if errors.Is(err, envcache.ErrUnsupportedArchive) {
			return &Error{Kind: ConfigurationError, Msg: "invalid test environment", Err: err}
		}
		return fmt.Errorf("failed to unpack test environment: %w", err)
	}

	dir := filepath.Join(j.Workspace, submissionDir)
	if err := os.MkdirAll(dir, dirPermission); err != nil {
		return infraError("failed to create submission folder", err)
	}
	for _, file := range j.Submission.Files {
		name := file.Requirement.Name
		if !isPlainName(name) {
			return configErrorf("invalid file requirement name %q", name)
		}
		if err := j.master.DownloadSubmissionFile(ctx, j.Ref, file, filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("failed to download submission file %q: %w", name, err)
		}
	}

	e.tags = tag.Generate()
	e.vars = map[string]string{
		VarSubmissionID: strconv.FormatInt(j.Submission.ID, 10),
		VarSubmitterID:  strconv.FormatInt(j.Submission.SubmitterID, 10),
		VarResultTag:    e.tags.Result,
		VarErrorTag:     e.tags.Error,
	}
	if team := j.Submission.SubmitterTeamID; team != nil {
		e.vars[VarSubmitterTeamID] = strconv.FormatInt(*team, 10)
	}

	j.logger.Debug("workspace provisioned",
		zap.Int64("environment_id", env.ID),
		zap.Int("submission_files", len(j.Submission.Files)))
	return nil
}

// requireFile checks that name exists as a regular file in the workspace.
func (e *envTest) requireFile(name string) (string, error) {
	path := filepath.Join(e.job.Workspace, name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", configErrorf("%s not found", name)
	}
	return path, nil
}

// failure classifies a non-zero exit of a graded process.
func (e *envTest) failure(exitCode int, stderr []byte, what string) error {
	if exitCode == sandbox.ExitStatusTimeout {
		return &Error{Kind: TimeoutError, Msg: what + " timeout"}
	}
	if msgs := tag.ExtractErrors(stderr, e.tags.Error); len(msgs) > 0 {
		return &Error{Kind: ExecutionError, Msg: strings.Join(msgs, " \n")}
	}
	return &Error{Kind: ExecutionError, Msg: fmt.Sprintf("test returned exit code %d", exitCode)}
}

func (e *envTest) result(output []byte) any {
	v, _ := tag.ExtractResult(output, e.tags.Result)
	return v
}
