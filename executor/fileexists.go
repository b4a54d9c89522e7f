package executor

import (
	"context"

	"github.com/isdmx/testbot/master"
)

// FileExistsExecutor checks whether a submission contains a file for a
// given requirement.
type FileExistsExecutor struct {
	*Job
	requirementID int64
}

// NewFileExistsExecutor creates a file presence check.
func NewFileExistsExecutor(ref master.JobRef, deps Deps) *FileExistsExecutor {
	return &FileExistsExecutor{Job: NewJob(master.KindFileExists, ref, deps)}
}

// Prepare loads the job and requires the target file requirement id.
func (f *FileExistsExecutor) Prepare(ctx context.Context) error {
	if err := f.Job.Prepare(ctx); err != nil {
		return err
	}
	if f.Config.FileRequirementID == nil {
		return configErrorf("target file requirement id is not specified")
	}
	f.requirementID = *f.Config.FileRequirementID
	return nil
}

// Run returns true when any submission file belongs to the requirement.
func (f *FileExistsExecutor) Run(ctx context.Context) (any, error) {
	if _, err := f.Job.Run(ctx); err != nil {
		return nil, err
	}
	for _, file := range f.Submission.Files {
		if file.RequirementID() == f.requirementID {
			return true, nil
		}
	}
	return false, nil
}
