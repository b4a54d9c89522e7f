package master

import "fmt"

// Kind identifies a job kind and the test configuration type it accepts.
type Kind string

// Job kinds
const (
	KindScript         Kind = "run-script"
	KindDocker         Kind = "docker"
	KindAntiPlagiarism Kind = "anti-plagiarism"
	KindFileExists     Kind = "file-exists"
)

// Kinds lists every job kind the worker knows about.
var Kinds = []Kind{KindScript, KindDocker, KindAntiPlagiarism, KindFileExists}

// JobRef identifies one grading attempt. WorkID is unique per attempt and
// names the workspace directory.
type JobRef struct {
	SubmissionID int64  `json:"submission_id"`
	TestConfigID int64  `json:"test_config_id"`
	WorkID       string `json:"work_id"`
}

func (r JobRef) String() string {
	return fmt.Sprintf("submission=%d config=%d work=%s", r.SubmissionID, r.TestConfigID, r.WorkID)
}

// FileRequirement is the slot a submission file was uploaded for.
type FileRequirement struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// SubmissionFile is one uploaded file of a submission.
type SubmissionFile struct {
	ID          int64           `json:"id"`
	MD5         string          `json:"md5"`
	Requirement FileRequirement `json:"requirement"`
	// Some master versions only send the flat requirement id.
	FlatRequirementID int64 `json:"requirement_id,omitempty"`
}

// RequirementID returns the id of the requirement the file belongs to.
func (f SubmissionFile) RequirementID() int64 {
	if f.Requirement.ID != 0 {
		return f.Requirement.ID
	}
	return f.FlatRequirementID
}

// Submission is a read-only snapshot of a student submission.
type Submission struct {
	ID              int64            `json:"id"`
	SubmitterID     int64            `json:"submitter_id"`
	SubmitterTeamID *int64           `json:"submitter_team_id"`
	Files           []SubmissionFile `json:"files"`
}

// Environment identifies one version of a grading environment archive.
type Environment struct {
	ID   int64  `json:"id"`
	MD5  string `json:"md5"`
	Name string `json:"name"`
}

// TestConfig describes how a submission is graded. Optional fields are nil
// when the master leaves them unset.
type TestConfig struct {
	ID          int64        `json:"id"`
	Type        Kind         `json:"type"`
	IsEnabled   bool         `json:"is_enabled"`
	Environment *Environment `json:"environment"`

	FileRequirementID *int64 `json:"file_requirement_id"`
	TemplateFileID    *int64 `json:"template_file_id"`

	DockerAutoRemove *bool    `json:"docker_auto_remove"`
	DockerCPUs       *float64 `json:"docker_cpus"`
	DockerMemory     *int64   `json:"docker_memory"`
	DockerNetwork    *bool    `json:"docker_network"`
}

// SubmissionAndConfig is the single atomic read a job starts from.
type SubmissionAndConfig struct {
	Submission Submission `json:"submission"`
	Config     TestConfig `json:"config"`
}

// FinalState is the terminal state reported for a job.
type FinalState string

// Final states
const (
	StateSuccess FinalState = "SUCCESS"
	StateFailure FinalState = "FAILURE"
)

// Outcome is the report sent to the master when a job ends.
type Outcome struct {
	FinalState FinalState `json:"final_state"`
	Result     any        `json:"result"`
	ErrorKind  string     `json:"exception_class,omitempty"`
	Message    string     `json:"exception_message,omitempty"`
	Trace      string     `json:"exception_traceback,omitempty"`
}
