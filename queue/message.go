package queue

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/isdmx/testbot/master"
)

// Message is the body of a job dispatch.
type Message struct {
	SubmissionID int64  `json:"submission_id"`
	TestConfigID int64  `json:"test_config_id"`
	WorkID       string `json:"work_id,omitempty"`
}

// Decode parses a dispatch. A missing work id is replaced by a fresh UUID.
func Decode(data []byte) (master.JobRef, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return master.JobRef{}, fmt.Errorf("invalid job message: %w", err)
	}
	if msg.SubmissionID <= 0 {
		return master.JobRef{}, fmt.Errorf("invalid job message: submission_id is required")
	}
	if msg.TestConfigID <= 0 {
		return master.JobRef{}, fmt.Errorf("invalid job message: test_config_id is required")
	}
	if msg.WorkID == "" {
		msg.WorkID = uuid.NewString()
	}
	return master.JobRef{SubmissionID: msg.SubmissionID, TestConfigID: msg.TestConfigID, WorkID: msg.WorkID}, nil
}

// Encode renders a dispatch for ref.
func Encode(ref master.JobRef) ([]byte, error) {
	return json.Marshal(Message{SubmissionID: ref.SubmissionID, TestConfigID: ref.TestConfigID, WorkID: ref.WorkID})
}

// Subject returns the subject jobs of kind are dispatched on.
func Subject(prefix string, kind master.Kind) string {
	return prefix + "." + string(kind)
}
