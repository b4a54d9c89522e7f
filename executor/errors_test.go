package executor

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/isdmx/testbot/master"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"Classified", &Error{Kind: TimeoutError, Msg: "timeout"}, TimeoutError},
		{"WrappedClassified", fmt.Errorf("outer: %w", &Error{Kind: ExecutionError, Msg: "exit"}), ExecutionError},
		{"ChecksumMismatch", fmt.Errorf("download: %w", master.ErrChecksumMismatch), ConfigurationError},
		{"Unclassified", errors.New("disk full"), InfrastructureError},
		{"Joined", errors.Join(&Error{Kind: TimeoutError}, errors.New("upload")), TimeoutError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "boom", (&Error{Msg: "boom"}).Error())
	assert.Equal(t, "cause", (&Error{Err: errors.New("cause")}).Error())
	assert.Equal(t, "boom: cause", (&Error{Msg: "boom", Err: errors.New("cause")}).Error())
}

func TestTrace(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("prepare: %w", infraError("failed to get submission", cause))

	trace := Trace(err)
	assert.Contains(t, trace, "prepare: failed to get submission: connection refused")
	assert.Contains(t, trace, "*executor.Error")
	assert.Contains(t, trace, "\n    *errors.errorString: connection refused")

	joined := Trace(errors.Join(errors.New("a"), errors.New("b")))
	assert.Contains(t, joined, "  *errors.errorString: a")
	assert.Contains(t, joined, "  *errors.errorString: b")
}
