package executor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/isdmx/testbot/master"
)

// ErrorKind classifies why a job failed. The value is reported to the master
// verbatim.
type ErrorKind string

// Error kinds
const (
	ConfigurationError  ErrorKind = "ConfigurationError"
	TimeoutError        ErrorKind = "TimeoutError"
	ExecutionError      ErrorKind = "ExecutionError"
	InfrastructureError ErrorKind = "InfrastructureError"
)

// Error is a classified job failure.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func configErrorf(format string, args ...any) error {
	return &Error{Kind: ConfigurationError, Msg: fmt.Sprintf(format, args...)}
}

func infraError(msg string, err error) error {
	return &Error{Kind: InfrastructureError, Msg: msg, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
// Checksum mismatches are configuration errors; anything else unclassified
// is an infrastructure error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) && e.Kind != "" {
		return e.Kind
	}
	if errors.Is(err, master.ErrChecksumMismatch) {
		return ConfigurationError
	}
	return InfrastructureError
}

// Trace renders the chain of wrapped errors, outermost first.
func Trace(err error) string {
	var b strings.Builder
	for depth := 0; err != nil; depth++ {
		if depth > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s%T: %s", strings.Repeat("  ", depth), err, err.Error())
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				b.WriteString("\n")
				b.WriteString(indent(Trace(inner), depth+1))
			}
			break
		}
		err = errors.Unwrap(err)
	}
	return b.String()
}

func indent(s string, depth int) string {
	prefix := strings.Repeat("  ", depth)
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}
