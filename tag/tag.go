package tag

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
)

// Marker range: every generated marker carries an 8-digit number.
const (
	minMarker = 10_000_000
	maxMarker = 99_999_999
)

// Tags holds the per-job result and error markers.
type Tags struct {
	Result string
	Error  string
}

// Generate derives a result and an error marker from one random number.
func Generate() Tags {
	n := minMarker + rand.IntN(maxMarker-minMarker+1)
	return Tags{
		Result: fmt.Sprintf("##RESULT%d##", n),
		Error:  fmt.Sprintf("##ERROR%d##", n),
	}
}

// ExtractResult returns the payload of the last line starting with resultTag.
// The payload is decoded as JSON when it is a valid JSON document, with
// numbers kept as json.Number; otherwise the raw text is returned. The second
// return value is false when no result line was found.
func ExtractResult(output []byte, resultTag string) (any, bool) {
	if len(output) == 0 || resultTag == "" {
		return nil, false
	}

	var (
		payload string
		found   bool
	)
	for _, line := range splitLines(output) {
		if rest, ok := strings.CutPrefix(line, resultTag); ok {
			payload = strings.TrimSpace(rest)
			found = true
		}
	}
	if !found {
		return nil, false
	}
	return decodePayload(payload), true
}

// ExtractErrors returns the payload of every line starting with errorTag, in
// order. The result is never nil.
func ExtractErrors(output []byte, errorTag string) []string {
	errs := []string{}
	if len(output) == 0 || errorTag == "" {
		return errs
	}
	for _, line := range splitLines(output) {
		if rest, ok := strings.CutPrefix(line, errorTag); ok {
			errs = append(errs, strings.TrimSpace(rest))
		}
	}
	return errs
}

// FormatResult renders v as a result line, the way a harness prints it.
func FormatResult(resultTag string, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return resultTag + string(b), nil
}

// FormatError renders msg as an error line.
func FormatError(errorTag, msg string) string {
	return errorTag + msg
}

// splitLines returns the trimmed, non-empty lines of output.
func splitLines(output []byte) []string {
	raw := strings.Split(string(output), "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func decodePayload(payload string) any {
	if !json.Valid([]byte(payload)) {
		return payload
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return payload
	}
	return v
}
