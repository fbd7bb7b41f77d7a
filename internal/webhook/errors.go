package webhook

import (
	"fmt"
	"strings"
)

// TransportError reports a failed exchange with the webhook service:
// either the request never completed or the service answered with a
// non-success HTTP status.
type TransportError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webhook %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("webhook %s: unexpected status %d", e.Op, e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Err }

// FormatError reports a response body that matched none of the known
// envelope shapes, or that matched an envelope but was missing the fields
// the operation requires.
type FormatError struct {
	Op     string
	Detail string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("webhook %s: unrecognized response format: %s", e.Op, e.Detail)
}

// ValidationError reports an input rejection by the service itself
// (status "error" with a list of field complaints).
type ValidationError struct {
	Op     string
	Fields []string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("webhook %s: service rejected the request", e.Op)
	}
	return fmt.Sprintf("webhook %s: service rejected the request: %s", e.Op, strings.Join(e.Fields, "; "))
}

// IncompleteResponseError reports a completion response missing one or
// more required result fields. Such responses are never silently accepted.
type IncompleteResponseError struct {
	Op      string
	Missing []string
}

func (e *IncompleteResponseError) Error() string {
	return fmt.Sprintf("webhook %s: response missing required fields: %s", e.Op, strings.Join(e.Missing, ", "))
}
