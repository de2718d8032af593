package protocol

import "fmt"

// StatusError is an error carrying the HTTP status code it should be reported
// as. Parse and policy failures travel as StatusError until the dispatch
// boundary converts them into responses.
type StatusError struct {
	Code   int
	Reason string
}

// NewStatusError returns a StatusError for the given code with an optional
// detail message.
func NewStatusError(code int, reason string) *StatusError {
	if reason == "" {
		reason = ReasonPhrase(code)
	}
	return &StatusError{Code: code, Reason: reason}
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s", e.Code, e.Reason)
}

// StatusFromError extracts the status code from err, defaulting to 500 for
// errors that do not carry one.
func StatusFromError(err error) int {
	if se, ok := err.(*StatusError); ok {
		return se.Code
	}
	return StatusInternalServerError
}
