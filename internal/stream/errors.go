package stream

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrInvalidTransition is returned when a transition function is called
// from a state that does not allow it.
var ErrInvalidTransition = errors.New("stream: invalid state transition")

// MalformedFragmentError reports a tool-call fragment that violates the
// merge rules. The stream fails; content applied so far is kept.
type MalformedFragmentError struct {
	Index  int
	ID     string
	Reason string
}

func (e *MalformedFragmentError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("malformed fragment: tool call %d (%s): %s", e.Index, e.ID, e.Reason)
	}
	return fmt.Sprintf("malformed fragment: tool call %d: %s", e.Index, e.Reason)
}

// TransportError covers network failures, non-2xx responses, and bodies
// that cannot be decoded. It is never retried automatically.
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("transport: API error (%d): %s", e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("transport: API error (%d)", e.StatusCode)
	case e.Body != "":
		return "transport: API error: " + e.Body
	case e.Err != nil:
		return fmt.Sprintf("transport: %v", e.Err)
	default:
		return "transport: unknown error"
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether a caller-side retry policy may try again:
// rate limits, server errors and failures that never got a response.
func (e *TransportError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == 0:
		return e.Err != nil
	default:
		return false
	}
}

// CancelledError marks a stream stopped by its cancellation token. It is
// an expected outcome, not a failure.
type CancelledError struct {
	Reason Reason
}

func (e *CancelledError) Error() string {
	return "stream cancelled: " + e.Reason.String()
}

// IsCancelled reports whether err is a CancelledError.
func IsCancelled(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce)
}
