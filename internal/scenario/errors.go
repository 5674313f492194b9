package scenario

import (
	"errors"
	"fmt"
	"time"

	"github.com/wesleyorama2/surge/internal/capture"
)

// ErrInvalidArguments marks an emit step that cannot be sent at all: missing
// channel, or no usable connection.
var ErrInvalidArguments = errors.New("invalid arguments")

// DataMismatchError reports an exact-data expectation that failed.
type DataMismatchError struct {
	Channel  string
	Expected string
	Got      string
}

func (e *DataMismatchError) Error() string {
	return fmt.Sprintf("data mismatch on %q: expected %s, got %s", e.Channel, e.Expected, e.Got)
}

// MatchFailureError reports one or more failed capture/match assertions.
type MatchFailureError struct {
	Channel string
	Results []capture.Result
}

func (e *MatchFailureError) Error() string {
	for _, r := range e.Results {
		if !r.OK {
			return fmt.Sprintf("match failure on %q: %s (got %s)", e.Channel, r.Expression, r.Got)
		}
	}
	return fmt.Sprintf("match failure on %q", e.Channel)
}

// TimeoutError reports a step whose required responses did not all arrive in
// time.
type TimeoutError struct {
	Timeout  time.Duration
	Received int
	Required int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("response timeout after %s: received %d of %d", e.Timeout, e.Received, e.Required)
}

// ConnectionError reports a transport-level failure while establishing or
// using a channel client.
type ConnectionError struct {
	Namespace string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error on namespace %q: %v", e.Namespace, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// errorReason maps an error to the short reason string carried by error
// events.
func errorReason(err error) string {
	var (
		mismatch *DataMismatchError
		match    *MatchFailureError
		timeout  *TimeoutError
		conn     *ConnectionError
	)
	switch {
	case errors.Is(err, ErrInvalidArguments):
		return "invalid arguments"
	case errors.As(err, &mismatch):
		return "data mismatch"
	case errors.As(err, &match):
		return "match failure"
	case errors.As(err, &timeout):
		return "response timeout"
	case errors.As(err, &conn):
		return "connection error"
	default:
		return err.Error()
	}
}
