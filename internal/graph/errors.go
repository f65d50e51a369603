package graph

import (
	"errors"
	"fmt"
	"net/http"
)

// Class buckets every gateway failure into the four outcomes callers act on.
type Class string

const (
	// ClassAuth (401/403): the bearer credential is invalid or forbidden.
	// Signals the credential gate; never retried.
	ClassAuth Class = "auth_invalid"
	// ClassRateLimited (429): retry with backoff honoring Retry-After.
	ClassRateLimited Class = "rate_limited"
	// ClassTransient (5xx or network): retry with exponential backoff.
	ClassTransient Class = "transient"
	// ClassFatal: any other 4xx, never retried.
	ClassFatal Class = "fatal"
)

// ErrCursorExpired is returned when the provider answers a delta request
// with HTTP 410: the stored cursor is no longer valid and the caller must
// re-enumerate from scratch.
var ErrCursorExpired = errors.New("delta cursor expired")

// Error is the typed failure surfaced by every gateway call.
type Error struct {
	Class   Class
	Status  int // HTTP status when one was received, else 0
	Op      string
	Message string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("graph: %s: %s (HTTP %d): %s", e.Op, e.Class, e.Status, e.Message)
	}
	return fmt.Sprintf("graph: %s: %s: %s", e.Op, e.Class, e.Message)
}

// classify maps an HTTP status to an error class.
func classify(status int) Class {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ClassAuth
	case status == http.StatusTooManyRequests:
		return ClassRateLimited
	case status >= 500:
		return ClassTransient
	default:
		return ClassFatal
	}
}

// IsAuth reports whether err carries a credential failure. Workers call
// Gate.Disable when they see one.
func IsAuth(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Class == ClassAuth
}

// IsRetryable reports whether err is worth retrying (rate limited or
// transient).
func IsRetryable(err error) bool {
	var ge *Error
	if !errors.As(err, &ge) {
		return false
	}
	return ge.Class == ClassRateLimited || ge.Class == ClassTransient
}
