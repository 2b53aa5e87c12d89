package sync

import (
	"errors"
	"fmt"
)

// Common errors returned by sync operations.
//
// These errors can be checked using errors.Is() / errors.As():
//
//	if sync.IsTransient(err) {
//	    // Leave the entry in place; the next trigger retries.
//	}
var (
	// ErrOffline is returned by the remote client when the device has no
	// connectivity at all.
	ErrOffline = errors.New("remote store unreachable")

	// ErrStorage wraps local store failures. A storage failure aborts the
	// current pass only and must never corrupt the outbox.
	ErrStorage = errors.New("local storage error")
)

// TransientError marks a network failure that is expected to succeed on a
// later trigger. No data is lost; the entry stays in the outbox.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient network error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// RejectedError marks a push payload the remote store refused. The entry
// is retained with an incremented attempt count and never silently
// dropped; past the attempt ceiling it is flagged for manual review.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("remote rejected change (status %d): %s", e.StatusCode, e.Message)
}

// IsTransient returns true if the error should be retried on the next
// trigger without operator involvement.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	return errors.As(err, &te) || errors.Is(err, ErrOffline)
}

// IsRejected returns true if the remote store refused the payload.
func IsRejected(err error) bool {
	if err == nil {
		return false
	}
	var re *RejectedError
	return errors.As(err, &re)
}
