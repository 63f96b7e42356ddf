package session

import (
	"errors"
	"fmt"
)

var (
	ErrSessionExpired = errors.New("session expired")
	ErrSessionExists  = errors.New("session already exists")
	ErrQueueFull      = errors.New("session queue is full")
)

// CommitError wraps a calendar write failure. Reason is shown to the user
// as is.
type CommitError struct {
	Reason string
	Err    error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit failed: %s", e.Reason)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}
