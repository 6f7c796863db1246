// internal/chatsync/errors.go

package chatsync

import (
	"errors"
	"fmt"
)

var (
	ErrNoActiveConversation = errors.New("no active conversation selected")
	ErrProfileNotReady      = errors.New("profile not yet resolved")
	ErrEngineClosed         = errors.New("engine is shut down")
	ErrVoiceChannel         = errors.New("voice channels carry no message history")
)

// PreconditionError reports a send attempted before the engine state it
// needs has settled. It is user-facing (toast) and recoverable by retrying
// once the state is ready.
type PreconditionError struct {
	Reason error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed: %v", e.Reason)
}

func (e *PreconditionError) Unwrap() error { return e.Reason }

// BackendError wraps a durable-store failure. Loads and refreshes log it and
// fall back to the previous known-good state; sends surface it to the caller.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func backendErr(op string, err error) error {
	return &BackendError{Op: op, Err: err}
}
