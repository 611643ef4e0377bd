package session

import (
	"errors"
	"fmt"
	"os/exec"

	"github.com/bazelment/agentbridge/transport"
)

// Sentinel errors for common error conditions.
var (
	ErrInvalidState               = errors.New("invalid session state")
	ErrTurnInProgress             = errors.New("a turn is already in progress")
	ErrUnknownPermissionRequest   = errors.New("unknown permission request")
	ErrNoResumeID                 = errors.New("no backend session id to resume")
	ErrSessionClosed              = errors.New("session is closed")
	ErrSessionTerminated          = errors.New("session terminated")
	ErrControlProtocolUnsupported = errors.New("backend does not support runtime permission requests")
)

// StateError reports an operation attempted in a state that does not
// allow it.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: not allowed in state %s", e.Op, e.State)
}

func (e *StateError) Unwrap() error {
	switch e.State {
	case StateClosed:
		return ErrSessionClosed
	case StateTerminated:
		return ErrSessionTerminated
	}
	return ErrInvalidState
}

// Is lets errors.Is match ErrInvalidState for every StateError, in
// addition to the closed and terminated sentinels returned by Unwrap.
func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}

// ProcessError reports a backend process that exited without being asked to.
type ProcessError struct {
	Backend string
	Status  transport.ExitStatus
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("%s CLI process exited unexpectedly (%s)", e.Backend, e.Status)
}

// IsRecoverable returns true if the error is recoverable.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}

	// A missing binary stays missing.
	if errors.Is(err, exec.ErrNotFound) {
		return false
	}

	// Crashed sessions need an explicit Resume.
	var procErr *ProcessError
	if errors.As(err, &procErr) {
		return false
	}
	if errors.Is(err, ErrSessionTerminated) {
		return false
	}

	if errors.Is(err, ErrSessionClosed) {
		return false
	}

	return true
}
