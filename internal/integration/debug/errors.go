package debug

import (
	"errors"
	"fmt"
)

// Sentinel errors carried in Result.Err.
var (
	// ErrNoSession is returned when a command needs an active session.
	ErrNoSession = errors.New("no active debug session")

	// ErrBusy is returned when the same operation is already in flight.
	ErrBusy = errors.New("busy")

	// ErrInvalidState is returned when the session state does not allow the
	// command, e.g. stepping while the target runs.
	ErrInvalidState = errors.New("invalid session state")

	// ErrSessionActive is returned by Start while a session exists.
	ErrSessionActive = errors.New("debug session already active")

	// ErrBuildFailed is returned by Start when the build service fails.
	ErrBuildFailed = errors.New("build failed")

	// ErrNoDevice is returned by Start when no target device is connected.
	ErrNoDevice = errors.New("no device connected")

	// ErrNoBreakpoint is returned when no breakpoint exists at a location.
	ErrNoBreakpoint = errors.New("no breakpoint at location")

	// ErrStartAborted is returned by Start when the session was stopped or
	// lost while Start was connecting or building.
	ErrStartAborted = errors.New("session start aborted")

	// ErrTimeout is reported when a command or session round trip did not
	// complete in time.
	ErrTimeout = errors.New("debug operation timed out")

	// ErrConnectionLost is reported when the transport drops mid-session.
	ErrConnectionLost = errors.New("connection to debug agent lost")
)

// BackendError is an explicit error event from the remote agent.
type BackendError struct {
	Message string
	Code    string

	// During is the session state in which the error arrived.
	During State
}

func (e *BackendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("debug agent error %s (while %s): %s", e.Code, e.During, e.Message)
	}
	return fmt.Sprintf("debug agent error (while %s): %s", e.During, e.Message)
}

// TimeoutError records which operation timed out.
type TimeoutError struct {
	Op Op
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, ErrTimeout)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}
