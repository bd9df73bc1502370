package acpbridge

import (
	"errors"
	"strconv"
)

// Sentinel errors for runtime operations.
var (
	// ErrUnavailable indicates the LM tool cannot start
	// (binary not found, not executable).
	ErrUnavailable = errors.New("acpbridge: lm tool unavailable")

	// ErrTerminated indicates the session was shut down deliberately.
	ErrTerminated = errors.New("acpbridge: session terminated")

	// ErrSessionNotFound indicates the requested session does not exist.
	ErrSessionNotFound = errors.New("acpbridge: session not found")

	// ErrTurnActive indicates the session already has a turn running.
	// Sessions run at most one turn at a time.
	ErrTurnActive = errors.New("acpbridge: turn already active")

	// ErrProcessCrashed indicates the subprocess exited or closed its
	// stdout without a requested shutdown. The turn that observed it
	// ends in an error, never in a stop reason.
	ErrProcessCrashed = errors.New("acpbridge: lm process crashed")

	// ErrUnsupportedContent indicates a prompt contained non-text
	// content blocks, which the line protocol cannot carry.
	ErrUnsupportedContent = errors.New("acpbridge: unsupported content block")
)

// ProcessExitError represents a subprocess that exited with a non-zero
// status. Wraps the underlying error to preserve the error chain —
// consumers can errors.As to *exec.ExitError for OS-level detail.
//
// Code semantics: positive = exit status, negative (-1) = signal-killed.
//
// The supervisor produces ProcessExitError only for natural exits.
// Requested shutdowns (via Handle.Shutdown) produce ErrTerminated instead.
type ProcessExitError struct {
	Code int
	Err  error
}

func (e *ProcessExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "acpbridge: exit status " + strconv.Itoa(e.Code)
}

func (e *ProcessExitError) Unwrap() error { return e.Err }

// ExitCode extracts the exit code from an error chain containing
// *ProcessExitError. Returns (0, false) if the chain has none.
func ExitCode(err error) (int, bool) {
	var exitErr *ProcessExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}
