package turn

import (
	"context"
	"time"

	"github.com/dmora/acpbridge"
)

// ToolExecutor runs tool calls requested by the model.
//
// Execution failures are data, not transport errors: a failed tool still
// produces a result line for the model. Implementations should return an
// error only when the failure text itself cannot be produced.
type ToolExecutor interface {
	// Execute runs one tool call and returns its result.
	Execute(ctx context.Context, sessionID string, call acpbridge.ToolCall) (ToolResult, error)
}

// ToolResult is the outcome of one tool execution.
type ToolResult struct {
	// Content is the text delivered back to the model.
	Content string

	// Success reports whether the tool ran successfully. Failed results
	// are still delivered — the model decides how to proceed.
	Success bool
}

// PermissionGate authorizes tool calls before dispatch.
//
// The gate returns a resolved verdict: implementations that ask a human
// block until the answer arrives. A gate error is treated as a denial.
type PermissionGate interface {
	// Check decides whether the call may run.
	Check(ctx context.Context, sessionID string, call acpbridge.ToolCall) (Verdict, error)
}

// Verdict is a resolved permission decision.
type Verdict struct {
	Allowed bool

	// Reason explains a denial; it is surfaced to the model in the
	// synthesized failure result.
	Reason string
}

// Allow is the verdict permitting a call.
func Allow() Verdict { return Verdict{Allowed: true} }

// Deny is the verdict rejecting a call with a reason.
func Deny(reason string) Verdict { return Verdict{Reason: reason} }

// SessionStore persists session metadata across runtime restarts.
// The runtime treats store failures as non-fatal: turns never die
// because bookkeeping could not be written.
type SessionStore interface {
	Put(ctx context.Context, rec SessionRecord) error
	Get(ctx context.Context, id string) (SessionRecord, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]SessionRecord, error)
}

// SessionRecord is the persisted view of a session.
type SessionRecord struct {
	ID             string
	CWD            string
	Model          string
	State          acpbridge.SessionState
	TurnCount      int
	LastStopReason string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
