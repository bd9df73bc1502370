// Package wire implements the line-delimited JSON dialect spoken by the
// LM tool over its stdio pipes.
//
// The codec is pure: it owns no I/O and no state. Encoding produces
// single-line JSON payloads (without the trailing newline — the supervisor
// adds framing); decoding maps one stdout line to one [Event], a skip, or
// a typed error.
package wire

import (
	"errors"
	"fmt"

	"github.com/dmora/acpbridge"
	"github.com/dmora/acpbridge/internal/errfmt"
)

// ErrSkipLine signals that a line carries no event for the caller:
// blank lines, system/handshake chatter, and unknown message types.
var ErrSkipLine = errors.New("wire: skip line")

// MalformedLineError indicates a line that is not valid JSON.
// Snippet holds a bounded prefix of the offending line for diagnostics;
// the full line is never propagated.
type MalformedLineError struct {
	Snippet string
	Err     error
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("wire: malformed line: %v: %q", e.Err, e.Snippet)
}

func (e *MalformedLineError) Unwrap() error { return e.Err }

// MissingFieldError indicates a structurally valid JSON line that lacks
// a field required by its message type.
type MissingFieldError struct {
	// Type is the wire message type being decoded.
	Type string

	// Field is the missing or empty field, dotted for nesting.
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("wire: %s message missing field %s", e.Type, e.Field)
}

// Event is a decoded inbound wire message.
//
// Concrete types are [AssistantChunk] and [TurnResult].
type Event interface {
	event()
}

// Entry is one ordered element of an assistant message's content array.
// Exactly one of Text or Tool is set.
type Entry struct {
	// Text is the text block content, for text entries.
	Text string

	// Tool is the requested invocation, for tool_use entries.
	Tool *acpbridge.ToolCall
}

// AssistantChunk is one assistant message: an ordered mix of text and
// tool_use entries. Order is preserved exactly as it appeared on the wire.
type AssistantChunk struct {
	Entries []Entry
}

func (AssistantChunk) event() {}

// TurnResult terminates a model round-trip. StopReason is the raw wire
// string ("" when the field was absent or null); mapping to an ACP stop
// reason happens in the translate package.
type TurnResult struct {
	StopReason string
	Usage      *acpbridge.TokenUsage
}

func (TurnResult) event() {}

// snippet bounds a raw line for embedding in errors.
func snippet(line string) string {
	return errfmt.Snippet(line)
}
