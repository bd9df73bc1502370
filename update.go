package acpbridge

import (
	"encoding/json"
	"time"

	acp "github.com/coder/acp-go-sdk"
)

// UpdateType identifies the kind of update emitted during a turn.
type UpdateType string

const (
	// UpdateTextChunk is assistant text, emitted in arrival order.
	UpdateTextChunk UpdateType = "text_chunk"

	// UpdateToolCallRequested indicates the model asked to invoke a tool.
	UpdateToolCallRequested UpdateType = "tool_call_requested"

	// UpdateToolCallStatus reports a status change for an in-flight tool call.
	UpdateToolCallStatus UpdateType = "tool_call_status"
)

// ToolCallStatus is the lifecycle state of a dispatched tool call.
type ToolCallStatus string

const (
	// StatusPending means the call was decoded but not yet dispatched.
	StatusPending ToolCallStatus = "pending"

	// StatusInProgress means the executor is running the call.
	StatusInProgress ToolCallStatus = "in_progress"

	// StatusCompleted means the executor returned a successful result.
	StatusCompleted ToolCallStatus = "completed"

	// StatusFailed means the executor returned a failure result.
	StatusFailed ToolCallStatus = "failed"

	// StatusDenied means the permission gate rejected the call.
	// Denied calls still produce a synthesized failure result on the wire.
	StatusDenied ToolCallStatus = "denied"
)

// ToolCall describes a tool invocation requested by the model.
type ToolCall struct {
	// ID is the wire-level tool_use identifier. Results must echo it.
	ID string `json:"id"`

	// Name is the tool identifier.
	Name string `json:"name"`

	// Input is the tool's input parameters as raw JSON.
	Input json.RawMessage `json:"input,omitempty"`
}

// Update is a structured output emitted while a turn runs.
type Update struct {
	// Type identifies the kind of update.
	Type UpdateType `json:"type"`

	// Text is the chunk content (for TextChunk updates).
	Text string `json:"text,omitempty"`

	// Tool carries tool call details (for tool call updates).
	Tool *ToolCall `json:"tool,omitempty"`

	// Status is the tool call lifecycle state (for tool call updates).
	Status ToolCallStatus `json:"status,omitempty"`

	// Timestamp is when the update was produced.
	Timestamp time.Time `json:"timestamp"`
}

// TokenUsage contains token counts reported by the model.
type TokenUsage struct {
	// InputTokens is the cumulative context window fill.
	InputTokens int `json:"input_tokens"`

	// OutputTokens is the number of tokens generated.
	OutputTokens int `json:"output_tokens"`
}

// TurnOutcome describes how a completed turn ended.
//
// StopReason is always one of the ACP stop reasons: end_turn, max_tokens,
// max_turn_requests, refusal, or cancelled. Runtime failures (a crashed
// subprocess, an I/O error) are never encoded as a stop reason — they
// surface as errors from Turn.Outcome instead.
type TurnOutcome struct {
	// StopReason is why the turn ended.
	StopReason acp.StopReason `json:"stop_reason"`

	// Usage is the model-reported token usage, if any was observed.
	Usage *TokenUsage `json:"usage,omitempty"`
}
