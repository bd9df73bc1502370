// Package translate maps between the LM tool's wire dialect and the
// runtime vocabulary: prompts and tool results out, updates and stop
// reasons in.
package translate

import (
	"log/slog"
	"time"

	acp "github.com/coder/acp-go-sdk"

	"github.com/dmora/acpbridge"
	"github.com/dmora/acpbridge/internal/errfmt"
	"github.com/dmora/acpbridge/wire"
)

// Translator converts wire events to updates and prompt material to
// wire lines. It is stateless apart from its logger and safe for
// concurrent use.
type Translator struct {
	log *slog.Logger
}

// New creates a Translator. A nil logger means slog.Default().
func New(log *slog.Logger) *Translator {
	if log == nil {
		log = slog.Default()
	}
	return &Translator{log: log}
}

// PromptToWire encodes a user prompt for delivery on the subprocess stdin.
// Only text blocks are representable on the line protocol; any other
// block kind returns acpbridge.ErrUnsupportedContent.
func (t *Translator) PromptToWire(blocks []acp.ContentBlock) (string, error) {
	return wire.EncodeUserInput(blocks)
}

// ToolResultToWire encodes one tool result, echoing the tool_use id.
func (t *Translator) ToolResultToWire(toolUseID, content string) (string, error) {
	return wire.EncodeToolResult(toolUseID, content)
}

// UpdatesFromChunk converts an assistant chunk to updates, preserving
// entry arrival order. Text entries become TextChunk updates; tool_use
// entries become ToolCallRequested updates with status pending.
func (t *Translator) UpdatesFromChunk(chunk wire.AssistantChunk) []acpbridge.Update {
	var updates []acpbridge.Update
	now := time.Now()
	for _, e := range chunk.Entries {
		switch {
		case e.Tool != nil:
			updates = append(updates, acpbridge.Update{
				Type:      acpbridge.UpdateToolCallRequested,
				Tool:      e.Tool,
				Status:    acpbridge.StatusPending,
				Timestamp: now,
			})
		case e.Text != "":
			updates = append(updates, acpbridge.Update{
				Type:      acpbridge.UpdateTextChunk,
				Text:      e.Text,
				Timestamp: now,
			})
		}
	}
	return updates
}

// StopReason maps a raw wire stop_reason to its ACP equivalent.
//
// An absent reason means the turn ended normally. Unknown values map to
// end-turn rather than failing the turn — newer tool versions must not
// break the runtime — with a warning so operators notice the drift.
func (t *Translator) StopReason(raw string) acp.StopReason {
	switch raw {
	case "", "end_turn":
		return acp.StopReasonEndTurn
	case "max_tokens":
		return acp.StopReasonMaxTokens
	default:
		t.log.Warn("unknown stop_reason, treating as end_turn",
			"stop_reason", errfmt.SanitizeReason(raw))
		return acp.StopReasonEndTurn
	}
}
