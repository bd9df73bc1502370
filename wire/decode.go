package wire

import (
	"encoding/json"
	"strings"

	"github.com/dmora/acpbridge"
)

// DecodeLine decodes a single stdout line from the LM tool.
//
// Returns [ErrSkipLine] for blank lines, system/handshake messages, and
// unknown message types — unknown types are skipped, not failed, so newer
// tool versions don't break the runtime. Structural problems return
// *[MalformedLineError] or *[MissingFieldError].
func DecodeLine(line string) (Event, error) {
	if strings.TrimSpace(line) == "" {
		return nil, ErrSkipLine
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil, &MalformedLineError{Snippet: snippet(line), Err: err}
	}

	typeStr, ok := raw["type"].(string)
	if !ok || typeStr == "" {
		return nil, &MissingFieldError{Type: "message", Field: "type"}
	}

	switch typeStr {
	case "system":
		// Covers the init handshake (subtype "init") and other chatter.
		return nil, ErrSkipLine
	case "assistant":
		return decodeAssistant(raw)
	case "result":
		return decodeResult(raw), nil
	default:
		return nil, ErrSkipLine
	}
}

// decodeAssistant extracts the ordered content entries of an assistant
// message. Text and tool_use entries are kept in arrival order; block
// types this runtime doesn't know are passed over without disturbing
// the order of the rest.
func decodeAssistant(raw map[string]any) (Event, error) {
	message, ok := raw["message"].(map[string]any)
	if !ok {
		return nil, &MissingFieldError{Type: "assistant", Field: "message"}
	}
	contentArr, ok := message["content"].([]any)
	if !ok {
		return nil, &MissingFieldError{Type: "assistant", Field: "message.content"}
	}

	chunk := AssistantChunk{}
	for _, c := range contentArr {
		cm, ok := c.(map[string]any)
		if !ok {
			continue
		}
		switch getString(cm, "type") {
		case "text":
			chunk.Entries = append(chunk.Entries, Entry{Text: getString(cm, "text")})
		case "tool_use":
			tool, err := decodeToolUse(cm)
			if err != nil {
				return nil, err
			}
			chunk.Entries = append(chunk.Entries, Entry{Tool: tool})
		}
	}
	return chunk, nil
}

// decodeToolUse builds a ToolCall from a tool_use content block.
// id and name are required — a result could not be correlated without them.
func decodeToolUse(cm map[string]any) (*acpbridge.ToolCall, error) {
	tool := &acpbridge.ToolCall{
		ID:   getString(cm, "id"),
		Name: getString(cm, "name"),
	}
	if tool.ID == "" {
		return nil, &MissingFieldError{Type: "tool_use", Field: "id"}
	}
	if tool.Name == "" {
		return nil, &MissingFieldError{Type: "tool_use", Field: "name"}
	}
	if input, ok := cm["input"]; ok {
		if data, err := json.Marshal(input); err == nil {
			tool.Input = data
		}
	}
	return tool, nil
}

// decodeResult handles "result" messages (round-trip completion).
// stop_reason and usage are both optional on the wire.
func decodeResult(raw map[string]any) Event {
	return TurnResult{
		StopReason: getString(raw, "stop_reason"),
		Usage:      extractUsage(raw),
	}
}

// extractUsage extracts token counts from a result message.
// Returns nil if no meaningful usage data is present (not &TokenUsage{0,0}).
func extractUsage(raw map[string]any) *acpbridge.TokenUsage {
	usage, ok := raw["usage"].(map[string]any)
	if !ok {
		return nil
	}
	in := getInt(usage, "input_tokens")
	out := getInt(usage, "output_tokens")
	if in == 0 && out == 0 {
		return nil
	}
	return &acpbridge.TokenUsage{InputTokens: in, OutputTokens: out}
}

// --- Safe JSON extraction helpers ---

// getString safely extracts a string field from a map.
func getString(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

// getInt safely extracts a numeric field as int from a map.
// JSON numbers are decoded as float64 by encoding/json.
func getInt(m map[string]any, key string) int {
	v, ok := m[key].(float64)
	if !ok {
		return 0
	}
	return int(v)
}
