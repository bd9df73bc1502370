package wire

import (
	"encoding/json"
	"fmt"

	acp "github.com/coder/acp-go-sdk"

	"github.com/dmora/acpbridge"
)

// EncodeUserInput builds the outbound line for a user prompt.
//
// The LM tool's stdin dialect carries user text as a single string payload,
// so only text blocks are representable. Any other block kind returns
// [acpbridge.ErrUnsupportedContent] — callers that want lossy delivery
// must filter before encoding. Adjacent text blocks are flattened in order.
func EncodeUserInput(blocks []acp.ContentBlock) (string, error) {
	text, err := flattenText(blocks)
	if err != nil {
		return "", err
	}
	return marshalUserLine(text)
}

// EncodeToolResult builds the outbound line carrying one tool result.
// The result is wrapped in a tool_result entry echoing the tool_use id
// so the model can correlate it with its request.
func EncodeToolResult(toolUseID, content string) (string, error) {
	payload := []any{
		map[string]any{
			"tool_use_id": toolUseID,
			"type":        "tool_result",
			"content": []any{
				map[string]any{"type": "text", "text": content},
			},
		},
	}
	return marshalUserLine(payload)
}

// marshalUserLine wraps content in the user message envelope.
// content is either a flat string (prompt) or an array (tool results).
func marshalUserLine(content any) (string, error) {
	line := map[string]any{
		"type": "user",
		"message": map[string]any{
			"role":    "user",
			"content": content,
		},
	}
	data, err := json.Marshal(line)
	if err != nil {
		return "", fmt.Errorf("wire: marshal user line: %w", err)
	}
	return string(data), nil
}

// flattenText concatenates text blocks, rejecting all other kinds.
func flattenText(blocks []acp.ContentBlock) (string, error) {
	var out string
	for _, b := range blocks {
		if b.Text == nil {
			return "", fmt.Errorf("%w: %s", acpbridge.ErrUnsupportedContent, blockKind(b))
		}
		out += b.Text.Text
	}
	return out, nil
}

// blockKind names a content block variant for error messages.
func blockKind(b acp.ContentBlock) string {
	switch {
	case b.Text != nil:
		return "text"
	case b.Image != nil:
		return "image"
	default:
		return "non-text"
	}
}
