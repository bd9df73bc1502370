package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dmora/acpbridge"
	"github.com/dmora/acpbridge/turn"
)

// MCPExecutor forwards tool calls to an MCP server spawned over stdio.
type MCPExecutor struct {
	client *client.Client
}

// NewMCPExecutor spawns the MCP server and completes the protocol
// handshake. command is the server binary; args are passed through.
func NewMCPExecutor(ctx context.Context, command string, args ...string) (*MCPExecutor, error) {
	c, err := client.NewStdioMCPClient(command, nil, args...)
	if err != nil {
		return nil, fmt.Errorf("toolexec: start mcp server %s: %w", command, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "acpbridge",
		Version: "0.1.0",
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("toolexec: initialize mcp server %s: %w", command, err)
	}

	return &MCPExecutor{client: c}, nil
}

// Close stops the MCP server.
func (e *MCPExecutor) Close() error {
	return e.client.Close()
}

// Names lists the tools the server advertises.
func (e *MCPExecutor) Names(ctx context.Context) ([]string, error) {
	res, err := e.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("toolexec: list mcp tools: %w", err)
	}
	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	return names, nil
}

// Execute forwards one call to the MCP server. Protocol failures return
// an error; tool-level failures (IsError results) come back as failed
// results for the model.
func (e *MCPExecutor) Execute(ctx context.Context, sessionID string, call acpbridge.ToolCall) (turn.ToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = call.Name
	if len(call.Input) > 0 {
		var args map[string]any
		if err := json.Unmarshal(call.Input, &args); err != nil {
			return turn.ToolResult{
				Content: fmt.Sprintf("invalid input for tool %q: %v", call.Name, err),
			}, nil
		}
		req.Params.Arguments = args
	}

	res, err := e.client.CallTool(ctx, req)
	if err != nil {
		return turn.ToolResult{}, fmt.Errorf("toolexec: call mcp tool %q: %w", call.Name, err)
	}

	return turn.ToolResult{
		Content: flattenContent(res.Content),
		Success: !res.IsError,
	}, nil
}

// flattenContent joins the text parts of an MCP result. Non-text parts
// are noted by type rather than dropped silently.
func flattenContent(parts []mcp.Content) string {
	var b strings.Builder
	for _, part := range parts {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		if tc, ok := part.(mcp.TextContent); ok {
			b.WriteString(tc.Text)
		} else {
			fmt.Fprintf(&b, "[unsupported content: %T]", part)
		}
	}
	return b.String()
}
