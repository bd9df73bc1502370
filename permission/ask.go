package permission

import (
	"context"
	"encoding/json"
	"fmt"

	acp "github.com/coder/acp-go-sdk"

	"github.com/dmora/acpbridge"
	"github.com/dmora/acpbridge/turn"
)

const (
	optionAllow = "allow"
	optionDeny  = "deny"
)

// PermissionRequester is the slice of the editor connection the asking
// gate needs.
type PermissionRequester interface {
	RequestPermission(ctx context.Context, params acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error)
}

// AskGate forwards permission decisions to the connected editor and
// blocks until the user answers. Cancelled or malformed outcomes deny.
type AskGate struct {
	conn PermissionRequester
}

// NewAskGate creates a gate asking over conn.
func NewAskGate(conn PermissionRequester) *AskGate {
	return &AskGate{conn: conn}
}

// Check asks the editor whether the call may run.
func (g *AskGate) Check(ctx context.Context, sessionID string, call acpbridge.ToolCall) (turn.Verdict, error) {
	var rawInput map[string]any
	if len(call.Input) > 0 {
		_ = json.Unmarshal(call.Input, &rawInput)
	}

	resp, err := g.conn.RequestPermission(ctx, acp.RequestPermissionRequest{
		SessionId: acp.SessionId(sessionID),
		ToolCall: acp.RequestPermissionToolCall{
			ToolCallId: acp.ToolCallId(call.ID),
			Title:      acp.Ptr(fmt.Sprintf("Run %s", call.Name)),
			Kind:       acp.Ptr(toolKind(call.Name)),
			Status:     acp.Ptr(acp.ToolCallStatusPending),
			RawInput:   rawInput,
		},
		Options: []acp.PermissionOption{
			{Kind: acp.PermissionOptionKindAllowOnce, Name: "Allow", OptionId: acp.PermissionOptionId(optionAllow)},
			{Kind: acp.PermissionOptionKindRejectOnce, Name: "Deny", OptionId: acp.PermissionOptionId(optionDeny)},
		},
	})
	if err != nil {
		return turn.Verdict{}, fmt.Errorf("permission: request failed: %w", err)
	}

	if resp.Outcome.Cancelled != nil {
		return turn.Deny("permission request cancelled"), nil
	}
	if resp.Outcome.Selected == nil {
		return turn.Deny("no permission option selected"), nil
	}
	switch string(resp.Outcome.Selected.OptionId) {
	case optionAllow:
		return turn.Allow(), nil
	case optionDeny:
		return turn.Deny("denied by user"), nil
	default:
		return turn.Deny(fmt.Sprintf("unexpected permission option %q", resp.Outcome.Selected.OptionId)), nil
	}
}

// toolKind maps common tool names to ACP kinds for nicer editor UI.
func toolKind(name string) acp.ToolKind {
	switch name {
	case "read_file", "read", "cat":
		return acp.ToolKindRead
	case "write_file", "edit_file", "write", "edit":
		return acp.ToolKindEdit
	case "run_shell", "shell", "bash", "exec":
		return acp.ToolKindExecute
	case "search", "grep", "glob":
		return acp.ToolKindSearch
	default:
		return acp.ToolKindOther
	}
}
