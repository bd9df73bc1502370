// Package server exposes the turn runtime as an ACP agent: editor
// requests map to runtime operations, runtime updates map to session
// notifications.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	acp "github.com/coder/acp-go-sdk"

	"github.com/dmora/acpbridge"
	"github.com/dmora/acpbridge/turn"
)

// notifier is the outbound slice of the editor connection.
type notifier interface {
	SessionUpdate(ctx context.Context, params acp.SessionNotification) error
}

// turnHandle is what the forwarding loop needs from a turn.
type turnHandle interface {
	Updates() <-chan acpbridge.Update
	Outcome() (acpbridge.TurnOutcome, error)
}

// Agent implements the ACP agent interface over a turn.Runtime.
type Agent struct {
	rt          *turn.Runtime
	model       string
	sessionOpts map[string]string
	log         *slog.Logger
	conn        notifier
}

var _ acp.Agent = (*Agent)(nil)

// New creates an agent. model and sessionOpts are applied to every new
// session; empty means the subprocess defaults. Bind the connection
// before serving.
func New(rt *turn.Runtime, model string, sessionOpts map[string]string, log *slog.Logger) *Agent {
	if log == nil {
		log = slog.Default()
	}
	return &Agent{rt: rt, model: model, sessionOpts: sessionOpts, log: log}
}

// Bind attaches the editor connection used for session notifications.
func (a *Agent) Bind(conn notifier) {
	a.conn = conn
}

func (a *Agent) Initialize(_ context.Context, _ acp.InitializeRequest) (acp.InitializeResponse, error) {
	return acp.InitializeResponse{
		ProtocolVersion:   acp.ProtocolVersionNumber,
		AgentCapabilities: acp.AgentCapabilities{LoadSession: false},
	}, nil
}

func (a *Agent) Authenticate(_ context.Context, _ acp.AuthenticateRequest) (acp.AuthenticateResponse, error) {
	return acp.AuthenticateResponse{}, nil
}

func (a *Agent) NewSession(ctx context.Context, req acp.NewSessionRequest) (acp.NewSessionResponse, error) {
	id, err := a.rt.CreateSession(ctx, acpbridge.Session{
		CWD:     req.Cwd,
		Model:   a.model,
		Options: a.sessionOpts,
	})
	if err != nil {
		return acp.NewSessionResponse{}, err
	}
	return acp.NewSessionResponse{SessionId: acp.SessionId(id)}, nil
}

func (a *Agent) SetSessionMode(_ context.Context, _ acp.SetSessionModeRequest) (acp.SetSessionModeResponse, error) {
	return acp.SetSessionModeResponse{}, nil
}

func (a *Agent) Cancel(_ context.Context, n acp.CancelNotification) error {
	a.rt.CancelTurn(string(n.SessionId))
	return nil
}

func (a *Agent) Prompt(ctx context.Context, req acp.PromptRequest) (acp.PromptResponse, error) {
	t, err := a.rt.OpenTurn(ctx, string(req.SessionId), req.Prompt)
	if err != nil {
		return acp.PromptResponse{}, err
	}
	stop, err := a.forwardTurn(ctx, req.SessionId, t)
	if err != nil {
		return acp.PromptResponse{}, err
	}
	return acp.PromptResponse{StopReason: stop}, nil
}

// forwardTurn relays turn updates to the editor until the turn ends.
// Notification failures are logged, not fatal: the turn itself is the
// source of truth and must run to completion either way.
func (a *Agent) forwardTurn(ctx context.Context, sessionID acp.SessionId, t turnHandle) (acp.StopReason, error) {
	for u := range t.Updates() {
		update, ok := sessionUpdateFor(u)
		if !ok {
			continue
		}
		if err := a.conn.SessionUpdate(ctx, acp.SessionNotification{
			SessionId: sessionID,
			Update:    update,
		}); err != nil {
			a.log.Warn("session update delivery failed", "session_id", sessionID, "error", err)
		}
	}

	outcome, err := t.Outcome()
	if err != nil {
		return "", err
	}
	return outcome.StopReason, nil
}

// sessionUpdateFor maps one runtime update to its ACP notification.
// The second return is false for updates with no ACP representation.
func sessionUpdateFor(u acpbridge.Update) (acp.SessionUpdate, bool) {
	switch u.Type {
	case acpbridge.UpdateTextChunk:
		return acp.UpdateAgentMessageText(u.Text), true
	case acpbridge.UpdateToolCallRequested:
		if u.Tool == nil {
			return acp.SessionUpdate{}, false
		}
		return acp.StartToolCall(
			acp.ToolCallId(u.Tool.ID),
			callTitle(*u.Tool),
			acp.WithStartKind(kindFor(u.Tool.Name)),
			acp.WithStartStatus(acp.ToolCallStatusPending),
			acp.WithStartRawInput(rawInput(u.Tool.Input)),
		), true
	case acpbridge.UpdateToolCallStatus:
		if u.Tool == nil {
			return acp.SessionUpdate{}, false
		}
		return acp.UpdateToolCall(
			acp.ToolCallId(u.Tool.ID),
			acp.WithUpdateStatus(statusFor(u.Status)),
		), true
	default:
		return acp.SessionUpdate{}, false
	}
}

// statusFor maps runtime statuses to the ACP lifecycle. ACP has no
// denied state; denials surface as failures.
func statusFor(s acpbridge.ToolCallStatus) acp.ToolCallStatus {
	switch s {
	case acpbridge.StatusPending:
		return acp.ToolCallStatusPending
	case acpbridge.StatusInProgress:
		return acp.ToolCallStatusInProgress
	case acpbridge.StatusCompleted:
		return acp.ToolCallStatusCompleted
	default:
		return acp.ToolCallStatusFailed
	}
}

func kindFor(name string) acp.ToolKind {
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

func callTitle(call acpbridge.ToolCall) string {
	return fmt.Sprintf("Run %s", call.Name)
}

func rawInput(input json.RawMessage) map[string]any {
	if len(input) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(input, &m); err != nil {
		return nil
	}
	return m
}
