package server

import (
	"context"
	"io"
	"log/slog"

	acp "github.com/coder/acp-go-sdk"

	"github.com/dmora/acpbridge/turn"
)

// Serve runs the agent on the given streams (typically os.Stdout and
// os.Stdin) until the connection closes or ctx is cancelled. onConnect,
// if non-nil, runs once the editor connection exists; use it to bind
// components that need the connection, like the asking permission gate.
func Serve(ctx context.Context, rt *turn.Runtime, model string, sessionOpts map[string]string, log *slog.Logger, out io.Writer, in io.Reader, onConnect func(*acp.AgentSideConnection)) error {
	if log == nil {
		log = slog.Default()
	}

	agent := New(rt, model, sessionOpts, log)
	conn := acp.NewAgentSideConnection(agent, out, in)
	conn.SetLogger(log)
	agent.Bind(conn)
	if onConnect != nil {
		onConnect(conn)
	}

	log.Info("agent connected", "model", model)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-conn.Done():
		log.Info("editor connection closed")
		return nil
	}
}
