// Package acpbridge bridges ACP editor clients to a line-JSON agent
// subprocess.
//
// acpbridge runs an LM command-line tool as a child process speaking
// newline-delimited JSON and exposes it as an ACP agent: prompts go in,
// a stream of [Update] values comes out, and every turn ends with a
// [TurnOutcome].
//
// # Core Types
//
//   - [Session] — minimal session state passed to the supervisor (value type)
//   - [Update] — structured output emitted during a turn
//   - [TurnOutcome] — how a turn ended (stop reason plus token usage)
//   - [ToolCall] — a tool invocation requested by the model
//
// # Packages
//
// The root package defines the shared vocabulary. Behavior lives in
// subpackages: wire (line codec), supervisor (subprocess lifecycle),
// translate (wire ↔ update mapping), turn (per-session orchestration),
// store/toolexec/permission (collaborator implementations), server
// (the ACP agent surface), and filter (update-stream middleware).
//
// # Quick Start
//
//	sup := supervisor.New(supervisor.WithBinary("claude"))
//	rt := turn.NewRuntime(sup, turn.WithTools(toolexec.NewRegistry()))
//	id, _ := rt.CreateSession(ctx, acpbridge.Session{CWD: "/work"})
//	t, _ := rt.OpenTurn(ctx, id, []acp.ContentBlock{acp.TextBlock("Hello")})
//	for u := range t.Updates() {
//	    fmt.Println(u.Text)
//	}
package acpbridge
