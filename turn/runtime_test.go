package turn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	acp "github.com/coder/acp-go-sdk"

	"github.com/dmora/acpbridge"
)

// fakeProcess is a scripted lineProcess. Tests pre-push response lines
// or attach an onWrite hook to answer payloads as they arrive.
type fakeProcess struct {
	lines chan string

	mu       sync.Mutex
	writes   []string
	alive    bool
	shutdown bool
	termErr  error

	closeOnce sync.Once
	onWrite   func(payload string)
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{lines: make(chan string, 64), alive: true}
}

func (f *fakeProcess) WriteLine(ctx context.Context, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	if f.shutdown {
		f.mu.Unlock()
		return acpbridge.ErrTerminated
	}
	f.writes = append(f.writes, payload)
	hook := f.onWrite
	f.mu.Unlock()
	if hook != nil {
		hook(payload)
	}
	return nil
}

func (f *fakeProcess) Lines() <-chan string { return f.lines }

func (f *fakeProcess) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeProcess) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	f.shutdown = true
	f.alive = false
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.lines) })
	return nil
}

func (f *fakeProcess) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.termErr
}

func (f *fakeProcess) push(lines ...string) {
	for _, l := range lines {
		f.lines <- l
	}
}

// crash simulates the subprocess dying: exit error recorded, stdout closed.
func (f *fakeProcess) crash(err error) {
	f.mu.Lock()
	f.alive = false
	f.termErr = err
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.lines) })
}

func (f *fakeProcess) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeProcess) wasShutdown() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shutdown
}

func (f *fakeProcess) writtenPayloads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.writes))
	copy(out, f.writes)
	return out
}

// --- wire line builders ---

func assistantText(text string) string {
	return fmt.Sprintf(`{"type":"assistant","message":{"content":[{"type":"text","text":%q}]}}`, text)
}

func assistantToolUse(id, name string) string {
	return fmt.Sprintf(
		`{"type":"assistant","message":{"content":[{"type":"tool_use","id":%q,"name":%q,"input":{"path":"notes.txt"}}]}}`,
		id, name)
}

func resultLine(stopReason string) string {
	if stopReason == "" {
		return `{"type":"result","usage":{"input_tokens":12,"output_tokens":5}}`
	}
	return fmt.Sprintf(
		`{"type":"result","stop_reason":%q,"usage":{"input_tokens":12,"output_tokens":5}}`, stopReason)
}

// --- test doubles for the executor and gate ---

type recordingExecutor struct {
	mu     sync.Mutex
	calls  []acpbridge.ToolCall
	result ToolResult
	err    error
}

func (e *recordingExecutor) Execute(ctx context.Context, sessionID string, call acpbridge.ToolCall) (ToolResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call)
	return e.result, e.err
}

func (e *recordingExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

type staticGate struct {
	verdict Verdict
	err     error
}

func (g *staticGate) Check(ctx context.Context, sessionID string, call acpbridge.ToolCall) (Verdict, error) {
	return g.verdict, g.err
}

// --- harness ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRuntime(t *testing.T, f *fakeProcess, opts ...Option) (*Runtime, string) {
	t.Helper()
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	rt := newRuntime(opts...)
	rt.spawn = func(ctx context.Context, data acpbridge.Session) (lineProcess, error) {
		return f, nil
	}
	id, err := rt.CreateSession(context.Background(), acpbridge.Session{ID: "sess-test"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return rt, id
}

func textPrompt(s string) []acp.ContentBlock {
	return []acp.ContentBlock{acp.TextBlock(s)}
}

// --- tests ---

func TestRuntime_TextOnlyTurn(t *testing.T) {
	f := newFakeProcess()
	f.push(assistantText("Hello, "), assistantText("world."), resultLine("end_turn"))
	rt, id := newTestRuntime(t, f)

	turn, err := rt.OpenTurn(context.Background(), id, textPrompt("hi"))
	if err != nil {
		t.Fatalf("OpenTurn: %v", err)
	}
	text, updates, outcome, err := Collect(turn)
	if err != nil {
		t.Fatalf("turn error: %v", err)
	}
	if text != "Hello, world." {
		t.Errorf("text = %q, want %q", text, "Hello, world.")
	}
	if len(updates) != 2 {
		t.Errorf("got %d updates, want 2", len(updates))
	}
	if outcome.StopReason != acp.StopReasonEndTurn {
		t.Errorf("stop reason = %v, want end_turn", outcome.StopReason)
	}
	if outcome.Usage == nil || outcome.Usage.OutputTokens != 5 {
		t.Errorf("usage = %+v, want output_tokens 5", outcome.Usage)
	}

	writes := f.writtenPayloads()
	if len(writes) != 1 {
		t.Fatalf("got %d writes, want 1", len(writes))
	}
	if !strings.Contains(writes[0], `"hi"`) {
		t.Errorf("prompt payload missing text: %s", writes[0])
	}
}

func TestRuntime_ToolRoundTrip(t *testing.T) {
	exec := &recordingExecutor{result: ToolResult{Content: "file contents", Success: true}}
	f := newFakeProcess()
	f.push(assistantToolUse("toolu_01", "read_file"), resultLine("tool_use"))
	f.onWrite = func(payload string) {
		if strings.Contains(payload, "tool_result") {
			f.push(assistantText("The file says hi."), resultLine("end_turn"))
		}
	}
	rt, id := newTestRuntime(t, f, WithTools(exec))

	turn, err := rt.OpenTurn(context.Background(), id, textPrompt("read notes.txt"))
	if err != nil {
		t.Fatalf("OpenTurn: %v", err)
	}
	text, updates, outcome, err := Collect(turn)
	if err != nil {
		t.Fatalf("turn error: %v", err)
	}
	if outcome.StopReason != acp.StopReasonEndTurn {
		t.Errorf("stop reason = %v, want end_turn", outcome.StopReason)
	}
	if text != "The file says hi." {
		t.Errorf("text = %q", text)
	}

	var statuses []acpbridge.ToolCallStatus
	for _, u := range updates {
		if u.Type != acpbridge.UpdateTextChunk {
			statuses = append(statuses, u.Status)
		}
	}
	want := []acpbridge.ToolCallStatus{
		acpbridge.StatusPending,
		acpbridge.StatusInProgress,
		acpbridge.StatusCompleted,
	}
	if len(statuses) != len(want) {
		t.Fatalf("statuses = %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("status[%d] = %v, want %v", i, statuses[i], want[i])
		}
	}

	if exec.callCount() != 1 {
		t.Fatalf("executor ran %d times, want 1", exec.callCount())
	}
	if got := exec.calls[0]; got.ID != "toolu_01" || got.Name != "read_file" {
		t.Errorf("executor got call %+v", got)
	}

	writes := f.writtenPayloads()
	if len(writes) != 2 {
		t.Fatalf("got %d writes, want 2", len(writes))
	}
	if !strings.Contains(writes[1], `"toolu_01"`) {
		t.Errorf("result payload missing tool_use_id echo: %s", writes[1])
	}
	if !strings.Contains(writes[1], "file contents") {
		t.Errorf("result payload missing content: %s", writes[1])
	}
}

func TestRuntime_DeniedToolCall(t *testing.T) {
	exec := &recordingExecutor{result: ToolResult{Content: "should not run", Success: true}}
	gate := &staticGate{verdict: Deny("path outside workspace")}
	f := newFakeProcess()
	f.push(assistantToolUse("toolu_02", "write_file"), resultLine("tool_use"))
	f.onWrite = func(payload string) {
		if strings.Contains(payload, "tool_result") {
			f.push(assistantText("Understood."), resultLine("end_turn"))
		}
	}
	rt, id := newTestRuntime(t, f, WithTools(exec), WithGate(gate))

	turn, err := rt.OpenTurn(context.Background(), id, textPrompt("overwrite /etc/hosts"))
	if err != nil {
		t.Fatalf("OpenTurn: %v", err)
	}
	_, updates, outcome, err := Collect(turn)
	if err != nil {
		t.Fatalf("turn error: %v", err)
	}
	if outcome.StopReason != acp.StopReasonEndTurn {
		t.Errorf("stop reason = %v, want end_turn", outcome.StopReason)
	}
	if exec.callCount() != 0 {
		t.Errorf("executor ran %d times, want 0 for denied call", exec.callCount())
	}

	var sawDenied bool
	for _, u := range updates {
		if u.Type == acpbridge.UpdateToolCallStatus {
			if u.Status == acpbridge.StatusInProgress {
				t.Error("denied call must not report in_progress")
			}
			if u.Status == acpbridge.StatusDenied {
				sawDenied = true
			}
		}
	}
	if !sawDenied {
		t.Error("missing denied status update")
	}

	writes := f.writtenPayloads()
	if len(writes) != 2 {
		t.Fatalf("got %d writes, want 2", len(writes))
	}
	if !strings.Contains(writes[1], "permission denied: path outside workspace") {
		t.Errorf("synthesized denial missing from result payload: %s", writes[1])
	}
}

func TestRuntime_GateErrorDeniesFailClosed(t *testing.T) {
	exec := &recordingExecutor{result: ToolResult{Content: "nope", Success: true}}
	gate := &staticGate{err: errors.New("gate backend down")}
	f := newFakeProcess()
	f.push(assistantToolUse("toolu_03", "run_shell"), resultLine("tool_use"))
	f.onWrite = func(payload string) {
		if strings.Contains(payload, "tool_result") {
			f.push(resultLine("end_turn"))
		}
	}
	rt, id := newTestRuntime(t, f, WithTools(exec), WithGate(gate))

	turn, err := rt.OpenTurn(context.Background(), id, textPrompt("run ls"))
	if err != nil {
		t.Fatalf("OpenTurn: %v", err)
	}
	_, _, _, err = Collect(turn)
	if err != nil {
		t.Fatalf("turn error: %v", err)
	}
	if exec.callCount() != 0 {
		t.Error("executor must not run when the gate errors")
	}
	writes := f.writtenPayloads()
	if len(writes) != 2 || !strings.Contains(writes[1], "permission denied") {
		t.Errorf("expected synthesized denial, writes = %v", writes)
	}
}

func TestRuntime_NilExecutorFailsCall(t *testing.T) {
	f := newFakeProcess()
	f.push(assistantToolUse("toolu_04", "read_file"), resultLine("tool_use"))
	f.onWrite = func(payload string) {
		if strings.Contains(payload, "tool_result") {
			f.push(resultLine("end_turn"))
		}
	}
	rt, id := newTestRuntime(t, f)

	turn, err := rt.OpenTurn(context.Background(), id, textPrompt("read"))
	if err != nil {
		t.Fatalf("OpenTurn: %v", err)
	}
	_, updates, _, err := Collect(turn)
	if err != nil {
		t.Fatalf("turn error: %v", err)
	}
	var sawFailed bool
	for _, u := range updates {
		if u.Type == acpbridge.UpdateToolCallStatus && u.Status == acpbridge.StatusFailed {
			sawFailed = true
		}
	}
	if !sawFailed {
		t.Error("call without an executor should fail")
	}
	writes := f.writtenPayloads()
	if len(writes) != 2 || !strings.Contains(writes[1], "not available") {
		t.Errorf("expected unavailable-tool result, writes = %v", writes)
	}
}

func TestRuntime_MaxTurnRequests(t *testing.T) {
	exec := &recordingExecutor{result: ToolResult{Content: "ok", Success: true}}
	f := newFakeProcess()
	f.push(assistantToolUse("toolu_05", "read_file"), resultLine("tool_use"))
	rt, id := newTestRuntime(t, f, WithTools(exec), WithMaxTurnRequests(1))

	turn, err := rt.OpenTurn(context.Background(), id, textPrompt("loop forever"))
	if err != nil {
		t.Fatalf("OpenTurn: %v", err)
	}
	_, _, outcome, err := Collect(turn)
	if err != nil {
		t.Fatalf("turn error: %v", err)
	}
	if outcome.StopReason != acp.StopReasonMaxTurnRequests {
		t.Errorf("stop reason = %v, want max_turn_requests", outcome.StopReason)
	}
	// The over-limit round must end before its payloads are sent.
	if f.writeCount() != 1 {
		t.Errorf("got %d writes, want 1 (tool results must not be sent)", f.writeCount())
	}
}

func TestRuntime_MaxTokensBeforeFirstSend(t *testing.T) {
	f := newFakeProcess()
	rt, id := newTestRuntime(t, f, WithMaxTokensPerTurn(1))

	turn, err := rt.OpenTurn(context.Background(), id, textPrompt("a prompt well past one token"))
	if err != nil {
		t.Fatalf("OpenTurn: %v", err)
	}
	_, _, outcome, err := Collect(turn)
	if err != nil {
		t.Fatalf("turn error: %v", err)
	}
	if outcome.StopReason != acp.StopReasonMaxTokens {
		t.Errorf("stop reason = %v, want max_tokens", outcome.StopReason)
	}
	if f.writeCount() != 0 {
		t.Errorf("got %d writes, want 0", f.writeCount())
	}
}

func TestRuntime_CancelBeforeFirstSend(t *testing.T) {
	rt := newRuntime(WithLogger(discardLogger()))
	rt.spawn = func(ctx context.Context, data acpbridge.Session) (lineProcess, error) {
		t.Fatal("spawn must not run for a pre-cancelled turn")
		return nil, nil
	}

	s := &session{data: acpbridge.Session{ID: "s"}, state: acpbridge.StateActive}
	s.cancelled.Store(true)

	outcome, err := rt.turnLoop(context.Background(), s, newTurn("s", 10), `{"type":"user"}`)
	if err != nil {
		t.Fatalf("turn error: %v", err)
	}
	if outcome.StopReason != acp.StopReasonCancelled {
		t.Errorf("stop reason = %v, want cancelled", outcome.StopReason)
	}
}

func TestRuntime_CancelMidTurn(t *testing.T) {
	f := newFakeProcess()
	f.push(assistantText("partial "))
	rt, id := newTestRuntime(t, f)

	turn, err := rt.OpenTurn(context.Background(), id, textPrompt("hi"))
	if err != nil {
		t.Fatalf("OpenTurn: %v", err)
	}

	// Wait for the first chunk so the cancel lands mid-round.
	first := <-turn.Updates()
	if first.Type != acpbridge.UpdateTextChunk {
		t.Fatalf("first update = %+v, want text chunk", first)
	}
	rt.CancelTurn(id)
	f.push(assistantText("never delivered"), resultLine("end_turn"))

	for range turn.Updates() {
	}
	outcome, err := turn.Outcome()
	if err != nil {
		t.Fatalf("turn error: %v", err)
	}
	if outcome.StopReason != acp.StopReasonCancelled {
		t.Errorf("stop reason = %v, want cancelled", outcome.StopReason)
	}
}

func TestRuntime_NextTurnWaitsForCancelledRoundDrain(t *testing.T) {
	f := newFakeProcess()
	f.push(assistantText("partial"))
	rt, id := newTestRuntime(t, f)

	turn1, err := rt.OpenTurn(context.Background(), id, textPrompt("first"))
	if err != nil {
		t.Fatalf("OpenTurn: %v", err)
	}
	<-turn1.Updates()
	rt.CancelTurn(id)

	// Remainder of the abandoned round: the first line is consumed when
	// the loop observes the cancel; the rest is stale output the drain
	// must swallow before the next turn may read.
	f.push(assistantText("ignored"), assistantText("STALE"), resultLine("end_turn"))

	for range turn1.Updates() {
	}
	outcome, err := turn1.Outcome()
	if err != nil {
		t.Fatalf("turn1 error: %v", err)
	}
	if outcome.StopReason != acp.StopReasonCancelled {
		t.Fatalf("turn1 stop reason = %v, want cancelled", outcome.StopReason)
	}

	turn2, err := rt.OpenTurn(context.Background(), id, textPrompt("second"))
	if err != nil {
		t.Fatalf("OpenTurn after cancel: %v", err)
	}
	f.push(assistantText("fresh"), resultLine("end_turn"))
	text, _, outcome, err := Collect(turn2)
	if err != nil {
		t.Fatalf("turn2 error: %v", err)
	}
	if outcome.StopReason != acp.StopReasonEndTurn {
		t.Errorf("turn2 stop reason = %v, want end_turn", outcome.StopReason)
	}
	if text != "fresh" {
		t.Errorf("turn2 text = %q, want %q (stale output leaked across turns)", text, "fresh")
	}
}

// blockingExecutor parks in Execute until released and records the
// context state it finished under.
type blockingExecutor struct {
	started chan struct{}
	release chan struct{}

	mu       sync.Mutex
	finished bool
	ctxErr   error
}

func (e *blockingExecutor) Execute(ctx context.Context, sessionID string, call acpbridge.ToolCall) (ToolResult, error) {
	close(e.started)
	<-e.release
	e.mu.Lock()
	e.finished = true
	e.ctxErr = ctx.Err()
	e.mu.Unlock()
	return ToolResult{Content: "late result", Success: true}, nil
}

func TestRuntime_CancelLetsInFlightToolFinish(t *testing.T) {
	exec := &blockingExecutor{started: make(chan struct{}), release: make(chan struct{})}
	f := newFakeProcess()
	f.push(assistantToolUse("toolu_07", "read_file"), resultLine("tool_use"))
	rt, id := newTestRuntime(t, f, WithTools(exec))

	turn, err := rt.OpenTurn(context.Background(), id, textPrompt("hi"))
	if err != nil {
		t.Fatalf("OpenTurn: %v", err)
	}
	<-exec.started
	rt.CancelTurn(id)
	close(exec.release)

	_, _, outcome, err := Collect(turn)
	if err != nil {
		t.Fatalf("turn error: %v", err)
	}
	if outcome.StopReason != acp.StopReasonCancelled {
		t.Errorf("stop reason = %v, want cancelled", outcome.StopReason)
	}

	exec.mu.Lock()
	finished, ctxErr := exec.finished, exec.ctxErr
	exec.mu.Unlock()
	if !finished {
		t.Fatal("in-flight execution never ran to completion")
	}
	if ctxErr != nil {
		t.Errorf("executor context = %v, want uncancelled", ctxErr)
	}
	// The finished call's result is discarded, never sent.
	if f.writeCount() != 1 {
		t.Errorf("got %d writes, want 1 (prompt only)", f.writeCount())
	}
}

func TestRuntime_CancelTurnIdempotent(t *testing.T) {
	f := newFakeProcess()
	rt, id := newTestRuntime(t, f)

	// No active turn: both calls are no-ops.
	rt.CancelTurn(id)
	rt.CancelTurn(id)
	rt.CancelTurn("no-such-session")

	// A later turn must not start pre-cancelled.
	f.push(assistantText("fine"), resultLine("end_turn"))
	turn, err := rt.OpenTurn(context.Background(), id, textPrompt("hi"))
	if err != nil {
		t.Fatalf("OpenTurn: %v", err)
	}
	_, _, outcome, err := Collect(turn)
	if err != nil {
		t.Fatalf("turn error: %v", err)
	}
	if outcome.StopReason != acp.StopReasonEndTurn {
		t.Errorf("stop reason = %v, want end_turn", outcome.StopReason)
	}
}

func TestRuntime_SubprocessCrashMidTurn(t *testing.T) {
	f := newFakeProcess()
	f.push(assistantText("about to die"))
	rt, id := newTestRuntime(t, f)

	turn, err := rt.OpenTurn(context.Background(), id, textPrompt("hi"))
	if err != nil {
		t.Fatalf("OpenTurn: %v", err)
	}
	<-turn.Updates()
	f.crash(&acpbridge.ProcessExitError{Code: 2})

	for range turn.Updates() {
	}
	_, err = turn.Outcome()
	if !errors.Is(err, acpbridge.ErrProcessCrashed) {
		t.Fatalf("turn error = %v, want ErrProcessCrashed", err)
	}
	if !strings.Contains(err.Error(), "exit") {
		t.Errorf("crash error should carry exit detail: %v", err)
	}

	// Crash terminates the session: no further turns.
	if _, err := rt.OpenTurn(context.Background(), id, textPrompt("again")); !errors.Is(err, acpbridge.ErrTerminated) {
		t.Errorf("OpenTurn after crash = %v, want ErrTerminated", err)
	}
}

func TestRuntime_RefusalDetected(t *testing.T) {
	f := newFakeProcess()
	f.push(assistantText("I can't help with that request."), resultLine("end_turn"))
	rt, id := newTestRuntime(t, f)

	turn, err := rt.OpenTurn(context.Background(), id, textPrompt("do something bad"))
	if err != nil {
		t.Fatalf("OpenTurn: %v", err)
	}
	_, _, outcome, err := Collect(turn)
	if err != nil {
		t.Fatalf("turn error: %v", err)
	}
	if outcome.StopReason != acp.StopReasonRefusal {
		t.Errorf("stop reason = %v, want refusal", outcome.StopReason)
	}
}

func TestRuntime_NoRefusalAfterToolDispatch(t *testing.T) {
	exec := &recordingExecutor{result: ToolResult{Content: "ok", Success: true}}
	f := newFakeProcess()
	f.push(assistantToolUse("toolu_06", "read_file"), resultLine("tool_use"))
	f.onWrite = func(payload string) {
		if strings.Contains(payload, "tool_result") {
			f.push(assistantText("I can't help with the rest."), resultLine("end_turn"))
		}
	}
	rt, id := newTestRuntime(t, f, WithTools(exec))

	turn, err := rt.OpenTurn(context.Background(), id, textPrompt("hi"))
	if err != nil {
		t.Fatalf("OpenTurn: %v", err)
	}
	_, _, outcome, err := Collect(turn)
	if err != nil {
		t.Fatalf("turn error: %v", err)
	}
	if outcome.StopReason != acp.StopReasonEndTurn {
		t.Errorf("stop reason = %v, want end_turn after tool work", outcome.StopReason)
	}
}

func TestRuntime_OneTurnAtATime(t *testing.T) {
	f := newFakeProcess()
	rt, id := newTestRuntime(t, f)

	turn, err := rt.OpenTurn(context.Background(), id, textPrompt("first"))
	if err != nil {
		t.Fatalf("OpenTurn: %v", err)
	}
	if _, err := rt.OpenTurn(context.Background(), id, textPrompt("second")); !errors.Is(err, acpbridge.ErrTurnActive) {
		t.Errorf("concurrent OpenTurn = %v, want ErrTurnActive", err)
	}

	f.push(resultLine("end_turn"))
	if _, _, _, err := Collect(turn); err != nil {
		t.Fatalf("turn error: %v", err)
	}
}

func TestRuntime_UnsupportedPromptFailsFast(t *testing.T) {
	f := newFakeProcess()
	rt, id := newTestRuntime(t, f)

	_, err := rt.OpenTurn(context.Background(), id, []acp.ContentBlock{{}})
	if !errors.Is(err, acpbridge.ErrUnsupportedContent) {
		t.Fatalf("OpenTurn = %v, want ErrUnsupportedContent", err)
	}
	if f.writeCount() != 0 {
		t.Errorf("got %d writes, want 0", f.writeCount())
	}

	// The rejected prompt must not leave the session busy.
	f.push(resultLine("end_turn"))
	turn, err := rt.OpenTurn(context.Background(), id, textPrompt("hi"))
	if err != nil {
		t.Fatalf("OpenTurn after rejection: %v", err)
	}
	if _, _, _, err := Collect(turn); err != nil {
		t.Fatalf("turn error: %v", err)
	}
}

func TestRuntime_SessionNotFound(t *testing.T) {
	rt := newRuntime(WithLogger(discardLogger()))
	if _, err := rt.OpenTurn(context.Background(), "ghost", textPrompt("hi")); !errors.Is(err, acpbridge.ErrSessionNotFound) {
		t.Errorf("OpenTurn = %v, want ErrSessionNotFound", err)
	}
	if err := rt.CloseSession(context.Background(), "ghost"); !errors.Is(err, acpbridge.ErrSessionNotFound) {
		t.Errorf("CloseSession = %v, want ErrSessionNotFound", err)
	}
}

func TestRuntime_CreateSessionGeneratesID(t *testing.T) {
	rt := newRuntime(WithLogger(discardLogger()))
	rt.spawn = func(ctx context.Context, data acpbridge.Session) (lineProcess, error) {
		return newFakeProcess(), nil
	}
	id, err := rt.CreateSession(context.Background(), acpbridge.Session{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated session id")
	}
	if _, err := rt.CreateSession(context.Background(), acpbridge.Session{ID: id}); err == nil {
		t.Error("duplicate session id should be rejected")
	}
}

func TestRuntime_CloseSessionRemoves(t *testing.T) {
	f := newFakeProcess()
	f.push(resultLine("end_turn"))
	rt, id := newTestRuntime(t, f)

	turn, err := rt.OpenTurn(context.Background(), id, textPrompt("hi"))
	if err != nil {
		t.Fatalf("OpenTurn: %v", err)
	}
	if _, _, _, err := Collect(turn); err != nil {
		t.Fatalf("turn error: %v", err)
	}

	if err := rt.CloseSession(context.Background(), id); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	if !f.wasShutdown() {
		t.Error("closing a session must shut its subprocess down")
	}
	if _, err := rt.OpenTurn(context.Background(), id, textPrompt("hi")); !errors.Is(err, acpbridge.ErrSessionNotFound) {
		t.Errorf("OpenTurn after close = %v, want ErrSessionNotFound", err)
	}
}

func TestRuntime_ShutdownRefusesNewSessions(t *testing.T) {
	rt := newRuntime(WithLogger(discardLogger()))
	if err := rt.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := rt.CreateSession(context.Background(), acpbridge.Session{}); !errors.Is(err, acpbridge.ErrTerminated) {
		t.Errorf("CreateSession after shutdown = %v, want ErrTerminated", err)
	}
}

func TestRuntime_StoreRecordsTurns(t *testing.T) {
	store := &memStore{recs: make(map[string]SessionRecord)}
	f := newFakeProcess()
	f.push(assistantText("hey"), resultLine("end_turn"))
	rt, id := newTestRuntime(t, f, WithStore(store))

	turn, err := rt.OpenTurn(context.Background(), id, textPrompt("hi"))
	if err != nil {
		t.Fatalf("OpenTurn: %v", err)
	}
	if _, _, _, err := Collect(turn); err != nil {
		t.Fatalf("turn error: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		rec, err := store.Get(context.Background(), id)
		if err == nil && rec.TurnCount == 1 {
			if rec.LastStopReason != string(acp.StopReasonEndTurn) {
				t.Errorf("last stop reason = %q", rec.LastStopReason)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("turn never recorded, rec = %+v err = %v", rec, err)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// memStore is a minimal in-package SessionStore for bookkeeping tests.
type memStore struct {
	mu   sync.Mutex
	recs map[string]SessionRecord
}

func (m *memStore) Put(ctx context.Context, rec SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.ID] = rec
	return nil
}

func (m *memStore) Get(ctx context.Context, id string) (SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return SessionRecord{}, errors.New("not found")
	}
	return rec, nil
}

func (m *memStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, id)
	return nil
}

func (m *memStore) List(ctx context.Context) ([]SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionRecord, 0, len(m.recs))
	for _, rec := range m.recs {
		out = append(out, rec)
	}
	return out, nil
}
