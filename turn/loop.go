package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	acp "github.com/coder/acp-go-sdk"

	"github.com/dmora/acpbridge"
	"github.com/dmora/acpbridge/wire"
)

// errTurnCancelled threads cooperative cancellation out of the read and
// dispatch helpers back to the loop.
var errTurnCancelled = errors.New("turn: cancelled")

// turnState accumulates per-turn bookkeeping. Single-owner: only the
// turn goroutine touches it.
type turnState struct {
	requests        int
	tokens          int
	usage           *acpbridge.TokenUsage
	text            strings.Builder
	toolsDispatched bool
}

func (rt *Runtime) runTurn(ctx context.Context, s *session, t *Turn, promptLine string) {
	outcome, err := rt.turnLoop(ctx, s, t, promptLine)
	if err != nil && errors.Is(err, acpbridge.ErrProcessCrashed) {
		rt.failSession(s)
	}
	rt.recordTurn(s, outcome, err)

	s.mu.Lock()
	s.turnCancel = nil
	s.mu.Unlock()
	s.turnActive.Store(false)

	if err != nil {
		rt.log.Error("turn failed", "session_id", s.data.ID, "error", err)
	} else {
		rt.log.Info("turn finished",
			"session_id", s.data.ID,
			"stop_reason", outcome.StopReason)
	}
	t.finish(outcome, err)
}

// turnLoop is the round-trip engine: write the pending payloads, read
// until the round's result, dispatch any tool calls, repeat. Both limits
// are checked before a send, so a turn that would exceed a cap ends
// without the offending payloads ever reaching the subprocess.
func (rt *Runtime) turnLoop(ctx context.Context, s *session, t *Turn, promptLine string) (acpbridge.TurnOutcome, error) {
	if s.cancelled.Load() {
		return turnOutcome(acp.StopReasonCancelled, nil), nil
	}
	s.awaitDrain()

	h, err := rt.ensureProcess(ctx, s)
	if err != nil {
		return acpbridge.TurnOutcome{}, err
	}

	st := &turnState{}
	pending := []string{promptLine}
	for {
		if s.cancelled.Load() {
			return turnOutcome(acp.StopReasonCancelled, st.usage), nil
		}
		if st.requests+1 > rt.opts.MaxTurnRequests {
			return turnOutcome(acp.StopReasonMaxTurnRequests, st.usage), nil
		}
		cost := 0
		for _, p := range pending {
			cost += estimateTokens(p)
		}
		if st.tokens+cost > rt.opts.MaxTokensPerTurn {
			return turnOutcome(acp.StopReasonMaxTokens, st.usage), nil
		}
		st.requests++
		st.tokens += cost

		for _, p := range pending {
			if err := h.WriteLine(ctx, p); err != nil {
				if s.cancelled.Load() {
					return turnOutcome(acp.StopReasonCancelled, st.usage), nil
				}
				if errors.Is(err, acpbridge.ErrTerminated) {
					return acpbridge.TurnOutcome{}, err
				}
				return acpbridge.TurnOutcome{}, fmt.Errorf("%w: %v", acpbridge.ErrProcessCrashed, err)
			}
		}

		calls, result, err := rt.readRound(s, h, t, st)
		if errors.Is(err, errTurnCancelled) {
			rt.startDrain(s, h)
			return turnOutcome(acp.StopReasonCancelled, st.usage), nil
		}
		if err != nil {
			return acpbridge.TurnOutcome{}, err
		}
		if result.Usage != nil {
			st.usage = result.Usage
		}

		if len(calls) == 0 {
			stop := rt.tr.StopReason(result.StopReason)
			if stop == acp.StopReasonEndTurn && !st.toolsDispatched && rt.detect.Detect(st.text.String()) {
				stop = acp.StopReasonRefusal
			}
			return turnOutcome(stop, st.usage), nil
		}

		pending, err = rt.dispatchTools(ctx, s, t, calls)
		if errors.Is(err, errTurnCancelled) {
			return turnOutcome(acp.StopReasonCancelled, st.usage), nil
		}
		if err != nil {
			return acpbridge.TurnOutcome{}, err
		}
		st.toolsDispatched = true
	}
}

// readRound consumes subprocess lines until the round's result message.
// Assistant chunks stream out as updates as they arrive; tool calls are
// collected in arrival order for dispatch after the round closes.
func (rt *Runtime) readRound(s *session, h lineProcess, t *Turn, st *turnState) ([]acpbridge.ToolCall, wire.TurnResult, error) {
	var calls []acpbridge.ToolCall
	for {
		line, ok := <-h.Lines()
		if !ok {
			err := h.Err()
			switch {
			case errors.Is(err, acpbridge.ErrTerminated):
				return nil, wire.TurnResult{}, err
			case err != nil:
				return nil, wire.TurnResult{}, fmt.Errorf("%w: %v", acpbridge.ErrProcessCrashed, err)
			default:
				return nil, wire.TurnResult{}, fmt.Errorf("%w: stdout closed mid-turn", acpbridge.ErrProcessCrashed)
			}
		}
		if s.cancelled.Load() {
			return nil, wire.TurnResult{}, errTurnCancelled
		}

		ev, err := wire.DecodeLine(line)
		if err != nil {
			if !errors.Is(err, wire.ErrSkipLine) {
				rt.log.Warn("undecodable line skipped", "session_id", s.data.ID, "error", err)
			}
			continue
		}
		switch ev := ev.(type) {
		case wire.AssistantChunk:
			for _, u := range rt.tr.UpdatesFromChunk(ev) {
				t.emit(u)
				switch u.Type {
				case acpbridge.UpdateTextChunk:
					st.text.WriteString(u.Text)
				case acpbridge.UpdateToolCallRequested:
					calls = append(calls, *u.Tool)
				}
			}
		case wire.TurnResult:
			return calls, ev, nil
		}
	}
}

// dispatchTools runs the round's tool calls sequentially in arrival
// order and returns the encoded result lines for the next send. Every
// call produces a result line, including denials and failures.
func (rt *Runtime) dispatchTools(ctx context.Context, s *session, t *Turn, calls []acpbridge.ToolCall) ([]string, error) {
	lines := make([]string, 0, len(calls))
	for _, call := range calls {
		if s.cancelled.Load() {
			return nil, errTurnCancelled
		}
		status, content := rt.runTool(ctx, s, t, call)
		t.emit(statusUpdate(call, status))

		line, err := rt.tr.ToolResultToWire(call.ID, content)
		if err != nil {
			return nil, fmt.Errorf("turn: encode result for tool call %s: %w", call.ID, err)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// runTool gates and executes one call, returning its final status and
// the result content for the model. Gate errors deny fail-closed.
func (rt *Runtime) runTool(ctx context.Context, s *session, t *Turn, call acpbridge.ToolCall) (acpbridge.ToolCallStatus, string) {
	if rt.opts.Gate != nil {
		verdict, err := rt.opts.Gate.Check(ctx, s.data.ID, call)
		if err != nil {
			rt.log.Warn("permission check failed, denying",
				"session_id", s.data.ID, "tool", call.Name, "error", err)
			verdict = Deny("permission check failed")
		}
		if !verdict.Allowed {
			reason := verdict.Reason
			if reason == "" {
				reason = "denied"
			}
			return acpbridge.StatusDenied, "permission denied: " + reason
		}
	}

	t.emit(statusUpdate(call, acpbridge.StatusInProgress))
	if rt.opts.Tools == nil {
		return acpbridge.StatusFailed, fmt.Sprintf("tool %q is not available", call.Name)
	}
	// Cancellation never aborts an execution already in flight: the call
	// runs to completion and the loop discards its result unsent at the
	// next checkpoint.
	res, err := rt.opts.Tools.Execute(context.WithoutCancel(ctx), s.data.ID, call)
	if err != nil {
		return acpbridge.StatusFailed, fmt.Sprintf("tool %q failed: %v", call.Name, err)
	}
	if !res.Success {
		return acpbridge.StatusFailed, res.Content
	}
	return acpbridge.StatusCompleted, res.Content
}

func statusUpdate(call acpbridge.ToolCall, status acpbridge.ToolCallStatus) acpbridge.Update {
	c := call
	return acpbridge.Update{
		Type:      acpbridge.UpdateToolCallStatus,
		Tool:      &c,
		Status:    status,
		Timestamp: time.Now(),
	}
}

func turnOutcome(stop acp.StopReason, usage *acpbridge.TokenUsage) acpbridge.TurnOutcome {
	return acpbridge.TurnOutcome{StopReason: stop, Usage: usage}
}

const drainTimeout = 10 * time.Second

// startDrain consumes the remainder of an abandoned round in the
// background and records completion on the session, so the next turn
// waits instead of racing the drain for the same stdout channel. A
// subprocess still talking past the deadline is replaced: the handle is
// detached (the next turn respawns) and the old process shut down.
func (rt *Runtime) startDrain(s *session, h lineProcess) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.draining = ch
	s.mu.Unlock()

	go func() {
		drained := drainRound(h)
		s.mu.Lock()
		if !drained && s.handle == h {
			s.handle = nil
		}
		if s.draining == ch {
			s.draining = nil
		}
		s.mu.Unlock()
		close(ch)

		if !drained {
			rt.log.Warn("abandoned round never completed, replacing subprocess",
				"session_id", s.data.ID)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
			_ = h.Shutdown(shutdownCtx)
		}
	}()
}

// drainRound reads until the abandoned round's result message. Reports
// whether the round actually completed within the deadline.
func drainRound(h lineProcess) bool {
	timer := time.NewTimer(drainTimeout)
	defer timer.Stop()
	for {
		select {
		case line, ok := <-h.Lines():
			if !ok {
				return true
			}
			if ev, err := wire.DecodeLine(line); err == nil {
				if _, done := ev.(wire.TurnResult); done {
					return true
				}
			}
		case <-timer.C:
			return false
		}
	}
}
