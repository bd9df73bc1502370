// Package turn orchestrates sessions and turns: one LM subprocess per
// session, one goroutine per turn, cooperative cancellation, and the
// round-trip loop between model output and tool execution.
package turn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	acp "github.com/coder/acp-go-sdk"
	"github.com/google/uuid"

	"github.com/dmora/acpbridge"
	"github.com/dmora/acpbridge/supervisor"
	"github.com/dmora/acpbridge/translate"
)

// lineProcess is the slice of supervisor.Handle the orchestrator drives.
// Narrowed to an interface so tests can substitute a scripted process.
type lineProcess interface {
	WriteLine(ctx context.Context, payload string) error
	Lines() <-chan string
	Alive() bool
	Shutdown(ctx context.Context) error
	Err() error
}

type spawnFunc func(ctx context.Context, data acpbridge.Session) (lineProcess, error)

// session is the registry entry for one session. Registry membership is
// guarded by the runtime mutex; per-session fields by the session mutex.
// Turn-scoped fields (request counts, accumulated text) live on the turn
// goroutine's stack and are single-owner by construction.
type session struct {
	data acpbridge.Session

	mu         sync.Mutex
	state      acpbridge.SessionState
	handle     lineProcess
	turnCancel context.CancelFunc
	draining   chan struct{} // non-nil while a cancelled round drains

	turnActive atomic.Bool
	cancelled  atomic.Bool
}

// awaitDrain blocks until any background drain from a cancelled turn has
// released the subprocess stdout channel. The subprocess has exactly one
// stdout reader at a time; a turn must not start reading while the
// previous round's drain still owns the channel. Bounded by the drain
// deadline.
func (s *session) awaitDrain() {
	s.mu.Lock()
	ch := s.draining
	s.mu.Unlock()
	if ch != nil {
		<-ch
	}
}

// Runtime owns the session registry and runs turns.
type Runtime struct {
	opts   Options
	log    *slog.Logger
	tr     *translate.Translator
	detect *refusalDetector
	spawn  spawnFunc

	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool
}

// NewRuntime creates a Runtime spawning subprocesses through sup.
func NewRuntime(sup *supervisor.Supervisor, opts ...Option) *Runtime {
	rt := newRuntime(opts...)
	rt.spawn = func(ctx context.Context, data acpbridge.Session) (lineProcess, error) {
		h, err := sup.Spawn(ctx, data)
		if err != nil {
			return nil, err
		}
		return h, nil
	}
	return rt
}

func newRuntime(opts ...Option) *Runtime {
	o := resolveOptions(opts...)
	return &Runtime{
		opts:     o,
		log:      o.Logger,
		tr:       translate.New(o.Logger),
		detect:   newRefusalDetector(o.RefusalPatterns),
		sessions: make(map[string]*session),
	}
}

// CreateSession registers a session and returns its id. The subprocess
// is spawned lazily on the first turn. A blank data.ID gets a generated
// one; a duplicate ID is rejected.
func (rt *Runtime) CreateSession(ctx context.Context, data acpbridge.Session) (string, error) {
	data = data.Clone()
	if data.ID == "" {
		data.ID = uuid.NewString()
	}

	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return "", acpbridge.ErrTerminated
	}
	if _, exists := rt.sessions[data.ID]; exists {
		rt.mu.Unlock()
		return "", fmt.Errorf("turn: session %s already exists", data.ID)
	}
	rt.sessions[data.ID] = &session{data: data, state: acpbridge.StateActive}
	rt.mu.Unlock()

	rt.putRecord(ctx, SessionRecord{
		ID:        data.ID,
		CWD:       data.CWD,
		Model:     data.Model,
		State:     acpbridge.StateActive,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})
	rt.log.Info("session created", "session_id", data.ID, "cwd", data.CWD)
	return data.ID, nil
}

// OpenTurn starts a turn on the session and returns its handle.
// The prompt must be text-only; non-text blocks fail fast with
// acpbridge.ErrUnsupportedContent before anything reaches the wire.
// Sessions run one turn at a time.
func (rt *Runtime) OpenTurn(ctx context.Context, sessionID string, prompt []acp.ContentBlock) (*Turn, error) {
	s, err := rt.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.state != acpbridge.StateActive {
		s.mu.Unlock()
		return nil, acpbridge.ErrTerminated
	}
	s.mu.Unlock()

	promptLine, err := rt.tr.PromptToWire(prompt)
	if err != nil {
		return nil, err
	}

	if !s.turnActive.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: session %s", acpbridge.ErrTurnActive, sessionID)
	}
	s.cancelled.Store(false)

	turnCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.turnCancel = cancel
	s.mu.Unlock()

	t := newTurn(sessionID, rt.opts.UpdateBuffer)
	go rt.runTurn(turnCtx, s, t, promptLine)
	return t, nil
}

// CancelTurn requests cooperative cancellation of the session's active
// turn. Idempotent; unknown sessions and idle sessions are no-ops. The
// turn observes the flag at its next checkpoint and ends with the
// cancelled stop reason.
func (rt *Runtime) CancelTurn(sessionID string) {
	s, err := rt.lookup(sessionID)
	if err != nil {
		return
	}
	if !s.turnActive.Load() {
		return
	}
	s.cancelled.Store(true)
	s.mu.Lock()
	if s.turnCancel != nil {
		s.turnCancel()
	}
	s.mu.Unlock()
	rt.log.Info("turn cancellation requested", "session_id", sessionID)
}

// CloseSession shuts the session down: cancels any active turn, stops
// the subprocess, and removes the registry entry.
func (rt *Runtime) CloseSession(ctx context.Context, sessionID string) error {
	s, err := rt.lookup(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state == acpbridge.StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = acpbridge.StateTerminating
	handle := s.handle
	s.handle = nil
	if s.turnCancel != nil {
		s.turnCancel()
	}
	s.mu.Unlock()

	s.cancelled.Store(true)
	if handle != nil {
		if err := handle.Shutdown(ctx); err != nil && ctx.Err() != nil {
			rt.log.Warn("session shutdown interrupted", "session_id", sessionID, "error", err)
		}
	}

	s.mu.Lock()
	s.state = acpbridge.StateClosed
	s.mu.Unlock()

	rt.mu.Lock()
	delete(rt.sessions, sessionID)
	rt.mu.Unlock()

	rt.markRecordClosed(ctx, sessionID)
	rt.log.Info("session closed", "session_id", sessionID)
	return nil
}

// Shutdown stops the runtime: new sessions and turns are refused, then
// every session is closed.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	rt.mu.Lock()
	rt.closed = true
	ids := make([]string, 0, len(rt.sessions))
	for id := range rt.sessions {
		ids = append(ids, id)
	}
	rt.mu.Unlock()

	for _, id := range ids {
		if err := rt.CloseSession(ctx, id); err != nil && ctx.Err() != nil {
			return err
		}
	}
	return nil
}

func (rt *Runtime) lookup(sessionID string) (*session, error) {
	rt.mu.RLock()
	s, ok := rt.sessions[sessionID]
	rt.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", acpbridge.ErrSessionNotFound, sessionID)
	}
	return s, nil
}

// ensureProcess returns the session's live subprocess, spawning one if
// none exists or the previous one died between turns.
func (rt *Runtime) ensureProcess(ctx context.Context, s *session) (lineProcess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil && s.handle.Alive() {
		return s.handle, nil
	}
	h, err := rt.spawn(ctx, s.data)
	if err != nil {
		return nil, err
	}
	s.handle = h
	rt.log.Info("subprocess spawned", "session_id", s.data.ID)
	return h, nil
}

// failSession transitions a session to terminating after its subprocess
// crashed. The dead handle is detached and reaped in the background.
func (rt *Runtime) failSession(s *session) {
	s.mu.Lock()
	handle := s.handle
	s.handle = nil
	if s.state == acpbridge.StateActive {
		s.state = acpbridge.StateTerminating
	}
	s.mu.Unlock()

	if handle != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = handle.Shutdown(ctx)
		}()
	}
}

// --- store bookkeeping (best-effort, never fatal) ---

func (rt *Runtime) putRecord(ctx context.Context, rec SessionRecord) {
	if rt.opts.Store == nil {
		return
	}
	if err := rt.opts.Store.Put(ctx, rec); err != nil {
		rt.log.Warn("session store put failed", "session_id", rec.ID, "error", err)
	}
}

func (rt *Runtime) recordTurn(s *session, outcome acpbridge.TurnOutcome, turnErr error) {
	if rt.opts.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec, err := rt.opts.Store.Get(ctx, s.data.ID)
	if err != nil {
		rt.log.Warn("session store get failed", "session_id", s.data.ID, "error", err)
		return
	}
	rec.TurnCount++
	rec.UpdatedAt = time.Now()
	if turnErr != nil {
		rec.LastStopReason = ""
	} else {
		rec.LastStopReason = string(outcome.StopReason)
	}
	rt.putRecord(ctx, rec)
}

func (rt *Runtime) markRecordClosed(ctx context.Context, sessionID string) {
	if rt.opts.Store == nil {
		return
	}
	rec, err := rt.opts.Store.Get(ctx, sessionID)
	if err != nil {
		return
	}
	rec.State = acpbridge.StateClosed
	rec.UpdatedAt = time.Now()
	rt.putRecord(ctx, rec)
}
