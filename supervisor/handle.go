//go:build !windows

package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmora/acpbridge"
)

// Handle is a running LM tool subprocess.
//
// One readLoop goroutine pumps stdout lines into the Lines channel; the
// channel closes when stdout ends. Writes are serialized by a mutex.
// A closed Lines channel without a requested Shutdown means the process
// died — callers decide how to surface that (see Err).
type Handle struct {
	opts      Options
	sessionID string
	log       *slog.Logger

	lines chan string

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser

	cmdDone  chan struct{} // buffered(1), signaled by the readLoop defer
	done     chan struct{} // closed exactly once by finish()
	stopRead chan struct{} // closed by Shutdown to unblock a stuck line send
	termErr  error         // set by finish(), read after done closes

	stopping   atomic.Bool
	stopOnce   sync.Once
	finishOnce sync.Once
}

// newHandle creates a handle and starts its readLoop.
func newHandle(opts Options, sessionID string, cmd *exec.Cmd, stdin io.WriteCloser, stdout io.ReadCloser) *Handle {
	h := &Handle{
		opts:      opts,
		sessionID: sessionID,
		log:       opts.Logger,
		lines:     make(chan string, opts.LineBuffer),
		cmd:       cmd,
		stdin:     stdin,
		cmdDone:   make(chan struct{}, 1),
		done:      make(chan struct{}),
		stopRead:  make(chan struct{}),
	}
	go h.readLoop(stdout)
	return h
}

// Lines returns the channel of raw stdout lines, stripped of their
// newline terminator. Partial trailing data without a terminator is
// buffered internally and never surfaced. The channel closes when the
// subprocess closes stdout.
func (h *Handle) Lines() <-chan string {
	return h.lines
}

// WriteLine frames payload with a trailing newline and writes it to the
// subprocess stdin. Returns ErrTerminated once shutdown has begun or the
// process has exited. A write error means the process is gone.
func (h *Handle) WriteLine(ctx context.Context, payload string) error {
	if h.stopping.Load() {
		return acpbridge.ErrTerminated
	}
	select {
	case <-h.done:
		return acpbridge.ErrTerminated
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stdin == nil {
		return acpbridge.ErrTerminated
	}
	if _, err := h.stdin.Write(append([]byte(payload), '\n')); err != nil {
		return fmt.Errorf("supervisor: write stdin: %w", err)
	}
	return nil
}

// Alive reports whether the subprocess is still running.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Pid returns the subprocess pid, or 0 if unavailable.
func (h *Handle) Pid() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Shutdown terminates the subprocess. Safe to call multiple times; every
// call blocks until the first one completes.
//
// Two phases: stdin is closed to signal end of input, then after the
// grace period (or ctx cancellation) the process is force-killed.
func (h *Handle) Shutdown(ctx context.Context) error {
	h.stopOnce.Do(func() {
		h.stopping.Store(true)

		h.mu.Lock()
		if h.stdin != nil {
			_ = h.stdin.Close() // Best-effort: pipe may already be closed.
			h.stdin = nil
		}
		cmd := h.cmd
		h.mu.Unlock()

		// Unblock readLoop if stuck on a channel send.
		close(h.stopRead)

		select {
		case <-h.cmdDone:
		case <-time.After(h.opts.GracePeriod):
			h.log.Warn("grace period expired, killing subprocess",
				"session_id", h.sessionID, "pid", cmd.Process.Pid)
			_ = killProcess(cmd.Process)
			<-h.cmdDone
		case <-ctx.Done():
			_ = killProcess(cmd.Process)
			<-h.cmdDone
		}
	})

	// Block until finish() completes (lines channel closed).
	<-h.done
	return h.termErr
}

// Wait blocks until the subprocess exits on its own or via Shutdown.
func (h *Handle) Wait() error {
	<-h.done
	return h.termErr
}

// Err returns the terminal error, or nil if still running.
// After a requested Shutdown it is ErrTerminated; after a natural
// non-zero exit it wraps *acpbridge.ProcessExitError; after a clean
// unexpected exit it is nil.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.termErr
	default:
		return nil
	}
}

// finish sets the terminal error and closes lines+done channels.
// Called exactly once via sync.Once.
func (h *Handle) finish(err error) {
	h.finishOnce.Do(func() {
		h.termErr = err
		close(h.lines)
		close(h.done)
	})
}

// readLoop is the goroutine that pumps subprocess stdout lines.
func (h *Handle) readLoop(stdout io.ReadCloser) {
	var scanErr error

	defer func() {
		waitErr := h.cmd.Wait()
		switch {
		case scanErr != nil:
			waitErr = fmt.Errorf("supervisor: scanner: %w", scanErr)
		default:
			waitErr = wrapExitError(waitErr)
		}
		if h.stopping.Load() {
			waitErr = acpbridge.ErrTerminated
		}
		h.finish(waitErr)

		// Always signal cmdDone so Shutdown can proceed.
		h.cmdDone <- struct{}{}
	}()

	scanner := bufio.NewScanner(stdout)
	initCap := min(4096, h.opts.ScannerBuffer)
	scanner.Buffer(make([]byte, 0, initCap), h.opts.ScannerBuffer)

	for scanner.Scan() {
		select {
		case h.lines <- scanner.Text():
		case <-h.stopRead:
			return
		}
	}
	scanErr = scanner.Err()
	if scanErr != nil {
		h.log.Error("stdout scanner failed",
			"session_id", h.sessionID, "error", scanErr)
		_ = killProcess(h.cmd.Process)
	}
}

// killProcess force-kills a process, returning nil if it already exited.
func killProcess(proc *os.Process) error {
	err := proc.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// wrapExitError converts a non-zero *exec.ExitError to
// *acpbridge.ProcessExitError. nil → nil, non-ExitError → passthrough,
// code 0 → nil (clean exit). Preserves the error chain via Unwrap.
func wrapExitError(err error) error {
	if err == nil {
		return nil
	}
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		return err
	}
	code := ee.ExitCode()
	if code == 0 {
		return nil
	}
	return &acpbridge.ProcessExitError{Code: code, Err: err}
}
