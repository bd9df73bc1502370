//go:build !windows

// Package supervisor manages the LM tool subprocess: spawning with the
// stream-json protocol flags, line-framed stdio, liveness, and two-phase
// shutdown. It never interprets payloads — framing only.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/dmora/acpbridge"
)

// Session option keys for Session.Options map.
const (
	// OptionSystemPrompt sets the LM tool's --system-prompt flag.
	OptionSystemPrompt = "system_prompt"
)

// Supervisor spawns LM tool subprocesses configured for line-JSON streaming.
type Supervisor struct {
	opts Options
}

// New creates a Supervisor with the given options.
// The default binary is "claude".
func New(opts ...Option) *Supervisor {
	return &Supervisor{opts: resolveOptions(opts...)}
}

// Validate checks that the LM tool binary is available on PATH.
func (s *Supervisor) Validate() error {
	if _, err := exec.LookPath(s.opts.Binary); err != nil {
		return fmt.Errorf("%w: %s: %w", acpbridge.ErrUnavailable, s.opts.Binary, err)
	}
	return nil
}

// Spawn launches one LM tool subprocess for the session and returns its
// Handle. The subprocess reads user lines on stdin and emits event lines
// on stdout; its own permission prompting is disabled so that all tool
// authorization flows through the runtime's permission gate.
func (s *Supervisor) Spawn(ctx context.Context, session acpbridge.Session) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !filepath.IsAbs(session.CWD) {
		return nil, fmt.Errorf("supervisor: CWD must be an absolute path, got %q", session.CWD)
	}
	info, err := os.Stat(session.CWD)
	if err != nil {
		return nil, fmt.Errorf("supervisor: CWD: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("supervisor: CWD is not a directory: %s", session.CWD)
	}

	resolvedBinary, err := exec.LookPath(s.opts.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", acpbridge.ErrUnavailable, s.opts.Binary, err)
	}

	cmd, stdin, stdout, err := spawnCmd(resolvedBinary, s.args(session), session.CWD)
	if err != nil {
		return nil, fmt.Errorf("supervisor: spawn: %w", err)
	}

	return newHandle(s.opts, session.ID, cmd, stdin, stdout), nil
}

// args builds the subprocess argument list. Invalid or null-byte-containing
// option values are silently skipped — args must not fail after Spawn has
// validated the hard preconditions.
func (s *Supervisor) args(session acpbridge.Session) []string {
	args := []string{
		"-p",
		"--verbose",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--permission-mode", "bypassPermissions",
	}

	if session.Model != "" && !containsNull(session.Model) {
		args = append(args, "--model", session.Model)
	}
	if sp := session.Options[OptionSystemPrompt]; sp != "" && !containsNull(sp) {
		args = append(args, "--system-prompt", sp)
	}

	return append(args, s.opts.ExtraArgs...)
}

// spawnCmd builds, configures, and starts an exec.Cmd with both pipes.
func spawnCmd(binary string, args []string, dir string) (*exec.Cmd, io.WriteCloser, io.ReadCloser, error) {
	cmd := exec.Command(binary, args...)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, nil, err
	}
	return cmd, stdin, stdout, nil
}

// containsNull reports whether s contains a null byte.
func containsNull(s string) bool {
	return strings.ContainsRune(s, '\x00')
}
