// Package toolexec provides tool executors for the turn runtime: a
// local function registry and a bridge to MCP servers.
package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dmora/acpbridge"
	"github.com/dmora/acpbridge/turn"
)

// Func is a locally registered tool implementation. The returned string
// is delivered to the model; an error becomes a failed result.
type Func func(ctx context.Context, sessionID string, input json.RawMessage) (string, error)

// Registry dispatches tool calls to locally registered functions.
// Unknown tools produce a failed result rather than an error — the
// model decides how to proceed.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register binds name to fn, replacing any previous binding.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Names returns the registered tool names in unspecified order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	return names
}

// Execute runs the named tool.
func (r *Registry) Execute(ctx context.Context, sessionID string, call acpbridge.ToolCall) (turn.ToolResult, error) {
	r.mu.RLock()
	fn, ok := r.funcs[call.Name]
	r.mu.RUnlock()
	if !ok {
		return turn.ToolResult{
			Content: fmt.Sprintf("unknown tool %q", call.Name),
		}, nil
	}

	content, err := fn(ctx, sessionID, call.Input)
	if err != nil {
		return turn.ToolResult{Content: err.Error()}, nil
	}
	return turn.ToolResult{Content: content, Success: true}, nil
}
