// Package permission implements tool-call gates: a static allow/deny
// policy and an interactive gate that asks the connected editor.
package permission

import (
	"context"

	"github.com/dmora/acpbridge"
	"github.com/dmora/acpbridge/turn"
)

// Policy is a static gate: explicit deny wins, then explicit allow,
// then the default. Tool names match exactly.
type Policy struct {
	allow        map[string]bool
	deny         map[string]bool
	defaultAllow bool
}

// NewPolicy builds a policy from allow and deny lists. A tool on both
// lists is denied.
func NewPolicy(allow, deny []string, defaultAllow bool) *Policy {
	p := &Policy{
		allow:        make(map[string]bool, len(allow)),
		deny:         make(map[string]bool, len(deny)),
		defaultAllow: defaultAllow,
	}
	for _, name := range allow {
		p.allow[name] = true
	}
	for _, name := range deny {
		p.deny[name] = true
	}
	return p
}

// Check applies the policy to one call.
func (p *Policy) Check(ctx context.Context, sessionID string, call acpbridge.ToolCall) (turn.Verdict, error) {
	switch {
	case p.deny[call.Name]:
		return turn.Deny("tool " + call.Name + " is deny-listed"), nil
	case p.allow[call.Name]:
		return turn.Allow(), nil
	case p.defaultAllow:
		return turn.Allow(), nil
	default:
		return turn.Deny("tool " + call.Name + " is not allow-listed"), nil
	}
}
