package acpbridge

// SessionState is the lifecycle state of a session.
type SessionState string

const (
	// StateActive means the session can open turns.
	StateActive SessionState = "active"

	// StateTerminating means the session is shutting down; new turns
	// are rejected while in-flight cleanup completes.
	StateTerminating SessionState = "terminating"

	// StateClosed means the session is gone from the registry.
	StateClosed SessionState = "closed"
)

// Session is the minimal session state passed to the supervisor.
//
// Session is a value type — it carries identity and configuration but
// no runtime state (no mutexes, no channels, no process handles).
// The turn runtime wraps it with registry bookkeeping.
type Session struct {
	// ID uniquely identifies the session.
	ID string `json:"id"`

	// CWD is the working directory for the subprocess. Must be absolute.
	CWD string `json:"cwd"`

	// Model selects the model flag passed to the LM tool. Optional.
	Model string `json:"model,omitempty"`

	// Options holds backend-specific key-value configuration,
	// e.g. extra flags for the LM tool.
	Options map[string]string `json:"options,omitempty"`
}

// Clone returns a deep copy of s, cloning the Options map.
func (s Session) Clone() Session {
	c := s
	if s.Options != nil {
		c.Options = make(map[string]string, len(s.Options))
		for k, v := range s.Options {
			c.Options[k] = v
		}
	}
	return c
}
