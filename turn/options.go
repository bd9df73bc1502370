package turn

import "log/slog"

// Default runtime configuration values.
const (
	defaultMaxTurnRequests  = 16
	defaultMaxTokensPerTurn = 32_000
	defaultUpdateBuffer     = 100
)

// Options holds resolved construction-time configuration for a Runtime.
type Options struct {
	// MaxTurnRequests caps model round-trips per turn. The check runs
	// before each send; the count never exceeds the cap.
	MaxTurnRequests int

	// MaxTokensPerTurn caps the estimated token volume written to the
	// model per turn, at roughly four bytes per token.
	MaxTokensPerTurn int

	// RefusalPatterns override the built-in refusal phrase list.
	RefusalPatterns []string

	// UpdateBuffer is the channel buffer size for turn updates.
	UpdateBuffer int

	// Logger receives runtime diagnostics. Nil means slog.Default().
	Logger *slog.Logger

	// Store persists session metadata. Nil disables persistence.
	Store SessionStore

	// Tools executes tool calls. Nil synthesizes failures for every call.
	Tools ToolExecutor

	// Gate authorizes tool calls. Nil allows everything.
	Gate PermissionGate
}

// Option configures a Runtime at construction time.
type Option func(*Options)

// WithMaxTurnRequests caps model round-trips per turn.
// Values <= 0 are ignored.
func WithMaxTurnRequests(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxTurnRequests = n
		}
	}
}

// WithMaxTokensPerTurn caps the estimated tokens written per turn.
// Values <= 0 are ignored.
func WithMaxTokensPerTurn(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxTokensPerTurn = n
		}
	}
}

// WithRefusalPatterns replaces the built-in refusal phrase list.
func WithRefusalPatterns(patterns ...string) Option {
	return func(o *Options) {
		o.RefusalPatterns = patterns
	}
}

// WithUpdateBuffer sets the channel buffer size for turn updates.
// Values <= 0 are ignored.
func WithUpdateBuffer(size int) Option {
	return func(o *Options) {
		if size > 0 {
			o.UpdateBuffer = size
		}
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *Options) {
		if log != nil {
			o.Logger = log
		}
	}
}

// WithStore sets the session metadata store.
func WithStore(store SessionStore) Option {
	return func(o *Options) { o.Store = store }
}

// WithTools sets the tool executor.
func WithTools(tools ToolExecutor) Option {
	return func(o *Options) { o.Tools = tools }
}

// WithGate sets the permission gate.
func WithGate(gate PermissionGate) Option {
	return func(o *Options) { o.Gate = gate }
}

func resolveOptions(opts ...Option) Options {
	o := Options{
		MaxTurnRequests:  defaultMaxTurnRequests,
		MaxTokensPerTurn: defaultMaxTokensPerTurn,
		UpdateBuffer:     defaultUpdateBuffer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// estimateTokens approximates the token cost of a payload at four bytes
// per token, rounding up. Deliberately coarse — it is a budget guard,
// not an accounting system.
func estimateTokens(payload string) int {
	return (len(payload) + 3) / 4
}
