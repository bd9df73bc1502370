package supervisor

import (
	"log/slog"
	"time"
)

// Default supervisor configuration values.
const (
	defaultBinary        = "claude"
	defaultLineBuffer    = 100
	defaultScannerBuffer = 1 << 20 // 1 MB
	defaultGracePeriod   = 5 * time.Second
)

// Options holds resolved construction-time configuration for a Supervisor.
// Use New with Option functions to customize these values.
type Options struct {
	// Binary is the LM tool executable, resolved via PATH lookup.
	Binary string

	// ExtraArgs are appended after the protocol flags on every spawn.
	ExtraArgs []string

	// LineBuffer is the channel buffer size for stdout lines.
	LineBuffer int

	// ScannerBuffer is the maximum line size in bytes for the stdout scanner.
	ScannerBuffer int

	// GracePeriod is how long Shutdown waits after closing stdin before
	// force-killing the subprocess.
	GracePeriod time.Duration

	// Logger receives supervisor diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// Option configures a Supervisor at construction time.
type Option func(*Options)

// WithBinary overrides the LM tool binary path.
// Empty values are ignored; the default is "claude".
func WithBinary(path string) Option {
	return func(o *Options) {
		if path != "" {
			o.Binary = path
		}
	}
}

// WithExtraArgs appends additional flags after the protocol flags.
func WithExtraArgs(args ...string) Option {
	return func(o *Options) {
		o.ExtraArgs = append(o.ExtraArgs, args...)
	}
}

// WithLineBuffer sets the channel buffer size for stdout lines.
// Values <= 0 are ignored.
func WithLineBuffer(size int) Option {
	return func(o *Options) {
		if size > 0 {
			o.LineBuffer = size
		}
	}
}

// WithScannerBuffer sets the maximum line size in bytes for the stdout
// scanner. Values <= 0 are ignored.
func WithScannerBuffer(size int) Option {
	return func(o *Options) {
		if size > 0 {
			o.ScannerBuffer = size
		}
	}
}

// WithGracePeriod sets the wait between closing stdin and force-kill.
// Values <= 0 are ignored.
func WithGracePeriod(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.GracePeriod = d
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

func resolveOptions(opts ...Option) Options {
	o := Options{
		Binary:        defaultBinary,
		LineBuffer:    defaultLineBuffer,
		ScannerBuffer: defaultScannerBuffer,
		GracePeriod:   defaultGracePeriod,
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
