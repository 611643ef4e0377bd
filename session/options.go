package session

import (
	"context"
	"io"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/bazelment/agentbridge/control"
	"github.com/bazelment/agentbridge/permission"
	"github.com/bazelment/agentbridge/transport"
)

const (
	defaultEventBuffer      = 100
	defaultHandshakeTimeout = 10 * time.Second
	defaultSweepInterval    = time.Second
	defaultDrainTimeout     = 2 * time.Second
	defaultStderrRate       = rate.Limit(20)
	defaultStderrBurst      = 50
)

// Config holds session configuration.
type Config struct {
	// Logger receives session diagnostics. Defaults to a discarding logger.
	Logger *slog.Logger

	// Settings supplies the user's permission allow-list (Claude only).
	Settings permission.SettingsSource

	// Trace, when set, receives one protocol.TraceEntry per line.
	Trace io.Writer

	// CLIPath is the backend binary. The adapter's default binary is
	// looked up in PATH when empty.
	CLIPath string

	// WorkDir is the backend's working directory.
	WorkDir string

	// Model to request from the backend. Empty uses the backend default.
	Model string

	// PermissionMode controls tool approval.
	PermissionMode permission.Mode

	// ResumeID is a backend session id to continue.
	ResumeID string

	// ThinkingLevel is the requested reasoning effort.
	ThinkingLevel ThinkingLevel

	// Env entries are appended to the inherited environment.
	Env []string

	// ExtraArgs are appended to every spawn.
	ExtraArgs []string

	// GracePeriod is the SIGINT-to-SIGKILL delay on termination.
	GracePeriod time.Duration

	// PermissionTimeout bounds how long a permission prompt waits.
	PermissionTimeout time.Duration

	// HandshakeTimeout bounds the wait for the initialize response before
	// queued messages are sent anyway.
	HandshakeTimeout time.Duration

	// SweepInterval is how often expired permission requests are swept.
	SweepInterval time.Duration

	// DrainTimeout bounds the wait for readers after the process exits.
	DrainTimeout time.Duration

	// EventBuffer is the events channel buffer size (default: 100).
	EventBuffer int

	// StderrRate and StderrBurst limit how many stderr lines are logged.
	StderrRate  rate.Limit
	StderrBurst int
}

// Option is a functional option for configuring a Session.
type Option func(*Config)

func defaultConfig() Config {
	return Config{
		PermissionMode:    permission.ModeDefault,
		GracePeriod:       transport.DefaultGracePeriod,
		PermissionTimeout: control.DefaultTimeout,
		HandshakeTimeout:  defaultHandshakeTimeout,
		SweepInterval:     defaultSweepInterval,
		DrainTimeout:      defaultDrainTimeout,
		EventBuffer:       defaultEventBuffer,
		StderrRate:        defaultStderrRate,
		StderrBurst:       defaultStderrBurst,
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithSettings sets the permission settings source.
func WithSettings(src permission.SettingsSource) Option {
	return func(c *Config) {
		c.Settings = src
	}
}

// WithTrace records every sent and received line to w.
func WithTrace(w io.Writer) Option {
	return func(c *Config) {
		c.Trace = w
	}
}

// WithCLIPath sets the backend binary path.
func WithCLIPath(path string) Option {
	return func(c *Config) {
		c.CLIPath = path
	}
}

// WithWorkDir sets the working directory.
func WithWorkDir(dir string) Option {
	return func(c *Config) {
		c.WorkDir = dir
	}
}

// WithModel sets the model to use.
func WithModel(model string) Option {
	return func(c *Config) {
		c.Model = model
	}
}

// WithPermissionMode sets the initial permission mode.
func WithPermissionMode(mode permission.Mode) Option {
	return func(c *Config) {
		c.PermissionMode = mode
	}
}

// WithResume continues an existing backend session.
func WithResume(backendSessionID string) Option {
	return func(c *Config) {
		c.ResumeID = backendSessionID
	}
}

// WithThinkingLevel sets the initial reasoning effort.
func WithThinkingLevel(level ThinkingLevel) Option {
	return func(c *Config) {
		c.ThinkingLevel = level
	}
}

// WithEnv appends environment entries ("KEY=value").
func WithEnv(env ...string) Option {
	return func(c *Config) {
		c.Env = append(c.Env, env...)
	}
}

// WithExtraArgs appends arguments to every spawn.
func WithExtraArgs(args ...string) Option {
	return func(c *Config) {
		c.ExtraArgs = append(c.ExtraArgs, args...)
	}
}

// WithGracePeriod sets the termination grace period.
func WithGracePeriod(d time.Duration) Option {
	return func(c *Config) {
		c.GracePeriod = d
	}
}

// WithPermissionTimeout sets how long permission prompts wait.
func WithPermissionTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.PermissionTimeout = d
	}
}

// WithHandshakeTimeout sets the initialize handshake timeout.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.HandshakeTimeout = d
	}
}

// WithSweepInterval sets the permission expiry sweep interval.
func WithSweepInterval(d time.Duration) Option {
	return func(c *Config) {
		c.SweepInterval = d
	}
}

// WithDrainTimeout sets how long to wait for readers after exit.
func WithDrainTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.DrainTimeout = d
	}
}

// WithEventBuffer sets the events channel buffer size.
func WithEventBuffer(n int) Option {
	return func(c *Config) {
		c.EventBuffer = n
	}
}

// WithStderrRate limits logged stderr lines to r per second with burst b.
func WithStderrRate(r rate.Limit, b int) Option {
	return func(c *Config) {
		c.StderrRate = r
		c.StderrBurst = b
	}
}

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h nopHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h nopHandler) WithGroup(string) slog.Handler           { return h }
