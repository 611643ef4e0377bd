package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bazelment/agentbridge/agentstream"
	"github.com/bazelment/agentbridge/control"
	"github.com/bazelment/agentbridge/permission"
)

// Kind names a backend family.
type Kind string

const (
	KindClaude Kind = "claude"
	KindCodex  Kind = "codex"
	KindCursor Kind = "cursor"
)

// PermissionModel says how a backend negotiates tool permissions.
type PermissionModel string

const (
	// PermissionPerOperation backends ask before each protected tool.
	PermissionPerOperation PermissionModel = "per-operation"
	// PermissionSessionLevel backends fix permissions at spawn time.
	PermissionSessionLevel PermissionModel = "session-level"
)

// ModelInfo describes one model a backend offers.
type ModelInfo struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	SupportsThinking bool   `json:"supportsThinking"`
}

// Capabilities is what a backend family can do.
type Capabilities struct {
	PermissionModel          PermissionModel `json:"permissionModel"`
	Models                   []ModelInfo     `json:"availableModels"`
	SupportsAbort            bool            `json:"supportsAbort"`
	SupportsResume           bool            `json:"supportsResume"`
	SupportsExtendedThinking bool            `json:"supportsExtendedThinking"`
}

// ThinkingLevel is the reasoning effort requested from the backend. The
// empty level leaves the backend default in place.
type ThinkingLevel string

const (
	ThinkingDefault ThinkingLevel = ""
	ThinkingLow     ThinkingLevel = "low"
	ThinkingMedium  ThinkingLevel = "medium"
	ThinkingHigh    ThinkingLevel = "high"
)

// ParseThinkingLevel validates a thinking level name.
func ParseThinkingLevel(s string) (ThinkingLevel, error) {
	switch l := ThinkingLevel(s); l {
	case ThinkingDefault, ThinkingLow, ThinkingMedium, ThinkingHigh:
		return l, nil
	}
	return "", fmt.Errorf("unknown thinking level %q", s)
}

// SpawnRequest is everything an adapter needs to build a command line.
type SpawnRequest struct {
	// Prompt is the user text for argument-driven backends. Empty for
	// stdin-driven ones.
	Prompt        string
	ResumeID      string
	Model         string
	Mode          permission.Mode
	ThinkingLevel ThinkingLevel
	WorkDir       string
	ExtraArgs     []string
}

// Adapter is one backend family.
type Adapter interface {
	Kind() Kind
	// DisplayName is used in user-facing messages, e.g. "Claude".
	DisplayName() string
	// DefaultBinary is looked up in PATH when no CLI path is configured.
	DefaultBinary() string
	Capabilities() Capabilities
	BuildArgs(req SpawnRequest) []string
	// NewNormalizer is called once per session; the normalizer outlives
	// individual processes.
	NewNormalizer(h Host) Normalizer
}

// ControlCodec is implemented by adapters whose backend reads NDJSON from
// stdin. Adapters without it are argument-driven: every turn is a spawn.
type ControlCodec interface {
	EncodeInitialize() (requestID string, line []byte, err error)
	EncodeUserMessage(text, backendSessionID string) ([]byte, error)
	EncodeInterrupt() ([]byte, error)
	EncodeSetPermissionMode(mode permission.Mode) ([]byte, error)
}

// Normalizer turns backend lines into unified events. Calls are
// serialized by the session.
type Normalizer interface {
	// HandleLine processes one line and reports whether it was recognized.
	// It may block while a permission request is pending.
	HandleLine(ctx context.Context, line []byte) bool
	// AbortOpenTools ends every open tool as aborted.
	AbortOpenTools() []agentstream.Event
}

// Host is the session as seen by a normalizer.
type Host interface {
	// Emit delivers events in order under the current turn.
	Emit(events ...agentstream.Event)
	// WriteLine sends one line to the backend's stdin.
	WriteLine(line []byte) error
	PermissionMode() permission.Mode
	// Settings returns the current user settings, possibly nil.
	Settings() *permission.Settings
	Control() *control.Channel
	// Aborting reports an Abort in progress.
	Aborting() bool
	// ControlResponse reports the backend's answer to a request the
	// session sent, such as the initialize handshake.
	ControlResponse(requestID string, err error)
	Logger() *slog.Logger
}

// InterruptedStatus is the final status of a tool result reported while an
// Abort is in progress. A failure then is the interruption itself, so the
// tool ends as aborted.
func InterruptedStatus(h Host, status agentstream.ToolStatus) agentstream.ToolStatus {
	if status == agentstream.ToolError && h.Aborting() {
		return agentstream.ToolAborted
	}
	return status
}
