// Package claude is the Claude Code backend family: a long-lived CLI
// process reading stream-json from stdin, with tool permissions negotiated
// through PreToolUse hook callbacks.
package claude

import (
	"github.com/bazelment/agentbridge/control"
	"github.com/bazelment/agentbridge/permission"
	"github.com/bazelment/agentbridge/protocol"
	"github.com/bazelment/agentbridge/session"
)

// DefaultModel is used when the session names no model.
const DefaultModel = "sonnet"

// Hook callback ids registered in the initialize handshake.
const (
	preToolCallbackID  = "pretool_0"
	postToolCallbackID = "posttool_0"
)

var models = []session.ModelInfo{
	{ID: "opus", Name: "Claude Opus 4.6", SupportsThinking: true},
	{ID: "sonnet", Name: "Claude Sonnet 4.5", SupportsThinking: true},
	{ID: "haiku", Name: "Claude Haiku 4.5"},
}

// Adapter implements session.Adapter and session.ControlCodec.
type Adapter struct {
	// PartialMessages starts the CLI with --include-partial-messages so
	// text arrives as it is generated rather than per message.
	PartialMessages bool
}

var (
	_ session.Adapter      = (*Adapter)(nil)
	_ session.ControlCodec = (*Adapter)(nil)
)

// New returns the Claude adapter.
func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Kind() session.Kind    { return session.KindClaude }
func (a *Adapter) DisplayName() string   { return "Claude" }
func (a *Adapter) DefaultBinary() string { return "claude" }

func (a *Adapter) Capabilities() session.Capabilities {
	return session.Capabilities{
		PermissionModel:          session.PermissionPerOperation,
		Models:                   append([]session.ModelInfo(nil), models...),
		SupportsAbort:            true,
		SupportsResume:           true,
		SupportsExtendedThinking: true,
	}
}

// BuildArgs returns the command line of an interactive stream-json process.
// Permissions other than bypass are enforced through hooks, so no
// --permission-mode or --allowedTools flags are passed. The CLI has no
// flag for thinking depth; the model decides it, so the requested level
// is ignored.
func (a *Adapter) BuildArgs(req session.SpawnRequest) []string {
	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	args := []string{
		"-p",
		"--output-format", "stream-json",
		"--verbose",
		"--input-format", "stream-json",
		"--model", model,
	}
	if req.Mode == permission.ModeBypass {
		args = append(args, "--dangerously-skip-permissions")
	}
	if a.PartialMessages {
		args = append(args, "--include-partial-messages")
	}
	if req.ResumeID != "" {
		args = append(args, "--resume", req.ResumeID)
	}
	return append(args, req.ExtraArgs...)
}

func (a *Adapter) NewNormalizer(h session.Host) session.Normalizer {
	return newNormalizer(h)
}

func (a *Adapter) EncodeInitialize() (string, []byte, error) {
	id := control.NewID("init_")
	line, err := protocol.NewInitialize(id, protocol.DefaultHooks(preToolCallbackID, postToolCallbackID)).Marshal()
	return id, line, err
}

func (a *Adapter) EncodeUserMessage(text, backendSessionID string) ([]byte, error) {
	return protocol.NewUserTextMessage(text, backendSessionID).Marshal()
}

func (a *Adapter) EncodeInterrupt() ([]byte, error) {
	return protocol.NewInterrupt(control.NewID("interrupt_")).Marshal()
}

func (a *Adapter) EncodeSetPermissionMode(mode permission.Mode) ([]byte, error) {
	return protocol.NewSetPermissionMode(control.NewID("mode_"), string(mode)).Marshal()
}
