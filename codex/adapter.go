// Package codex is the Codex backend family. Codex is argument-driven:
// every turn runs `codex exec --json` with the prompt on the command line,
// and later turns resume the thread the first one started.
package codex

import (
	"github.com/bazelment/agentbridge/permission"
	"github.com/bazelment/agentbridge/session"
)

// DefaultModel is used when the session names no model.
const DefaultModel = "gpt-5.2"

// AuthType is reported in SessionInitialized; exec runs under the ChatGPT
// login of the local CLI.
const AuthType = "ChatGPT"

// Sandbox policies accepted by `codex exec -s`.
const (
	SandboxReadOnly       = "read-only"
	SandboxWorkspaceWrite = "workspace-write"
	SandboxFullAccess     = "danger-full-access"
)

// Adapter implements session.Adapter.
type Adapter struct{}

var _ session.Adapter = Adapter{}

// New returns the Codex adapter.
func New() Adapter {
	return Adapter{}
}

func (Adapter) Kind() session.Kind    { return session.KindCodex }
func (Adapter) DisplayName() string   { return "Codex" }
func (Adapter) DefaultBinary() string { return "codex" }

func (Adapter) Capabilities() session.Capabilities {
	return session.Capabilities{
		PermissionModel: session.PermissionSessionLevel,
		Models: []session.ModelInfo{
			{ID: "gpt-5.2-codex", Name: "GPT 5.2 Codex", SupportsThinking: true},
		},
		SupportsAbort:            true,
		SupportsResume:           true,
		SupportsExtendedThinking: true,
	}
}

// SandboxMode maps a permission mode onto a sandbox policy. Codex asks
// nothing during exec, so the sandbox is the whole permission story.
func SandboxMode(mode permission.Mode) string {
	switch mode {
	case permission.ModeAcceptEdits:
		return SandboxWorkspaceWrite
	case permission.ModeBypass:
		return SandboxFullAccess
	}
	return SandboxReadOnly
}

// ReasoningEffort maps a thinking level onto Codex reasoning_effort.
// Anything but low or medium runs at high.
func ReasoningEffort(level session.ThinkingLevel) string {
	switch level {
	case session.ThinkingLow:
		return "low"
	case session.ThinkingMedium:
		return "medium"
	}
	return "high"
}

// BuildArgs starts a new thread, or resumes req.ResumeID. Resume takes
// neither -C nor -s: the working directory comes from the process and the
// sandbox from the thread.
func (Adapter) BuildArgs(req session.SpawnRequest) []string {
	model := req.Model
	if model == "" {
		model = DefaultModel
	}

	args := []string{"exec"}
	if req.ResumeID != "" {
		args = append(args, "resume")
	}
	args = append(args, "--json", "--skip-git-repo-check")
	if req.ResumeID == "" {
		if req.WorkDir != "" {
			args = append(args, "-C", req.WorkDir)
		}
		args = append(args, "-s", SandboxMode(req.Mode))
	}
	args = append(args, "-m", model, "-c", "reasoning_effort="+ReasoningEffort(req.ThinkingLevel))
	args = append(args, req.ExtraArgs...)

	if req.ResumeID != "" {
		args = append(args, req.ResumeID)
	}
	return append(args, req.Prompt)
}

func (Adapter) NewNormalizer(h session.Host) session.Normalizer {
	return newNormalizer(h)
}
