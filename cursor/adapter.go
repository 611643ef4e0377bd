package cursor

import (
	"github.com/bazelment/agentbridge/permission"
	"github.com/bazelment/agentbridge/session"
)

// AuthType is reported in SessionInitialized.
const AuthType = "Cursor"

// Adapter implements session.Adapter. Cursor is argument-driven: each turn
// spawns `agent chat -p <prompt>`.
type Adapter struct {
	Trust   bool // --trust: trust the workspace without asking
	Sandbox bool // --sandbox
}

var _ session.Adapter = (*Adapter)(nil)

// New returns the Cursor adapter.
func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Kind() session.Kind    { return session.KindCursor }
func (a *Adapter) DisplayName() string   { return "Cursor" }
func (a *Adapter) DefaultBinary() string { return "agent" }

// Capabilities lists no models: Cursor picks its own unless told.
func (a *Adapter) Capabilities() session.Capabilities {
	return session.Capabilities{
		PermissionModel: session.PermissionSessionLevel,
		SupportsAbort:   true,
		SupportsResume:  true,
	}
}

// BuildArgs builds the CLI arguments from the spawn request.
//
// The Cursor Agent CLI uses: agent chat -p <prompt> --output-format stream-json [options]
// Permissions are all-or-nothing: bypass mode passes --force, every other
// mode leaves the CLI to refuse what it would have asked about. The
// thinking level has no Cursor equivalent.
func (a *Adapter) BuildArgs(req session.SpawnRequest) []string {
	args := []string{
		"chat",
		"-p", req.Prompt,
		"--output-format", "stream-json",
	}

	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}

	if req.Mode == permission.ModeBypass {
		args = append(args, "--force")
	}

	if a.Trust {
		args = append(args, "--trust")
	}

	if a.Sandbox {
		args = append(args, "--sandbox")
	}

	if req.ResumeID != "" {
		args = append(args, "--resume", req.ResumeID)
	}

	return append(args, req.ExtraArgs...)
}

func (a *Adapter) NewNormalizer(h session.Host) session.Normalizer {
	return newNormalizer(h)
}
