// Package permission holds the per-operation permission policy applied to
// tool invocations of backends that negotiate permissions at runtime.
package permission

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Mode is a session-level permission mode.
type Mode string

const (
	ModeDefault     Mode = "default"
	ModeAcceptEdits Mode = "acceptEdits"
	ModeBypass      Mode = "bypassPermissions"
	ModePlan        Mode = "plan"
)

// ParseMode validates s. The empty string maps to ModeDefault.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeDefault, nil
	case ModeDefault, ModeAcceptEdits, ModeBypass, ModePlan:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown permission mode %q", s)
}

// Verdict is the caller's answer to a permission prompt.
type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictDeny  Verdict = "deny"
)

// ParseVerdict accepts "allow"/"deny" and the shorthands "y"/"n".
func ParseVerdict(s string) (Verdict, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow", "y", "yes":
		return VerdictAllow, nil
	case "deny", "n", "no":
		return VerdictDeny, nil
	}
	return "", fmt.Errorf("unknown verdict %q", s)
}

// Action is the policy outcome for one tool invocation.
type Action int

const (
	Allow Action = iota
	Deny
	Prompt
)

func (a Action) String() string {
	switch a {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case Prompt:
		return "prompt"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Decision is the result of Evaluate.
type Decision struct {
	Reason string
	Action Action
}

// Reasons attached to policy decisions.
const (
	ReasonInteractive = "Interactive tools requiring TTY input are not supported"
	ReasonBypass      = "Bypass mode - all tools allowed"
	ReasonAcceptEdits = "AcceptEdits mode - file operations allowed"
	ReasonSettings    = "Allowed by user settings"
	ReasonReadOnly    = "Read-only operation"

	ReasonUserApproved   = "User approved"
	ReasonUserDenied     = "User denied"
	ReasonSessionAborted = "Session aborted"
)

var (
	interactiveTools = map[string]bool{
		"AskUserQuestion": true,
		"EnterPlanMode":   true,
		"ExitPlanMode":    true,
	}
	protectedTools = map[string]bool{
		"Write":        true,
		"Edit":         true,
		"Bash":         true,
		"NotebookEdit": true,
		"Skill":        true,
	}
)

// IsInteractive reports tools that need TTY input the backend cannot get.
func IsInteractive(tool string) bool { return interactiveTools[tool] }

// RequiresPermission reports tools that prompt when no rule allows them.
func RequiresPermission(tool string) bool { return protectedTools[tool] }

// Evaluate applies the policy, in order:
//  1. interactive tools are denied
//  2. bypass mode allows everything
//  3. acceptEdits allows everything except Bash
//  4. the user's settings allow-list
//  5. tools outside the protected set are allowed as read-only
//  6. everything else prompts
//
// settings may be nil.
func Evaluate(mode Mode, tool string, input json.RawMessage, settings *Settings) Decision {
	if IsInteractive(tool) {
		return Decision{Action: Deny, Reason: ReasonInteractive}
	}
	if mode == ModeBypass {
		return Decision{Action: Allow, Reason: ReasonBypass}
	}
	if mode == ModeAcceptEdits && tool != "Bash" {
		return Decision{Action: Allow, Reason: ReasonAcceptEdits}
	}
	if settings.IsToolAllowed(tool, input) {
		return Decision{Action: Allow, Reason: ReasonSettings}
	}
	if !RequiresPermission(tool) {
		return Decision{Action: Allow, Reason: ReasonReadOnly}
	}
	return Decision{Action: Prompt}
}
