// Package render prints unified session events to a terminal with ANSI
// colors.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/bazelment/agentbridge/agentstream"
	"github.com/bazelment/agentbridge/claude"
)

// ANSI color codes - chosen to work on both light and dark backgrounds
const (
	ColorReset   = "\x1b[0m"
	ColorDim     = "\x1b[2m"
	ColorItalic  = "\x1b[3m"
	ColorRed     = "\x1b[31m"
	ColorGreen   = "\x1b[32m"
	ColorYellow  = "\x1b[33m"
	ColorMagenta = "\x1b[35m"
	ColorCyan    = "\x1b[36m"
	ColorGray    = "\x1b[90m"
)

// Renderer handles terminal output with ANSI colors.
type Renderer struct {
	out     io.Writer
	tools   map[string]string // toolUseId → "type target"
	mu      sync.Mutex
	verbose bool
	noColor bool
	// midLine is set while assistant text has not ended with a newline.
	midLine bool
}

// NewRenderer creates a renderer writing to out. Tool lines are printed
// only when verbose is set. Colors are suppressed when noColor is set or
// out is not a terminal.
func NewRenderer(out io.Writer, verbose, noColor bool) *Renderer {
	if !noColor {
		noColor = !IsTerminal(out)
	}
	return &Renderer{
		out:     out,
		verbose: verbose,
		noColor: noColor,
		tools:   make(map[string]string),
	}
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w any) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (r *Renderer) color(c string) string {
	if r.noColor {
		return ""
	}
	return c
}

// Render prints one event.
func (r *Renderer) Render(env agentstream.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev := env.Event.(type) {
	case agentstream.TextDelta:
		fmt.Fprint(r.out, ev.Text)
		r.midLine = !strings.HasSuffix(ev.Text, "\n")
	case agentstream.ThinkingStarted:
		r.line("%s%s%s%s", r.color(ColorDim), r.color(ColorItalic), ev.Content, r.color(ColorReset))
	case agentstream.SessionInitialized:
		r.line("%s[session=%s model=%s auth=%s]%s", r.color(ColorGray), ev.SessionID, ev.Model, ev.AuthType, r.color(ColorReset))
	case agentstream.ToolStarted:
		label := ev.ToolType
		if ev.Target != "" {
			label += " " + claude.Truncate(ev.Target, 60)
		}
		r.tools[ev.ToolUseID] = label
		if ev.Status == agentstream.ToolAwaitingPermission {
			r.line("%s[%s] needs permission%s", r.color(ColorYellow), label, r.color(ColorReset))
		}
	case agentstream.ToolEnded:
		r.toolEnded(ev)
	case agentstream.TokenUsage:
		if r.verbose {
			r.line("%s[tokens=%d context=%d/%d]%s", r.color(ColorGray), ev.TotalTokens, ev.ContextTokens, ev.ContextWindow, r.color(ColorReset))
		}
	case agentstream.TurnComplete:
		r.line("%s───────────────────────────────────────────────────────%s", r.color(ColorDim), r.color(ColorReset))
	case agentstream.AbortComplete:
		r.line("%s[aborted]%s", r.color(ColorYellow), r.color(ColorReset))
	case agentstream.PermissionModeChanged:
		r.line("%s[mode=%s model=%s, %s]%s", r.color(ColorGray), ev.PermissionMode, ev.Model, ev.Effect, r.color(ColorReset))
	case agentstream.PermissionExpired:
		r.line("%s[permission request %s expired]%s", r.color(ColorYellow), ev.PermissionRequestID, r.color(ColorReset))
	case agentstream.Error:
		r.line("%s[Error]%s %s", r.color(ColorRed), r.color(ColorReset), ev.Message)
	}
}

func (r *Renderer) toolEnded(ev agentstream.ToolEnded) {
	label, ok := r.tools[ev.ToolUseID]
	if !ok {
		return
	}
	delete(r.tools, ev.ToolUseID)
	if !r.verbose {
		return
	}
	switch ev.Status {
	case agentstream.ToolCompleted:
		r.line("%s[%s]%s %s✓%s", r.color(ColorCyan), label, r.color(ColorReset), r.color(ColorGreen), r.color(ColorReset))
	case agentstream.ToolError:
		r.line("%s[%s]%s %s✗%s", r.color(ColorCyan), label, r.color(ColorReset), r.color(ColorRed), r.color(ColorReset))
	default:
		r.line("%s[%s]%s %s%s%s", r.color(ColorCyan), label, r.color(ColorReset), r.color(ColorMagenta), ev.Status, r.color(ColorReset))
	}
}

// Status prints a status message.
func (r *Renderer) Status(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.line("%s[Status]%s %s", r.color(ColorGray), r.color(ColorReset), msg)
}

// line prints a full line, first ending any unterminated assistant text.
func (r *Renderer) line(format string, args ...any) {
	if r.midLine {
		fmt.Fprintln(r.out)
		r.midLine = false
	}
	fmt.Fprintf(r.out, format+"\n", args...)
}
