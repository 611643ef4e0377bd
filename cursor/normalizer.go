package cursor

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/bazelment/agentbridge/agentstream"
	"github.com/bazelment/agentbridge/session"
)

// normalizer maps stream-json lines onto unified events. Cursor reports no
// token usage, so no TokenUsage events are produced.
type normalizer struct {
	host      session.Host
	tools     *agentstream.ToolTracker
	sessionID string
}

func newNormalizer(h session.Host) *normalizer {
	return &normalizer{host: h, tools: agentstream.NewToolTracker()}
}

func (n *normalizer) HandleLine(_ context.Context, line []byte) bool {
	msg, err := ParseMessage(line)
	if err != nil {
		if !errors.Is(err, ErrUnknownMessage) {
			n.host.Logger().Debug("undecodable line", "error", err)
		}
		return false
	}

	switch m := msg.(type) {
	case *SystemInitMessage:
		n.handleInit(m)
	case *AssistantMessage:
		if text := m.Text(); text != "" {
			n.host.Emit(agentstream.TextDelta{Text: text})
		}
	case *ThinkingMessage:
		n.handleThinking(m)
	case *ToolCallMessage:
		n.handleToolCall(m)
	case *ResultMessage:
		n.handleResult(m)
	case *UserMessage:
		// prompt echo
	}
	return true
}

func (n *normalizer) AbortOpenTools() []agentstream.Event {
	return n.tools.AbortAll()
}

// handleInit reports the chat id once; resumed turns repeat it.
func (n *normalizer) handleInit(m *SystemInitMessage) {
	if m.SessionID == "" || m.SessionID == n.sessionID {
		return
	}
	n.sessionID = m.SessionID
	n.host.Logger().Info("cursor chat initialized", "session_id", m.SessionID, "model", m.Model)
	n.host.Emit(agentstream.SessionInitialized{SessionID: m.SessionID, AuthType: AuthType, Model: m.Model})
}

// handleThinking emits each reasoning segment as a complete thinking
// block. Nothing is held back, so an interrupted turn leaves no reasoning
// behind for the next one.
func (n *normalizer) handleThinking(m *ThinkingMessage) {
	if strings.TrimSpace(m.Text) == "" {
		return
	}
	id := uuid.NewString()
	n.host.Emit(
		agentstream.ThinkingStarted{ThinkingID: id, Content: m.Text},
		agentstream.ThinkingEnded{ThinkingID: id},
	)
}

func (n *normalizer) handleToolCall(m *ToolCallMessage) {
	key, detail, ok := m.Detail()
	if !ok || m.CallID == "" {
		n.host.Logger().Debug("tool call without detail", "call_id", m.CallID)
		return
	}
	name := ToolName(key)

	switch m.Subtype {
	case "started":
		// Permissions are fixed at spawn; a started call is already running.
		ev, ok := n.tools.Start(agentstream.ToolStarted{
			ToolUseID: m.CallID,
			ToolType:  name,
			Target:    ToolTarget(name, detail.Args),
			Status:    agentstream.ToolPending,
			Input:     detail.Args,
		})
		if !ok {
			return
		}
		ch, _ := n.tools.SetStatus(m.CallID, agentstream.ToolRunning, "")
		n.host.Emit(ev, ch)
	case "completed":
		n.tools.Observe(m.CallID, name, ToolTarget(name, detail.Args))
		status := session.InterruptedStatus(n.host, ResultStatus(detail.Result))
		n.host.Emit(n.tools.End(m.CallID, status)...)
	}
}

func (n *normalizer) handleResult(m *ResultMessage) {
	if m.SessionID != "" && n.sessionID == "" {
		n.handleInit(&SystemInitMessage{SessionID: m.SessionID})
	}
	switch {
	case n.host.Aborting():
		n.host.Logger().Debug("turn result during abort", "subtype", m.Subtype)
	case m.IsError || (m.Subtype != "" && m.Subtype != "success"):
		msg := m.Result
		if msg == "" {
			msg = "Cursor returned error: " + m.Subtype
		}
		n.host.Emit(agentstream.Error{Message: msg, Code: agentstream.CodeBackendError})
	default:
		n.host.Emit(agentstream.TurnComplete{})
	}
}
