package claude

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/bazelment/agentbridge/agentstream"
	"github.com/bazelment/agentbridge/protocol"
	"github.com/bazelment/agentbridge/session"
)

// normalizer maps stream-json lines onto unified events. The PreToolUse
// hook is the only source of tool starts; tool_use blocks are recorded
// so a result for a tool whose hook never fired still gets a start.
type normalizer struct {
	host  session.Host
	tools *agentstream.ToolTracker
	usage agentstream.UsageMeter

	// calls holds the latest total of each assistant message id; the CLI
	// repeats usage on every line of a split message.
	calls map[string]int64
	total int64

	// streamed marks message ids whose text already arrived as partial
	// stream events.
	streamed  map[string]bool
	streamMsg string
}

func newNormalizer(h session.Host) *normalizer {
	return &normalizer{
		host:     h,
		tools:    agentstream.NewToolTracker(),
		calls:    make(map[string]int64),
		streamed: make(map[string]bool),
	}
}

func (n *normalizer) HandleLine(ctx context.Context, line []byte) bool {
	msg, err := protocol.Decode(line)
	if err != nil {
		if !errors.Is(err, protocol.ErrUnknownLine) {
			n.host.Logger().Debug("undecodable line", "error", err)
		}
		return false
	}

	switch m := msg.(type) {
	case protocol.SystemMessage:
		n.handleSystem(m)
	case protocol.AssistantMessage:
		n.handleAssistant(m)
	case protocol.UserMessage:
		n.handleUser(m)
	case protocol.StreamEvent:
		n.handleStreamEvent(m)
	case protocol.ResultMessage:
		n.handleResult(m)
	case protocol.ControlRequest:
		n.handleControlRequest(ctx, m)
	case protocol.ControlResponse:
		n.host.ControlResponse(m.ID(), m.Err())
	}
	return true
}

func (n *normalizer) AbortOpenTools() []agentstream.Event {
	return n.tools.AbortAll()
}

func (n *normalizer) handleSystem(m protocol.SystemMessage) {
	if m.Subtype != "init" {
		return
	}
	n.host.Logger().Info("CLI session initialized", "session_id", m.SessionID, "model", m.Model, "version", m.Version)
	n.host.Emit(agentstream.SessionInitialized{
		SessionID: m.SessionID,
		AuthType:  AuthType(m.APIKeySource),
		Model:     m.Model,
	})
}

// AuthType names the credential kind behind an init apiKeySource.
func AuthType(apiKeySource string) string {
	switch apiKeySource {
	case "none":
		return "Claude AI Subscription"
	case "environment", "settings":
		return "Anthropic API Key"
	case "":
		return "Unknown"
	}
	return apiKeySource
}

func (n *normalizer) handleAssistant(m protocol.AssistantMessage) {
	var b agentstream.Batch
	if m.Message.Usage != nil {
		if ev, ok := n.observeUsage(m.Message.ID, *m.Message.Usage); ok {
			b.Add(ev)
		}
	}

	skipText := m.Message.ID != "" && n.streamed[m.Message.ID]
	for _, block := range m.Message.Content.Blocks() {
		switch blk := block.(type) {
		case protocol.TextBlock:
			if !skipText {
				b.Text(blk.Text)
			}
		case protocol.ThinkingBlock:
			if blk.Thinking == "" {
				continue
			}
			id := uuid.NewString()
			b.Add(
				agentstream.ThinkingStarted{ThinkingID: id, Content: blk.Thinking},
				agentstream.ThinkingEnded{ThinkingID: id},
			)
		case protocol.ToolUseBlock:
			n.tools.Observe(blk.ID, blk.Name, ToolTarget(blk.Name, blk.Input))
		case protocol.ToolResultBlock:
			b.Add(n.endTool(blk)...)
		}
	}
	n.host.Emit(b.Events()...)
}

func (n *normalizer) handleUser(m protocol.UserMessage) {
	var b agentstream.Batch
	for _, block := range m.Message.Content.Blocks() {
		if blk, ok := block.(protocol.ToolResultBlock); ok {
			b.Add(n.endTool(blk)...)
		}
	}
	n.host.Emit(b.Events()...)
}

// endTool ends the tool on its first result. Results may appear in both
// user and assistant lines; the tracker drops the second.
func (n *normalizer) endTool(blk protocol.ToolResultBlock) []agentstream.Event {
	status := agentstream.ToolCompleted
	if blk.IsError {
		status = agentstream.ToolError
	}
	return n.tools.End(blk.ToolUseID, session.InterruptedStatus(n.host, status))
}

func (n *normalizer) handleStreamEvent(m protocol.StreamEvent) {
	data, err := m.Parsed()
	if err != nil {
		n.host.Logger().Debug("undecodable stream event", "error", err)
		return
	}
	switch ev := data.(type) {
	case protocol.MessageStartEvent:
		n.streamMsg = ev.Message.ID
	case protocol.ContentBlockDeltaEvent:
		d, err := ev.Parsed()
		if err != nil || d.Type != protocol.DeltaText || d.Text == "" {
			return
		}
		if n.streamMsg != "" {
			n.streamed[n.streamMsg] = true
		}
		n.host.Emit(agentstream.TextDelta{Text: d.Text})
	}
}

// observeUsage accumulates usage per distinct message id. Context tokens
// are the input-side load of the latest call.
func (n *normalizer) observeUsage(id string, u protocol.Usage) (agentstream.TokenUsage, bool) {
	t := u.Total()
	if id == "" {
		n.total += t
	} else if prev, seen := n.calls[id]; !seen || t > prev {
		n.total += t - prev
		n.calls[id] = t
	}
	return n.usage.Observe(agentstream.TokenUsage{
		TotalTokens:   n.total,
		ContextTokens: u.ContextTokens(),
	})
}

func (n *normalizer) handleResult(m protocol.ResultMessage) {
	var b agentstream.Batch
	if w := m.ContextWindow(); w > 0 {
		last := n.usage.Last()
		last.ContextWindow = w
		if ev, ok := n.usage.Observe(last); ok {
			b.Add(ev)
		}
	}
	switch {
	case n.host.Aborting():
		// The CLI closes an interrupted turn with error_during_execution;
		// abort-complete ends it for the caller.
		n.host.Logger().Debug("turn result during abort", "subtype", m.Subtype)
	case m.Success():
		b.Add(agentstream.TurnComplete{})
	default:
		b.Add(agentstream.Error{Message: resultError(m), Code: agentstream.CodeBackendError})
	}
	n.streamed = make(map[string]bool)
	n.streamMsg = ""
	n.host.Emit(b.Events()...)
}

func resultError(m protocol.ResultMessage) string {
	if len(m.Errors) > 0 {
		return strings.Join(m.Errors, "; ")
	}
	if m.Result != "" {
		return m.Result
	}
	if m.Subtype != "" && m.Subtype != protocol.ResultSuccess {
		return "CLI returned error: " + m.Subtype
	}
	return "CLI returned error"
}
