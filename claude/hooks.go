package claude

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bazelment/agentbridge/agentstream"
	"github.com/bazelment/agentbridge/control"
	"github.com/bazelment/agentbridge/permission"
	"github.com/bazelment/agentbridge/protocol"
)

const reasonPermissionTimeout = "Permission request timed out"

func (n *normalizer) handleControlRequest(ctx context.Context, m protocol.ControlRequest) {
	req, err := m.Parsed()
	if err != nil {
		n.host.Logger().Warn("undecodable control request", "request_id", m.RequestID, "error", err)
		n.respond(protocol.NewAck(m.RequestID))
		return
	}

	switch r := req.(type) {
	case protocol.HookCallbackRequest:
		n.handleHook(ctx, m.RequestID, r)
	case protocol.CanUseToolRequest:
		allowed, reason := n.authorize(ctx, r.ToolUseID, r.ToolName, r.Input)
		if allowed {
			n.respond(protocol.NewPermissionAllow(m.RequestID, r.Input))
		} else {
			n.respond(protocol.NewPermissionDeny(m.RequestID, reason, false))
		}
	default:
		n.respond(protocol.NewAck(m.RequestID))
	}
}

func (n *normalizer) handleHook(ctx context.Context, requestID string, r protocol.HookCallbackRequest) {
	event := r.Input.HookEventName
	if event == "" && r.CallbackID == preToolCallbackID {
		event = protocol.HookPreToolUse
	}

	switch event {
	case protocol.HookPreToolUse:
		allowed, reason := n.authorize(ctx, r.ToolUseID, r.Input.ToolName, r.Input.ToolInput)
		decision := protocol.HookDeny
		if allowed {
			decision = protocol.HookAllow
		}
		n.respond(protocol.NewHookResponse(requestID, protocol.HookPreToolUse, decision, reason))
	case protocol.HookPostToolUse:
		n.respond(protocol.NewHookResponse(requestID, protocol.HookPostToolUse, protocol.HookAllow, ""))
	default:
		n.respond(protocol.NewAck(requestID))
	}
}

// authorize runs the permission flow for one tool and emits its start and,
// for a refusal, its end. It blocks while the caller is being asked.
func (n *normalizer) authorize(ctx context.Context, toolUseID, tool string, input json.RawMessage) (bool, string) {
	if toolUseID == "" {
		toolUseID = control.NewID("tool_")
	}
	start := agentstream.ToolStarted{
		ToolUseID: toolUseID,
		ToolType:  tool,
		Target:    ToolTarget(tool, input),
		Status:    agentstream.ToolPending,
	}
	if strings.HasPrefix(tool, "Task") || strings.HasPrefix(tool, "Todo") {
		start.Input = input
	}

	if n.host.Aborting() {
		n.start(start)
		n.end(toolUseID, agentstream.ToolDenied)
		return false, permission.ReasonSessionAborted
	}

	d := permission.Evaluate(n.host.PermissionMode(), tool, input, n.host.Settings())
	n.host.Logger().Debug("permission decision", "tool", tool, "action", d.Action.String(), "reason", d.Reason)
	switch d.Action {
	case permission.Allow:
		n.start(start)
		n.running(toolUseID)
		return true, d.Reason
	case permission.Deny:
		n.start(start)
		n.end(toolUseID, agentstream.ToolDenied)
		return false, d.Reason
	}

	permID := control.NewID("perm_")
	req, err := n.host.Control().Register(permID)
	if err != nil {
		n.host.Logger().Warn("permission request not registered", "tool", tool, "error", err)
		n.start(start)
		n.end(toolUseID, agentstream.ToolAborted)
		return false, permission.ReasonSessionAborted
	}
	start.Status = agentstream.ToolAwaitingPermission
	start.PermissionRequestID = permID
	n.start(start)

	res, err := req.Wait(ctx)
	if err != nil {
		res = control.Resolution{Outcome: control.OutcomeCancel, Reason: permission.ReasonSessionAborted}
	}
	switch res.Outcome {
	case control.OutcomeAllow:
		n.running(toolUseID)
		return true, orDefault(res.Reason, permission.ReasonUserApproved)
	case control.OutcomeDeny:
		n.end(toolUseID, agentstream.ToolDenied)
		return false, orDefault(res.Reason, permission.ReasonUserDenied)
	case control.OutcomeTimeout:
		n.host.Emit(agentstream.PermissionExpired{ToolUseID: toolUseID, PermissionRequestID: permID})
		n.end(toolUseID, agentstream.ToolDenied)
		return false, reasonPermissionTimeout
	default:
		n.end(toolUseID, agentstream.ToolAborted)
		return false, orDefault(res.Reason, permission.ReasonSessionAborted)
	}
}

// start emits ev, or moves an already started tool to ev's status.
func (n *normalizer) start(ev agentstream.ToolStarted) {
	if out, ok := n.tools.Start(ev); ok {
		n.host.Emit(out)
		return
	}
	if ch, ok := n.tools.SetStatus(ev.ToolUseID, ev.Status, ev.PermissionRequestID); ok {
		n.host.Emit(ch)
	}
}

func (n *normalizer) running(id string) {
	if ch, ok := n.tools.SetStatus(id, agentstream.ToolRunning, ""); ok {
		n.host.Emit(ch)
	}
}

func (n *normalizer) end(id string, status agentstream.ToolStatus) {
	n.host.Emit(n.tools.End(id, status)...)
}

func (n *normalizer) respond(resp protocol.ControlResponseToSend) {
	line, err := resp.Marshal()
	if err != nil {
		n.host.Logger().Error("encode control response", "error", err)
		return
	}
	if err := n.host.WriteLine(line); err != nil {
		n.host.Logger().Warn("send control response", "request_id", resp.Response.RequestID, "error", err)
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
