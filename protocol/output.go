package protocol

import (
	"encoding/json"
	"fmt"
)

func marshalLine(kind string, v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", kind, err)
	}
	return b, nil
}

// UserMessageToSend is a user turn written to stdin.
type UserMessageToSend struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Message   struct {
		Content any    `json:"content"`
		Role    string `json:"role"`
	} `json:"message"`
}

func (m UserMessageToSend) Marshal() ([]byte, error) { return marshalLine("user message", m) }

// NewUserTextMessage builds a plain-text user turn. An empty sessionID is
// sent as "default", which the CLI maps to its current session.
func NewUserTextMessage(text, sessionID string) UserMessageToSend {
	if sessionID == "" {
		sessionID = "default"
	}
	m := UserMessageToSend{Type: string(MessageTypeUser), SessionID: sessionID}
	m.Message.Role = "user"
	m.Message.Content = text
	return m
}

// ControlRequestToSend is a control request written to stdin.
type ControlRequestToSend struct {
	Request   any    `json:"request"`
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
}

func (m ControlRequestToSend) Marshal() ([]byte, error) { return marshalLine("control request", m) }

func newControlRequest(requestID string, body any) ControlRequestToSend {
	return ControlRequestToSend{
		Type:      string(MessageTypeControlRequest),
		RequestID: requestID,
		Request:   body,
	}
}

// HookMatcher registers callback ids for one hook event. A nil Matcher
// matches every tool.
type HookMatcher struct {
	Matcher         *string  `json:"matcher"`
	HookCallbackIDs []string `json:"hookCallbackIds"`
}

// InitializeRequest is the handshake body.
type InitializeRequest struct {
	Hooks   map[string][]HookMatcher `json:"hooks,omitempty"`
	Subtype ControlRequestSubtype    `json:"subtype"`
}

// NewInitialize builds the handshake registering hooks.
func NewInitialize(requestID string, hooks map[string][]HookMatcher) ControlRequestToSend {
	return newControlRequest(requestID, InitializeRequest{Subtype: ControlSubtypeInitialize, Hooks: hooks})
}

// DefaultHooks registers one catch-all callback for PreToolUse and
// PostToolUse, with ids preCallbackID and postCallbackID.
func DefaultHooks(preCallbackID, postCallbackID string) map[string][]HookMatcher {
	return map[string][]HookMatcher{
		HookPreToolUse:  {{HookCallbackIDs: []string{preCallbackID}}},
		HookPostToolUse: {{HookCallbackIDs: []string{postCallbackID}}},
	}
}

type subtypeOnly struct {
	Subtype ControlRequestSubtype `json:"subtype"`
}

// NewInterrupt builds a request that stops the current turn.
func NewInterrupt(requestID string) ControlRequestToSend {
	return newControlRequest(requestID, subtypeOnly{Subtype: ControlSubtypeInterrupt})
}

// NewSetPermissionMode builds a request that changes the CLI's own mode.
func NewSetPermissionMode(requestID, mode string) ControlRequestToSend {
	return newControlRequest(requestID, struct {
		Subtype ControlRequestSubtype `json:"subtype"`
		Mode    string                `json:"mode"`
	}{ControlSubtypeSetPermissionMode, mode})
}

// NewSetModel builds a request that switches the model of a live process.
func NewSetModel(requestID, model string) ControlRequestToSend {
	return newControlRequest(requestID, struct {
		Subtype ControlRequestSubtype `json:"subtype"`
		Model   string                `json:"model"`
	}{ControlSubtypeSetModel, model})
}

// ControlResponseToSend answers a control request from the CLI.
type ControlResponseToSend struct {
	Type     string `json:"type"`
	Response struct {
		Response  any    `json:"response,omitempty"`
		Subtype   string `json:"subtype"`
		RequestID string `json:"request_id"`
		Error     string `json:"error,omitempty"`
	} `json:"response"`
}

func (m ControlResponseToSend) Marshal() ([]byte, error) { return marshalLine("control response", m) }

func newControlResponse(requestID string, body any) ControlResponseToSend {
	var m ControlResponseToSend
	m.Type = string(MessageTypeControlResponse)
	m.Response.Subtype = "success"
	m.Response.RequestID = requestID
	m.Response.Response = body
	return m
}

// HookDecision is the permission decision returned from a PreToolUse hook.
type HookDecision string

const (
	HookAllow HookDecision = "allow"
	HookDeny  HookDecision = "deny"
)

// HookOutput is the body of a hook callback response.
type HookOutput struct {
	HookSpecificOutput HookSpecificOutput `json:"hookSpecificOutput"`
	Continue           bool               `json:"continue"`
}

type HookSpecificOutput struct {
	HookEventName            string       `json:"hookEventName"`
	PermissionDecision       HookDecision `json:"permissionDecision"`
	PermissionDecisionReason string       `json:"permissionDecisionReason,omitempty"`
}

// NewHookResponse answers a hook callback.
func NewHookResponse(requestID, hookEvent string, decision HookDecision, reason string) ControlResponseToSend {
	return newControlResponse(requestID, HookOutput{
		Continue: true,
		HookSpecificOutput: HookSpecificOutput{
			HookEventName:            hookEvent,
			PermissionDecision:       decision,
			PermissionDecisionReason: reason,
		},
	})
}

// PermissionResultAllow allows a can_use_tool request. UpdatedInput must be
// an object, never null.
type PermissionResultAllow struct {
	Behavior     string          `json:"behavior"`
	UpdatedInput json.RawMessage `json:"updatedInput"`
}

// PermissionResultDeny denies a can_use_tool request.
type PermissionResultDeny struct {
	Behavior  string `json:"behavior"`
	Message   string `json:"message,omitempty"`
	Interrupt bool   `json:"interrupt,omitempty"`
}

// NewPermissionAllow answers can_use_tool with allow, echoing input.
func NewPermissionAllow(requestID string, input json.RawMessage) ControlResponseToSend {
	if len(input) == 0 || string(input) == "null" {
		input = json.RawMessage(`{}`)
	}
	return newControlResponse(requestID, PermissionResultAllow{Behavior: "allow", UpdatedInput: input})
}

// NewPermissionDeny answers can_use_tool with deny.
func NewPermissionDeny(requestID, message string, interrupt bool) ControlResponseToSend {
	return newControlResponse(requestID, PermissionResultDeny{Behavior: "deny", Message: message, Interrupt: interrupt})
}

// NewAck answers a control request with an empty success.
func NewAck(requestID string) ControlResponseToSend {
	return newControlResponse(requestID, nil)
}
