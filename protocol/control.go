package protocol

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// ControlRequestSubtype is the subtype of a control request.
type ControlRequestSubtype string

const (
	ControlSubtypeInitialize        ControlRequestSubtype = "initialize"
	ControlSubtypeHookCallback      ControlRequestSubtype = "hook_callback"
	ControlSubtypeCanUseTool        ControlRequestSubtype = "can_use_tool"
	ControlSubtypeInterrupt         ControlRequestSubtype = "interrupt"
	ControlSubtypeSetPermissionMode ControlRequestSubtype = "set_permission_mode"
	ControlSubtypeSetModel          ControlRequestSubtype = "set_model"
)

// Hook event names.
const (
	HookPreToolUse  = "PreToolUse"
	HookPostToolUse = "PostToolUse"
)

// ControlRequest is a request the CLI sends and expects a control_response
// for, correlated by RequestID.
type ControlRequest struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"request_id"`
	Request   json.RawMessage `json:"request"`
}

func (ControlRequest) MsgType() MessageType { return MessageTypeControlRequest }

// Parsed decodes the inner request.
func (m ControlRequest) Parsed() (ControlRequestData, error) {
	return ParseControlRequest(m.Request)
}

// ControlRequestData is one decoded inbound control request.
type ControlRequestData interface {
	Subtype() ControlRequestSubtype
}

// HookInput is the payload the CLI passes to a hook callback.
type HookInput struct {
	HookEventName string          `json:"hook_event_name"`
	ToolName      string          `json:"tool_name,omitempty"`
	ToolInput     json.RawMessage `json:"tool_input,omitempty"`
	ToolResponse  json.RawMessage `json:"tool_response,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
}

// HookCallbackRequest invokes a hook registered during initialize.
type HookCallbackRequest struct {
	CallbackID string    `json:"callback_id"`
	ToolUseID  string    `json:"tool_use_id,omitempty"`
	Input      HookInput `json:"input"`
}

func (HookCallbackRequest) Subtype() ControlRequestSubtype { return ControlSubtypeHookCallback }

// CanUseToolRequest asks permission for a tool when the CLI runs with a
// permission prompt tool.
type CanUseToolRequest struct {
	BlockedPath *string         `json:"blocked_path,omitempty"`
	ToolName    string          `json:"tool_name"`
	ToolUseID   string          `json:"tool_use_id,omitempty"`
	Input       json.RawMessage `json:"input"`
}

func (CanUseToolRequest) Subtype() ControlRequestSubtype { return ControlSubtypeCanUseTool }

func requestAs[T ControlRequestData](data []byte) (ControlRequestData, error) {
	var r T
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return r, nil
}

// ParseControlRequest decodes the inner request. Subtypes the client does
// not answer return (nil, nil).
func ParseControlRequest(data json.RawMessage) (ControlRequestData, error) {
	var base struct {
		Subtype ControlRequestSubtype `json:"subtype"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, err
	}
	switch base.Subtype {
	case ControlSubtypeHookCallback:
		return requestAs[HookCallbackRequest](data)
	case ControlSubtypeCanUseTool:
		return requestAs[CanUseToolRequest](data)
	default:
		slog.Warn("skipping unknown control request subtype", "subtype", base.Subtype)
		return nil, nil
	}
}

// ControlResponse is the CLI's answer to a request we sent. Older CLI
// builds put subtype and request_id at the top level.
type ControlResponse struct {
	Type      MessageType `json:"type"`
	Subtype   string      `json:"subtype,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Response  struct {
		Subtype   string          `json:"subtype"`
		RequestID string          `json:"request_id"`
		Response  json.RawMessage `json:"response,omitempty"`
		Error     string          `json:"error,omitempty"`
	} `json:"response"`
}

func (ControlResponse) MsgType() MessageType { return MessageTypeControlResponse }

// ID returns the correlated request id in either layout.
func (m ControlResponse) ID() string {
	if m.Response.RequestID != "" {
		return m.Response.RequestID
	}
	return m.RequestID
}

// Err returns the error carried by an error response.
func (m ControlResponse) Err() error {
	if m.Response.Subtype == "error" || m.Subtype == "error" {
		msg := m.Response.Error
		if msg == "" {
			msg = "control request failed"
		}
		return fmt.Errorf("control request %s: %s", m.ID(), msg)
	}
	return nil
}
