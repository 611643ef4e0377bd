package cursor

import (
	"encoding/json"
	"fmt"
	"sort"
)

// RawMessage is used for initial type discrimination of NDJSON lines.
type RawMessage struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
}

// SystemInitMessage represents a system init message.
// Example: {"type":"system","subtype":"init","session_id":"...","model":"...","cwd":"...","permissionMode":"...","apiKeySource":"..."}
type SystemInitMessage struct {
	Type           string `json:"type"`
	Subtype        string `json:"subtype"`
	SessionID      string `json:"session_id"`
	Model          string `json:"model"`
	CWD            string `json:"cwd"`
	PermissionMode string `json:"permissionMode"`
	APIKeySource   string `json:"apiKeySource"`
}

// ContentBlock is a content block within an assistant message.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// AssistantMessage represents an assistant text message.
// Example: {"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"..."}]},"session_id":"..."}
type AssistantMessage struct {
	Type    string `json:"type"`
	Message struct {
		Role    string         `json:"role"`
		Content []ContentBlock `json:"content"`
	} `json:"message"`
	SessionID string `json:"session_id"`
}

// Text joins the text blocks of the message.
func (m *AssistantMessage) Text() string {
	var s string
	for _, c := range m.Message.Content {
		if c.Type == "text" {
			s += c.Text
		}
	}
	return s
}

// ThinkingMessage carries streamed reasoning.
// Example: {"type":"thinking","subtype":"delta","text":"...","session_id":"..."}
type ThinkingMessage struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

// ToolCallMessage represents a tool call event (started or completed).
// The tool_call field is a map with a single key (the tool name) mapping to the tool call detail.
// Example: {"type":"tool_call","subtype":"started","call_id":"...","tool_call":{"readToolCall":{"args":{"path":"..."}}},"session_id":"..."}
// Example: {"type":"tool_call","subtype":"completed","call_id":"...","tool_call":{"readToolCall":{"args":{"path":"..."},"result":{"success":{}}}},"session_id":"..."}
type ToolCallMessage struct {
	ToolCall  map[string]ToolCallDetail `json:"tool_call"`
	Type      string                    `json:"type"`
	Subtype   string                    `json:"subtype"`
	CallID    string                    `json:"call_id"`
	SessionID string                    `json:"session_id"`
}

// ToolCallDetail holds the arguments and, once completed, the result of a
// tool call.
type ToolCallDetail struct {
	Args   json.RawMessage `json:"args,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Detail returns the backend tool name and its detail. With several
// entries the alphabetically first wins.
func (m *ToolCallMessage) Detail() (string, ToolCallDetail, bool) {
	if len(m.ToolCall) == 0 {
		return "", ToolCallDetail{}, false
	}
	names := make([]string, 0, len(m.ToolCall))
	for name := range m.ToolCall {
		names = append(names, name)
	}
	sort.Strings(names)
	return names[0], m.ToolCall[names[0]], true
}

// ResultMessage represents the final result of a turn.
// Example: {"type":"result","subtype":"success","duration_ms":1234,"duration_api_ms":1000,"is_error":false,"result":"...","session_id":"..."}
type ResultMessage struct {
	Type          string `json:"type"`
	Subtype       string `json:"subtype"`
	Result        string `json:"result"`
	SessionID     string `json:"session_id"`
	DurationMs    int64  `json:"duration_ms"`
	DurationAPIMs int64  `json:"duration_api_ms"`
	IsError       bool   `json:"is_error"`
}

// UserMessage is the CLI's echo of the prompt.
type UserMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// Message is the union type returned by ParseMessage.
type Message interface {
	messageType() string
}

func (m *SystemInitMessage) messageType() string { return "system" }
func (m *AssistantMessage) messageType() string  { return "assistant" }
func (m *ThinkingMessage) messageType() string   { return "thinking" }
func (m *ToolCallMessage) messageType() string   { return "tool_call" }
func (m *ResultMessage) messageType() string     { return "result" }
func (m *UserMessage) messageType() string       { return "user" }

// ParseMessage parses a raw NDJSON line into a typed message. Lines of an
// unmodeled type return an error matching ErrUnknownMessage.
func ParseMessage(line []byte) (Message, error) {
	var raw RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, &ProtocolError{Message: "failed to parse message type", Line: string(line), Cause: err}
	}

	var msg Message
	switch raw.Type {
	case "system":
		if raw.Subtype != "init" {
			return nil, fmt.Errorf("system subtype %q: %w", raw.Subtype, ErrUnknownMessage)
		}
		msg = &SystemInitMessage{}
	case "assistant":
		msg = &AssistantMessage{}
	case "thinking":
		msg = &ThinkingMessage{}
	case "tool_call":
		msg = &ToolCallMessage{}
	case "result":
		msg = &ResultMessage{}
	case "user":
		msg = &UserMessage{}
	default:
		return nil, fmt.Errorf("type %q: %w", raw.Type, ErrUnknownMessage)
	}

	if err := json.Unmarshal(line, msg); err != nil {
		return nil, &ProtocolError{Message: "failed to parse " + raw.Type + " message", Line: string(line), Cause: err}
	}
	return msg, nil
}
