package protocol

import (
	"encoding/json"
)

// MessageType discriminates between message kinds.
type MessageType string

const (
	MessageTypeSystem          MessageType = "system"
	MessageTypeAssistant       MessageType = "assistant"
	MessageTypeUser            MessageType = "user"
	MessageTypeResult          MessageType = "result"
	MessageTypeStreamEvent     MessageType = "stream_event"
	MessageTypeControlRequest  MessageType = "control_request"
	MessageTypeControlResponse MessageType = "control_response"
)

// Message is a decoded inbound line.
type Message interface {
	MsgType() MessageType
}

// SystemMessage is emitted at session start (subtype "init") and for
// housekeeping notices.
type SystemMessage struct {
	Type           MessageType `json:"type"`
	Subtype        string      `json:"subtype"`
	SessionID      string      `json:"session_id"`
	Model          string      `json:"model,omitempty"`
	CWD            string      `json:"cwd,omitempty"`
	PermissionMode string      `json:"permissionMode,omitempty"`
	APIKeySource   string      `json:"apiKeySource,omitempty"`
	Version        string      `json:"claude_code_version,omitempty"`
	Tools          []string    `json:"tools,omitempty"`
}

func (SystemMessage) MsgType() MessageType { return MessageTypeSystem }

// Usage is the token accounting of one model call.
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
}

// ContextTokens is the input-side load of the call.
func (u Usage) ContextTokens() int64 {
	return u.InputTokens + u.CacheReadInputTokens + u.CacheCreationInputTokens
}

// Total is every token the call consumed or produced.
func (u Usage) Total() int64 {
	return u.ContextTokens() + u.OutputTokens
}

// FlexibleContent holds message content that is either a plain string or
// an array of content blocks.
type FlexibleContent struct {
	raw json.RawMessage
}

func (fc *FlexibleContent) UnmarshalJSON(data []byte) error {
	fc.raw = append(fc.raw[:0], data...)
	return nil
}

func (fc FlexibleContent) MarshalJSON() ([]byte, error) {
	if fc.raw == nil {
		return []byte("null"), nil
	}
	return fc.raw, nil
}

// AsString returns the content when it is a JSON string.
func (fc FlexibleContent) AsString() (string, bool) {
	if len(fc.raw) == 0 || fc.raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(fc.raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Blocks returns the content blocks; string content yields one TextBlock.
func (fc FlexibleContent) Blocks() ContentBlocks {
	if s, ok := fc.AsString(); ok {
		return ContentBlocks{TextBlock{Type: ContentBlockTypeText, Text: s}}
	}
	var blocks ContentBlocks
	if len(fc.raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(fc.raw, &blocks); err != nil {
		return nil
	}
	return blocks
}

// MessageContent is the API message carried by assistant and user lines.
type MessageContent struct {
	Usage      *Usage          `json:"usage,omitempty"`
	StopReason *string         `json:"stop_reason,omitempty"`
	ID         string          `json:"id,omitempty"`
	Model      string          `json:"model,omitempty"`
	Role       string          `json:"role"`
	Content    FlexibleContent `json:"content"`
}

// AssistantMessage is one model response. The CLI may split a single API
// message across several lines sharing Message.ID.
type AssistantMessage struct {
	ParentToolUseID *string        `json:"parent_tool_use_id"`
	Type            MessageType    `json:"type"`
	SessionID       string         `json:"session_id"`
	UUID            string         `json:"uuid"`
	Message         MessageContent `json:"message"`
}

func (AssistantMessage) MsgType() MessageType { return MessageTypeAssistant }

// UserMessage echoes tool results back to the client.
type UserMessage struct {
	ParentToolUseID *string        `json:"parent_tool_use_id"`
	Type            MessageType    `json:"type"`
	SessionID       string         `json:"session_id"`
	UUID            string         `json:"uuid"`
	Message         MessageContent `json:"message"`
}

func (UserMessage) MsgType() MessageType { return MessageTypeUser }

// ModelUsage is the per-model summary attached to a result.
type ModelUsage struct {
	InputTokens              int64   `json:"inputTokens"`
	OutputTokens             int64   `json:"outputTokens"`
	CacheReadInputTokens     int64   `json:"cacheReadInputTokens"`
	CacheCreationInputTokens int64   `json:"cacheCreationInputTokens"`
	CostUSD                  float64 `json:"costUSD"`
	ContextWindow            int64   `json:"contextWindow,omitempty"`
}

// Result subtypes.
const (
	ResultSuccess              = "success"
	ResultErrorMaxTurns        = "error_max_turns"
	ResultErrorDuringExecution = "error_during_execution"
)

// ResultMessage ends a turn.
type ResultMessage struct {
	ModelUsage   map[string]ModelUsage `json:"modelUsage,omitempty"`
	Type         MessageType           `json:"type"`
	Subtype      string                `json:"subtype"`
	SessionID    string                `json:"session_id"`
	Result       string                `json:"result,omitempty"`
	Errors       []string              `json:"errors,omitempty"`
	Usage        Usage                 `json:"usage"`
	TotalCostUSD float64               `json:"total_cost_usd"`
	DurationMs   int64                 `json:"duration_ms"`
	NumTurns     int                   `json:"num_turns"`
	IsError      bool                  `json:"is_error"`
}

func (ResultMessage) MsgType() MessageType { return MessageTypeResult }

// Success reports a successful turn.
func (m ResultMessage) Success() bool {
	return m.Subtype == ResultSuccess && !m.IsError
}

// ContextWindow returns the largest context window reported for any model.
func (m ResultMessage) ContextWindow() int64 {
	var w int64
	for _, mu := range m.ModelUsage {
		if mu.ContextWindow > w {
			w = mu.ContextWindow
		}
	}
	return w
}
