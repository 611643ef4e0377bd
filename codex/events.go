package codex

import (
	"encoding/json"
	"strings"
)

// Method is the slash-separated name of an app-server notification. Exec
// JSONL lines use dotted type names, which Decode maps onto these.
type Method string

const (
	MethodThreadStarted     Method = "thread/started"
	MethodTurnStarted       Method = "turn/started"
	MethodTurnCompleted     Method = "turn/completed"
	MethodTurnFailed        Method = "turn/failed"
	MethodItemStarted       Method = "item/started"
	MethodItemCompleted     Method = "item/completed"
	MethodAgentMessageDelta Method = "item/agentMessage/delta"
	MethodItemDelta         Method = "item/delta"
	MethodTokenUsageUpdated Method = "thread/tokenUsage/updated"
	MethodError             Method = "error"
)

var legacyMethods = map[string]Method{
	"thread.started": MethodThreadStarted,
	"turn.started":   MethodTurnStarted,
	"turn.completed": MethodTurnCompleted,
	"turn.failed":    MethodTurnFailed,
	"item.started":   MethodItemStarted,
	"item.completed": MethodItemCompleted,
	"item.delta":     MethodItemDelta,
	"error":          MethodError,
}

// Event is one decoded Codex line.
type Event interface {
	Method() Method
}

type ThreadStartedEvent struct {
	ThreadID string
}

type TurnStartedEvent struct {
	TurnID string
}

// TurnCompletedEvent carries the usage of the turn alone, not of the thread.
type TurnCompletedEvent struct {
	Usage *Usage
}

type TurnFailedEvent struct {
	Message string
}

type ItemStartedEvent struct {
	Item Item
}

type ItemCompletedEvent struct {
	Item Item
}

// TextDeltaEvent is a streamed fragment of an agent message.
type TextDeltaEvent struct {
	ItemID string
	Text   string
}

// TokenUsageUpdatedEvent reports thread-cumulative usage.
type TokenUsageUpdatedEvent struct {
	Usage *Usage
}

type ErrorEvent struct {
	Message string
}

func (ThreadStartedEvent) Method() Method     { return MethodThreadStarted }
func (TurnStartedEvent) Method() Method       { return MethodTurnStarted }
func (TurnCompletedEvent) Method() Method     { return MethodTurnCompleted }
func (TurnFailedEvent) Method() Method        { return MethodTurnFailed }
func (ItemStartedEvent) Method() Method       { return MethodItemStarted }
func (ItemCompletedEvent) Method() Method     { return MethodItemCompleted }
func (TextDeltaEvent) Method() Method         { return MethodItemDelta }
func (TokenUsageUpdatedEvent) Method() Method { return MethodTokenUsageUpdated }
func (ErrorEvent) Method() Method             { return MethodError }

// Usage is token accounting as reported on turn completion.
type Usage struct {
	InputTokens        int64 `json:"input_tokens"`
	CachedInputTokens  int64 `json:"cached_input_tokens"`
	OutputTokens       int64 `json:"output_tokens"`
	TotalTokens        int64 `json:"total_tokens"`
	ContextTokens      int64 `json:"context_tokens"`
	ModelContextWindow int64 `json:"model_context_window"`
	ContextWindow      int64 `json:"context_window"`
}

// Total is total_tokens when reported, else input plus output.
func (u Usage) Total() int64 {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.InputTokens + u.OutputTokens
}

// Context is the input-side load of the turn.
func (u Usage) Context() int64 {
	if u.InputTokens > 0 {
		return u.InputTokens
	}
	return u.ContextTokens
}

// Window is the model context window, when reported.
func (u Usage) Window() int64 {
	if u.ModelContextWindow > 0 {
		return u.ModelContextWindow
	}
	return u.ContextWindow
}

// Item types.
const (
	ItemAgentMessage     = "agent_message"
	ItemReasoning        = "reasoning"
	ItemCommandExecution = "command_execution"
	ItemFileChange       = "file_change"
	ItemFileWrite        = "file_write"
	ItemFileRead         = "file_read"
	ItemWebSearch        = "web_search"
	ItemWebSearchCall    = "web_search_call"
	ItemFunctionCall     = "function_call"
	ItemError            = "error"
)

// Item is a unit of turn output: a message, a reasoning summary or a tool
// call. App-server notifications use camelCase names for some fields.
type Item struct {
	Arguments        json.RawMessage `json:"arguments,omitempty"`
	ExitCode         *int            `json:"exit_code,omitempty"`
	ExitCodeCamel    *int            `json:"exitCode,omitempty"`
	Action           *ItemAction     `json:"action,omitempty"`
	ID               string          `json:"id"`
	Type             string          `json:"type"`
	Kind             string          `json:"kind,omitempty"`
	Text             string          `json:"text,omitempty"`
	Message          string          `json:"message,omitempty"`
	Name             string          `json:"name,omitempty"`
	Command          string          `json:"command,omitempty"`
	AggregatedOutput string          `json:"aggregated_output,omitempty"`
	Status           string          `json:"status,omitempty"`
	Path             string          `json:"path,omitempty"`
	Query            string          `json:"query,omitempty"`
	Changes          []FileChange    `json:"changes,omitempty"`
}

type ItemAction struct {
	Query string `json:"query,omitempty"`
	URL   string `json:"url,omitempty"`
}

type FileChange struct {
	Path string `json:"path"`
	Kind string `json:"kind,omitempty"`
}

// ItemType returns type, falling back to kind.
func (it Item) ItemType() string {
	if it.Type != "" {
		return it.Type
	}
	return it.Kind
}

// Exit returns the command exit code in either spelling.
func (it Item) Exit() *int {
	if it.ExitCode != nil {
		return it.ExitCode
	}
	return it.ExitCodeCamel
}

func (it Item) isReasoning() bool {
	return strings.Contains(strings.ToLower(it.ItemType()), "reason")
}

func (it Item) isMessage() bool {
	return strings.Contains(strings.ToLower(it.ItemType()), "message")
}

// isUserMessage matches the echo of the prompt app-server threads record.
func (it Item) isUserMessage() bool {
	return strings.Contains(strings.ToLower(it.ItemType()), "user")
}
