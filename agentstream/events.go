package agentstream

import "encoding/json"

// Type is the wire name of an event variant.
type Type string

const (
	TypeTextDelta             Type = "text-delta"
	TypeToolStarted           Type = "tool-started"
	TypeToolStatusChanged     Type = "tool-status-changed"
	TypeToolEnded             Type = "tool-ended"
	TypeThinkingStarted       Type = "thinking-started"
	TypeThinkingEnded         Type = "thinking-ended"
	TypeTokenUsage            Type = "token-usage"
	TypeTurnComplete          Type = "turn-complete"
	TypeAbortComplete         Type = "abort-complete"
	TypeSessionInitialized    Type = "session-initialized"
	TypePermissionModeChanged Type = "permission-mode-changed"
	TypePermissionExpired     Type = "permission-expired"
	TypeError                 Type = "error"
)

// Event is one normalized backend event.
type Event interface {
	EventType() Type
	sealed()
}

// ToolStatus is the caller-visible state of one tool invocation.
type ToolStatus string

const (
	ToolPending            ToolStatus = "pending"
	ToolAwaitingPermission ToolStatus = "awaiting-permission"
	ToolRunning            ToolStatus = "running"
	ToolCompleted          ToolStatus = "completed"
	ToolError              ToolStatus = "error"
	ToolDenied             ToolStatus = "denied"
	ToolAborted            ToolStatus = "aborted"
)

// Terminal reports whether s ends a tool invocation.
func (s ToolStatus) Terminal() bool {
	switch s {
	case ToolCompleted, ToolError, ToolDenied, ToolAborted:
		return true
	}
	return false
}

func (s ToolStatus) rank() int {
	switch s {
	case ToolPending:
		return 0
	case ToolAwaitingPermission:
		return 1
	case ToolRunning:
		return 2
	default:
		return 3
	}
}

// Effect says when a configuration change reaches the backend.
type Effect string

const (
	// EffectImmediate changes apply to the running process.
	EffectImmediate Effect = "immediate"
	// EffectNextSpawn changes apply when the backend is next spawned or resumed.
	EffectNextSpawn Effect = "next-spawn"
)

// ErrorCode classifies Error events.
type ErrorCode string

const (
	// CodeBackendError is a terminal error reported by the backend itself.
	CodeBackendError ErrorCode = "backend_error"
	// CodeProcessCrashed is synthesized when the process dies unrequested.
	CodeProcessCrashed ErrorCode = "process_crashed"
	// CodeSpawnFailed is emitted when a respawn for a new turn fails.
	CodeSpawnFailed ErrorCode = "spawn_failed"
)

// TextDelta is a fragment of assistant text.
type TextDelta struct {
	Text string `json:"text"`
}

// ToolStarted announces a tool invocation.
type ToolStarted struct {
	Input               json.RawMessage `json:"input,omitempty"`
	ToolUseID           string          `json:"toolUseId"`
	ToolType            string          `json:"toolType"`
	Target              string          `json:"target"`
	Status              ToolStatus      `json:"status"`
	PermissionRequestID string          `json:"permissionRequestId,omitempty"`
}

// ToolStatusChanged moves a started tool forward along its status path.
type ToolStatusChanged struct {
	ToolUseID           string     `json:"toolUseId"`
	Status              ToolStatus `json:"status"`
	PermissionRequestID string     `json:"permissionRequestId,omitempty"`
}

// ToolEnded is emitted at most once per tool-use id.
type ToolEnded struct {
	ToolUseID string     `json:"toolUseId"`
	Status    ToolStatus `json:"status"`
}

// ThinkingStarted carries a complete reasoning block.
type ThinkingStarted struct {
	ThinkingID string `json:"thinkingId"`
	Content    string `json:"content"`
}

// ThinkingEnded always follows the matching ThinkingStarted immediately.
type ThinkingEnded struct {
	ThinkingID string `json:"thinkingId"`
}

// TokenUsage reports token accounting. TotalTokens never decreases within a
// session; ContextTokens is the input-side load of the latest model call.
type TokenUsage struct {
	TotalTokens   int64 `json:"totalTokens"`
	ContextTokens int64 `json:"contextTokens,omitempty"`
	ContextWindow int64 `json:"contextWindow,omitempty"`
}

// TurnComplete marks the end of a turn.
type TurnComplete struct{}

// AbortComplete is emitted exactly once per Abort call.
type AbortComplete struct {
	SessionID string `json:"backendSessionId,omitempty"`
}

// SessionInitialized reports the backend-assigned session id.
type SessionInitialized struct {
	SessionID string `json:"backendSessionId"`
	AuthType  string `json:"authType,omitempty"`
	Model     string `json:"model,omitempty"`
}

// PermissionModeChanged reports a permission-mode or model change and when
// it takes effect.
type PermissionModeChanged struct {
	PermissionMode string `json:"permissionMode"`
	Model          string `json:"model"`
	Effect         Effect `json:"effect"`
}

// PermissionExpired reports a permission prompt nobody answered in time.
type PermissionExpired struct {
	ToolUseID           string `json:"toolUseId"`
	PermissionRequestID string `json:"permissionRequestId"`
}

// Error carries a human-readable failure. Terminal errors end the session.
type Error struct {
	Message  string    `json:"message"`
	Code     ErrorCode `json:"code,omitempty"`
	Terminal bool      `json:"terminal,omitempty"`
}

func (TextDelta) EventType() Type             { return TypeTextDelta }
func (ToolStarted) EventType() Type           { return TypeToolStarted }
func (ToolStatusChanged) EventType() Type     { return TypeToolStatusChanged }
func (ToolEnded) EventType() Type             { return TypeToolEnded }
func (ThinkingStarted) EventType() Type       { return TypeThinkingStarted }
func (ThinkingEnded) EventType() Type         { return TypeThinkingEnded }
func (TokenUsage) EventType() Type            { return TypeTokenUsage }
func (TurnComplete) EventType() Type          { return TypeTurnComplete }
func (AbortComplete) EventType() Type         { return TypeAbortComplete }
func (SessionInitialized) EventType() Type    { return TypeSessionInitialized }
func (PermissionModeChanged) EventType() Type { return TypePermissionModeChanged }
func (PermissionExpired) EventType() Type     { return TypePermissionExpired }
func (Error) EventType() Type                 { return TypeError }

func (TextDelta) sealed()             {}
func (ToolStarted) sealed()           {}
func (ToolStatusChanged) sealed()     {}
func (ToolEnded) sealed()             {}
func (ThinkingStarted) sealed()       {}
func (ThinkingEnded) sealed()         {}
func (TokenUsage) sealed()            {}
func (TurnComplete) sealed()          {}
func (AbortComplete) sealed()         {}
func (SessionInitialized) sealed()    {}
func (PermissionModeChanged) sealed() {}
func (PermissionExpired) sealed()     {}
func (Error) sealed()                 {}

func decodeAs[T Event](data []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

var decoders = map[Type]func([]byte) (Event, error){
	TypeTextDelta:             decodeAs[TextDelta],
	TypeToolStarted:           decodeAs[ToolStarted],
	TypeToolStatusChanged:     decodeAs[ToolStatusChanged],
	TypeToolEnded:             decodeAs[ToolEnded],
	TypeThinkingStarted:       decodeAs[ThinkingStarted],
	TypeThinkingEnded:         decodeAs[ThinkingEnded],
	TypeTokenUsage:            decodeAs[TokenUsage],
	TypeTurnComplete:          decodeAs[TurnComplete],
	TypeAbortComplete:         decodeAs[AbortComplete],
	TypeSessionInitialized:    decodeAs[SessionInitialized],
	TypePermissionModeChanged: decodeAs[PermissionModeChanged],
	TypePermissionExpired:     decodeAs[PermissionExpired],
	TypeError:                 decodeAs[Error],
}

// AllTypes lists every variant in declaration order.
func AllTypes() []Type {
	return []Type{
		TypeTextDelta, TypeToolStarted, TypeToolStatusChanged, TypeToolEnded,
		TypeThinkingStarted, TypeThinkingEnded, TypeTokenUsage, TypeTurnComplete,
		TypeAbortComplete, TypeSessionInitialized, TypePermissionModeChanged,
		TypePermissionExpired, TypeError,
	}
}
