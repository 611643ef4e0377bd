package claude

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/agentbridge/agentstream"
	"github.com/bazelment/agentbridge/control"
	"github.com/bazelment/agentbridge/permission"
)

type fakeHost struct {
	settings *permission.Settings
	ctrl     *control.Channel
	mode     permission.Mode
	events   []agentstream.Event
	written  [][]byte
	acks     map[string]error
	mu       sync.Mutex
	aborting bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		ctrl: control.New(),
		mode: permission.ModeDefault,
		acks: make(map[string]error),
	}
}

func (h *fakeHost) Emit(events ...agentstream.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, events...)
}

func (h *fakeHost) WriteLine(line []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.written = append(h.written, append([]byte(nil), line...))
	return nil
}

func (h *fakeHost) PermissionMode() permission.Mode { return h.mode }
func (h *fakeHost) Settings() *permission.Settings  { return h.settings }
func (h *fakeHost) Control() *control.Channel       { return h.ctrl }
func (h *fakeHost) Aborting() bool                  { return h.aborting }
func (h *fakeHost) Logger() *slog.Logger            { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func (h *fakeHost) ControlResponse(requestID string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.acks[requestID] = err
}

func (h *fakeHost) snapshot() []agentstream.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]agentstream.Event(nil), h.events...)
}

func (h *fakeHost) types() []agentstream.Type {
	var out []agentstream.Type
	for _, ev := range h.snapshot() {
		out = append(out, ev.EventType())
	}
	return out
}

type hookReply struct {
	Response struct {
		Response struct {
			Behavior           string `json:"behavior"`
			Message            string `json:"message"`
			HookSpecificOutput struct {
				PermissionDecision       string `json:"permissionDecision"`
				PermissionDecisionReason string `json:"permissionDecisionReason"`
			} `json:"hookSpecificOutput"`
		} `json:"response"`
		RequestID string `json:"request_id"`
	} `json:"response"`
}

func (h *fakeHost) lastReply(t *testing.T) hookReply {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.written)
	var r hookReply
	require.NoError(t, json.Unmarshal(h.written[len(h.written)-1], &r))
	return r
}

func preToolUse(requestID, toolUseID, tool, input string) []byte {
	return []byte(`{"type":"control_request","request_id":"` + requestID + `","request":{"subtype":"hook_callback","callback_id":"pretool_0","tool_use_id":"` + toolUseID + `","input":{"hook_event_name":"PreToolUse","tool_name":"` + tool + `","tool_input":` + input + `}}}`)
}

func TestNormalizer_SystemInit(t *testing.T) {
	h := newFakeHost()
	n := newNormalizer(h)

	ok := n.HandleLine(context.Background(), []byte(`{"type":"system","subtype":"init","session_id":"sess-1","model":"claude-sonnet-4-5","apiKeySource":"none"}`))
	require.True(t, ok)
	assert.Equal(t, []agentstream.Event{agentstream.SessionInitialized{
		SessionID: "sess-1",
		AuthType:  "Claude AI Subscription",
		Model:     "claude-sonnet-4-5",
	}}, h.snapshot())
}

func TestAuthType(t *testing.T) {
	assert.Equal(t, "Claude AI Subscription", AuthType("none"))
	assert.Equal(t, "Anthropic API Key", AuthType("environment"))
	assert.Equal(t, "Anthropic API Key", AuthType("settings"))
	assert.Equal(t, "Unknown", AuthType(""))
	assert.Equal(t, "bedrock", AuthType("bedrock"))
}

func TestNormalizer_UnknownLines(t *testing.T) {
	n := newNormalizer(newFakeHost())
	assert.False(t, n.HandleLine(context.Background(), []byte(`{"type":"rate_limit_event"}`)))
	assert.False(t, n.HandleLine(context.Background(), []byte(`not json`)))
}

func TestNormalizer_AssistantContent(t *testing.T) {
	h := newFakeHost()
	n := newNormalizer(h)

	n.HandleLine(context.Background(), []byte(`{"type":"assistant","message":{"id":"m1","role":"assistant","content":[`+
		`{"type":"thinking","thinking":"pondering"},`+
		`{"type":"text","text":"Hello "},{"type":"text","text":"world"},`+
		`{"type":"tool_use","id":"toolu_1","name":"Read","input":{"file_path":"/tmp/a.go"}}]}}`))

	events := h.snapshot()
	require.Len(t, events, 3)
	started, ok := events[0].(agentstream.ThinkingStarted)
	require.True(t, ok)
	assert.Equal(t, "pondering", started.Content)
	assert.Equal(t, agentstream.ThinkingEnded{ThinkingID: started.ThinkingID}, events[1])
	assert.Equal(t, agentstream.TextDelta{Text: "Hello world"}, events[2])

	// No hook fired, so the result synthesizes the start from the tool_use block.
	n.HandleLine(context.Background(), []byte(`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_1","content":"ok"}]}}`))
	n.HandleLine(context.Background(), []byte(`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_1","content":"ok"}]}}`))
	events = h.snapshot()[3:]
	assert.Equal(t, []agentstream.Event{
		agentstream.ToolStarted{ToolUseID: "toolu_1", ToolType: "Read", Target: "/tmp/a.go", Status: agentstream.ToolPending},
		agentstream.ToolEnded{ToolUseID: "toolu_1", Status: agentstream.ToolCompleted},
	}, events)
}

func TestNormalizer_UsageCumulativePerMessage(t *testing.T) {
	h := newFakeHost()
	n := newNormalizer(h)
	line := func(id string, in, cached, out int) []byte {
		b, _ := json.Marshal(map[string]any{
			"type": "assistant",
			"message": map[string]any{
				"id": id, "role": "assistant", "content": []any{},
				"usage": map[string]int{"input_tokens": in, "cache_read_input_tokens": cached, "output_tokens": out},
			},
		})
		return b
	}

	n.HandleLine(context.Background(), line("m1", 10, 100, 5))
	n.HandleLine(context.Background(), line("m1", 10, 100, 5))
	n.HandleLine(context.Background(), line("m2", 20, 110, 7))

	assert.Equal(t, []agentstream.Event{
		agentstream.TokenUsage{TotalTokens: 115, ContextTokens: 110},
		agentstream.TokenUsage{TotalTokens: 252, ContextTokens: 130},
	}, h.snapshot())
}

func TestNormalizer_Result(t *testing.T) {
	t.Run("success with context window", func(t *testing.T) {
		h := newFakeHost()
		n := newNormalizer(h)
		n.HandleLine(context.Background(), []byte(`{"type":"result","subtype":"success","modelUsage":{"claude-sonnet":{"contextWindow":200000}}}`))
		assert.Equal(t, []agentstream.Event{
			agentstream.TokenUsage{ContextWindow: 200000},
			agentstream.TurnComplete{},
		}, h.snapshot())
	})

	t.Run("error", func(t *testing.T) {
		h := newFakeHost()
		n := newNormalizer(h)
		n.HandleLine(context.Background(), []byte(`{"type":"result","subtype":"error_during_execution","is_error":true,"errors":["boom"]}`))
		assert.Equal(t, []agentstream.Event{
			agentstream.Error{Message: "boom", Code: agentstream.CodeBackendError},
		}, h.snapshot())
	})

	t.Run("error without detail", func(t *testing.T) {
		h := newFakeHost()
		n := newNormalizer(h)
		n.HandleLine(context.Background(), []byte(`{"type":"result","subtype":"error_max_turns","is_error":true}`))
		assert.Equal(t, []agentstream.Event{
			agentstream.Error{Message: "CLI returned error: error_max_turns", Code: agentstream.CodeBackendError},
		}, h.snapshot())
	})
}

func TestNormalizer_InterruptAnswerDuringAbort(t *testing.T) {
	h := newFakeHost()
	n := newNormalizer(h)
	ctx := context.Background()

	n.HandleLine(ctx, []byte(`{"type":"assistant","message":{"id":"m0","role":"assistant","content":[{"type":"tool_use","id":"toolu_1","name":"Bash","input":{"command":"sleep 60"}}]}}`))
	h.aborting = true
	n.HandleLine(ctx, []byte(`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_1","content":"Interrupted","is_error":true}]}}`))
	n.HandleLine(ctx, []byte(`{"type":"result","subtype":"error_during_execution","is_error":true}`))

	assert.Equal(t, []agentstream.Event{
		agentstream.ToolStarted{ToolUseID: "toolu_1", ToolType: "Bash", Target: "sleep 60", Status: agentstream.ToolPending},
		agentstream.ToolEnded{ToolUseID: "toolu_1", Status: agentstream.ToolAborted},
	}, h.snapshot())
	assert.Empty(t, n.AbortOpenTools())
}

func TestNormalizer_PartialMessagesNotDuplicated(t *testing.T) {
	h := newFakeHost()
	n := newNormalizer(h)
	ctx := context.Background()

	n.HandleLine(ctx, []byte(`{"type":"stream_event","event":{"type":"message_start","message":{"id":"m1","role":"assistant","content":[]}}}`))
	n.HandleLine(ctx, []byte(`{"type":"stream_event","event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}}`))
	n.HandleLine(ctx, []byte(`{"type":"stream_event","event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" there"}}}`))
	n.HandleLine(ctx, []byte(`{"type":"assistant","message":{"id":"m1","role":"assistant","content":[{"type":"text","text":"Hi there"}]}}`))

	assert.Equal(t, []agentstream.Event{
		agentstream.TextDelta{Text: "Hi"},
		agentstream.TextDelta{Text: " there"},
	}, h.snapshot())
}

func TestNormalizer_ControlResponse(t *testing.T) {
	h := newFakeHost()
	n := newNormalizer(h)

	n.HandleLine(context.Background(), []byte(`{"type":"control_response","response":{"subtype":"success","request_id":"init_1"}}`))
	n.HandleLine(context.Background(), []byte(`{"type":"control_response","response":{"subtype":"error","request_id":"init_2","error":"nope"}}`))

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Contains(t, h.acks, "init_1")
	assert.NoError(t, h.acks["init_1"])
	assert.ErrorContains(t, h.acks["init_2"], "nope")
}

func TestHooks_PolicyDecisions(t *testing.T) {
	tests := []struct {
		name     string
		mode     permission.Mode
		tool     string
		input    string
		decision string
		reason   string
		final    agentstream.Type
	}{
		{"read only", permission.ModeDefault, "Read", `{"file_path":"/a"}`, "allow", permission.ReasonReadOnly, agentstream.TypeToolStatusChanged},
		{"interactive", permission.ModeBypass, "AskUserQuestion", `{}`, "deny", permission.ReasonInteractive, agentstream.TypeToolEnded},
		{"bypass", permission.ModeBypass, "Bash", `{"command":"rm -rf x"}`, "allow", permission.ReasonBypass, agentstream.TypeToolStatusChanged},
		{"accept edits", permission.ModeAcceptEdits, "Write", `{"file_path":"/a"}`, "allow", permission.ReasonAcceptEdits, agentstream.TypeToolStatusChanged},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newFakeHost()
			h.mode = tt.mode
			n := newNormalizer(h)

			n.HandleLine(context.Background(), preToolUse("req_1", "toolu_1", tt.tool, tt.input))

			reply := h.lastReply(t)
			assert.Equal(t, "req_1", reply.Response.RequestID)
			assert.Equal(t, tt.decision, reply.Response.Response.HookSpecificOutput.PermissionDecision)
			assert.Equal(t, tt.reason, reply.Response.Response.HookSpecificOutput.PermissionDecisionReason)
			assert.Equal(t, []agentstream.Type{agentstream.TypeToolStarted, tt.final}, h.types())
		})
	}
}

func TestHooks_SettingsAllowList(t *testing.T) {
	h := newFakeHost()
	h.settings = permission.AllowSettings("Bash(git status)")
	n := newNormalizer(h)

	n.HandleLine(context.Background(), preToolUse("req_1", "toolu_1", "Bash", `{"command":"git status"}`))
	assert.Equal(t, "allow", h.lastReply(t).Response.Response.HookSpecificOutput.PermissionDecision)
	assert.Equal(t, 0, h.ctrl.Len())
}

func TestHooks_Aborting(t *testing.T) {
	h := newFakeHost()
	h.aborting = true
	n := newNormalizer(h)

	n.HandleLine(context.Background(), preToolUse("req_1", "toolu_1", "Read", `{}`))
	reply := h.lastReply(t)
	assert.Equal(t, "deny", reply.Response.Response.HookSpecificOutput.PermissionDecision)
	assert.Equal(t, permission.ReasonSessionAborted, reply.Response.Response.HookSpecificOutput.PermissionDecisionReason)
	assert.Equal(t, agentstream.ToolEnded{ToolUseID: "toolu_1", Status: agentstream.ToolDenied}, h.snapshot()[1])
}

// prompt sends a Bash PreToolUse in default mode and waits until the
// permission request is pending. It returns the request id.
func prompt(t *testing.T, h *fakeHost, n *normalizer, line []byte) (string, chan struct{}) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.HandleLine(context.Background(), line)
	}()
	require.Eventually(t, func() bool { return h.ctrl.Len() == 1 }, 5*time.Second, 5*time.Millisecond)

	events := h.snapshot()
	require.Len(t, events, 1)
	started, ok := events[0].(agentstream.ToolStarted)
	require.True(t, ok)
	assert.Equal(t, agentstream.ToolAwaitingPermission, started.Status)
	assert.Equal(t, "Bash", started.ToolType)
	assert.Equal(t, "go test ./...", started.Target)
	require.NotEmpty(t, started.PermissionRequestID)
	return started.PermissionRequestID, done
}

func TestHooks_PromptAllowed(t *testing.T) {
	h := newFakeHost()
	n := newNormalizer(h)

	id, done := prompt(t, h, n, preToolUse("req_1", "toolu_1", "Bash", `{"command":"go test ./..."}`))
	require.True(t, h.ctrl.Fulfill(id, control.FromVerdict(permission.VerdictAllow, "")))
	<-done

	reply := h.lastReply(t)
	assert.Equal(t, "allow", reply.Response.Response.HookSpecificOutput.PermissionDecision)
	assert.Equal(t, permission.ReasonUserApproved, reply.Response.Response.HookSpecificOutput.PermissionDecisionReason)
	assert.Equal(t, agentstream.ToolStatusChanged{ToolUseID: "toolu_1", Status: agentstream.ToolRunning}, h.snapshot()[1])
}

func TestHooks_PromptDenied(t *testing.T) {
	h := newFakeHost()
	n := newNormalizer(h)

	id, done := prompt(t, h, n, preToolUse("req_1", "toolu_1", "Bash", `{"command":"go test ./..."}`))
	require.True(t, h.ctrl.Fulfill(id, control.FromVerdict(permission.VerdictDeny, "")))
	<-done

	reply := h.lastReply(t)
	assert.Equal(t, "deny", reply.Response.Response.HookSpecificOutput.PermissionDecision)
	assert.Equal(t, permission.ReasonUserDenied, reply.Response.Response.HookSpecificOutput.PermissionDecisionReason)
	assert.Equal(t, agentstream.ToolEnded{ToolUseID: "toolu_1", Status: agentstream.ToolDenied}, h.snapshot()[1])
}

func TestHooks_PromptExpired(t *testing.T) {
	h := newFakeHost()
	n := newNormalizer(h)

	id, done := prompt(t, h, n, preToolUse("req_1", "toolu_1", "Bash", `{"command":"go test ./..."}`))
	require.Len(t, h.ctrl.Expire(time.Now().Add(time.Hour)), 1)
	<-done

	assert.Equal(t, []agentstream.Event{
		agentstream.PermissionExpired{ToolUseID: "toolu_1", PermissionRequestID: id},
		agentstream.ToolEnded{ToolUseID: "toolu_1", Status: agentstream.ToolDenied},
	}, h.snapshot()[1:])
	assert.Equal(t, "deny", h.lastReply(t).Response.Response.HookSpecificOutput.PermissionDecision)
}

func TestHooks_PromptCancelled(t *testing.T) {
	h := newFakeHost()
	n := newNormalizer(h)

	_, done := prompt(t, h, n, preToolUse("req_1", "toolu_1", "Bash", `{"command":"go test ./..."}`))
	assert.Equal(t, 1, h.ctrl.CancelAll(permission.ReasonSessionAborted))
	<-done

	assert.Equal(t, agentstream.ToolEnded{ToolUseID: "toolu_1", Status: agentstream.ToolAborted}, h.snapshot()[1])
	assert.Empty(t, n.AbortOpenTools())
}

func TestHooks_CanUseTool(t *testing.T) {
	h := newFakeHost()
	n := newNormalizer(h)
	line := []byte(`{"type":"control_request","request_id":"req_9","request":{"subtype":"can_use_tool","tool_name":"Bash","tool_use_id":"toolu_9","input":{"command":"go test ./..."}}}`)

	id, done := prompt(t, h, n, line)
	require.True(t, h.ctrl.Fulfill(id, control.FromVerdict(permission.VerdictDeny, "not now")))
	<-done

	reply := h.lastReply(t)
	assert.Equal(t, "req_9", reply.Response.RequestID)
	assert.Equal(t, "deny", reply.Response.Response.Behavior)
	assert.Equal(t, "not now", reply.Response.Response.Message)
}

func TestHooks_PostToolUseAcknowledged(t *testing.T) {
	h := newFakeHost()
	n := newNormalizer(h)

	n.HandleLine(context.Background(), []byte(`{"type":"control_request","request_id":"req_2","request":{"subtype":"hook_callback","callback_id":"posttool_0","input":{"hook_event_name":"PostToolUse","tool_name":"Read"}}}`))
	assert.Equal(t, "allow", h.lastReply(t).Response.Response.HookSpecificOutput.PermissionDecision)
	assert.Empty(t, h.snapshot())
}

func TestHooks_TaskInputAttached(t *testing.T) {
	h := newFakeHost()
	n := newNormalizer(h)

	n.HandleLine(context.Background(), preToolUse("req_1", "toolu_1", "TodoWrite", `{"todos":[{"content":"a"}]}`))
	n.HandleLine(context.Background(), preToolUse("req_2", "toolu_2", "Read", `{"file_path":"/a"}`))

	events := h.snapshot()
	todo := events[0].(agentstream.ToolStarted)
	assert.JSONEq(t, `{"todos":[{"content":"a"}]}`, string(todo.Input))
	assert.Equal(t, "1 todo(s)", todo.Target)
	read := events[2].(agentstream.ToolStarted)
	assert.Nil(t, read.Input)
}
