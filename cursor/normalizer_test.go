package cursor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/agentbridge/agentstream"
	"github.com/bazelment/agentbridge/session/sessiontest"
)

func feed(t *testing.T, n *normalizer, lines ...string) {
	t.Helper()
	for _, line := range lines {
		require.True(t, n.HandleLine(context.Background(), []byte(line)), "line not recognized: %s", line)
	}
}

func TestNormalizer_Turn(t *testing.T) {
	h := sessiontest.NewHost()
	n := newNormalizer(h)

	feed(t, n,
		`{"type":"system","subtype":"init","session_id":"chat-1","model":"Claude 4.5 Sonnet","apiKeySource":"login"}`,
		`{"type":"user","message":{"role":"user","content":[{"type":"text","text":"read it"}]},"session_id":"chat-1"}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"Reading."}]},"session_id":"chat-1"}`,
		`{"type":"tool_call","subtype":"started","call_id":"c1","tool_call":{"readToolCall":{"args":{"path":"main.go"}}}}`,
		`{"type":"tool_call","subtype":"completed","call_id":"c1","tool_call":{"readToolCall":{"args":{"path":"main.go"},"result":{"success":{}}}}}`,
		`{"type":"result","subtype":"success","is_error":false,"result":"Reading.","session_id":"chat-1"}`,
	)
	assert.Equal(t, []agentstream.Event{
		agentstream.SessionInitialized{SessionID: "chat-1", AuthType: "Cursor", Model: "Claude 4.5 Sonnet"},
		agentstream.TextDelta{Text: "Reading."},
		agentstream.ToolStarted{ToolUseID: "c1", ToolType: "Read", Target: "main.go", Status: agentstream.ToolPending, Input: []byte(`{"path":"main.go"}`)},
		agentstream.ToolStatusChanged{ToolUseID: "c1", Status: agentstream.ToolRunning},
		agentstream.ToolEnded{ToolUseID: "c1", Status: agentstream.ToolCompleted},
		agentstream.TurnComplete{},
	}, h.Events())
}

func TestNormalizer_InitOncePerChat(t *testing.T) {
	h := sessiontest.NewHost()
	n := newNormalizer(h)

	line := `{"type":"system","subtype":"init","session_id":"chat-1","model":"auto"}`
	feed(t, n, line, line)
	assert.Len(t, h.Events(), 1)
}

func TestNormalizer_ResultSessionIDWithoutInit(t *testing.T) {
	h := sessiontest.NewHost()
	n := newNormalizer(h)

	feed(t, n, `{"type":"result","subtype":"success","session_id":"chat-9"}`)
	assert.Equal(t, []agentstream.Event{
		agentstream.SessionInitialized{SessionID: "chat-9", AuthType: "Cursor"},
		agentstream.TurnComplete{},
	}, h.Events())
}

func TestNormalizer_ToolErrorAndCompletionWithoutStart(t *testing.T) {
	h := sessiontest.NewHost()
	n := newNormalizer(h)

	feed(t, n,
		`{"type":"tool_call","subtype":"started","call_id":"c1","tool_call":{"shellToolCall":{"args":{"command":"false"}}}}`,
		`{"type":"tool_call","subtype":"completed","call_id":"c1","tool_call":{"shellToolCall":{"args":{"command":"false"},"result":{"error":{"message":"exit 1"}}}}}`,
		`{"type":"tool_call","subtype":"completed","call_id":"c2","tool_call":{"grepToolCall":{"args":{"pattern":"TODO"},"result":{"success":{}}}}}`,
		`{"type":"tool_call","subtype":"completed","call_id":"c2","tool_call":{"grepToolCall":{"args":{"pattern":"TODO"},"result":{"success":{}}}}}`,
	)
	assert.Equal(t, []agentstream.Event{
		agentstream.ToolStarted{ToolUseID: "c1", ToolType: "Bash", Target: "false", Status: agentstream.ToolPending, Input: []byte(`{"command":"false"}`)},
		agentstream.ToolStatusChanged{ToolUseID: "c1", Status: agentstream.ToolRunning},
		agentstream.ToolEnded{ToolUseID: "c1", Status: agentstream.ToolError},
		agentstream.ToolStarted{ToolUseID: "c2", ToolType: "Grep", Target: "TODO", Status: agentstream.ToolPending},
		agentstream.ToolEnded{ToolUseID: "c2", Status: agentstream.ToolCompleted},
	}, h.Events())
}

func TestNormalizer_Thinking(t *testing.T) {
	h := sessiontest.NewHost()
	n := newNormalizer(h)

	feed(t, n,
		`{"type":"thinking","subtype":"delta","text":"Let me look."}`,
		`{"type":"thinking","subtype":"completed"}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"Done"}]}}`,
	)
	events := h.Events()
	require.Len(t, events, 3)

	started := events[0].(agentstream.ThinkingStarted)
	assert.Equal(t, "Let me look.", started.Content)
	assert.Equal(t, agentstream.ThinkingEnded{ThinkingID: started.ThinkingID}, events[1])
	assert.Equal(t, agentstream.TextDelta{Text: "Done"}, events[2])
}

func TestNormalizer_ThinkingDoesNotCrossTurns(t *testing.T) {
	h := sessiontest.NewHost()
	n := newNormalizer(h)

	feed(t, n, `{"type":"thinking","subtype":"delta","text":"old turn reasoning"}`)
	n.AbortOpenTools()
	h.Reset()

	feed(t, n,
		`{"type":"thinking","subtype":"delta","text":"new"}`,
		`{"type":"thinking","subtype":"completed"}`,
	)
	events := h.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "new", events[0].(agentstream.ThinkingStarted).Content)
}

func TestNormalizer_ResultError(t *testing.T) {
	h := sessiontest.NewHost()
	n := newNormalizer(h)

	feed(t, n,
		`{"type":"result","subtype":"error","is_error":true,"result":"rate limited"}`,
		`{"type":"result","subtype":"error_during_execution","is_error":true}`,
	)
	assert.Equal(t, []agentstream.Event{
		agentstream.Error{Message: "rate limited", Code: agentstream.CodeBackendError},
		agentstream.Error{Message: "Cursor returned error: error_during_execution", Code: agentstream.CodeBackendError},
	}, h.Events())
}

func TestNormalizer_UnknownLines(t *testing.T) {
	h := sessiontest.NewHost()
	n := newNormalizer(h)

	assert.False(t, n.HandleLine(context.Background(), []byte(`{"type":"connection","subtype":"reconnecting"}`)))
	assert.False(t, n.HandleLine(context.Background(), []byte(`plain stderr text`)))
	assert.Empty(t, h.Events())
}

func TestNormalizer_AbortOpenTools(t *testing.T) {
	h := sessiontest.NewHost()
	n := newNormalizer(h)

	feed(t, n, `{"type":"tool_call","subtype":"started","call_id":"c1","tool_call":{"shellToolCall":{"args":{"command":"sleep 5"}}}}`)
	assert.Equal(t, []agentstream.Event{
		agentstream.ToolEnded{ToolUseID: "c1", Status: agentstream.ToolAborted},
	}, n.AbortOpenTools())
}

func TestNormalizer_FailuresDuringAbort(t *testing.T) {
	h := sessiontest.NewHost()
	n := newNormalizer(h)

	feed(t, n, `{"type":"tool_call","subtype":"started","call_id":"c1","tool_call":{"shellToolCall":{"args":{"command":"sleep 5"}}}}`)
	h.Reset()
	h.AbortInProgress = true
	feed(t, n,
		`{"type":"tool_call","subtype":"completed","call_id":"c1","tool_call":{"shellToolCall":{"args":{"command":"sleep 5"},"result":{"error":{"message":"interrupted"}}}}}`,
		`{"type":"result","subtype":"error_during_execution","is_error":true}`,
	)
	assert.Equal(t, []agentstream.Event{
		agentstream.ToolEnded{ToolUseID: "c1", Status: agentstream.ToolAborted},
	}, h.Events())
}
