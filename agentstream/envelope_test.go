package agentstream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_MarshalFlat(t *testing.T) {
	env := Envelope{
		SessionID: "s1",
		TurnID:    "t1",
		Event: ToolStarted{
			ToolUseID: "tool_1",
			ToolType:  "Read",
			Target:    "main.go",
			Status:    ToolPending,
		},
	}
	data, err := json.Marshal(env)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "s1", m["sessionId"])
	assert.Equal(t, "t1", m["turnId"])
	assert.Equal(t, "tool-started", m["type"])
	assert.Equal(t, "tool_1", m["toolUseId"])
	assert.Equal(t, "pending", m["status"])
	assert.NotContains(t, m, "input")
	assert.NotContains(t, m, "permissionRequestId")
}

func TestEnvelope_MarshalEmptyEvent(t *testing.T) {
	data, err := json.Marshal(Envelope{SessionID: "s1", Event: TurnComplete{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"sessionId":"s1","type":"turn-complete"}`, string(data))
}

func TestEnvelope_MarshalWithoutEvent(t *testing.T) {
	_, err := json.Marshal(Envelope{SessionID: "s1"})
	assert.Error(t, err)
}

func TestDecodeEnvelope_RoundTripsEveryVariant(t *testing.T) {
	events := []Event{
		TextDelta{Text: "hi"},
		ToolStarted{ToolUseID: "a", ToolType: "Task", Target: "x", Status: ToolAwaitingPermission, Input: json.RawMessage(`{"k":1}`), PermissionRequestID: "p"},
		ToolStatusChanged{ToolUseID: "a", Status: ToolRunning},
		ToolEnded{ToolUseID: "a", Status: ToolDenied},
		ThinkingStarted{ThinkingID: "th", Content: "hmm"},
		ThinkingEnded{ThinkingID: "th"},
		TokenUsage{TotalTokens: 10, ContextTokens: 4},
		TurnComplete{},
		AbortComplete{SessionID: "b"},
		SessionInitialized{SessionID: "b", AuthType: "ChatGPT"},
		PermissionModeChanged{PermissionMode: "default", Model: "m", Effect: EffectNextSpawn},
		PermissionExpired{ToolUseID: "a", PermissionRequestID: "p"},
		Error{Message: "boom", Code: CodeProcessCrashed, Terminal: true},
	}
	require.Len(t, events, len(AllTypes()))
	for _, ev := range events {
		t.Run(string(ev.EventType()), func(t *testing.T) {
			data, err := json.Marshal(Envelope{SessionID: "s", TurnID: "1", Event: ev})
			require.NoError(t, err)
			got, err := DecodeEnvelope(data)
			require.NoError(t, err)
			assert.Equal(t, "s", got.SessionID)
			assert.Equal(t, "1", got.TurnID)
			assert.Equal(t, ev, got.Event)
		})
	}
}

func TestDecodeEnvelope_UnknownType(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"type":"bogus"}`))
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestDecodeEnvelope_Malformed(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"type":`))
	assert.Error(t, err)
}

func TestToolStatus_Terminal(t *testing.T) {
	for _, s := range []ToolStatus{ToolCompleted, ToolError, ToolDenied, ToolAborted} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []ToolStatus{ToolPending, ToolAwaitingPermission, ToolRunning} {
		assert.False(t, s.Terminal(), s)
	}
}
