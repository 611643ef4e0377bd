package claude

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/agentbridge/agentstream"
	"github.com/bazelment/agentbridge/permission"
	"github.com/bazelment/agentbridge/session"
)

// fakeCLI answers the initialize handshake, reports init and replies to
// each user line with one text message and a result. A user line
// containing "bash" first asks for permission to run a command.
const fakeCLI = `#!/bin/sh
read line
id=$(printf '%s' "$line" | sed 's/.*"request_id":"\([^"]*\)".*/\1/')
printf '{"type":"control_response","response":{"subtype":"success","request_id":"%s"}}\n' "$id"
printf '{"type":"system","subtype":"init","session_id":"sess-1","model":"claude-sonnet","apiKeySource":"environment"}\n'
while read line; do
  case "$line" in
  *bash*)
    printf '{"type":"assistant","message":{"id":"m0","role":"assistant","content":[{"type":"tool_use","id":"toolu_1","name":"Bash","input":{"command":"make"}}]}}\n'
    printf '{"type":"control_request","request_id":"hook_1","request":{"subtype":"hook_callback","callback_id":"pretool_0","tool_use_id":"toolu_1","input":{"hook_event_name":"PreToolUse","tool_name":"Bash","tool_input":{"command":"make"}}}}\n'
    read reply
    case "$reply" in
    *'"permissionDecision":"allow"'*)
      printf '{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_1","content":"built"}]}}\n' ;;
    esac
    ;;
  esac
  printf '{"type":"assistant","message":{"id":"m1","role":"assistant","content":[{"type":"text","text":"pong"}],"usage":{"input_tokens":3,"output_tokens":2}}}\n'
  printf '{"type":"result","subtype":"success"}\n'
done
`

// interruptCLI runs a tool for any user line without asking (bypass mode)
// and answers an interrupt the way the real CLI does: the tool result is an
// error and the turn ends with error_during_execution. It ignores SIGTERM
// so the answer is always written.
const interruptCLI = `#!/bin/sh
trap '' TERM
read line
id=$(printf '%s' "$line" | sed 's/.*"request_id":"\([^"]*\)".*/\1/')
printf '{"type":"control_response","response":{"subtype":"success","request_id":"%s"}}\n' "$id"
printf '{"type":"system","subtype":"init","session_id":"sess-1","model":"claude-sonnet"}\n'
while read line; do
  case "$line" in
  *'"subtype":"interrupt"'*)
    printf '{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_1","content":"Interrupted","is_error":true}]}}\n'
    printf '{"type":"result","subtype":"error_during_execution","is_error":true}\n'
    ;;
  *'"type":"user"'*)
    printf '{"type":"assistant","message":{"id":"m0","role":"assistant","content":[{"type":"tool_use","id":"toolu_1","name":"Bash","input":{"command":"sleep 60"}}]}}\n'
    printf '{"type":"control_request","request_id":"hook_1","request":{"subtype":"hook_callback","callback_id":"pretool_0","tool_use_id":"toolu_1","input":{"hook_event_name":"PreToolUse","tool_name":"Bash","tool_input":{"command":"sleep 60"}}}}\n'
    ;;
  esac
done
`

func startFake(t *testing.T) *session.Session {
	t.Helper()
	return startScript(t, fakeCLI)
}

func startScript(t *testing.T, script string, opts ...session.Option) *session.Session {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claude")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	s := session.New(New(), append([]session.Option{
		session.WithCLIPath(path),
		session.WithGracePeriod(200 * time.Millisecond),
		session.WithDrainTimeout(time.Second),
	}, opts...)...)
	t.Cleanup(s.Destroy)
	require.NoError(t, s.Start(context.Background()))
	return s
}

func until(t *testing.T, s *session.Session, typ agentstream.Type) []agentstream.Envelope {
	t.Helper()
	var got []agentstream.Envelope
	timeout := time.After(10 * time.Second)
	for {
		select {
		case env, ok := <-s.Events():
			require.True(t, ok, "events closed")
			got = append(got, env)
			if env.Event.EventType() == typ {
				return got
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestSession_Turn(t *testing.T) {
	s := startFake(t)
	require.NoError(t, s.Send(context.Background(), "ping"))

	envs := until(t, s, agentstream.TypeTurnComplete)
	var types []agentstream.Type
	for _, env := range envs {
		types = append(types, env.Event.EventType())
		assert.Equal(t, s.ID(), env.SessionID)
	}
	assert.Equal(t, []agentstream.Type{
		agentstream.TypeSessionInitialized,
		agentstream.TypeTokenUsage,
		agentstream.TypeTextDelta,
		agentstream.TypeTurnComplete,
	}, types)
	assert.Equal(t, agentstream.SessionInitialized{SessionID: "sess-1", AuthType: "Anthropic API Key", Model: "claude-sonnet"}, envs[0].Event)
	assert.Equal(t, agentstream.TextDelta{Text: "pong"}, envs[2].Event)
	assert.Equal(t, "sess-1", s.BackendSessionID())
}

func TestSession_PermissionRoundTrip(t *testing.T) {
	s := startFake(t)
	require.NoError(t, s.Send(context.Background(), "run bash"))

	envs := until(t, s, agentstream.TypeToolStarted)
	started := envs[len(envs)-1].Event.(agentstream.ToolStarted)
	assert.Equal(t, agentstream.ToolAwaitingPermission, started.Status)
	assert.Equal(t, "make", started.Target)

	require.NoError(t, s.RespondToPermission(started.PermissionRequestID, "allow"))

	envs = until(t, s, agentstream.TypeTurnComplete)
	var tool []agentstream.Event
	for _, env := range envs {
		switch env.Event.(type) {
		case agentstream.ToolStatusChanged, agentstream.ToolEnded:
			tool = append(tool, env.Event)
		}
	}
	assert.Equal(t, []agentstream.Event{
		agentstream.ToolStatusChanged{ToolUseID: "toolu_1", Status: agentstream.ToolRunning},
		agentstream.ToolEnded{ToolUseID: "toolu_1", Status: agentstream.ToolCompleted},
	}, tool)
}

func TestSession_AbortDuringTool(t *testing.T) {
	s := startScript(t, interruptCLI, session.WithPermissionMode(permission.ModeBypass))
	ctx := context.Background()
	require.NoError(t, s.Send(ctx, "run it"))
	until(t, s, agentstream.TypeToolStatusChanged)

	require.NoError(t, s.Abort(ctx))
	envs := until(t, s, agentstream.TypeAbortComplete)

	var ended []agentstream.Event
	for _, env := range envs {
		switch ev := env.Event.(type) {
		case agentstream.ToolEnded:
			ended = append(ended, ev)
		case agentstream.Error:
			t.Errorf("unexpected error event: %+v", ev)
		}
	}
	assert.Equal(t, []agentstream.Event{
		agentstream.ToolEnded{ToolUseID: "toolu_1", Status: agentstream.ToolAborted},
	}, ended)
	assert.Equal(t, agentstream.AbortComplete{SessionID: "sess-1"}, envs[len(envs)-1].Event)
	assert.Equal(t, session.StateActive, s.State())
}
