package cursor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/agentbridge/agentstream"
	"github.com/bazelment/agentbridge/session"
)

// fakeAgent logs its arguments next to itself and answers the -p prompt
// the way `agent chat --output-format stream-json` does.
const fakeAgent = `#!/bin/sh
printf '%s\n' "$*" >> "$(dirname "$0")/args.log"
prompt=$3
printf '{"type":"system","subtype":"init","session_id":"chat-1","model":"auto"}\n'
printf '{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"echo: %s"}]},"session_id":"chat-1"}\n' "$prompt"
printf '{"type":"result","subtype":"success","is_error":false,"session_id":"chat-1"}\n'
`

func TestSession_TurnsResumeChat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent")
	require.NoError(t, os.WriteFile(path, []byte(fakeAgent), 0o755))

	s := session.New(New(),
		session.WithCLIPath(path),
		session.WithWorkDir(dir),
		session.WithGracePeriod(200*time.Millisecond),
		session.WithDrainTimeout(time.Second),
	)
	t.Cleanup(s.Destroy)
	require.NoError(t, s.Start(context.Background()))

	turn := func(prompt string) []agentstream.Event {
		require.NoError(t, s.Send(context.Background(), prompt))
		var got []agentstream.Event
		timeout := time.After(10 * time.Second)
		for {
			select {
			case env := <-s.Events():
				got = append(got, env.Event)
				if env.Event.EventType() == agentstream.TypeTurnComplete {
					return got
				}
			case <-timeout:
				t.Fatalf("timed out, got %v", got)
			}
		}
	}

	assert.Equal(t, []agentstream.Event{
		agentstream.SessionInitialized{SessionID: "chat-1", AuthType: "Cursor", Model: "auto"},
		agentstream.TextDelta{Text: "echo: one"},
		agentstream.TurnComplete{},
	}, turn("one"))
	assert.Equal(t, []agentstream.Event{
		agentstream.TextDelta{Text: "echo: two"},
		agentstream.TurnComplete{},
	}, turn("two"))

	data, err := os.ReadFile(filepath.Join(dir, "args.log"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"chat -p one --output-format stream-json",
		"chat -p two --output-format stream-json --resume chat-1",
	}, strings.Split(strings.TrimSpace(string(data)), "\n"))
}
