package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bazelment/agentbridge/agentstream"
	"github.com/bazelment/agentbridge/control"
	"github.com/bazelment/agentbridge/permission"
)

// fakeAdapter is an argument-driven family whose backend is a shell
// script. Lines are {"t": kind, "v": value}.
type fakeAdapter struct{}

func (fakeAdapter) Kind() Kind            { return Kind("fake") }
func (fakeAdapter) DisplayName() string   { return "Fake" }
func (fakeAdapter) DefaultBinary() string { return "agentbridge-fake-cli" }
func (fakeAdapter) Capabilities() Capabilities {
	return Capabilities{PermissionModel: PermissionSessionLevel, SupportsAbort: true, SupportsResume: true}
}

func (fakeAdapter) BuildArgs(req SpawnRequest) []string {
	args := []string{"--mode", string(req.Mode)}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.ResumeID != "" {
		args = append(args, "--resume", req.ResumeID)
	}
	if req.Prompt != "" {
		args = append(args, req.Prompt)
	}
	return args
}

func (fakeAdapter) NewNormalizer(h Host) Normalizer {
	return &fakeNormalizer{host: h, tools: agentstream.NewToolTracker()}
}

// fakeStdinAdapter adds a control codec, making the family stdin-driven.
type fakeStdinAdapter struct{ fakeAdapter }

func (fakeStdinAdapter) EncodeInitialize() (string, []byte, error) {
	return "init-1", []byte(`{"kind":"init"}`), nil
}

func (fakeStdinAdapter) EncodeUserMessage(text, backendSessionID string) ([]byte, error) {
	return json.Marshal(map[string]string{"kind": "user", "text": text, "session": backendSessionID})
}

func (fakeStdinAdapter) EncodeInterrupt() ([]byte, error) {
	return []byte(`{"kind":"interrupt"}`), nil
}

func (fakeStdinAdapter) EncodeSetPermissionMode(mode permission.Mode) ([]byte, error) {
	return json.Marshal(map[string]string{"kind": "mode", "mode": string(mode)})
}

type fakeNormalizer struct {
	host  Host
	tools *agentstream.ToolTracker
}

func (n *fakeNormalizer) HandleLine(ctx context.Context, line []byte) bool {
	var m struct {
		T string `json:"t"`
		V string `json:"v"`
	}
	if err := json.Unmarshal(line, &m); err != nil || m.T == "" {
		return false
	}
	switch m.T {
	case "init":
		n.host.Emit(agentstream.SessionInitialized{SessionID: m.V})
	case "ack":
		n.host.ControlResponse(m.V, nil)
	case "text":
		n.host.Emit(agentstream.TextDelta{Text: m.V})
	case "tool":
		if ev, ok := n.tools.Start(agentstream.ToolStarted{ToolUseID: m.V, ToolType: "Bash", Status: agentstream.ToolRunning}); ok {
			n.host.Emit(ev)
		}
	case "done":
		n.host.Emit(agentstream.TurnComplete{})
	case "fail":
		n.host.Emit(agentstream.Error{Message: m.V, Code: agentstream.CodeBackendError})
	case "perm":
		req, err := n.host.Control().Register(m.V)
		if err != nil {
			return true
		}
		res, err := req.Wait(ctx)
		if err != nil {
			res = control.Resolution{Outcome: control.OutcomeCancel}
		}
		n.host.Emit(agentstream.TextDelta{Text: "perm:" + string(res.Outcome) + ":" + res.Reason})
	default:
		return false
	}
	return true
}

func (n *fakeNormalizer) AbortOpenTools() []agentstream.Event {
	return n.tools.AbortAll()
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-cli")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

// collect reads envelopes until stop returns true for one of them.
func collect(t *testing.T, s *Session, stop func(agentstream.Envelope) bool) []agentstream.Envelope {
	t.Helper()
	var got []agentstream.Envelope
	timeout := time.After(10 * time.Second)
	for {
		select {
		case env, ok := <-s.Events():
			if !ok {
				t.Fatalf("events closed; got %v", types(got))
			}
			got = append(got, env)
			if stop(env) {
				return got
			}
		case <-timeout:
			t.Fatalf("timed out; got %v", types(got))
		}
	}
}

func is(typ agentstream.Type) func(agentstream.Envelope) bool {
	return func(env agentstream.Envelope) bool { return env.Event.EventType() == typ }
}

func types(envs []agentstream.Envelope) []agentstream.Type {
	out := make([]agentstream.Type, 0, len(envs))
	for _, env := range envs {
		out = append(out, env.Event.EventType())
	}
	return out
}

func textOf(envs []agentstream.Envelope) string {
	var s string
	for _, env := range envs {
		if td, ok := env.Event.(agentstream.TextDelta); ok {
			s += td.Text
		}
	}
	return s
}

func newTestSession(t *testing.T, adapter Adapter, script string, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{
		WithCLIPath(writeScript(t, script)),
		WithGracePeriod(200 * time.Millisecond),
		WithDrainTimeout(time.Second),
	}, opts...)
	s := New(adapter, opts...)
	t.Cleanup(s.Destroy)
	return s
}
