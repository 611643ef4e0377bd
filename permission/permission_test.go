package permission

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		mode     Mode
		tool     string
		input    string
		settings *Settings
		want     Decision
	}{
		{
			name: "interactive denied even in bypass",
			mode: ModeBypass, tool: "AskUserQuestion",
			want: Decision{Action: Deny, Reason: ReasonInteractive},
		},
		{
			name: "exit plan mode denied",
			mode: ModeDefault, tool: "ExitPlanMode",
			want: Decision{Action: Deny, Reason: ReasonInteractive},
		},
		{
			name: "bypass allows bash",
			mode: ModeBypass, tool: "Bash", input: `{"command":"rm -rf build"}`,
			want: Decision{Action: Allow, Reason: ReasonBypass},
		},
		{
			name: "accept edits allows write",
			mode: ModeAcceptEdits, tool: "Write",
			want: Decision{Action: Allow, Reason: ReasonAcceptEdits},
		},
		{
			name: "accept edits still prompts for bash",
			mode: ModeAcceptEdits, tool: "Bash", input: `{"command":"make"}`,
			want: Decision{Action: Prompt},
		},
		{
			name: "settings allow bash prefix",
			mode: ModeDefault, tool: "Bash", input: `{"command":"ls -la"}`,
			settings: AllowSettings("Bash(ls:*)"),
			want:     Decision{Action: Allow, Reason: ReasonSettings},
		},
		{
			name: "read only tool",
			mode: ModeDefault, tool: "Read", input: `{"file_path":"a.go"}`,
			want: Decision{Action: Allow, Reason: ReasonReadOnly},
		},
		{
			name: "unknown tool treated as read only",
			mode: ModeDefault, tool: "mcp__srv__thing",
			want: Decision{Action: Allow, Reason: ReasonReadOnly},
		},
		{
			name: "edit prompts",
			mode: ModeDefault, tool: "Edit", input: `{"file_path":"a.go"}`,
			want: Decision{Action: Prompt},
		},
		{
			name: "skill prompts in plan mode",
			mode: ModePlan, tool: "Skill", input: `{"skill":"commit"}`,
			want: Decision{Action: Prompt},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var input json.RawMessage
			if tt.input != "" {
				input = json.RawMessage(tt.input)
			}
			assert.Equal(t, tt.want, Evaluate(tt.mode, tt.tool, input, tt.settings))
		})
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeDefault, m)

	m, err = ParseMode("bypassPermissions")
	require.NoError(t, err)
	assert.Equal(t, ModeBypass, m)

	_, err = ParseMode("yolo")
	assert.Error(t, err)
}

func TestParseVerdict(t *testing.T) {
	v, err := ParseVerdict(" Y ")
	require.NoError(t, err)
	assert.Equal(t, VerdictAllow, v)

	v, err = ParseVerdict("deny")
	require.NoError(t, err)
	assert.Equal(t, VerdictDeny, v)

	_, err = ParseVerdict("maybe")
	assert.Error(t, err)
}

func TestAction_String(t *testing.T) {
	assert.Equal(t, "prompt", Prompt.String())
	assert.Equal(t, "Action(9)", Action(9).String())
}
