package agentstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolTracker_StartOnce(t *testing.T) {
	tr := NewToolTracker()
	ev, ok := tr.Start(ToolStarted{ToolUseID: "a", ToolType: "Bash", Target: "ls"})
	require.True(t, ok)
	assert.Equal(t, ToolPending, ev.Status)

	_, ok = tr.Start(ToolStarted{ToolUseID: "a", ToolType: "Bash"})
	assert.False(t, ok)
}

func TestToolTracker_StartRejectsEmptyID(t *testing.T) {
	var tr ToolTracker
	_, ok := tr.Start(ToolStarted{ToolType: "Bash"})
	assert.False(t, ok)
}

func TestToolTracker_StartFillsObservedFields(t *testing.T) {
	tr := NewToolTracker()
	tr.Observe("a", "Read", "main.go")
	ev, ok := tr.Start(ToolStarted{ToolUseID: "a", Status: ToolAwaitingPermission})
	require.True(t, ok)
	assert.Equal(t, "Read", ev.ToolType)
	assert.Equal(t, "main.go", ev.Target)
	assert.Equal(t, ToolAwaitingPermission, ev.Status)
}

func TestToolTracker_StatusOnlyMovesForward(t *testing.T) {
	tr := NewToolTracker()
	_, ok := tr.Start(ToolStarted{ToolUseID: "a", Status: ToolAwaitingPermission})
	require.True(t, ok)

	_, ok = tr.SetStatus("a", ToolPending, "")
	assert.False(t, ok, "backward transition")
	_, ok = tr.SetStatus("a", ToolAwaitingPermission, "")
	assert.False(t, ok, "repeated transition")
	ev, ok := tr.SetStatus("a", ToolRunning, "")
	assert.True(t, ok)
	assert.Equal(t, ToolRunning, ev.Status)
	_, ok = tr.SetStatus("a", ToolCompleted, "")
	assert.False(t, ok, "terminal statuses go through End")
}

func TestToolTracker_SetStatusUnknownOrObservedOnly(t *testing.T) {
	tr := NewToolTracker()
	_, ok := tr.SetStatus("missing", ToolRunning, "")
	assert.False(t, ok)

	tr.Observe("a", "Read", "x")
	_, ok = tr.SetStatus("a", ToolRunning, "")
	assert.False(t, ok)
}

func TestToolTracker_EndExactlyOnce(t *testing.T) {
	tr := NewToolTracker()
	tr.Start(ToolStarted{ToolUseID: "a"})

	events := tr.End("a", ToolCompleted)
	require.Len(t, events, 1)
	assert.Equal(t, ToolEnded{ToolUseID: "a", Status: ToolCompleted}, events[0])
	assert.True(t, tr.IsEnded("a"))

	assert.Nil(t, tr.End("a", ToolError))
	_, ok := tr.SetStatus("a", ToolRunning, "")
	assert.False(t, ok)
	_, ok = tr.Start(ToolStarted{ToolUseID: "a"})
	assert.False(t, ok)
}

func TestToolTracker_EndUnknownDropped(t *testing.T) {
	tr := NewToolTracker()
	assert.Nil(t, tr.End("ghost", ToolCompleted))
}

func TestToolTracker_EndObservedSynthesizesStart(t *testing.T) {
	tr := NewToolTracker()
	tr.Observe("a", "Write", "out.txt")

	events := tr.End("a", ToolCompleted)
	require.Len(t, events, 2)
	assert.Equal(t, ToolStarted{ToolUseID: "a", ToolType: "Write", Target: "out.txt", Status: ToolPending}, events[0])
	assert.Equal(t, ToolEnded{ToolUseID: "a", Status: ToolCompleted}, events[1])
}

func TestToolTracker_EndNonTerminalBecomesCompleted(t *testing.T) {
	tr := NewToolTracker()
	tr.Start(ToolStarted{ToolUseID: "a"})
	events := tr.End("a", ToolRunning)
	require.Len(t, events, 1)
	assert.Equal(t, ToolCompleted, events[0].(ToolEnded).Status)
}

func TestToolTracker_AbortAll(t *testing.T) {
	tr := NewToolTracker()
	tr.Start(ToolStarted{ToolUseID: "a"})
	tr.Start(ToolStarted{ToolUseID: "b"})
	tr.Start(ToolStarted{ToolUseID: "c"})
	tr.Observe("d", "Read", "x")
	tr.End("b", ToolCompleted)

	assert.Equal(t, []string{"a", "c"}, tr.Open())
	events := tr.AbortAll()
	assert.Equal(t, []Event{
		ToolEnded{ToolUseID: "a", Status: ToolAborted},
		ToolEnded{ToolUseID: "c", Status: ToolAborted},
	}, events)
	assert.Empty(t, tr.Open())
	assert.Nil(t, tr.AbortAll())
}

func TestToolTracker_Status(t *testing.T) {
	tr := NewToolTracker()
	_, ok := tr.Status("a")
	assert.False(t, ok)
	tr.Start(ToolStarted{ToolUseID: "a"})
	tr.SetStatus("a", ToolRunning, "")
	s, ok := tr.Status("a")
	assert.True(t, ok)
	assert.Equal(t, ToolRunning, s)
	assert.True(t, tr.Started("a"))
}
