package codex

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/bazelment/agentbridge/agentstream"
	"github.com/bazelment/agentbridge/session"
)

// underDevelopmentNotice marks an informational error item Codex emits
// when experimental features are enabled in its config.
const underDevelopmentNotice = "Under-development features"

type normalizer struct {
	host  session.Host
	tools *agentstream.ToolTracker
	usage agentstream.UsageMeter

	threadID string
	// total sums per-turn usage; turn.completed never reports the thread.
	total int64
	// streamed marks message items whose text arrived as deltas.
	streamed map[string]bool
}

func newNormalizer(h session.Host) *normalizer {
	return &normalizer{
		host:     h,
		tools:    agentstream.NewToolTracker(),
		streamed: make(map[string]bool),
	}
}

func (n *normalizer) HandleLine(_ context.Context, line []byte) bool {
	ev, err := Decode(line)
	if err != nil {
		if !errors.Is(err, ErrUnknownEvent) {
			n.host.Logger().Debug("undecodable line", "error", err)
		}
		return false
	}

	switch e := ev.(type) {
	case ThreadStartedEvent:
		n.handleThreadStarted(e)
	case TurnStartedEvent:
		n.host.Logger().Debug("turn started", "turn_id", e.TurnID)
	case ItemStartedEvent:
		n.handleItemStarted(e.Item)
	case ItemCompletedEvent:
		n.handleItemCompleted(e.Item)
	case TextDeltaEvent:
		n.handleTextDelta(e)
	case TurnCompletedEvent:
		n.handleTurnCompleted(e)
	case TurnFailedEvent:
		n.streamed = make(map[string]bool)
		if n.host.Aborting() {
			n.host.Logger().Debug("turn failed during abort", "message", e.Message)
			break
		}
		n.host.Emit(agentstream.Error{Message: e.Message, Code: agentstream.CodeBackendError})
	case ErrorEvent:
		n.handleError(e.Message)
	case TokenUsageUpdatedEvent:
		// Thread totals; per-turn figures from turn completion are used.
	}
	return true
}

func (n *normalizer) AbortOpenTools() []agentstream.Event {
	return n.tools.AbortAll()
}

// handleThreadStarted reports the thread once. Resumed turns repeat the
// same id.
func (n *normalizer) handleThreadStarted(e ThreadStartedEvent) {
	if e.ThreadID == "" || e.ThreadID == n.threadID {
		return
	}
	n.threadID = e.ThreadID
	n.host.Logger().Info("codex thread started", "thread_id", e.ThreadID)
	n.host.Emit(agentstream.SessionInitialized{SessionID: e.ThreadID, AuthType: AuthType})
}

func (n *normalizer) handleItemStarted(it Item) {
	if it.isReasoning() || it.isMessage() || it.ItemType() == ItemError {
		return
	}
	// Codex fixes permissions at spawn, so a started item is already
	// running; it still passes through pending like every tool.
	toolType, target, input := NormalizedTool(it)
	id := itemID(it)
	ev, ok := n.tools.Start(agentstream.ToolStarted{
		ToolUseID: id,
		ToolType:  toolType,
		Target:    target,
		Status:    agentstream.ToolPending,
		Input:     input,
	})
	if !ok {
		return
	}
	ch, _ := n.tools.SetStatus(id, agentstream.ToolRunning, "")
	n.host.Emit(ev, ch)
}

func (n *normalizer) handleItemCompleted(it Item) {
	switch {
	case it.isReasoning():
		id := itemID(it)
		content := CleanThinkingText(it.Text)
		if content == "" {
			content = "Thinking"
		}
		n.host.Emit(
			agentstream.ThinkingStarted{ThinkingID: id, Content: content},
			agentstream.ThinkingEnded{ThinkingID: id},
		)
	case it.isMessage():
		if it.isUserMessage() || (it.ID != "" && n.streamed[it.ID]) {
			return
		}
		if text := firstNonEmpty(it.Text, it.Message); text != "" {
			n.host.Emit(agentstream.TextDelta{Text: text})
		}
	case it.ItemType() == ItemError:
		n.handleError(firstNonEmpty(it.Message, it.Text))
	default:
		// Items that never announced a start (web searches and file
		// changes usually) get a pending start from the tracker.
		id := itemID(it)
		toolType, target, _ := NormalizedTool(it)
		n.tools.Observe(id, toolType, target)
		status := FinalToolStatus(toolType, it.Status, it.Exit())
		n.host.Emit(n.tools.End(id, session.InterruptedStatus(n.host, status))...)
	}
}

func (n *normalizer) handleTextDelta(e TextDeltaEvent) {
	if e.Text == "" {
		return
	}
	if e.ItemID != "" {
		n.streamed[e.ItemID] = true
	}
	n.host.Emit(agentstream.TextDelta{Text: e.Text})
}

func (n *normalizer) handleTurnCompleted(e TurnCompletedEvent) {
	var b agentstream.Batch
	if u := e.Usage; u != nil {
		n.total += u.Total()
		if ev, ok := n.usage.Observe(agentstream.TokenUsage{
			TotalTokens:   n.total,
			ContextTokens: u.Context(),
			ContextWindow: u.Window(),
		}); ok {
			b.Add(ev)
		}
	}
	b.Add(agentstream.TurnComplete{})
	n.streamed = make(map[string]bool)
	n.host.Emit(b.Events()...)
}

// handleError reports a non-fatal backend error. Codex follows a fatal
// one with turn.failed, which ends the turn.
func (n *normalizer) handleError(msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" || strings.Contains(msg, underDevelopmentNotice) || n.host.Aborting() {
		return
	}
	n.host.Emit(agentstream.Error{Message: msg})
}

// itemID returns the item id, or a fresh one for items that have none.
func itemID(it Item) string {
	if it.ID != "" {
		return it.ID
	}
	return uuid.NewString()
}
