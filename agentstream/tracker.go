package agentstream

// ToolTracker holds the per-tool state a normalizer needs to keep the
// emitted tool events well formed:
//
//   - status only moves forward: pending, awaiting-permission, running, terminal
//   - every started tool ends exactly once
//   - a tool seen only structurally (Observe) and then ended gets a
//     synthesized start so callers never see an end without a start
type ToolTracker struct {
	tools map[string]*trackedTool
	order []string
}

type trackedTool struct {
	toolType string
	target   string
	status   ToolStatus
	started  bool
	ended    bool
}

// NewToolTracker returns an empty tracker.
func NewToolTracker() *ToolTracker {
	return &ToolTracker{tools: make(map[string]*trackedTool)}
}

func (t *ToolTracker) get(id string) *trackedTool {
	if t.tools == nil {
		t.tools = make(map[string]*trackedTool)
	}
	return t.tools[id]
}

func (t *ToolTracker) add(id string, tool *trackedTool) {
	t.tools[id] = tool
	t.order = append(t.order, id)
}

// Observe records a tool the backend mentioned without announcing it.
// It never produces an event and never overrides an existing record.
func (t *ToolTracker) Observe(id, toolType, target string) {
	if id == "" || t.get(id) != nil {
		return
	}
	t.add(id, &trackedTool{toolType: toolType, target: target, status: ToolPending})
}

// Start records ev and returns it for emission. It reports false when the
// tool was already started or has ended.
func (t *ToolTracker) Start(ev ToolStarted) (ToolStarted, bool) {
	if ev.ToolUseID == "" {
		return ev, false
	}
	if ev.Status == "" || ev.Status.Terminal() {
		ev.Status = ToolPending
	}
	tool := t.get(ev.ToolUseID)
	switch {
	case tool == nil:
		tool = &trackedTool{}
		t.add(ev.ToolUseID, tool)
	case tool.started || tool.ended:
		return ev, false
	}
	if ev.ToolType == "" {
		ev.ToolType = tool.toolType
	}
	if ev.Target == "" {
		ev.Target = tool.target
	}
	tool.toolType = ev.ToolType
	tool.target = ev.Target
	tool.status = ev.Status
	tool.started = true
	return ev, true
}

// SetStatus moves a started tool to a non-terminal status. Backward or
// repeated transitions, unknown ids and ended tools report false.
func (t *ToolTracker) SetStatus(id string, status ToolStatus, permissionRequestID string) (ToolStatusChanged, bool) {
	ev := ToolStatusChanged{ToolUseID: id, Status: status, PermissionRequestID: permissionRequestID}
	tool := t.get(id)
	if tool == nil || !tool.started || tool.ended || status.Terminal() {
		return ev, false
	}
	if status.rank() <= tool.status.rank() {
		return ev, false
	}
	tool.status = status
	return ev, true
}

// End finishes a tool with a terminal status and returns the events to
// emit. Unknown and already-ended ids return nil.
func (t *ToolTracker) End(id string, status ToolStatus) []Event {
	tool := t.get(id)
	if tool == nil || tool.ended {
		return nil
	}
	if !status.Terminal() {
		status = ToolCompleted
	}
	var events []Event
	if !tool.started {
		tool.started = true
		events = append(events, ToolStarted{
			ToolUseID: id,
			ToolType:  tool.toolType,
			Target:    tool.target,
			Status:    ToolPending,
		})
	}
	tool.ended = true
	tool.status = status
	return append(events, ToolEnded{ToolUseID: id, Status: status})
}

// AbortAll ends every started, unfinished tool as aborted, in start order.
func (t *ToolTracker) AbortAll() []Event {
	var events []Event
	for _, id := range t.order {
		tool := t.tools[id]
		if !tool.started || tool.ended {
			continue
		}
		tool.ended = true
		tool.status = ToolAborted
		events = append(events, ToolEnded{ToolUseID: id, Status: ToolAborted})
	}
	return events
}

// Open returns the ids of started tools that have not ended.
func (t *ToolTracker) Open() []string {
	var ids []string
	for _, id := range t.order {
		tool := t.tools[id]
		if tool.started && !tool.ended {
			ids = append(ids, id)
		}
	}
	return ids
}

// Status returns the last recorded status of id.
func (t *ToolTracker) Status(id string) (ToolStatus, bool) {
	tool := t.get(id)
	if tool == nil {
		return "", false
	}
	return tool.status, true
}

// Started reports whether a start event was emitted for id.
func (t *ToolTracker) Started(id string) bool {
	tool := t.get(id)
	return tool != nil && tool.started
}

// IsEnded reports whether id already produced its end event.
func (t *ToolTracker) IsEnded(id string) bool {
	tool := t.get(id)
	return tool != nil && tool.ended
}
