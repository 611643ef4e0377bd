package claude

import (
	"encoding/json"
	"fmt"
)

// fallbackFields are tried in order for tools without a dedicated rule.
var fallbackFields = []string{"file_path", "path", "pattern", "command", "url", "query", "skill", "prompt", "subject", "name"}

// ToolTarget renders what a tool invocation acts on (a file path, a search
// pattern, a shortened command) for display next to the tool name.
func ToolTarget(name string, input json.RawMessage) string {
	var fields map[string]any
	_ = json.Unmarshal(input, &fields)

	str := func(keys ...string) (string, bool) {
		for _, k := range keys {
			if v, ok := fields[k].(string); ok {
				return v, true
			}
		}
		return "", false
	}
	or := func(fallback string, limit int, keys ...string) string {
		v, ok := str(keys...)
		if !ok {
			return fallback
		}
		if limit > 0 {
			return Truncate(v, limit)
		}
		return v
	}

	switch name {
	case "Read", "Write", "Edit":
		return or("unknown", 0, "file_path", "path")
	case "Glob":
		return or("*", 0, "pattern")
	case "Grep":
		return or("...", 0, "pattern")
	case "Bash":
		return or("command", 50, "command")
	case "WebSearch":
		return or("searching...", 50, "query")
	case "WebFetch":
		return or("fetching...", 50, "url")
	case "Skill":
		return or("skill", 0, "skill")
	case "Task":
		return or("task", 50, "description", "prompt")
	case "AskUserQuestion":
		return "asking question..."
	case "NotebookEdit":
		return or("notebook", 0, "notebook_path")
	case "TaskCreate":
		return or("new task", 50, "subject")
	case "TaskUpdate":
		if id, ok := str("taskId"); ok {
			return "task " + Truncate(id, 20)
		}
		return "task"
	case "TaskList", "TaskGet":
		return "tasks"
	case "TodoWrite":
		if todos, ok := fields["todos"].([]any); ok {
			return fmt.Sprintf("%d todo(s)", len(todos))
		}
		return "todos"
	case "TodoRead":
		return "reading todos"
	}
	for _, k := range fallbackFields {
		if v, ok := fields[k].(string); ok {
			return name + ": " + Truncate(v, 40)
		}
	}
	return name
}

// Truncate shortens s to at most limit runes, ending in "..." when cut.
func Truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	keep := limit - 3
	if keep < 0 {
		keep = 0
	}
	return string(r[:keep]) + "..."
}
