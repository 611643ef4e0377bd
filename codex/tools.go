package codex

import (
	"encoding/json"
	"strings"

	"github.com/bazelment/agentbridge/agentstream"
)

// CleanThinkingText trims a reasoning summary and strips the bold markers
// Codex wraps its headings in.
func CleanThinkingText(text string) string {
	t := strings.TrimSpace(text)
	if len(t) >= 4 && strings.HasPrefix(t, "**") && strings.HasSuffix(t, "**") {
		return strings.TrimSpace(t[2 : len(t)-2])
	}
	return t
}

// FinalToolStatus maps a completed item onto a terminal tool status. A
// command only counts as completed with exit code 0.
func FinalToolStatus(toolType, itemStatus string, exitCode *int) agentstream.ToolStatus {
	if itemStatus != "" && itemStatus != "completed" {
		return agentstream.ToolError
	}
	if toolType == ItemCommandExecution && (exitCode == nil || *exitCode != 0) {
		return agentstream.ToolError
	}
	return agentstream.ToolCompleted
}

// NormalizedTool returns the tool type, display target and parsed
// arguments of a tool item.
func NormalizedTool(it Item) (toolType, target string, input json.RawMessage) {
	raw := it.ItemType()
	if raw == "" {
		raw = firstNonEmpty(it.Name, ItemCommandExecution)
	}

	switch raw {
	case ItemFunctionCall:
		name := firstNonEmpty(it.Name, ItemCommandExecution)
		args := parseArguments(it.Arguments)
		var fields map[string]any
		_ = json.Unmarshal(args, &fields)

		if name == "web.run" {
			toolType = "web_fetch"
			if fields["search_query"] != nil || fields["image_query"] != nil {
				toolType = ItemWebSearch
			}
			return toolType, webRunTarget(fields), args
		}
		if name == "exec_command" {
			name = ItemCommandExecution
		}
		return name, stringOf(fields, "cmd", "query", "command", "task", "prompt", "description"), args

	case ItemWebSearchCall, "webSearch":
		if it.Action != nil {
			return ItemWebSearch, firstNonEmpty(it.Action.Query, it.Action.URL), nil
		}
		return ItemWebSearch, it.Query, nil

	case ItemFileChange, "fileChange":
		if len(it.Changes) > 0 {
			return ItemFileChange, it.Changes[0].Path, nil
		}
		return ItemFileChange, it.Path, nil

	case ItemFileWrite:
		return "Write", it.Path, nil

	case ItemFileRead:
		return "Read", it.Path, nil
	}
	return raw, firstNonEmpty(it.Command, it.Query, it.Name), nil
}

// parseArguments accepts arguments as an object, an array, or a string
// holding either.
func parseArguments(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	switch raw[0] {
	case '{', '[':
		return raw
	case '"':
		var s string
		if json.Unmarshal(raw, &s) == nil && json.Valid([]byte(s)) {
			return json.RawMessage(s)
		}
	}
	return nil
}

// webRunTarget picks the most descriptive field of a web.run call.
func webRunTarget(args map[string]any) string {
	for _, key := range []string{"search_query", "image_query"} {
		entries, _ := args[key].([]any)
		for _, e := range entries {
			if m, ok := e.(map[string]any); ok {
				if q, ok := m["q"].(string); ok {
					return q
				}
			}
		}
	}
	for _, f := range []struct{ key, field string }{
		{"open", "ref_id"},
		{"find", "pattern"},
		{"weather", "location"},
		{"finance", "ticker"},
		{"time", "utc_offset"},
		{"click", "ref_id"},
	} {
		entries, _ := args[f.key].([]any)
		if len(entries) == 0 {
			continue
		}
		if m, ok := entries[0].(map[string]any); ok {
			if v, ok := m[f.field].(string); ok {
				return v
			}
		}
	}
	return "web.run"
}

func stringOf(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := fields[k].(string); ok {
			return v
		}
	}
	return ""
}
