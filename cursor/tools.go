package cursor

import (
	"encoding/json"
	"strings"

	"github.com/bazelment/agentbridge/agentstream"
	"github.com/bazelment/agentbridge/claude"
)

// toolNames maps Cursor tool-call keys onto the names Claude uses for the
// same tools, so both families render targets the same way.
var toolNames = map[string]string{
	"readToolCall":        "Read",
	"writeToolCall":       "Write",
	"editToolCall":        "Edit",
	"deleteToolCall":      "Delete",
	"shellToolCall":       "Bash",
	"grepToolCall":        "Grep",
	"globToolCall":        "Glob",
	"lsToolCall":          "LS",
	"todoToolCall":        "TodoWrite",
	"updateTodosToolCall": "TodoWrite",
	"webSearchToolCall":   "WebSearch",
	"webFetchToolCall":    "WebFetch",
}

// ToolName returns the display name of a Cursor tool-call key.
func ToolName(key string) string {
	if name, ok := toolNames[key]; ok {
		return name
	}
	if base := strings.TrimSuffix(key, "ToolCall"); base != key && base != "" {
		return strings.ToUpper(base[:1]) + base[1:]
	}
	return key
}

// ToolTarget renders the target of a Cursor tool call.
func ToolTarget(name string, args json.RawMessage) string {
	return claude.ToolTarget(name, args)
}

// ResultStatus classifies a completed tool call by the shape of its result:
// {"success": ...}, {"error": ...} or {"rejected": ...}.
func ResultStatus(result json.RawMessage) agentstream.ToolStatus {
	var fields map[string]json.RawMessage
	if json.Unmarshal(result, &fields) != nil {
		return agentstream.ToolCompleted
	}
	switch {
	case fields["rejected"] != nil:
		return agentstream.ToolDenied
	case fields["error"] != nil, fields["failure"] != nil:
		return agentstream.ToolError
	}
	if isErr, ok := fields["is_error"]; ok && string(isErr) == "true" {
		return agentstream.ToolError
	}
	return agentstream.ToolCompleted
}
