package agentstream

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

var variants = map[Type]Event{
	TypeTextDelta:             TextDelta{},
	TypeToolStarted:           ToolStarted{},
	TypeToolStatusChanged:     ToolStatusChanged{},
	TypeToolEnded:             ToolEnded{},
	TypeThinkingStarted:       ThinkingStarted{},
	TypeThinkingEnded:         ThinkingEnded{},
	TypeTokenUsage:            TokenUsage{},
	TypeTurnComplete:          TurnComplete{},
	TypeAbortComplete:         AbortComplete{},
	TypeSessionInitialized:    SessionInitialized{},
	TypePermissionModeChanged: PermissionModeChanged{},
	TypePermissionExpired:     PermissionExpired{},
	TypeError:                 Error{},
}

// Schema returns a JSON Schema document describing a serialized Envelope:
// a oneOf over every event variant, each with its "type" pinned.
func Schema() (json.RawMessage, error) {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	oneOf := make([]map[string]any, 0, len(variants))
	for _, t := range AllTypes() {
		raw, err := json.Marshal(reflector.Reflect(variants[t]))
		if err != nil {
			return nil, fmt.Errorf("reflect %s: %w", t, err)
		}
		var s map[string]any
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		delete(s, "$schema")
		delete(s, "$id")
		props, _ := s["properties"].(map[string]any)
		if props == nil {
			props = map[string]any{}
		}
		props["type"] = map[string]any{"const": string(t)}
		props["sessionId"] = map[string]any{"type": "string"}
		props["turnId"] = map[string]any{"type": "string"}
		s["properties"] = props
		required, _ := s["required"].([]any)
		s["required"] = append([]any{"type"}, required...)
		s["title"] = string(t)
		s["additionalProperties"] = false
		oneOf = append(oneOf, s)
	}
	return json.MarshalIndent(map[string]any{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"title":   "agentbridge event envelope",
		"oneOf":   oneOf,
	}, "", "  ")
}
