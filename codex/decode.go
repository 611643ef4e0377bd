package codex

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownEvent matches lines whose type or method is not modeled.
var ErrUnknownEvent = errors.New("unknown codex event")

// DecodeError reports a line that is not valid JSON for its event.
type DecodeError struct {
	Err  error
	Line string
}

func (e *DecodeError) Error() string {
	line := e.Line
	if len(line) > 120 {
		line = line[:120] + "..."
	}
	return fmt.Sprintf("decode codex line %q: %v", line, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// UnknownEventError reports a well-formed line of an unmodeled kind.
type UnknownEventError struct {
	Name string
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnknownEvent, e.Name)
}

func (e *UnknownEventError) Unwrap() error { return ErrUnknownEvent }

type envelope struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Type   string          `json:"type"`
}

// Decode parses one line of `codex exec --json` output or one app-server
// notification. Dotted exec type names are mapped onto notification
// methods, so both shapes decode to the same events.
func Decode(line []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, &DecodeError{Line: string(line), Err: err}
	}

	method := Method(env.Method)
	params := env.Params
	if method == "" {
		m, ok := legacyMethods[env.Type]
		if !ok {
			return nil, &UnknownEventError{Name: env.Type}
		}
		method = m
		params = line
	}
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	ev, err := decodeParams(method, params)
	if err != nil {
		return nil, &DecodeError{Line: string(line), Err: err}
	}
	if ev == nil {
		return nil, &UnknownEventError{Name: string(method)}
	}
	return ev, nil
}

// fields is the union of the params shapes Decode reads.
type fields struct {
	Item          *Item               `json:"item"`
	Usage         *Usage              `json:"usage"`
	Thread        struct{ ID string } `json:"thread"`
	Turn          struct{ ID string } `json:"turn"`
	Error         json.RawMessage     `json:"error"`
	ThreadID      string              `json:"thread_id"`
	ThreadIDCamel string              `json:"threadId"`
	TurnID        string              `json:"turnId"`
	ItemID        string              `json:"item_id"`
	ItemIDCamel   string              `json:"itemId"`
	Delta         string              `json:"delta"`
	Text          string              `json:"text"`
	Message       string              `json:"message"`
}

func decodeParams(method Method, params json.RawMessage) (Event, error) {
	var f fields
	if err := json.Unmarshal(params, &f); err != nil {
		return nil, err
	}

	switch method {
	case MethodThreadStarted:
		return ThreadStartedEvent{ThreadID: firstNonEmpty(f.Thread.ID, f.ThreadIDCamel, f.ThreadID)}, nil
	case MethodTurnStarted:
		return TurnStartedEvent{TurnID: firstNonEmpty(f.Turn.ID, f.TurnID)}, nil
	case MethodTurnCompleted:
		return TurnCompletedEvent{Usage: usageOf(f, params)}, nil
	case MethodTokenUsageUpdated:
		return TokenUsageUpdatedEvent{Usage: usageOf(f, params)}, nil
	case MethodTurnFailed:
		return TurnFailedEvent{Message: firstNonEmpty(errorText(f.Error), f.Message, "turn failed")}, nil
	case MethodError:
		return ErrorEvent{Message: firstNonEmpty(f.Message, errorText(f.Error), "codex error")}, nil
	case MethodItemStarted, MethodItemCompleted:
		item, err := itemOf(f, params)
		if err != nil {
			return nil, err
		}
		if method == MethodItemStarted {
			return ItemStartedEvent{Item: item}, nil
		}
		return ItemCompletedEvent{Item: item}, nil
	case MethodAgentMessageDelta, MethodItemDelta:
		return TextDeltaEvent{ItemID: firstNonEmpty(f.ItemIDCamel, f.ItemID), Text: firstNonEmpty(f.Delta, f.Text)}, nil
	}
	return nil, nil
}

// itemOf returns params.item, or params itself for flat notifications.
func itemOf(f fields, params json.RawMessage) (Item, error) {
	if f.Item != nil {
		return *f.Item, nil
	}
	var it Item
	if err := json.Unmarshal(params, &it); err != nil {
		return Item{}, err
	}
	if it.ID == "" {
		it.ID = firstNonEmpty(f.ItemIDCamel, f.ItemID)
	}
	return it, nil
}

// usageOf returns params.usage, or params itself when it carries token
// counts directly.
func usageOf(f fields, params json.RawMessage) *Usage {
	if f.Usage != nil {
		return f.Usage
	}
	var u Usage
	if err := json.Unmarshal(params, &u); err != nil || u.Total() == 0 {
		return nil
	}
	return &u
}

// errorText reads an error that is either a string or {"message": ...}.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return strings.TrimSpace(firstNonEmpty(obj.Message, obj.Type))
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
