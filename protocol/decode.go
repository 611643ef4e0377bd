package protocol

import (
	"encoding/json"
)

func decodeAs[T Message](line []byte) (Message, error) {
	var m T
	if err := json.Unmarshal(line, &m); err != nil {
		return nil, &DecodeError{Line: string(line), Err: err}
	}
	return m, nil
}

var decoders = map[MessageType]func([]byte) (Message, error){
	MessageTypeSystem:          decodeAs[SystemMessage],
	MessageTypeAssistant:       decodeAs[AssistantMessage],
	MessageTypeUser:            decodeAs[UserMessage],
	MessageTypeResult:          decodeAs[ResultMessage],
	MessageTypeStreamEvent:     decodeAs[StreamEvent],
	MessageTypeControlRequest:  decodeAs[ControlRequest],
	MessageTypeControlResponse: decodeAs[ControlResponse],
}

// Decode parses one stdout line. Malformed JSON yields a *DecodeError; a
// well-formed line with an unmodeled type yields an *UnknownLineError.
func Decode(line []byte) (Message, error) {
	var base struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(line, &base); err != nil {
		return nil, &DecodeError{Line: string(line), Err: err}
	}
	decode, ok := decoders[base.Type]
	if !ok {
		return nil, &UnknownLineError{Type: string(base.Type)}
	}
	return decode(line)
}
