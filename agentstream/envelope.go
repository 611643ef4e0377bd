package agentstream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownType is returned by DecodeEnvelope for an unrecognized "type".
var ErrUnknownType = errors.New("unknown event type")

// Envelope is the unit delivered to callers: one event tagged with the
// local session id and the turn it belongs to.
type Envelope struct {
	Event     Event
	SessionID string
	TurnID    string
}

type envelopeHeader struct {
	SessionID string `json:"sessionId,omitempty"`
	TurnID    string `json:"turnId,omitempty"`
	Type      Type   `json:"type"`
}

// MarshalJSON flattens the event fields next to the envelope fields.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Event == nil {
		return nil, errors.New("agentstream: envelope has no event")
	}
	head, err := json.Marshal(envelopeHeader{
		SessionID: e.SessionID,
		TurnID:    e.TurnID,
		Type:      e.Event.EventType(),
	})
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(e.Event)
	if err != nil {
		return nil, err
	}
	body = bytes.TrimSpace(body)
	if len(body) <= 2 {
		return head, nil
	}
	var buf bytes.Buffer
	buf.Grow(len(head) + len(body))
	buf.Write(head[:len(head)-1])
	buf.WriteByte(',')
	buf.Write(body[1:])
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler via DecodeEnvelope.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return err
	}
	*e = env
	return nil
}

// DecodeEnvelope parses a flat envelope produced by MarshalJSON.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var head envelopeHeader
	if err := json.Unmarshal(data, &head); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	decode, ok := decoders[head.Type]
	if !ok {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
	ev, err := decode(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("decode %s event: %w", head.Type, err)
	}
	return Envelope{SessionID: head.SessionID, TurnID: head.TurnID, Event: ev}, nil
}
