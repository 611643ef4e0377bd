package protocol

import (
	"encoding/json"
	"log/slog"
)

// StreamEvent carries a raw API streaming event. The CLI only writes these
// when started with --include-partial-messages.
type StreamEvent struct {
	ParentToolUseID *string         `json:"parent_tool_use_id"`
	Type            MessageType     `json:"type"`
	SessionID       string          `json:"session_id"`
	UUID            string          `json:"uuid"`
	Event           json.RawMessage `json:"event"`
}

func (StreamEvent) MsgType() MessageType { return MessageTypeStreamEvent }

// Parsed decodes the inner API event.
func (m StreamEvent) Parsed() (StreamEventData, error) {
	return ParseStreamEvent(m.Event)
}

// StreamEventType discriminates API streaming events.
type StreamEventType string

const (
	StreamEventTypeMessageStart      StreamEventType = "message_start"
	StreamEventTypeContentBlockStart StreamEventType = "content_block_start"
	StreamEventTypeContentBlockDelta StreamEventType = "content_block_delta"
	StreamEventTypeContentBlockStop  StreamEventType = "content_block_stop"
	StreamEventTypeMessageDelta      StreamEventType = "message_delta"
	StreamEventTypeMessageStop       StreamEventType = "message_stop"
)

// StreamEventData is one decoded API streaming event.
type StreamEventData interface {
	EventType() StreamEventType
}

type MessageStartEvent struct {
	Message MessageContent `json:"message"`
}

func (MessageStartEvent) EventType() StreamEventType { return StreamEventTypeMessageStart }

type ContentBlockStartEvent struct {
	ContentBlock json.RawMessage `json:"content_block"`
	Index        int             `json:"index"`
}

func (ContentBlockStartEvent) EventType() StreamEventType { return StreamEventTypeContentBlockStart }

// Block decodes the started block.
func (e ContentBlockStartEvent) Block() (ContentBlock, error) {
	return UnmarshalContentBlock(e.ContentBlock)
}

type ContentBlockDeltaEvent struct {
	Delta json.RawMessage `json:"delta"`
	Index int             `json:"index"`
}

func (ContentBlockDeltaEvent) EventType() StreamEventType { return StreamEventTypeContentBlockDelta }

// Parsed decodes the delta payload.
func (e ContentBlockDeltaEvent) Parsed() (Delta, error) {
	return ParseDelta(e.Delta)
}

type ContentBlockStopEvent struct {
	Index int `json:"index"`
}

func (ContentBlockStopEvent) EventType() StreamEventType { return StreamEventTypeContentBlockStop }

type MessageDeltaEvent struct {
	Usage *Usage `json:"usage,omitempty"`
	Delta struct {
		StopReason *string `json:"stop_reason"`
	} `json:"delta"`
}

func (MessageDeltaEvent) EventType() StreamEventType { return StreamEventTypeMessageDelta }

type MessageStopEvent struct{}

func (MessageStopEvent) EventType() StreamEventType { return StreamEventTypeMessageStop }

func streamAs[T StreamEventData](data []byte) (StreamEventData, error) {
	var e T
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return e, nil
}

var streamDecoders = map[StreamEventType]func([]byte) (StreamEventData, error){
	StreamEventTypeMessageStart:      streamAs[MessageStartEvent],
	StreamEventTypeContentBlockStart: streamAs[ContentBlockStartEvent],
	StreamEventTypeContentBlockDelta: streamAs[ContentBlockDeltaEvent],
	StreamEventTypeContentBlockStop:  streamAs[ContentBlockStopEvent],
	StreamEventTypeMessageDelta:      streamAs[MessageDeltaEvent],
	StreamEventTypeMessageStop:       streamAs[MessageStopEvent],
}

// ParseStreamEvent decodes an API streaming event. Unknown types return
// (nil, nil).
func ParseStreamEvent(data json.RawMessage) (StreamEventData, error) {
	var base struct {
		Type StreamEventType `json:"type"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, err
	}
	decode, ok := streamDecoders[base.Type]
	if !ok {
		slog.Warn("skipping unknown stream event type", "type", base.Type)
		return nil, nil
	}
	return decode(data)
}

// Delta is the payload of a content_block_delta event.
type Delta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

// Delta types.
const (
	DeltaText      = "text_delta"
	DeltaThinking  = "thinking_delta"
	DeltaInputJSON = "input_json_delta"
)

// ParseDelta decodes a delta payload.
func ParseDelta(data json.RawMessage) (Delta, error) {
	var d Delta
	err := json.Unmarshal(data, &d)
	return d, err
}
