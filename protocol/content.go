package protocol

import (
	"encoding/json"
	"log/slog"
)

// ContentBlockType discriminates content blocks.
type ContentBlockType string

const (
	ContentBlockTypeText       ContentBlockType = "text"
	ContentBlockTypeThinking   ContentBlockType = "thinking"
	ContentBlockTypeToolUse    ContentBlockType = "tool_use"
	ContentBlockTypeToolResult ContentBlockType = "tool_result"
)

// ContentBlock is one element of a message's content array.
type ContentBlock interface {
	BlockType() ContentBlockType
}

type TextBlock struct {
	Type ContentBlockType `json:"type"`
	Text string           `json:"text"`
}

func (b TextBlock) BlockType() ContentBlockType { return ContentBlockTypeText }

type ThinkingBlock struct {
	Type      ContentBlockType `json:"type"`
	Thinking  string           `json:"thinking"`
	Signature string           `json:"signature,omitempty"`
}

func (b ThinkingBlock) BlockType() ContentBlockType { return ContentBlockTypeThinking }

type ToolUseBlock struct {
	Type  ContentBlockType `json:"type"`
	ID    string           `json:"id"`
	Name  string           `json:"name"`
	Input json.RawMessage  `json:"input"`
}

func (b ToolUseBlock) BlockType() ContentBlockType { return ContentBlockTypeToolUse }

type ToolResultBlock struct {
	Type      ContentBlockType `json:"type"`
	ToolUseID string           `json:"tool_use_id"`
	Content   json.RawMessage  `json:"content,omitempty"`
	IsError   bool             `json:"is_error,omitempty"`
}

func (b ToolResultBlock) BlockType() ContentBlockType { return ContentBlockTypeToolResult }

func blockAs[T ContentBlock](data []byte) (ContentBlock, error) {
	var b T
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return b, nil
}

var blockDecoders = map[ContentBlockType]func([]byte) (ContentBlock, error){
	ContentBlockTypeText:       blockAs[TextBlock],
	ContentBlockTypeThinking:   blockAs[ThinkingBlock],
	ContentBlockTypeToolUse:    blockAs[ToolUseBlock],
	ContentBlockTypeToolResult: blockAs[ToolResultBlock],
}

// UnmarshalContentBlock decodes one block. Unmodeled block types (images,
// server tool use, redacted thinking) return (nil, nil).
func UnmarshalContentBlock(data json.RawMessage) (ContentBlock, error) {
	var base struct {
		Type ContentBlockType `json:"type"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, err
	}
	decode, ok := blockDecoders[base.Type]
	if !ok {
		slog.Debug("skipping unknown content block type", "type", base.Type)
		return nil, nil
	}
	return decode(data)
}

// ContentBlocks decodes a content array, dropping unmodeled blocks.
type ContentBlocks []ContentBlock

func (cb *ContentBlocks) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	blocks := make(ContentBlocks, 0, len(raws))
	for _, raw := range raws {
		b, err := UnmarshalContentBlock(raw)
		if err != nil {
			return err
		}
		if b != nil {
			blocks = append(blocks, b)
		}
	}
	*cb = blocks
	return nil
}
