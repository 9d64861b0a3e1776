// Package canonical defines the gateway's vendor-neutral chat-completion
// schema. Every translator maps between these types and one vendor wire
// dialect; nothing in this package performs I/O.
package canonical

import "encoding/json"

// Role values used in canonical messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Content block types.
const (
	BlockText       = "text"
	BlockImage      = "image"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// FinishReason is the canonical stop/finish enum. Unknown vendor reasons
// always map to FinishEndTurn.
type FinishReason string

const (
	FinishEndTurn       FinishReason = "end_turn"
	FinishMaxTokens     FinishReason = "max_tokens"
	FinishStopSequence  FinishReason = "stop_sequence"
	FinishToolUse       FinishReason = "tool_use"
	FinishRefusal       FinishReason = "refusal"
	FinishContextWindow FinishReason = "context_window_exceeded"
)

// ContentBlock is a tagged union: exactly one of the block-specific field
// groups is populated, determined by Type.
type ContentBlock struct {
	Type string `json:"type"`

	// Type == BlockText
	Text string `json:"text,omitempty"`

	// Type == BlockImage
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`

	// Type == BlockToolUse
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// Type == BlockToolResult
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ImageBlock builds an inline image content block from a media type and
// base64 payload.
func ImageBlock(mediaType, data string) ContentBlock {
	return ContentBlock{Type: BlockImage, MediaType: mediaType, Data: data}
}

// ToolUseBlock builds a tool invocation block.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock builds a tool result block correlated by tool-use id.
func ToolResultBlock(toolUseID string, content json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content}
}

// Message is one canonical conversation turn. Content is an ordered block
// sequence; plain-text messages carry a single text block.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// TextMessage builds a single-text-block message.
func TextMessage(role, text string) Message {
	return Message{Role: role, Content: []ContentBlock{TextBlock(text)}}
}

// Text concatenates the message's text blocks.
func (m Message) Text() string {
	var out string
	for _, b := range m.Content {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolDefinition describes one callable tool. InputSchema is a
// JSON-Schema-shaped object; its top-level "type" is "object" when present.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Tool choice modes.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceAny      = "any"
	ToolChoiceNone     = "none"
	ToolChoiceSpecific = "tool"
)

// ToolChoice is a tagged union: Mode selects the behavior, Name is set only
// for ToolChoiceSpecific.
type ToolChoice struct {
	Mode string `json:"type"`
	Name string `json:"name,omitempty"`
}

// CompletionRequest is the canonical inbound request. Model names the model
// the caller asked for; adapters pinned to one vendor model may ignore it.
type CompletionRequest struct {
	Model         string           `json:"model"`
	Messages      []Message        `json:"messages"`
	System        string           `json:"system,omitempty"`
	MaxTokens     int              `json:"max_tokens,omitempty"`
	Temperature   *float64         `json:"temperature,omitempty"`
	TopP          *float64         `json:"top_p,omitempty"`
	StopSequences []string         `json:"stop_sequences,omitempty"`
	Tools         []ToolDefinition `json:"tools,omitempty"`
	ToolChoice    *ToolChoice      `json:"tool_choice,omitempty"`
	Stream        bool             `json:"stream,omitempty"`
}

// Usage reports vendor-relayed token counters. Missing vendor counters are
// zero, never null.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// CompletionResponse is the canonical assistant turn produced by one backend
// call.
type CompletionResponse struct {
	ID           string         `json:"id"`
	Role         string         `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	FinishReason FinishReason   `json:"finish_reason"`
	Usage        *Usage         `json:"usage,omitempty"`
}

// Text concatenates the response's text blocks.
func (r *CompletionResponse) Text() string {
	var out string
	for _, b := range r.Content {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// Stream event types, mirroring the canonical streaming protocol.
type StreamEventType string

const (
	EventMessageStart      StreamEventType = "message_start"
	EventContentBlockStart StreamEventType = "content_block_start"
	EventTextDelta         StreamEventType = "text_delta"
	EventToolArgsDelta     StreamEventType = "tool_args_delta"
	EventContentBlockStop  StreamEventType = "content_block_stop"
	EventMessageDelta      StreamEventType = "message_delta"
	EventMessageStop       StreamEventType = "message_stop"
)

// StreamEvent is a tagged union over the canonical streaming protocol. The
// fields populated depend on Type:
//
//	message_start        Message (content empty, usage placeholder)
//	content_block_start  Index, Block
//	text_delta           Index, Text
//	tool_args_delta      Index, PartialJSON
//	content_block_stop   Index
//	message_delta        FinishReason, Usage
//	message_stop         nothing
type StreamEvent struct {
	Type StreamEventType `json:"type"`

	Index int `json:"index,omitempty"`

	Message *CompletionResponse `json:"message,omitempty"`
	Block   *ContentBlock       `json:"content_block,omitempty"`

	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`

	FinishReason FinishReason `json:"finish_reason,omitempty"`
	Usage        *Usage       `json:"usage,omitempty"`
}
