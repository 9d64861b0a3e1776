package translate

import (
	"encoding/json"
	"time"

	"github.com/modelgate/modelgate/internal/canonical"
)

// Renderers for the outbound streaming direction: canonical stream events
// turned back into the wire events of whichever front-facing dialect the
// deployment exposes.

// Anthropic SSE event payload shapes.

type anthropicEventMessage struct {
	ID      string           `json:"id"`
	Type    string           `json:"type"`
	Role    string           `json:"role"`
	Model   string           `json:"model"`
	Content []AnthropicBlock `json:"content"`
	Usage   *AnthropicUsage  `json:"usage,omitempty"`
}

type anthropicEventDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

type anthropicMessageDelta struct {
	StopReason   string  `json:"stop_reason,omitempty"`
	StopSequence *string `json:"stop_sequence"`
}

type anthropicStreamEvent struct {
	Type         string                 `json:"type"`
	Index        *int                   `json:"index,omitempty"`
	Message      *anthropicEventMessage `json:"message,omitempty"`
	ContentBlock *AnthropicBlock        `json:"content_block,omitempty"`
	Delta        json.RawMessage        `json:"delta,omitempty"`
	Usage        *AnthropicUsage        `json:"usage,omitempty"`
}

// RenderAnthropicEvent turns one canonical stream event into its Anthropic
// SSE representation: the event name and the JSON payload. ok is false for
// events with no wire representation.
func RenderAnthropicEvent(ev canonical.StreamEvent) (name string, payload any, ok bool) {
	switch ev.Type {
	case canonical.EventMessageStart:
		msg := &anthropicEventMessage{
			Type:    "message",
			Role:    canonical.RoleAssistant,
			Content: []AnthropicBlock{},
			Usage:   &AnthropicUsage{},
		}
		if ev.Message != nil {
			msg.ID = ev.Message.ID
			msg.Model = ev.Message.Model
			if ev.Message.Usage != nil {
				msg.Usage.InputTokens = ev.Message.Usage.InputTokens
			}
		}
		return "message_start", anthropicStreamEvent{Type: "message_start", Message: msg}, true

	case canonical.EventContentBlockStart:
		idx := ev.Index
		block := AnthropicBlock{Type: "text"}
		if ev.Block != nil {
			block = anthropicBlockFrom(*ev.Block)
			if block.Type == "tool_use" && len(block.Input) == 0 {
				block.Input = json.RawMessage("{}")
			}
		}
		return "content_block_start", anthropicStreamEvent{
			Type: "content_block_start", Index: &idx, ContentBlock: &block,
		}, true

	case canonical.EventTextDelta:
		idx := ev.Index
		delta, _ := json.Marshal(anthropicEventDelta{Type: "text_delta", Text: ev.Text})
		return "content_block_delta", anthropicStreamEvent{
			Type: "content_block_delta", Index: &idx, Delta: delta,
		}, true

	case canonical.EventToolArgsDelta:
		idx := ev.Index
		delta, _ := json.Marshal(anthropicEventDelta{Type: "input_json_delta", PartialJSON: ev.PartialJSON})
		return "content_block_delta", anthropicStreamEvent{
			Type: "content_block_delta", Index: &idx, Delta: delta,
		}, true

	case canonical.EventContentBlockStop:
		idx := ev.Index
		return "content_block_stop", anthropicStreamEvent{Type: "content_block_stop", Index: &idx}, true

	case canonical.EventMessageDelta:
		delta, _ := json.Marshal(anthropicMessageDelta{
			StopReason: FinishReasonToAnthropic(ev.FinishReason),
		})
		out := anthropicStreamEvent{Type: "message_delta", Delta: delta, Usage: &AnthropicUsage{}}
		if ev.Usage != nil {
			out.Usage.OutputTokens = ev.Usage.OutputTokens
		}
		return "message_delta", out, true

	case canonical.EventMessageStop:
		return "message_stop", anthropicStreamEvent{Type: "message_stop"}, true
	}
	return "", nil, false
}

// OpenAIChunkRenderer turns canonical stream events into Chat Completions
// chunk bodies. It assigns OpenAI tool-call indexes as tool blocks open and
// remembers message metadata from the message_start event.
type OpenAIChunkRenderer struct {
	ID      string
	Model   string
	Created int64

	toolIdx  map[int]int
	nextTool int
}

func NewOpenAIChunkRenderer() *OpenAIChunkRenderer {
	return &OpenAIChunkRenderer{
		Created: time.Now().Unix(),
		toolIdx: make(map[int]int),
	}
}

func (r *OpenAIChunkRenderer) chunk(delta *OpenAIMessage, finish string) *OpenAIResponse {
	return &OpenAIResponse{
		ID:      r.ID,
		Object:  "chat.completion.chunk",
		Created: r.Created,
		Model:   r.Model,
		Choices: []OpenAIChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
}

// Render maps one canonical event to at most one chunk body. done reports
// that the stream is over and the terminal [DONE] marker should follow.
func (r *OpenAIChunkRenderer) Render(ev canonical.StreamEvent) (body *OpenAIResponse, done bool) {
	switch ev.Type {
	case canonical.EventMessageStart:
		if ev.Message != nil {
			r.ID = ev.Message.ID
			r.Model = ev.Message.Model
		}
		return r.chunk(&OpenAIMessage{Role: canonical.RoleAssistant, Content: ""}, ""), false

	case canonical.EventContentBlockStart:
		if ev.Block == nil || ev.Block.Type != canonical.BlockToolUse {
			return nil, false
		}
		idx := r.nextTool
		r.nextTool++
		r.toolIdx[ev.Index] = idx
		return r.chunk(&OpenAIMessage{ToolCalls: []OpenAIToolCall{{
			Index:    &idx,
			ID:       ev.Block.ID,
			Type:     "function",
			Function: OpenAIFunctionCall{Name: ev.Block.Name},
		}}}, ""), false

	case canonical.EventTextDelta:
		return r.chunk(&OpenAIMessage{Content: ev.Text}, ""), false

	case canonical.EventToolArgsDelta:
		idx, ok := r.toolIdx[ev.Index]
		if !ok {
			idx = r.nextTool
			r.nextTool++
			r.toolIdx[ev.Index] = idx
		}
		return r.chunk(&OpenAIMessage{ToolCalls: []OpenAIToolCall{{
			Index:    &idx,
			Function: OpenAIFunctionCall{Arguments: ev.PartialJSON},
		}}}, ""), false

	case canonical.EventMessageDelta:
		body := r.chunk(nil, FinishReasonToOpenAI(ev.FinishReason))
		if ev.Usage != nil {
			body.Usage = &OpenAIUsage{
				CompletionTokens: ev.Usage.OutputTokens,
				TotalTokens:      ev.Usage.OutputTokens,
			}
		}
		return body, false

	case canonical.EventMessageStop:
		return nil, true
	}
	return nil, false
}
