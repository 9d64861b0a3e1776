package translate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelgate/modelgate/internal/apierr"
	"github.com/modelgate/modelgate/internal/canonical"
)

// OpenAI Chat Completions wire types.

type OpenAIRequest struct {
	Model       string          `json:"model"`
	Messages    []OpenAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	Tools       []OpenAITool    `json:"tools,omitempty"`
	ToolChoice  any             `json:"tool_choice,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type OpenAIMessage struct {
	Role       string           `json:"role"`
	Content    any              `json:"content,omitempty"`
	ToolCalls  []OpenAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type OpenAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *OpenAIImageURL `json:"image_url,omitempty"`
}

type OpenAIImageURL struct {
	URL string `json:"url"`
}

type OpenAITool struct {
	Type     string         `json:"type"`
	Function OpenAIFunction `json:"function"`
}

type OpenAIFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type OpenAIToolCall struct {
	Index    *int               `json:"index,omitempty"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function OpenAIFunctionCall `json:"function"`
}

type OpenAIFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type OpenAIResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object,omitempty"`
	Created int64          `json:"created,omitempty"`
	Model   string         `json:"model,omitempty"`
	Choices []OpenAIChoice `json:"choices,omitempty"`
	Usage   *OpenAIUsage   `json:"usage,omitempty"`
	Error   *OpenAIError   `json:"error,omitempty"`
}

type OpenAIChoice struct {
	Index        int            `json:"index"`
	Message      *OpenAIMessage `json:"message,omitempty"`
	Delta        *OpenAIMessage `json:"delta,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
}

type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

type OpenAIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// openaiFinishReasons maps OpenAI finish_reason values to the canonical enum.
var openaiFinishReasons = map[string]canonical.FinishReason{
	"stop":           canonical.FinishEndTurn,
	"length":         canonical.FinishMaxTokens,
	"tool_calls":     canonical.FinishToolUse,
	"function_call":  canonical.FinishToolUse,
	"content_filter": canonical.FinishRefusal,
}

// FinishReasonFromOpenAI maps a vendor finish reason, defaulting unknown or
// absent reasons to end_turn.
func FinishReasonFromOpenAI(reason string) canonical.FinishReason {
	if mapped, ok := openaiFinishReasons[reason]; ok {
		return mapped
	}
	return canonical.FinishEndTurn
}

// FinishReasonToOpenAI maps the canonical enum to OpenAI's finish_reason.
func FinishReasonToOpenAI(reason canonical.FinishReason) string {
	switch reason {
	case canonical.FinishMaxTokens, canonical.FinishContextWindow:
		return "length"
	case canonical.FinishToolUse:
		return "tool_calls"
	case canonical.FinishRefusal:
		return "content_filter"
	default:
		return "stop"
	}
}

// ToOpenAI maps a canonical request into the OpenAI Chat Completions shape.
// OpenAI has no dedicated system field: the system prompt becomes a
// prepended system-role message.
func ToOpenAI(req canonical.CompletionRequest) (*OpenAIRequest, error) {
	out := &OpenAIRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
		Stream:      req.Stream,
	}

	if sys := SystemPrompt(req); sys != "" {
		out.Messages = append(out.Messages, OpenAIMessage{Role: "system", Content: sys})
	}

	for _, m := range req.Messages {
		if m.Role == canonical.RoleSystem {
			continue
		}
		msgs, err := openaiMessagesFrom(m)
		if err != nil {
			return nil, &apierr.TranslationError{Dialect: "openai", Err: err}
		}
		out.Messages = append(out.Messages, msgs...)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, OpenAITool{
			Type: "function",
			Function: OpenAIFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  CleanSchema(t.InputSchema, false),
			},
		})
	}

	if req.ToolChoice != nil {
		out.ToolChoice = openaiToolChoice(*req.ToolChoice)
	}

	return out, nil
}

func openaiToolChoice(choice canonical.ToolChoice) any {
	switch choice.Mode {
	case canonical.ToolChoiceAny:
		return "required"
	case canonical.ToolChoiceNone:
		return "none"
	case canonical.ToolChoiceSpecific:
		return map[string]any{
			"type":     "function",
			"function": map[string]any{"name": choice.Name},
		}
	default:
		return "auto"
	}
}

// openaiMessagesFrom converts one canonical message. A message mixing tool
// results with other blocks fans out into separate wire messages because
// OpenAI carries tool results as dedicated tool-role turns.
func openaiMessagesFrom(m canonical.Message) ([]OpenAIMessage, error) {
	var out []OpenAIMessage

	var text strings.Builder
	var parts []OpenAIContentPart
	var toolCalls []OpenAIToolCall
	hasImage := false

	for _, b := range m.Content {
		switch b.Type {
		case canonical.BlockText:
			text.WriteString(b.Text)
			parts = append(parts, OpenAIContentPart{Type: "text", Text: b.Text})
		case canonical.BlockImage:
			hasImage = true
			parts = append(parts, OpenAIContentPart{
				Type:     "image_url",
				ImageURL: &OpenAIImageURL{URL: "data:" + b.MediaType + ";base64," + b.Data},
			})
		case canonical.BlockToolUse:
			args := string(b.Input)
			if args == "" {
				args = "{}"
			}
			toolCalls = append(toolCalls, OpenAIToolCall{
				ID:       b.ID,
				Type:     "function",
				Function: OpenAIFunctionCall{Name: b.Name, Arguments: args},
			})
		case canonical.BlockToolResult:
			out = append(out, OpenAIMessage{
				Role:       "tool",
				ToolCallID: b.ToolUseID,
				Content:    toolResultText(b.Content),
			})
		default:
			return nil, fmt.Errorf("unsupported content block type %q", b.Type)
		}
	}

	msg := OpenAIMessage{Role: m.Role, ToolCalls: toolCalls}
	switch {
	case hasImage:
		msg.Content = parts
	case text.Len() > 0:
		msg.Content = text.String()
	case len(toolCalls) == 0 && len(out) > 0:
		// message was tool results only
		return out, nil
	default:
		msg.Content = ""
	}

	return append([]OpenAIMessage{msg}, out...), nil
}

// toolResultText renders tool result content as the plain string OpenAI
// expects in a tool-role message.
func toolResultText(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		return s
	}
	return string(content)
}

// FromOpenAI maps a vendor response back to the canonical shape. Missing
// usage counters default to zero.
func FromOpenAI(data []byte) (*canonical.CompletionResponse, error) {
	var resp OpenAIResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal openai response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("openai error %s: %s", resp.Error.Type, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in openai response")
	}

	choice := resp.Choices[0]
	msg := choice.Message
	if msg == nil {
		msg = choice.Delta
	}
	if msg == nil {
		return nil, fmt.Errorf("no message in openai choice")
	}

	out := &canonical.CompletionResponse{
		ID:           resp.ID,
		Role:         canonical.RoleAssistant,
		Model:        resp.Model,
		FinishReason: FinishReasonFromOpenAI(choice.FinishReason),
		Usage:        &canonical.Usage{},
	}
	if resp.Usage != nil {
		out.Usage.InputTokens = resp.Usage.PromptTokens
		out.Usage.OutputTokens = resp.Usage.CompletionTokens
	}

	if text, ok := msg.Content.(string); ok && text != "" {
		out.Content = append(out.Content, canonical.TextBlock(text))
	}
	for _, tc := range msg.ToolCalls {
		input := json.RawMessage(tc.Function.Arguments)
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		out.Content = append(out.Content, canonical.ToolUseBlock(tc.ID, tc.Function.Name, input))
	}
	if len(out.Content) == 0 {
		out.Content = append(out.Content, canonical.TextBlock(""))
	}

	return out, nil
}

// ParseOpenAIStreamChunk translates one OpenAI SSE data payload into
// canonical stream events. Tool-call fragments are addressed by a stable
// zero-based index so consumers can accumulate partial JSON arguments.
func ParseOpenAIStreamChunk(data []byte, st *ChunkState) ([]canonical.StreamEvent, error) {
	if st.Finished {
		return nil, nil
	}

	var chunk OpenAIResponse
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, fmt.Errorf("unmarshal openai stream chunk: %w", err)
	}

	if chunk.ID != "" && st.MessageID == "" {
		st.MessageID = chunk.ID
	}
	if chunk.Model != "" && st.Model == "" {
		st.Model = chunk.Model
	}
	if chunk.Usage != nil && st.InputTokens == 0 {
		st.InputTokens = chunk.Usage.PromptTokens
	}

	if len(chunk.Choices) == 0 {
		return nil, nil
	}
	choice := chunk.Choices[0]

	var events []canonical.StreamEvent
	events = st.start(events)

	if delta := choice.Delta; delta != nil {
		if len(delta.ToolCalls) > 0 {
			for _, tc := range delta.ToolCalls {
				vendorIndex := 0
				if tc.Index != nil {
					vendorIndex = *tc.Index
				}
				var idx int
				events, idx = st.openToolBlock(events, tc.ID, vendorIndex, tc.Function.Name)
				if tc.Function.Arguments != "" {
					events = append(events, canonical.StreamEvent{
						Type:        canonical.EventToolArgsDelta,
						Index:       idx,
						PartialJSON: tc.Function.Arguments,
					})
				}
			}
		} else if text, ok := delta.Content.(string); ok && text != "" {
			var idx int
			events, idx = st.openTextBlock(events)
			events = append(events, canonical.StreamEvent{
				Type:  canonical.EventTextDelta,
				Index: idx,
				Text:  text,
			})
		}
	}

	if choice.FinishReason != "" {
		var usage *canonical.Usage
		if chunk.Usage != nil {
			usage = &canonical.Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
			}
		}
		events = st.finish(events, FinishReasonFromOpenAI(choice.FinishReason), usage)
	}

	return events, nil
}
