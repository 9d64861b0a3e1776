package translate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelgate/modelgate/internal/canonical"
)

// Facade-direction mappings: canonical responses rendered in the wire shape
// the deployment exposes to callers, and OpenAI-shaped inbound decoding. The
// Anthropic-shaped inbound decoder lives in anthropic.go.

// AnthropicResponseFrom renders a canonical response as an Anthropic
// Messages response body.
func AnthropicResponseFrom(resp *canonical.CompletionResponse) AnthropicResponse {
	out := AnthropicResponse{
		ID:         resp.ID,
		Type:       "message",
		Role:       canonical.RoleAssistant,
		Model:      resp.Model,
		StopReason: FinishReasonToAnthropic(resp.FinishReason),
		Usage:      &AnthropicUsage{},
	}
	if resp.Usage != nil {
		out.Usage.InputTokens = resp.Usage.InputTokens
		out.Usage.OutputTokens = resp.Usage.OutputTokens
	}
	for _, b := range resp.Content {
		out.Content = append(out.Content, anthropicBlockFrom(b))
	}
	if out.Content == nil {
		out.Content = []AnthropicBlock{{Type: "text", Text: ""}}
	}
	return out
}

// OpenAIResponseFrom renders a canonical response as a Chat Completions
// response body.
func OpenAIResponseFrom(resp *canonical.CompletionResponse) OpenAIResponse {
	msg := OpenAIMessage{Role: canonical.RoleAssistant}

	var text string
	for _, b := range resp.Content {
		switch b.Type {
		case canonical.BlockText:
			text += b.Text
		case canonical.BlockToolUse:
			args := string(b.Input)
			if args == "" {
				args = "{}"
			}
			msg.ToolCalls = append(msg.ToolCalls, OpenAIToolCall{
				ID:       b.ID,
				Type:     "function",
				Function: OpenAIFunctionCall{Name: b.Name, Arguments: args},
			})
		}
	}
	msg.Content = text

	out := OpenAIResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Choices: []OpenAIChoice{{
			Index:        0,
			Message:      &msg,
			FinishReason: FinishReasonToOpenAI(resp.FinishReason),
		}},
	}
	if resp.Usage != nil {
		out.Usage = &OpenAIUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}
	return out
}

// ParseOpenAIRequest decodes a Chat-Completions-shaped inbound body into a
// canonical request. System-role messages become the canonical system
// prompt; tool-role messages become tool_result blocks on a user turn.
func ParseOpenAIRequest(body []byte, fetch ImageFetcher) (*canonical.CompletionRequest, error) {
	var raw struct {
		Model       string          `json:"model"`
		Messages    []json.RawMessage `json:"messages"`
		MaxTokens   int             `json:"max_tokens"`
		Temperature *float64        `json:"temperature"`
		TopP        *float64        `json:"top_p"`
		Stop        json.RawMessage `json:"stop"`
		Tools       []OpenAITool    `json:"tools"`
		ToolChoice  json.RawMessage `json:"tool_choice"`
		Stream      bool            `json:"stream"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode openai request: %w", err)
	}

	req := &canonical.CompletionRequest{
		Model:       raw.Model,
		MaxTokens:   raw.MaxTokens,
		Temperature: raw.Temperature,
		TopP:        raw.TopP,
		Stream:      raw.Stream,
	}
	req.StopSequences = parseOpenAIStop(raw.Stop)

	for _, rawMsg := range raw.Messages {
		msg, err := parseOpenAIMessage(rawMsg, fetch)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			req.Messages = append(req.Messages, *msg)
		}
	}

	for _, t := range raw.Tools {
		req.Tools = append(req.Tools, canonical.ToolDefinition{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}

	if choice := parseOpenAIToolChoice(raw.ToolChoice); choice != nil {
		req.ToolChoice = choice
	}

	return req, nil
}

func parseOpenAIStop(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	return nil
}

func parseOpenAIToolChoice(raw json.RawMessage) *canonical.ToolChoice {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var mode string
	if err := json.Unmarshal(raw, &mode); err == nil {
		switch mode {
		case "required":
			return &canonical.ToolChoice{Mode: canonical.ToolChoiceAny}
		case "none":
			return &canonical.ToolChoice{Mode: canonical.ToolChoiceNone}
		default:
			return &canonical.ToolChoice{Mode: canonical.ToolChoiceAuto}
		}
	}
	var specific struct {
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &specific); err == nil && specific.Function.Name != "" {
		return &canonical.ToolChoice{Mode: canonical.ToolChoiceSpecific, Name: specific.Function.Name}
	}
	return nil
}

func parseOpenAIMessage(raw json.RawMessage, fetch ImageFetcher) (*canonical.Message, error) {
	var m struct {
		Role       string            `json:"role"`
		Content    json.RawMessage   `json:"content"`
		ToolCalls  []OpenAIToolCall  `json:"tool_calls"`
		ToolCallID string            `json:"tool_call_id"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode openai message: %w", err)
	}

	if m.Role == "tool" {
		content, _ := json.Marshal(decodeOpenAIText(m.Content))
		return &canonical.Message{
			Role:    canonical.RoleUser,
			Content: []canonical.ContentBlock{canonical.ToolResultBlock(m.ToolCallID, content)},
		}, nil
	}

	msg := &canonical.Message{Role: m.Role}
	if m.Role == "system" {
		msg.Role = canonical.RoleSystem
	}

	blocks, err := parseOpenAIContent(m.Content, fetch)
	if err != nil {
		return nil, err
	}
	msg.Content = blocks

	for _, tc := range m.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		msg.Content = append(msg.Content, canonical.ToolUseBlock(tc.ID, tc.Function.Name, args))
	}

	if len(msg.Content) == 0 {
		return nil, nil
	}
	return msg, nil
}

func decodeOpenAIText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func parseOpenAIContent(raw json.RawMessage, fetch ImageFetcher) ([]canonical.ContentBlock, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if text == "" {
			return nil, nil
		}
		return []canonical.ContentBlock{canonical.TextBlock(text)}, nil
	}

	var parts []OpenAIContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, fmt.Errorf("decode openai message content: %w", err)
	}

	var blocks []canonical.ContentBlock
	for _, p := range parts {
		switch p.Type {
		case "text":
			blocks = append(blocks, canonical.TextBlock(p.Text))
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			mediaType, data, err := ResolveImageURL(p.ImageURL.URL, fetch)
			if err != nil {
				return nil, fmt.Errorf("resolve image url: %w", err)
			}
			blocks = append(blocks, canonical.ImageBlock(mediaType, data))
		}
	}
	return blocks, nil
}
