package translate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelgate/modelgate/internal/canonical"
)

// Anthropic Messages wire types. The same body shape serves both the public
// Messages API and the Anthropic-on-Vertex surface; the latter moves the
// model into the URL and requires AnthropicVersion in the body.

type AnthropicRequest struct {
	Model            string             `json:"model,omitempty"`
	AnthropicVersion string             `json:"anthropic_version,omitempty"`
	MaxTokens        int                `json:"max_tokens"`
	System           string             `json:"system,omitempty"`
	Messages         []AnthropicMessage `json:"messages"`
	Temperature      *float64           `json:"temperature,omitempty"`
	TopP             *float64           `json:"top_p,omitempty"`
	StopSequences    []string           `json:"stop_sequences,omitempty"`
	Tools            []AnthropicTool    `json:"tools,omitempty"`
	ToolChoice       *AnthropicChoice   `json:"tool_choice,omitempty"`
	Stream           bool               `json:"stream,omitempty"`
}

type AnthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type AnthropicBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	Source *AnthropicImageSource `json:"source,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type AnthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type AnthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type AnthropicChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type AnthropicResponse struct {
	ID           string           `json:"id"`
	Type         string           `json:"type"`
	Role         string           `json:"role"`
	Model        string           `json:"model"`
	Content      []AnthropicBlock `json:"content"`
	StopReason   string           `json:"stop_reason,omitempty"`
	StopSequence *string          `json:"stop_sequence,omitempty"`
	Usage        *AnthropicUsage  `json:"usage,omitempty"`
	Error        *AnthropicError  `json:"error,omitempty"`
}

type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type AnthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// anthropicFinishReasons maps Anthropic stop_reason values to the canonical
// enum. The canonical enum mirrors Anthropic's, so most entries are
// identity.
var anthropicFinishReasons = map[string]canonical.FinishReason{
	"end_turn":      canonical.FinishEndTurn,
	"max_tokens":    canonical.FinishMaxTokens,
	"stop_sequence": canonical.FinishStopSequence,
	"tool_use":      canonical.FinishToolUse,
	"refusal":       canonical.FinishRefusal,
}

// FinishReasonFromAnthropic maps a vendor stop reason, defaulting unknown or
// absent reasons to end_turn.
func FinishReasonFromAnthropic(reason string) canonical.FinishReason {
	if mapped, ok := anthropicFinishReasons[reason]; ok {
		return mapped
	}
	return canonical.FinishEndTurn
}

// FinishReasonToAnthropic maps the canonical enum to an Anthropic
// stop_reason string.
func FinishReasonToAnthropic(reason canonical.FinishReason) string {
	switch reason {
	case canonical.FinishContextWindow:
		return "max_tokens"
	case "":
		return "end_turn"
	default:
		return string(reason)
	}
}

// ToAnthropic maps a canonical request into the Anthropic Messages shape.
// System-role messages fold into the dedicated system field, space-joined.
func ToAnthropic(req canonical.CompletionRequest) (*AnthropicRequest, error) {
	out := &AnthropicRequest{
		Model:         req.Model,
		MaxTokens:     req.MaxTokens,
		System:        SystemPrompt(req),
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.StopSequences,
		Stream:        req.Stream,
	}

	for _, m := range req.Messages {
		if m.Role == canonical.RoleSystem {
			continue
		}
		blocks := make([]AnthropicBlock, 0, len(m.Content))
		for _, b := range m.Content {
			blocks = append(blocks, anthropicBlockFrom(b))
		}
		raw, err := json.Marshal(blocks)
		if err != nil {
			return nil, fmt.Errorf("marshal anthropic content: %w", err)
		}
		out.Messages = append(out.Messages, AnthropicMessage{Role: m.Role, Content: raw})
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, AnthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: CleanSchema(t.InputSchema, false),
		})
	}

	if req.ToolChoice != nil {
		out.ToolChoice = anthropicToolChoice(*req.ToolChoice)
	}

	return out, nil
}

func anthropicToolChoice(choice canonical.ToolChoice) *AnthropicChoice {
	switch choice.Mode {
	case canonical.ToolChoiceAny:
		return &AnthropicChoice{Type: "any"}
	case canonical.ToolChoiceNone:
		return &AnthropicChoice{Type: "none"}
	case canonical.ToolChoiceSpecific:
		return &AnthropicChoice{Type: "tool", Name: choice.Name}
	default:
		return &AnthropicChoice{Type: "auto"}
	}
}

func anthropicBlockFrom(b canonical.ContentBlock) AnthropicBlock {
	switch b.Type {
	case canonical.BlockImage:
		return AnthropicBlock{
			Type: "image",
			Source: &AnthropicImageSource{
				Type:      "base64",
				MediaType: b.MediaType,
				Data:      b.Data,
			},
		}
	case canonical.BlockToolUse:
		input := b.Input
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		return AnthropicBlock{Type: "tool_use", ID: b.ID, Name: b.Name, Input: input}
	case canonical.BlockToolResult:
		return AnthropicBlock{
			Type:      "tool_result",
			ToolUseID: b.ToolUseID,
			Content:   b.Content,
			IsError:   b.IsError,
		}
	default:
		return AnthropicBlock{Type: "text", Text: b.Text}
	}
}

// FromAnthropic maps a vendor response back to the canonical shape.
func FromAnthropic(data []byte) (*canonical.CompletionResponse, error) {
	var resp AnthropicResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal anthropic response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("anthropic error %s: %s", resp.Error.Type, resp.Error.Message)
	}

	out := &canonical.CompletionResponse{
		ID:           resp.ID,
		Role:         canonical.RoleAssistant,
		Model:        resp.Model,
		FinishReason: FinishReasonFromAnthropic(resp.StopReason),
		Usage:        &canonical.Usage{},
	}
	if resp.Usage != nil {
		out.Usage.InputTokens = resp.Usage.InputTokens
		out.Usage.OutputTokens = resp.Usage.OutputTokens
	}

	for _, b := range resp.Content {
		out.Content = append(out.Content, canonicalBlockFromAnthropic(b))
	}
	if len(out.Content) == 0 {
		out.Content = append(out.Content, canonical.TextBlock(""))
	}

	return out, nil
}

func canonicalBlockFromAnthropic(b AnthropicBlock) canonical.ContentBlock {
	switch b.Type {
	case "image":
		if b.Source != nil {
			return canonical.ImageBlock(b.Source.MediaType, b.Source.Data)
		}
		return canonical.TextBlock("")
	case "tool_use":
		return canonical.ToolUseBlock(b.ID, b.Name, b.Input)
	case "tool_result":
		block := canonical.ToolResultBlock(b.ToolUseID, b.Content)
		block.IsError = b.IsError
		return block
	default:
		return canonical.TextBlock(b.Text)
	}
}

// ParseAnthropicRequest decodes an Anthropic-shaped inbound body into a
// canonical request. The content field of each message accepts either a
// plain string or a block array; system accepts a string or text-block
// array.
func ParseAnthropicRequest(body []byte, fetch ImageFetcher) (*canonical.CompletionRequest, error) {
	var raw struct {
		Model         string             `json:"model"`
		MaxTokens     int                `json:"max_tokens"`
		System        json.RawMessage    `json:"system"`
		Messages      []AnthropicMessage `json:"messages"`
		Temperature   *float64           `json:"temperature"`
		TopP          *float64           `json:"top_p"`
		StopSequences []string           `json:"stop_sequences"`
		Tools         []AnthropicTool    `json:"tools"`
		ToolChoice    *AnthropicChoice   `json:"tool_choice"`
		Stream        bool               `json:"stream"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode anthropic request: %w", err)
	}

	req := &canonical.CompletionRequest{
		Model:         raw.Model,
		MaxTokens:     raw.MaxTokens,
		System:        parseAnthropicSystem(raw.System),
		Temperature:   raw.Temperature,
		TopP:          raw.TopP,
		StopSequences: raw.StopSequences,
		Stream:        raw.Stream,
	}

	for _, m := range raw.Messages {
		blocks, err := parseAnthropicContent(m.Content, fetch)
		if err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, canonical.Message{Role: m.Role, Content: blocks})
	}

	for _, t := range raw.Tools {
		req.Tools = append(req.Tools, canonical.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	if raw.ToolChoice != nil {
		req.ToolChoice = canonicalToolChoiceFromAnthropic(*raw.ToolChoice)
	}

	return req, nil
}

func canonicalToolChoiceFromAnthropic(choice AnthropicChoice) *canonical.ToolChoice {
	switch choice.Type {
	case "any", "required":
		return &canonical.ToolChoice{Mode: canonical.ToolChoiceAny}
	case "none":
		return &canonical.ToolChoice{Mode: canonical.ToolChoiceNone}
	case "tool":
		return &canonical.ToolChoice{Mode: canonical.ToolChoiceSpecific, Name: choice.Name}
	default:
		return &canonical.ToolChoice{Mode: canonical.ToolChoiceAuto}
	}
}

func parseAnthropicSystem(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []AnthropicBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		texts := make([]string, 0, len(blocks))
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				texts = append(texts, b.Text)
			}
		}
		return strings.Join(texts, " ")
	}
	return ""
}

func parseAnthropicContent(raw json.RawMessage, fetch ImageFetcher) ([]canonical.ContentBlock, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return []canonical.ContentBlock{canonical.TextBlock(text)}, nil
	}

	var blocks []AnthropicBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, fmt.Errorf("decode anthropic message content: %w", err)
	}

	out := make([]canonical.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == "image" && b.Source != nil && b.Source.Type == "url" {
			mediaType, data, err := ResolveImageURL(b.Source.URL, fetch)
			if err != nil {
				return nil, fmt.Errorf("resolve image url: %w", err)
			}
			out = append(out, canonical.ImageBlock(mediaType, data))
			continue
		}
		out = append(out, canonicalBlockFromAnthropic(b))
	}
	return out, nil
}

// ParseAnthropicStreamChunk translates one Anthropic SSE data payload into
// canonical stream events. Anthropic's protocol is the closest to the
// canonical one, so this is mostly a re-tagging pass.
func ParseAnthropicStreamChunk(data []byte, st *ChunkState) ([]canonical.StreamEvent, error) {
	if st.Finished {
		return nil, nil
	}

	var ev struct {
		Type    string `json:"type"`
		Index   int    `json:"index"`
		Message *struct {
			ID    string          `json:"id"`
			Model string          `json:"model"`
			Usage *AnthropicUsage `json:"usage"`
		} `json:"message"`
		ContentBlock *AnthropicBlock `json:"content_block"`
		Delta        *struct {
			Type        string          `json:"type"`
			Text        string          `json:"text"`
			PartialJSON string          `json:"partial_json"`
			StopReason  string          `json:"stop_reason"`
			Usage       *AnthropicUsage `json:"usage"`
		} `json:"delta"`
		Usage *AnthropicUsage `json:"usage"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal anthropic stream event: %w", err)
	}

	switch ev.Type {
	case "message_start":
		if ev.Message != nil {
			st.MessageID = ev.Message.ID
			st.Model = ev.Message.Model
			if ev.Message.Usage != nil {
				st.InputTokens = ev.Message.Usage.InputTokens
			}
		}
		return st.start(nil), nil
	case "content_block_start":
		if ev.ContentBlock == nil {
			return nil, nil
		}
		block := canonicalBlockFromAnthropic(*ev.ContentBlock)
		return []canonical.StreamEvent{{
			Type:  canonical.EventContentBlockStart,
			Index: ev.Index,
			Block: &block,
		}}, nil
	case "content_block_delta":
		if ev.Delta == nil {
			return nil, nil
		}
		if ev.Delta.Type == "input_json_delta" {
			return []canonical.StreamEvent{{
				Type:        canonical.EventToolArgsDelta,
				Index:       ev.Index,
				PartialJSON: ev.Delta.PartialJSON,
			}}, nil
		}
		return []canonical.StreamEvent{{
			Type:  canonical.EventTextDelta,
			Index: ev.Index,
			Text:  ev.Delta.Text,
		}}, nil
	case "content_block_stop":
		return []canonical.StreamEvent{{
			Type:  canonical.EventContentBlockStop,
			Index: ev.Index,
		}}, nil
	case "message_delta":
		out := canonical.StreamEvent{Type: canonical.EventMessageDelta}
		if ev.Delta != nil {
			out.FinishReason = FinishReasonFromAnthropic(ev.Delta.StopReason)
		}
		if ev.Usage != nil {
			out.Usage = &canonical.Usage{
				InputTokens:  ev.Usage.InputTokens,
				OutputTokens: ev.Usage.OutputTokens,
			}
		}
		return []canonical.StreamEvent{out}, nil
	case "message_stop":
		st.Finished = true
		return []canonical.StreamEvent{{Type: canonical.EventMessageStop}}, nil
	default:
		// ping and unknown event types are skipped
		return nil, nil
	}
}
