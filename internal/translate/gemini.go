package translate

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/modelgate/modelgate/internal/canonical"
)

// Vertex Gemini generateContent wire types.

type GeminiRequest struct {
	Contents          []GeminiContent   `json:"contents"`
	SystemInstruction *GeminiContent    `json:"systemInstruction,omitempty"`
	GenerationConfig  *GeminiGenConfig  `json:"generationConfig,omitempty"`
	Tools             []GeminiTool      `json:"tools,omitempty"`
	ToolConfig        *GeminiToolConfig `json:"toolConfig,omitempty"`
}

type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

type GeminiPart struct {
	Text             string                  `json:"text,omitempty"`
	InlineData       *GeminiInlineData       `json:"inlineData,omitempty"`
	FunctionCall     *GeminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *GeminiFunctionResponse `json:"functionResponse,omitempty"`
}

type GeminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type GeminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type GeminiFunctionResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

type GeminiGenConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type GeminiTool struct {
	FunctionDeclarations []GeminiFunctionDecl `json:"functionDeclarations"`
}

type GeminiFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type GeminiToolConfig struct {
	FunctionCallingConfig GeminiFunctionCallingConfig `json:"functionCallingConfig"`
}

type GeminiFunctionCallingConfig struct {
	Mode                 string   `json:"mode"`
	AllowedFunctionNames []string `json:"allowedFunctionNames,omitempty"`
}

type GeminiResponse struct {
	Candidates    []GeminiCandidate `json:"candidates,omitempty"`
	UsageMetadata *GeminiUsage      `json:"usageMetadata,omitempty"`
	ModelVersion  string            `json:"modelVersion,omitempty"`
	ResponseID    string            `json:"responseId,omitempty"`
	Error         *GeminiError      `json:"error,omitempty"`
}

type GeminiCandidate struct {
	Content      *GeminiContent `json:"content,omitempty"`
	FinishReason string         `json:"finishReason,omitempty"`
	Index        int            `json:"index,omitempty"`
}

type GeminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount int `json:"candidatesTokenCount,omitempty"`
	TotalTokenCount      int `json:"totalTokenCount,omitempty"`
}

type GeminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// geminiFinishReasons maps Gemini finishReason values to the canonical enum.
var geminiFinishReasons = map[string]canonical.FinishReason{
	"STOP":       canonical.FinishEndTurn,
	"MAX_TOKENS": canonical.FinishMaxTokens,
	"SAFETY":     canonical.FinishRefusal,
	"RECITATION": canonical.FinishRefusal,
	"BLOCKLIST":  canonical.FinishRefusal,
	"OTHER":      canonical.FinishEndTurn,
}

// FinishReasonFromGemini maps a vendor finish reason, defaulting unknown or
// absent reasons to end_turn. A candidate carrying a function call is the
// caller's cue to upgrade STOP to tool_use.
func FinishReasonFromGemini(reason string) canonical.FinishReason {
	if mapped, ok := geminiFinishReasons[reason]; ok {
		return mapped
	}
	return canonical.FinishEndTurn
}

// ToGemini maps a canonical request into the generateContent shape.
// Consecutive messages that land on the same vendor role are coalesced into
// one content entry because the schema rejects adjacent same-role turns.
func ToGemini(req canonical.CompletionRequest) (*GeminiRequest, error) {
	out := &GeminiRequest{
		GenerationConfig: &GeminiGenConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			StopSequences:   req.StopSequences,
		},
	}

	if sys := SystemPrompt(req); sys != "" {
		out.SystemInstruction = &GeminiContent{Parts: []GeminiPart{{Text: sys}}}
	}

	for _, m := range req.Messages {
		if m.Role == canonical.RoleSystem {
			continue
		}
		role := "user"
		if m.Role == canonical.RoleAssistant {
			role = "model"
		}

		parts, err := geminiPartsFrom(req, m)
		if err != nil {
			return nil, err
		}
		if len(parts) == 0 {
			continue
		}

		if n := len(out.Contents); n > 0 && out.Contents[n-1].Role == role {
			out.Contents[n-1].Parts = append(out.Contents[n-1].Parts, parts...)
			continue
		}
		out.Contents = append(out.Contents, GeminiContent{Role: role, Parts: parts})
	}

	if len(req.Tools) > 0 {
		decls := make([]GeminiFunctionDecl, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, GeminiFunctionDecl{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  CleanSchema(t.InputSchema, true),
			})
		}
		out.Tools = []GeminiTool{{FunctionDeclarations: decls}}
	}

	if req.ToolChoice != nil {
		out.ToolConfig = geminiToolConfig(*req.ToolChoice)
	}

	return out, nil
}

func geminiToolConfig(choice canonical.ToolChoice) *GeminiToolConfig {
	cfg := GeminiFunctionCallingConfig{Mode: "AUTO"}
	switch choice.Mode {
	case canonical.ToolChoiceAny:
		cfg.Mode = "ANY"
	case canonical.ToolChoiceNone:
		cfg.Mode = "NONE"
	case canonical.ToolChoiceSpecific:
		cfg.Mode = "ANY"
		cfg.AllowedFunctionNames = []string{choice.Name}
	}
	return &GeminiToolConfig{FunctionCallingConfig: cfg}
}

func geminiPartsFrom(req canonical.CompletionRequest, m canonical.Message) ([]GeminiPart, error) {
	parts := make([]GeminiPart, 0, len(m.Content))
	for _, b := range m.Content {
		switch b.Type {
		case canonical.BlockText:
			parts = append(parts, GeminiPart{Text: b.Text})
		case canonical.BlockImage:
			parts = append(parts, GeminiPart{
				InlineData: &GeminiInlineData{MimeType: b.MediaType, Data: b.Data},
			})
		case canonical.BlockToolUse:
			args := b.Input
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			parts = append(parts, GeminiPart{
				FunctionCall: &GeminiFunctionCall{Name: b.Name, Args: args},
			})
		case canonical.BlockToolResult:
			// Gemini correlates tool results by function name, which the
			// canonical block does not carry: resolve it from the prior
			// tool_use with the matching id.
			parts = append(parts, GeminiPart{
				FunctionResponse: &GeminiFunctionResponse{
					Name:     ToolNameForResult(req, b.ToolUseID),
					Response: geminiToolResponse(b.Content),
				},
			})
		default:
			return nil, fmt.Errorf("unsupported content block type %q", b.Type)
		}
	}
	return parts, nil
}

// geminiToolResponse wraps bare values in an object because functionResponse
// payloads must be structured.
func geminiToolResponse(content json.RawMessage) json.RawMessage {
	if len(content) == 0 {
		return json.RawMessage("{}")
	}
	var obj map[string]any
	if err := json.Unmarshal(content, &obj); err == nil {
		return content
	}
	var s string
	if err := json.Unmarshal(content, &s); err != nil {
		s = string(content)
	}
	wrapped, err := json.Marshal(map[string]string{"content": s})
	if err != nil {
		return json.RawMessage("{}")
	}
	return wrapped
}

// FromGemini maps a generateContent response back to the canonical shape.
func FromGemini(data []byte) (*canonical.CompletionResponse, error) {
	var resp GeminiResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal gemini response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("gemini error %s: %s", resp.Error.Status, resp.Error.Message)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates in gemini response")
	}

	candidate := resp.Candidates[0]

	id := resp.ResponseID
	if id == "" {
		id = "msg_" + uuid.NewString()
	}

	out := &canonical.CompletionResponse{
		ID:           id,
		Role:         canonical.RoleAssistant,
		Model:        resp.ModelVersion,
		FinishReason: FinishReasonFromGemini(candidate.FinishReason),
		Usage:        &canonical.Usage{},
	}
	if resp.UsageMetadata != nil {
		out.Usage.InputTokens = resp.UsageMetadata.PromptTokenCount
		out.Usage.OutputTokens = resp.UsageMetadata.CandidatesTokenCount
	}

	sawToolUse := false
	if candidate.Content != nil {
		for _, p := range candidate.Content.Parts {
			if p.Text != "" {
				out.Content = append(out.Content, canonical.TextBlock(p.Text))
			}
			if p.FunctionCall != nil {
				sawToolUse = true
				args := p.FunctionCall.Args
				if len(args) == 0 {
					args = json.RawMessage("{}")
				}
				out.Content = append(out.Content, canonical.ToolUseBlock(
					"toolu_"+uuid.NewString(), p.FunctionCall.Name, args))
			}
		}
	}
	if len(out.Content) == 0 {
		out.Content = append(out.Content, canonical.TextBlock(""))
	}
	if sawToolUse && out.FinishReason == canonical.FinishEndTurn {
		out.FinishReason = canonical.FinishToolUse
	}

	return out, nil
}

// ParseGeminiStreamChunk translates one streamGenerateContent SSE payload
// into canonical stream events. Gemini ships function-call arguments whole
// per part, so each call becomes one block with a single args delta.
func ParseGeminiStreamChunk(data []byte, st *ChunkState) ([]canonical.StreamEvent, error) {
	if st.Finished {
		return nil, nil
	}

	var chunk GeminiResponse
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, fmt.Errorf("unmarshal gemini stream chunk: %w", err)
	}

	if chunk.ResponseID != "" && st.MessageID == "" {
		st.MessageID = chunk.ResponseID
	}
	if chunk.ModelVersion != "" && st.Model == "" {
		st.Model = chunk.ModelVersion
	}
	if chunk.UsageMetadata != nil && st.InputTokens == 0 {
		st.InputTokens = chunk.UsageMetadata.PromptTokenCount
	}

	if len(chunk.Candidates) == 0 {
		return nil, nil
	}
	candidate := chunk.Candidates[0]

	var events []canonical.StreamEvent
	events = st.start(events)

	sawToolUse := false
	if candidate.Content != nil {
		for _, p := range candidate.Content.Parts {
			if p.Text != "" {
				var idx int
				events, idx = st.openTextBlock(events)
				events = append(events, canonical.StreamEvent{
					Type:  canonical.EventTextDelta,
					Index: idx,
					Text:  p.Text,
				})
			}
			if p.FunctionCall != nil {
				sawToolUse = true
				id := "toolu_" + uuid.NewString()
				var idx int
				events, idx = st.openToolBlock(events, id, len(st.toolByID), p.FunctionCall.Name)
				args := p.FunctionCall.Args
				if len(args) == 0 {
					args = json.RawMessage("{}")
				}
				events = append(events, canonical.StreamEvent{
					Type:        canonical.EventToolArgsDelta,
					Index:       idx,
					PartialJSON: string(args),
				})
			}
		}
	}

	if candidate.FinishReason != "" {
		reason := FinishReasonFromGemini(candidate.FinishReason)
		if sawToolUse && reason == canonical.FinishEndTurn {
			reason = canonical.FinishToolUse
		}
		var usage *canonical.Usage
		if chunk.UsageMetadata != nil {
			usage = &canonical.Usage{
				InputTokens:  chunk.UsageMetadata.PromptTokenCount,
				OutputTokens: chunk.UsageMetadata.CandidatesTokenCount,
			}
		}
		events = st.finish(events, reason, usage)
	}

	return events, nil
}
