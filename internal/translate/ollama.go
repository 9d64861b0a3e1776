package translate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/modelgate/modelgate/internal/canonical"
)

// Ollama chat wire types (native /api/chat).

type OllamaRequest struct {
	Model    string          `json:"model"`
	Messages []OllamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []OllamaTool    `json:"tools,omitempty"`
	Options  *OllamaOptions  `json:"options,omitempty"`
}

type OllamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Images    []string         `json:"images,omitempty"`
	ToolCalls []OllamaToolCall `json:"tool_calls,omitempty"`
}

type OllamaTool struct {
	Type     string         `json:"type"`
	Function OllamaFunction `json:"function"`
}

type OllamaFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type OllamaToolCall struct {
	Function OllamaFunctionCall `json:"function"`
}

type OllamaFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"arguments,omitempty"`
}

type OllamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type OllamaResponse struct {
	Model           string        `json:"model"`
	Message         OllamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// ollamaFinishReasons maps Ollama done_reason values to the canonical enum.
var ollamaFinishReasons = map[string]canonical.FinishReason{
	"stop":   canonical.FinishEndTurn,
	"length": canonical.FinishMaxTokens,
	"load":   canonical.FinishEndTurn,
}

// FinishReasonFromOllama maps a done_reason, defaulting unknown or absent
// reasons to end_turn.
func FinishReasonFromOllama(reason string) canonical.FinishReason {
	if mapped, ok := ollamaFinishReasons[reason]; ok {
		return mapped
	}
	return canonical.FinishEndTurn
}

// ToOllama maps a canonical request into the Ollama chat shape. Ollama has
// no dedicated system field either: the system prompt is prepended as a
// system-role message. Image blocks ride alongside text as bare base64
// payloads.
func ToOllama(req canonical.CompletionRequest) (*OllamaRequest, error) {
	out := &OllamaRequest{
		Model:  req.Model,
		Stream: req.Stream,
	}

	if req.Temperature != nil || req.TopP != nil || req.MaxTokens > 0 || len(req.StopSequences) > 0 {
		out.Options = &OllamaOptions{
			Temperature: req.Temperature,
			TopP:        req.TopP,
			NumPredict:  req.MaxTokens,
			Stop:        req.StopSequences,
		}
	}

	if sys := SystemPrompt(req); sys != "" {
		out.Messages = append(out.Messages, OllamaMessage{Role: "system", Content: sys})
	}

	for _, m := range req.Messages {
		if m.Role == canonical.RoleSystem {
			continue
		}
		msg := OllamaMessage{Role: m.Role}
		for _, b := range m.Content {
			switch b.Type {
			case canonical.BlockText:
				msg.Content += b.Text
			case canonical.BlockImage:
				msg.Images = append(msg.Images, b.Data)
			case canonical.BlockToolUse:
				args := b.Input
				if len(args) == 0 {
					args = json.RawMessage("{}")
				}
				msg.ToolCalls = append(msg.ToolCalls, OllamaToolCall{
					Function: OllamaFunctionCall{Name: b.Name, Args: args},
				})
			case canonical.BlockToolResult:
				// Ollama carries tool output as a tool-role turn.
				out.Messages = append(out.Messages, OllamaMessage{
					Role:    "tool",
					Content: toolResultText(b.Content),
				})
				continue
			default:
				return nil, fmt.Errorf("unsupported content block type %q", b.Type)
			}
		}
		if msg.Content != "" || len(msg.Images) > 0 || len(msg.ToolCalls) > 0 {
			out.Messages = append(out.Messages, msg)
		}
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, OllamaTool{
			Type: "function",
			Function: OllamaFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  CleanSchema(t.InputSchema, false),
			},
		})
	}

	return out, nil
}

// FromOllama maps a complete (done) chat response back to the canonical
// shape.
func FromOllama(data []byte) (*canonical.CompletionResponse, error) {
	var resp OllamaResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal ollama response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", resp.Error)
	}

	out := &canonical.CompletionResponse{
		ID:           "msg_" + uuid.NewString(),
		Role:         canonical.RoleAssistant,
		Model:        resp.Model,
		FinishReason: FinishReasonFromOllama(resp.DoneReason),
		Usage: &canonical.Usage{
			InputTokens:  resp.PromptEvalCount,
			OutputTokens: resp.EvalCount,
		},
	}

	if resp.Message.Content != "" {
		out.Content = append(out.Content, canonical.TextBlock(resp.Message.Content))
	}
	for _, tc := range resp.Message.ToolCalls {
		args := tc.Function.Args
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		out.Content = append(out.Content, canonical.ToolUseBlock(
			"toolu_"+uuid.NewString(), tc.Function.Name, args))
	}
	if len(out.Content) == 0 {
		out.Content = append(out.Content, canonical.TextBlock(""))
	}
	if len(resp.Message.ToolCalls) > 0 && out.FinishReason == canonical.FinishEndTurn {
		out.FinishReason = canonical.FinishToolUse
	}

	return out, nil
}

// ParseOllamaStreamChunk translates one NDJSON line of an Ollama chat stream
// into canonical stream events.
func ParseOllamaStreamChunk(data []byte, st *ChunkState) ([]canonical.StreamEvent, error) {
	if st.Finished {
		return nil, nil
	}

	var chunk OllamaResponse
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, fmt.Errorf("unmarshal ollama stream chunk: %w", err)
	}
	if chunk.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", chunk.Error)
	}

	if st.MessageID == "" {
		st.MessageID = fmt.Sprintf("msg_ollama_%d", time.Now().UnixNano())
	}
	if chunk.Model != "" && st.Model == "" {
		st.Model = chunk.Model
	}

	var events []canonical.StreamEvent
	events = st.start(events)

	if chunk.Message.Content != "" {
		var idx int
		events, idx = st.openTextBlock(events)
		events = append(events, canonical.StreamEvent{
			Type:  canonical.EventTextDelta,
			Index: idx,
			Text:  chunk.Message.Content,
		})
	}
	for _, tc := range chunk.Message.ToolCalls {
		id := "toolu_" + uuid.NewString()
		var idx int
		events, idx = st.openToolBlock(events, id, len(st.toolByID), tc.Function.Name)
		args := tc.Function.Args
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		events = append(events, canonical.StreamEvent{
			Type:        canonical.EventToolArgsDelta,
			Index:       idx,
			PartialJSON: string(args),
		})
	}

	if chunk.Done {
		usage := &canonical.Usage{
			InputTokens:  chunk.PromptEvalCount,
			OutputTokens: chunk.EvalCount,
		}
		events = st.finish(events, FinishReasonFromOllama(chunk.DoneReason), usage)
	}

	return events, nil
}
