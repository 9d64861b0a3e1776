package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelgate/modelgate/internal/backends"
	"github.com/modelgate/modelgate/internal/balance"
	"github.com/modelgate/modelgate/internal/canonical"
	"github.com/modelgate/modelgate/internal/registry"
	"github.com/modelgate/modelgate/internal/router"
	"github.com/modelgate/modelgate/internal/stream"
)

type stubBackend struct {
	name   string
	caps   backends.Capabilities
	resp   *canonical.CompletionResponse
	err    error
	events []canonical.StreamEvent
}

func (s *stubBackend) Name() string                        { return s.name }
func (s *stubBackend) Capabilities() backends.Capabilities { return s.caps }

func (s *stubBackend) Complete(context.Context, *canonical.CompletionRequest) (*canonical.CompletionResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func (s *stubBackend) CompleteStream(ctx context.Context, _ *canonical.CompletionRequest) (<-chan canonical.StreamEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan canonical.StreamEvent)
	go func() {
		defer close(ch)
		for _, ev := range s.events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func fullResponse(model, text string) *canonical.CompletionResponse {
	return &canonical.CompletionResponse{
		ID:           "msg_1",
		Role:         canonical.RoleAssistant,
		Model:        model,
		Content:      []canonical.ContentBlock{canonical.TextBlock(text)},
		FinishReason: canonical.FinishEndTurn,
		Usage:        &canonical.Usage{InputTokens: 7, OutputTokens: 3},
	}
}

func newTestGateway(t *testing.T, cfg router.Config, bs ...backends.Backend) *Gateway {
	t.Helper()
	reg := registry.New()
	for _, b := range bs {
		reg.Register(b)
	}
	return New(Options{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registry: reg,
		Router:   router.New(reg, cfg),
	})
}

func postJSON(t *testing.T, handler http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHandleMessages_NonStreaming(t *testing.T) {
	backend := &stubBackend{
		name: "claude",
		caps: backends.Capabilities{Streaming: true, Tools: true, Images: true},
		resp: fullResponse("claude-3-5-sonnet-latest", "Hello!"),
	}
	g := newTestGateway(t, router.Config{Default: "claude"}, backend)

	rec := postJSON(t, g.HandleMessages, "/v1/messages", `{
		"model": "claude-3-opus",
		"max_tokens": 100,
		"messages": [{"role": "user", "content": "hi"}]
	}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "message", out["type"])
	assert.Equal(t, "msg_1", out["id"])
	// the response carries the vendor's model id, not the requested name
	assert.Equal(t, "claude-3-5-sonnet-latest", out["model"])
	assert.Equal(t, "end_turn", out["stop_reason"])
	usage := out["usage"].(map[string]any)
	assert.Equal(t, float64(7), usage["input_tokens"])
}

func TestHandleMessages_Validation(t *testing.T) {
	g := newTestGateway(t, router.Config{})

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing model", `{"max_tokens":10,"messages":[{"role":"user","content":"x"}]}`, "model is required"},
		{"empty messages", `{"model":"m","max_tokens":10,"messages":[]}`, "messages must not be empty"},
		{"missing max_tokens", `{"model":"m","messages":[{"role":"user","content":"x"}]}`, "max_tokens"},
		{"malformed json", `{not json`, "decode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, g.HandleMessages, "/v1/messages", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var env map[string]map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			assert.Equal(t, "invalid_request_error", env["error"]["type"])
			assert.Contains(t, env["error"]["message"], tt.want)
		})
	}
}

func TestHandleMessages_ModelNotFound(t *testing.T) {
	g := newTestGateway(t, router.Config{})

	rec := postJSON(t, g.HandleMessages, "/v1/messages", `{
		"model": "ghost", "max_tokens": 10,
		"messages": [{"role": "user", "content": "x"}]
	}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var env map[string]map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "model_not_found", env["error"]["type"])
}

func TestHandleMessages_SyntheticStream(t *testing.T) {
	backend := &stubBackend{
		name: "blocking",
		caps: backends.Capabilities{Streaming: false, Tools: true, Images: true},
		resp: fullResponse("vendor-model", "hello world"),
	}
	g := newTestGateway(t, router.Config{
		ModelRoutes: map[string]string{"m": "blocking"},
	}, backend)

	rec := postJSON(t, g.HandleMessages, "/v1/messages", `{
		"model": "m", "max_tokens": 10, "stream": true,
		"messages": [{"role": "user", "content": "x"}]
	}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: message_start")
	assert.Contains(t, body, `"text":"hello worl"`)
	assert.Contains(t, body, `"text":"d"`)
	assert.Contains(t, body, "event: message_stop")
}

func TestHandleMessages_LiveStream(t *testing.T) {
	events := stream.Synthesize(fullResponse("vendor-model", "streamed text"))
	backend := &stubBackend{
		name:   "live",
		caps:   backends.Capabilities{Streaming: true, Tools: true, Images: true},
		events: events,
	}
	g := newTestGateway(t, router.Config{Default: "live"}, backend)

	rec := postJSON(t, g.HandleMessages, "/v1/messages", `{
		"model": "anything", "max_tokens": 10, "stream": true,
		"messages": [{"role": "user", "content": "x"}]
	}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "event: content_block_delta")
	assert.Contains(t, body, "event: message_stop")
}

func TestHandleChatCompletions_NonStreaming(t *testing.T) {
	backend := &stubBackend{
		name: "gpt",
		caps: backends.Capabilities{Streaming: true, Tools: true, Images: true},
		resp: fullResponse("gpt-4o-2024-08-06", "Hi"),
	}
	g := newTestGateway(t, router.Config{Default: "gpt"}, backend)

	// max_tokens is optional on this surface
	rec := postJSON(t, g.HandleChatCompletions, "/v1/chat/completions", `{
		"model": "gpt-4o",
		"messages": [{"role": "user", "content": "hi"}]
	}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "chat.completion", out["object"])
	choices := out["choices"].([]any)
	msg := choices[0].(map[string]any)["message"].(map[string]any)
	assert.Equal(t, "Hi", msg["content"])
	assert.Equal(t, "stop", choices[0].(map[string]any)["finish_reason"])
	usage := out["usage"].(map[string]any)
	assert.Equal(t, float64(10), usage["total_tokens"])
}

func TestHandleChatCompletions_Stream(t *testing.T) {
	events := stream.Synthesize(fullResponse("gpt-4o", "hey"))
	backend := &stubBackend{
		name:   "gpt",
		caps:   backends.Capabilities{Streaming: true, Tools: true, Images: true},
		events: events,
	}
	g := newTestGateway(t, router.Config{Default: "gpt"}, backend)

	rec := postJSON(t, g.HandleChatCompletions, "/v1/chat/completions", `{
		"model": "gpt-4o", "stream": true,
		"messages": [{"role": "user", "content": "x"}]
	}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"object":"chat.completion.chunk"`)
	assert.Contains(t, body, `"content":"hey"`)
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))
}

func TestHandleMessages_UsesFallbackPolicy(t *testing.T) {
	down := &stubBackend{
		name: "down",
		caps: backends.Capabilities{Streaming: true, Tools: true, Images: true},
		err:  io.ErrUnexpectedEOF,
	}
	up := &stubBackend{
		name: "up",
		caps: backends.Capabilities{Streaming: true, Tools: true, Images: true},
		resp: fullResponse("up-model", "served"),
	}

	reg := registry.New()
	reg.Register(down)
	reg.Register(up)

	g := New(Options{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registry: reg,
		Router:   router.New(reg, router.Config{}),
		Fallback: balance.NewFallbackRouter(reg, []string{"down", "up"}, nil, 0),
	})

	rec := postJSON(t, g.HandleMessages, "/v1/messages", `{
		"model": "anything", "max_tokens": 10,
		"messages": [{"role": "user", "content": "x"}]
	}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "up-model", out["model"])
}

func TestHandleMessages_BackendErrorsAreAPIErrors(t *testing.T) {
	down := &stubBackend{
		name: "claude",
		caps: backends.Capabilities{Streaming: true, Tools: true, Images: true},
		err:  io.ErrUnexpectedEOF,
	}
	g := newTestGateway(t, router.Config{Default: "claude"}, down)

	rec := postJSON(t, g.HandleMessages, "/v1/messages", `{
		"model": "claude", "max_tokens": 10,
		"messages": [{"role": "user", "content": "x"}]
	}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var env map[string]map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "gateway_error", env["error"]["type"])
}

func TestHandleModels(t *testing.T) {
	a := &stubBackend{name: "b-two"}
	b := &stubBackend{name: "a-one"}
	g := newTestGateway(t, router.Config{}, a, b)

	rec := httptest.NewRecorder()
	g.HandleModels(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "list", out["object"])

	data := out["data"].([]any)
	require.Len(t, data, 2)
	// sorted by name
	assert.Equal(t, "a-one", data[0].(map[string]any)["id"])
	assert.Equal(t, "b-two", data[1].(map[string]any)["id"])
	assert.Equal(t, "modelgate", data[0].(map[string]any)["owned_by"])
}

func TestHandleHealth(t *testing.T) {
	g := newTestGateway(t, router.Config{}, &stubBackend{name: "only"})

	rec := httptest.NewRecorder()
	g.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, float64(1), out["backends"])
}

func TestFillUsage_NeverOverwritesVendorCounters(t *testing.T) {
	g := newTestGateway(t, router.Config{})

	resp := fullResponse("m", "text")
	req := &canonical.CompletionRequest{
		Messages: []canonical.Message{canonical.TextMessage(canonical.RoleUser, "hi")},
	}

	g.fillUsage(req, resp)
	assert.Equal(t, 7, resp.Usage.InputTokens)
	assert.Equal(t, 3, resp.Usage.OutputTokens)
}
