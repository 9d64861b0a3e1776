package backends

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelgate/modelgate/internal/apierr"
	"github.com/modelgate/modelgate/internal/canonical"
	"github.com/modelgate/modelgate/internal/translate"
)

// OpenAIBackend talks to an OpenAI-compatible Chat Completions endpoint.
// Any vendor exposing that surface (OpenRouter, vLLM, local gateways) works
// with a different BaseURL.
type OpenAIBackend struct {
	cfg Config
	t   transport
}

func NewOpenAI(cfg Config) *OpenAIBackend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	return &OpenAIBackend{cfg: cfg, t: newTransport(cfg)}
}

func (b *OpenAIBackend) Name() string { return b.cfg.Name }

func (b *OpenAIBackend) Capabilities() Capabilities {
	return Capabilities{Streaming: !b.cfg.DisableStreaming, Tools: true, Images: true}
}

func (b *OpenAIBackend) headers() map[string]string {
	h := map[string]string{}
	if b.cfg.APIKey != "" {
		h["Authorization"] = "Bearer " + b.cfg.APIKey
	}
	return h
}

func (b *OpenAIBackend) endpoint() string {
	return strings.TrimRight(b.cfg.BaseURL, "/") + "/v1/chat/completions"
}

func (b *OpenAIBackend) buildBody(req *canonical.CompletionRequest, stream bool) ([]byte, error) {
	r := *req
	r.Model = resolveModel(b.cfg, req.Model)
	r.Stream = stream
	wire, err := translate.ToOpenAI(r)
	if err != nil {
		return nil, &apierr.TranslationError{Dialect: VendorOpenAI, Err: err}
	}
	return json.Marshal(wire)
}

func (b *OpenAIBackend) Complete(ctx context.Context, req *canonical.CompletionRequest) (*canonical.CompletionResponse, error) {
	body, err := b.buildBody(req, false)
	if err != nil {
		return nil, err
	}
	data, err := b.t.post(ctx, b.endpoint(), b.headers(), body)
	if err != nil {
		return nil, err
	}
	resp, err := translate.FromOpenAI(data)
	if err != nil {
		return nil, &apierr.UpstreamError{Backend: b.cfg.Name, Err: fmt.Errorf("decode response: %w", err)}
	}
	return resp, nil
}

func (b *OpenAIBackend) CompleteStream(ctx context.Context, req *canonical.CompletionRequest) (<-chan canonical.StreamEvent, error) {
	body, err := b.buildBody(req, true)
	if err != nil {
		return nil, err
	}
	reader, closer, err := b.t.postStream(ctx, b.endpoint(), b.headers(), body)
	if err != nil {
		return nil, err
	}

	st := translate.NewChunkState()
	out := make(chan canonical.StreamEvent, 16)
	go scanStream(ctx, reader, closer, true, func(line []byte) ([]canonical.StreamEvent, bool, error) {
		events, err := translate.ParseOpenAIStreamChunk(line, st)
		return events, st.Finished, err
	}, out)
	return out, nil
}
