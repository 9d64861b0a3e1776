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

// GeminiBackend talks to a Gemini generateContent endpoint. The vendor
// model id lives in the URL, not the body; streaming goes through
// streamGenerateContent with alt=sse.
type GeminiBackend struct {
	cfg Config
	t   transport
}

func NewGemini(cfg Config) *GeminiBackend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	return &GeminiBackend{cfg: cfg, t: newTransport(cfg)}
}

func (b *GeminiBackend) Name() string { return b.cfg.Name }

func (b *GeminiBackend) Capabilities() Capabilities {
	return Capabilities{Streaming: !b.cfg.DisableStreaming, Tools: true, Images: true}
}

func (b *GeminiBackend) headers() map[string]string {
	h := map[string]string{}
	if b.cfg.APIKey != "" {
		h["x-goog-api-key"] = b.cfg.APIKey
	}
	return h
}

func (b *GeminiBackend) endpoint(model, method string) string {
	base := strings.TrimRight(b.cfg.BaseURL, "/")
	return fmt.Sprintf("%s/v1beta/models/%s:%s", base, model, method)
}

func (b *GeminiBackend) buildBody(req *canonical.CompletionRequest) (string, []byte, error) {
	model := resolveModel(b.cfg, req.Model)
	wire, err := translate.ToGemini(*req)
	if err != nil {
		return "", nil, &apierr.TranslationError{Dialect: VendorGemini, Err: err}
	}
	body, err := json.Marshal(wire)
	return model, body, err
}

func (b *GeminiBackend) Complete(ctx context.Context, req *canonical.CompletionRequest) (*canonical.CompletionResponse, error) {
	model, body, err := b.buildBody(req)
	if err != nil {
		return nil, err
	}
	data, err := b.t.post(ctx, b.endpoint(model, "generateContent"), b.headers(), body)
	if err != nil {
		return nil, err
	}
	resp, err := translate.FromGemini(data)
	if err != nil {
		return nil, &apierr.UpstreamError{Backend: b.cfg.Name, Err: fmt.Errorf("decode response: %w", err)}
	}
	if resp.Model == "" {
		resp.Model = model
	}
	return resp, nil
}

func (b *GeminiBackend) CompleteStream(ctx context.Context, req *canonical.CompletionRequest) (<-chan canonical.StreamEvent, error) {
	model, body, err := b.buildBody(req)
	if err != nil {
		return nil, err
	}
	url := b.endpoint(model, "streamGenerateContent") + "?alt=sse"
	reader, closer, err := b.t.postStream(ctx, url, b.headers(), body)
	if err != nil {
		return nil, err
	}

	st := translate.NewChunkState()
	st.Model = model
	out := make(chan canonical.StreamEvent, 16)
	go scanStream(ctx, reader, closer, true, func(line []byte) ([]canonical.StreamEvent, bool, error) {
		events, err := translate.ParseGeminiStreamChunk(line, st)
		return events, st.Finished, err
	}, out)
	return out, nil
}
