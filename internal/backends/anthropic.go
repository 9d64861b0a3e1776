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

const anthropicVersion = "2023-06-01"

// AnthropicBackend talks to an Anthropic Messages API endpoint.
type AnthropicBackend struct {
	cfg Config
	t   transport
}

func NewAnthropic(cfg Config) *AnthropicBackend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	return &AnthropicBackend{cfg: cfg, t: newTransport(cfg)}
}

func (b *AnthropicBackend) Name() string { return b.cfg.Name }

func (b *AnthropicBackend) Capabilities() Capabilities {
	return Capabilities{Streaming: !b.cfg.DisableStreaming, Tools: true, Images: true}
}

func (b *AnthropicBackend) headers() map[string]string {
	return map[string]string{
		"x-api-key":         b.cfg.APIKey,
		"anthropic-version": anthropicVersion,
	}
}

func (b *AnthropicBackend) endpoint() string {
	return strings.TrimRight(b.cfg.BaseURL, "/") + "/v1/messages"
}

func (b *AnthropicBackend) buildBody(req *canonical.CompletionRequest, stream bool) ([]byte, error) {
	r := *req
	r.Model = resolveModel(b.cfg, req.Model)
	wire, err := translate.ToAnthropic(r)
	if err != nil {
		return nil, &apierr.TranslationError{Dialect: VendorAnthropic, Err: err}
	}
	wire.Stream = stream
	return json.Marshal(wire)
}

func (b *AnthropicBackend) Complete(ctx context.Context, req *canonical.CompletionRequest) (*canonical.CompletionResponse, error) {
	body, err := b.buildBody(req, false)
	if err != nil {
		return nil, err
	}
	data, err := b.t.post(ctx, b.endpoint(), b.headers(), body)
	if err != nil {
		return nil, err
	}
	resp, err := translate.FromAnthropic(data)
	if err != nil {
		return nil, &apierr.UpstreamError{Backend: b.cfg.Name, Err: fmt.Errorf("decode response: %w", err)}
	}
	return resp, nil
}

func (b *AnthropicBackend) CompleteStream(ctx context.Context, req *canonical.CompletionRequest) (<-chan canonical.StreamEvent, error) {
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
		events, err := translate.ParseAnthropicStreamChunk(line, st)
		return events, st.Finished, err
	}, out)
	return out, nil
}
