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

// OllamaBackend talks to a local Ollama /api/chat endpoint. Streams are
// newline-delimited JSON rather than SSE.
type OllamaBackend struct {
	cfg Config
	t   transport
}

func NewOllama(cfg Config) *OllamaBackend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	return &OllamaBackend{cfg: cfg, t: newTransport(cfg)}
}

func (b *OllamaBackend) Name() string { return b.cfg.Name }

func (b *OllamaBackend) Capabilities() Capabilities {
	return Capabilities{Streaming: !b.cfg.DisableStreaming, Tools: true, Images: true}
}

func (b *OllamaBackend) endpoint() string {
	return strings.TrimRight(b.cfg.BaseURL, "/") + "/api/chat"
}

func (b *OllamaBackend) buildBody(req *canonical.CompletionRequest, stream bool) ([]byte, error) {
	r := *req
	r.Model = resolveModel(b.cfg, req.Model)
	r.Stream = stream
	wire, err := translate.ToOllama(r)
	if err != nil {
		return nil, &apierr.TranslationError{Dialect: VendorOllama, Err: err}
	}
	return json.Marshal(wire)
}

func (b *OllamaBackend) Complete(ctx context.Context, req *canonical.CompletionRequest) (*canonical.CompletionResponse, error) {
	body, err := b.buildBody(req, false)
	if err != nil {
		return nil, err
	}
	data, err := b.t.post(ctx, b.endpoint(), nil, body)
	if err != nil {
		return nil, err
	}
	resp, err := translate.FromOllama(data)
	if err != nil {
		return nil, &apierr.UpstreamError{Backend: b.cfg.Name, Err: fmt.Errorf("decode response: %w", err)}
	}
	return resp, nil
}

func (b *OllamaBackend) CompleteStream(ctx context.Context, req *canonical.CompletionRequest) (<-chan canonical.StreamEvent, error) {
	body, err := b.buildBody(req, true)
	if err != nil {
		return nil, err
	}
	reader, closer, err := b.t.postStream(ctx, b.endpoint(), nil, body)
	if err != nil {
		return nil, err
	}

	st := translate.NewChunkState()
	out := make(chan canonical.StreamEvent, 16)
	go scanStream(ctx, reader, closer, false, func(line []byte) ([]canonical.StreamEvent, bool, error) {
		events, err := translate.ParseOllamaStreamChunk(line, st)
		return events, st.Finished, err
	}, out)
	return out, nil
}
