package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/modelgate/modelgate/internal/apierr"
	"github.com/modelgate/modelgate/internal/canonical"
	"github.com/modelgate/modelgate/internal/translate"
)

const maxBodySize = 32 << 20

// HandleMessages serves the Anthropic-shaped POST /v1/messages surface.
func (g *Gateway) HandleMessages(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		status := g.writeError(w, apierr.InvalidRequest("read request body: %v", err))
		g.observe("anthropic", "", status, start)
		return
	}

	req, err := translate.ParseAnthropicRequest(body, g.fetcher)
	if err != nil {
		status := g.writeError(w, apierr.InvalidRequest("%v", err))
		g.observe("anthropic", "", status, start)
		return
	}
	if err := validateAnthropicRequest(req); err != nil {
		status := g.writeError(w, err)
		g.observe("anthropic", "", status, start)
		return
	}

	if req.Stream {
		events, backend, err := g.completeStream(r.Context(), req)
		if err != nil {
			status := g.writeError(w, err)
			g.observe("anthropic", backend, status, start)
			return
		}
		g.writeAnthropicStream(w, events)
		g.observe("anthropic", backend, http.StatusOK, start)
		return
	}

	resp, backend, err := g.complete(r.Context(), req)
	if err != nil {
		status := g.writeError(w, err)
		g.observe("anthropic", backend, status, start)
		return
	}
	g.fillUsage(req, resp)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(translate.AnthropicResponseFrom(resp)); err != nil {
		g.logger.Error("Failed to write response", "error", err)
	}
	g.observe("anthropic", backend, http.StatusOK, start)
}

// validateAnthropicRequest enforces the surface's required fields: model,
// messages and max_tokens.
func validateAnthropicRequest(req *canonical.CompletionRequest) error {
	if req.Model == "" {
		return apierr.InvalidRequest("model is required")
	}
	if len(req.Messages) == 0 {
		return apierr.InvalidRequest("messages must not be empty")
	}
	if req.MaxTokens <= 0 {
		return apierr.InvalidRequest("max_tokens must be a positive integer")
	}
	return nil
}
