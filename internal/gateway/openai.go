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

// HandleChatCompletions serves the OpenAI-shaped POST /v1/chat/completions
// surface. Unlike the Anthropic surface, max_tokens is optional here.
func (g *Gateway) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		status := g.writeError(w, apierr.InvalidRequest("read request body: %v", err))
		g.observe("openai", "", status, start)
		return
	}

	req, err := translate.ParseOpenAIRequest(body, g.fetcher)
	if err != nil {
		status := g.writeError(w, apierr.InvalidRequest("%v", err))
		g.observe("openai", "", status, start)
		return
	}
	if err := validateOpenAIRequest(req); err != nil {
		status := g.writeError(w, err)
		g.observe("openai", "", status, start)
		return
	}

	if req.Stream {
		events, backend, err := g.completeStream(r.Context(), req)
		if err != nil {
			status := g.writeError(w, err)
			g.observe("openai", backend, status, start)
			return
		}
		g.writeOpenAIStream(w, events)
		g.observe("openai", backend, http.StatusOK, start)
		return
	}

	resp, backend, err := g.complete(r.Context(), req)
	if err != nil {
		status := g.writeError(w, err)
		g.observe("openai", backend, status, start)
		return
	}
	g.fillUsage(req, resp)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(translate.OpenAIResponseFrom(resp)); err != nil {
		g.logger.Error("Failed to write response", "error", err)
	}
	g.observe("openai", backend, http.StatusOK, start)
}

func validateOpenAIRequest(req *canonical.CompletionRequest) error {
	if req.Model == "" {
		return apierr.InvalidRequest("model is required")
	}
	if len(req.Messages) == 0 {
		return apierr.InvalidRequest("messages must not be empty")
	}
	return nil
}
