package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/modelgate/modelgate/internal/canonical"
	"github.com/modelgate/modelgate/internal/translate"
)

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// writeAnthropicStream renders canonical events as Anthropic-shaped SSE:
// named events, terminated by the message_stop event.
func (g *Gateway) writeAnthropicStream(w http.ResponseWriter, events <-chan canonical.StreamEvent) {
	sseHeaders(w)
	for ev := range events {
		g.observeEvent("anthropic", ev)
		name, payload, ok := translate.RenderAnthropicEvent(ev)
		if !ok {
			continue
		}
		data, err := json.Marshal(payload)
		if err != nil {
			g.logger.Error("Failed to marshal stream event", "event", name, "error", err)
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
		flush(w)
	}
}

// writeOpenAIStream renders canonical events as Chat Completions SSE:
// unnamed data events, terminated by the [DONE] marker.
func (g *Gateway) writeOpenAIStream(w http.ResponseWriter, events <-chan canonical.StreamEvent) {
	sseHeaders(w)
	renderer := translate.NewOpenAIChunkRenderer()
	for ev := range events {
		g.observeEvent("openai", ev)
		body, done := renderer.Render(ev)
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				g.logger.Error("Failed to marshal stream chunk", "error", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flush(w)
		}
		if done {
			break
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flush(w)
}
