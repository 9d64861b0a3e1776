package gateway

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelList struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

// HandleModels serves GET /v1/models, listing registered backend names in
// the OpenAI model-list shape.
func (g *Gateway) HandleModels(w http.ResponseWriter, r *http.Request) {
	names := g.registry.List()
	sort.Strings(names)

	out := modelList{Object: "list", Data: make([]modelEntry, 0, len(names))}
	now := time.Now().Unix()
	for _, name := range names {
		out.Data = append(out.Data, modelEntry{
			ID:      name,
			Object:  "model",
			Created: now,
			OwnedBy: "modelgate",
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		g.logger.Error("Failed to write model list", "error", err)
	}
}

// HandleHealth serves GET /health.
func (g *Gateway) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"backends": len(g.registry.List()),
	})
}
