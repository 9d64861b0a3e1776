// Package router resolves which registered backend serves an inbound
// request: an explicit model-name mapping first, then round-robin over
// capability-matching backends, then a configured default.
package router

import (
	"sort"
	"sync"

	"github.com/modelgate/modelgate/internal/apierr"
	"github.com/modelgate/modelgate/internal/backends"
	"github.com/modelgate/modelgate/internal/canonical"
	"github.com/modelgate/modelgate/internal/registry"
)

// Config is the routing table: model names mapped to backend names, plus
// the default backend used when nothing else matches.
type Config struct {
	// ModelRoutes maps an inbound model name to a backend name.
	ModelRoutes map[string]string `json:"model_routes,omitempty" yaml:"model_routes,omitempty"`
	// Default is the backend used when no route or capability match exists.
	Default string `json:"default,omitempty" yaml:"default,omitempty"`
}

// Router picks a backend for each request. The capability tier keeps a
// persistent round-robin cursor so matching backends share load.
type Router struct {
	cfg Config
	reg *registry.Registry

	mu     sync.Mutex
	cursor int
}

func New(reg *registry.Registry, cfg Config) *Router {
	return &Router{cfg: cfg, reg: reg}
}

// Resolve returns the backend that should serve req. Resolution order:
// explicit model route, round-robin among backends whose capabilities
// cover the request, then the configured default. A miss on all three
// tiers is a ModelNotFoundError.
func (r *Router) Resolve(req *canonical.CompletionRequest) (backends.Backend, error) {
	if name, ok := r.cfg.ModelRoutes[req.Model]; ok {
		if b, ok := r.reg.Get(name); ok {
			return b, nil
		}
	}
	if r.reg.Has(req.Model) {
		if b, ok := r.reg.Get(req.Model); ok {
			return b, nil
		}
	}

	if b, ok := r.nextCapable(req); ok {
		return b, nil
	}

	if r.cfg.Default != "" {
		if b, ok := r.reg.Get(r.cfg.Default); ok {
			return b, nil
		}
	}
	return nil, &apierr.ModelNotFoundError{Model: req.Model}
}

// nextCapable round-robins over registered backends whose declared
// capabilities cover the request's needs. Names are sorted so the cursor
// walks a stable order regardless of map iteration.
func (r *Router) nextCapable(req *canonical.CompletionRequest) (backends.Backend, bool) {
	needed := requirements(req)

	names := r.reg.List()
	sort.Strings(names)

	var capable []backends.Backend
	for _, name := range names {
		b, ok := r.reg.Get(name)
		if !ok {
			continue
		}
		if covers(b.Capabilities(), needed) {
			capable = append(capable, b)
		}
	}
	if len(capable) == 0 {
		return nil, false
	}

	r.mu.Lock()
	b := capable[r.cursor%len(capable)]
	r.cursor++
	r.mu.Unlock()
	return b, true
}

// requirements derives the capability flags a request actually needs.
func requirements(req *canonical.CompletionRequest) backends.Capabilities {
	needed := backends.Capabilities{Streaming: req.Stream, Tools: len(req.Tools) > 0}
	for _, m := range req.Messages {
		for _, b := range m.Content {
			if b.Type == canonical.BlockImage {
				needed.Images = true
			}
		}
	}
	return needed
}

func covers(have, need backends.Capabilities) bool {
	if need.Streaming && !have.Streaming {
		return false
	}
	if need.Tools && !have.Tools {
		return false
	}
	if need.Images && !have.Images {
		return false
	}
	return true
}
