// Package gateway exposes the chat-completion HTTP facades: an
// Anthropic-shaped /v1/messages surface and an OpenAI-shaped
// /v1/chat/completions surface, both resolved onto registered backends.
package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelgate/modelgate/internal/balance"
	"github.com/modelgate/modelgate/internal/canonical"
	"github.com/modelgate/modelgate/internal/metrics"
	"github.com/modelgate/modelgate/internal/registry"
	"github.com/modelgate/modelgate/internal/router"
	"github.com/modelgate/modelgate/internal/stream"
	"github.com/modelgate/modelgate/internal/translate"
)

// Gateway wires the facades to routing, resilience policies and metrics.
// Policy selection for non-streaming calls: the round-robin fallback pool
// when one is configured, else the weighted balancer when candidates are
// configured, else direct resolution through the request router. Streaming
// calls always resolve a single backend, since mid-stream retry is not
// possible once events have been written.
type Gateway struct {
	logger   *slog.Logger
	registry *registry.Registry
	router   *router.Router
	balancer *balance.WeightedBalancer
	fallback *balance.FallbackRouter
	metrics  *metrics.Metrics
	fetcher  translate.ImageFetcher
}

type Options struct {
	Logger   *slog.Logger
	Registry *registry.Registry
	Router   *router.Router
	Balancer *balance.WeightedBalancer
	Fallback *balance.FallbackRouter
	Metrics  *metrics.Metrics
	// Fetcher resolves non-data image URLs to inline payloads. Nil keeps
	// the translation layer strictly I/O-free, rejecting remote URLs.
	Fetcher translate.ImageFetcher
}

func New(opts Options) *Gateway {
	g := &Gateway{
		logger:   opts.Logger,
		registry: opts.Registry,
		router:   opts.Router,
		balancer: opts.Balancer,
		fallback: opts.Fallback,
		metrics:  opts.Metrics,
		fetcher:  opts.Fetcher,
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.metrics != nil {
		if g.balancer != nil {
			g.balancer.OnRetry = func() { g.metrics.ObserveRetry("weighted") }
		}
		if g.fallback != nil {
			g.fallback.OnRetry = func() { g.metrics.ObserveRetry("fallback") }
		}
	}
	return g
}

// complete serves one non-streaming request through the configured policy
// chain. The resolved backend name is returned for metrics labels; policy
// paths report the policy name instead, since attempts may span backends.
func (g *Gateway) complete(ctx context.Context, req *canonical.CompletionRequest) (*canonical.CompletionResponse, string, error) {
	if g.fallback != nil {
		resp, err := g.fallback.Complete(ctx, req)
		return resp, "fallback", err
	}
	if g.balancer != nil {
		resp, err := g.balancer.Complete(ctx, req)
		return resp, "weighted", err
	}

	backend, err := g.router.Resolve(req)
	if err != nil {
		return nil, "", err
	}
	resp, err := backend.Complete(ctx, req)
	if err != nil {
		return nil, backend.Name(), err
	}
	return resp, backend.Name(), nil
}

// completeStream resolves one backend and returns its canonical event
// channel, synthesizing a stream from a blocking call when the backend
// does not stream natively.
func (g *Gateway) completeStream(ctx context.Context, req *canonical.CompletionRequest) (<-chan canonical.StreamEvent, string, error) {
	backend, err := g.router.Resolve(req)
	if err != nil {
		return nil, "", err
	}

	if backend.Capabilities().Streaming {
		ch, err := backend.CompleteStream(ctx, req)
		if err != nil {
			return nil, backend.Name(), err
		}
		return ch, backend.Name(), nil
	}

	resp, err := backend.Complete(ctx, req)
	if err != nil {
		return nil, backend.Name(), err
	}
	g.fillUsage(req, resp)

	events := stream.Synthesize(resp)
	ch := make(chan canonical.StreamEvent)
	go func() {
		defer close(ch)
		it := stream.NewIterator(events)
		for {
			ev, ok := it.Next()
			if !ok {
				return
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, backend.Name(), nil
}

func (g *Gateway) observe(facade, backend string, status int, start time.Time) {
	if g.metrics == nil {
		return
	}
	g.metrics.ObserveRequest(facade, backend, status, time.Since(start))
}

func (g *Gateway) observeEvent(facade string, ev canonical.StreamEvent) {
	if g.metrics == nil {
		return
	}
	g.metrics.ObserveStreamEvent(facade, string(ev.Type))
}
