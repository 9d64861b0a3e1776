package balance

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/modelgate/modelgate/internal/apierr"
	"github.com/modelgate/modelgate/internal/canonical"
	"github.com/modelgate/modelgate/internal/registry"
)

// FallbackRouter walks an ordered main pool round-robin, re-admitting
// entries whose cooldown has elapsed, and after exhausting the main pool
// attempts exactly one randomly-drawn fallback backend. Its availability
// state is its own; it shares nothing with the weighted balancer.
type FallbackRouter struct {
	reg      *registry.Registry
	cooldown time.Duration

	mu      sync.Mutex
	main    []*poolEntry
	back    []string
	cursor  int
	now     func() time.Time
	pick    func(n int) int

	// OnRetry, when set, is called each time the router moves past a
	// failed attempt to another backend.
	OnRetry func()
}

type poolEntry struct {
	name        string
	available   bool
	lastFailure time.Time
}

func NewFallbackRouter(reg *registry.Registry, main, fallback []string, cooldown time.Duration) *FallbackRouter {
	if cooldown <= 0 {
		cooldown = DefaultFallbackCooldown
	}
	entries := make([]*poolEntry, 0, len(main))
	for _, name := range main {
		entries = append(entries, &poolEntry{name: name, available: true})
	}
	return &FallbackRouter{
		reg:      reg,
		cooldown: cooldown,
		main:     entries,
		back:     fallback,
		now:      time.Now,
		pick:     rand.IntN,
	}
}

// nextMain scans at most once around the main pool starting at the cursor.
// Cooled-down entries are re-admitted during the scan. Returns ok=false
// when a full lap finds nothing available.
func (r *FallbackRouter) nextMain() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.main) == 0 {
		return "", false
	}
	for i := 0; i < len(r.main); i++ {
		idx := (r.cursor + i) % len(r.main)
		e := r.main[idx]
		if !e.available && r.now().Sub(e.lastFailure) >= r.cooldown {
			e.available = true
		}
		if e.available {
			r.cursor = (idx + 1) % len(r.main)
			return e.name, true
		}
	}
	return "", false
}

func (r *FallbackRouter) markFailed(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.main {
		if e.name == name {
			e.available = false
			e.lastFailure = r.now()
			return
		}
	}
}

// Complete tries main-pool backends in round-robin order, then one random
// fallback backend. The terminal error names the pools that were spent and
// carries the last attempt's failure.
func (r *FallbackRouter) Complete(ctx context.Context, req *canonical.CompletionRequest) (*canonical.CompletionResponse, error) {
	var lastErr error
	for {
		name, ok := r.nextMain()
		if !ok {
			break
		}
		resp, err := r.attempt(ctx, name, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			r.markFailed(name)
			if r.OnRetry != nil {
				r.OnRetry()
			}
			continue
		}
		return resp, nil
	}

	if len(r.back) == 0 {
		if lastErr != nil {
			return nil, &apierr.BackendUnavailableError{
				Message: "no available models to handle the request",
				LastErr: lastErr,
			}
		}
		return nil, &apierr.BackendUnavailableError{
			Message: "no available models to handle the request",
		}
	}

	name := r.back[r.pick(len(r.back))]
	resp, err := r.attempt(ctx, name, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &apierr.BackendUnavailableError{
			Message: "all main models and the fallback model are exhausted",
			LastErr: err,
		}
	}
	return resp, nil
}

// attempt performs one backend call with the validity check applied.
func (r *FallbackRouter) attempt(ctx context.Context, name string, req *canonical.CompletionRequest) (*canonical.CompletionResponse, error) {
	backend, ok := r.reg.Get(name)
	if !ok {
		return nil, fmt.Errorf("backend %q not registered", name)
	}
	resp, err := backend.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if !validResponse(resp) {
		return nil, fmt.Errorf("backend %q returned an invalid response (missing usage or empty content)", name)
	}
	return resp, nil
}
