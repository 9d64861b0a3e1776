// Package balance layers failure-aware selection policies on top of the
// registry: a weighted-random balancer and a round-robin router with a
// random fallback pool. Both share the same cooldown primitive but keep
// separate failure state.
package balance

import (
	"sync"
	"time"

	"github.com/modelgate/modelgate/internal/canonical"
)

// Default cooldown windows per policy.
const (
	DefaultWeightedCooldown = 60 * time.Second
	DefaultFallbackCooldown = 10 * time.Second
)

// Tracker records per-backend failure timestamps. A backend is eligible
// when it has no record or its cooldown has elapsed. Safe for concurrent
// use.
type Tracker struct {
	mu       sync.Mutex
	cooldown time.Duration
	failures map[string]time.Time
	now      func() time.Time
}

func NewTracker(cooldown time.Duration) *Tracker {
	return &Tracker{
		cooldown: cooldown,
		failures: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Eligible reports whether name may be attempted now.
func (t *Tracker) Eligible(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.failures[name]
	if !ok {
		return true
	}
	return t.now().Sub(last) >= t.cooldown
}

// MarkFailure stamps name's failure record with the current time.
func (t *Tracker) MarkFailure(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[name] = t.now()
}

// MarkSuccess clears name's failure record.
func (t *Tracker) MarkSuccess(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failures, name)
}

// validResponse is the resilience-layer health check: a response counts
// only when it carries usage and at least one content block. An invalid
// response cools the backend down exactly like an error.
func validResponse(resp *canonical.CompletionResponse) bool {
	return resp != nil && resp.Usage != nil && len(resp.Content) > 0
}
