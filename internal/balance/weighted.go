package balance

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/modelgate/modelgate/internal/apierr"
	"github.com/modelgate/modelgate/internal/canonical"
	"github.com/modelgate/modelgate/internal/registry"
)

// ErrNoEligible is returned when every weighted candidate is cooling down.
// It is distinct from the all-attempts-failed error so callers can fail
// fast without burning another round of upstream calls.
var ErrNoEligible = errors.New("no models available after considering cooldowns")

// WeightedCandidate names a registered backend and its selection weight.
// Weights are non-negative; a zero-weight candidate is only reachable when
// every positive-weight candidate has been removed from the trial set.
type WeightedCandidate struct {
	Name   string `json:"name" yaml:"name"`
	Weight int    `json:"weight" yaml:"weight"`
}

// WeightedBalancer draws candidates weight-proportionally, cools down
// failing backends, and retries the remaining trial set until one call
// succeeds or all candidates are spent.
type WeightedBalancer struct {
	candidates []WeightedCandidate
	reg        *registry.Registry
	tracker    *Tracker

	// draw returns a uniform value in [0, n); swapped out in tests.
	draw func(n int) int

	// OnRetry, when set, is called each time the balancer moves past a
	// failed attempt to another candidate.
	OnRetry func()
}

func NewWeightedBalancer(reg *registry.Registry, candidates []WeightedCandidate, cooldown time.Duration) *WeightedBalancer {
	if cooldown <= 0 {
		cooldown = DefaultWeightedCooldown
	}
	return &WeightedBalancer{
		candidates: candidates,
		reg:        reg,
		tracker:    NewTracker(cooldown),
		draw:       rand.IntN,
	}
}

// Complete attempts the request against weighted candidates one at a time.
// Failing or invalid-response backends are cooled down and removed from
// the current trial set; the last attempt's error is propagated once the
// set is empty.
func (b *WeightedBalancer) Complete(ctx context.Context, req *canonical.CompletionRequest) (*canonical.CompletionResponse, error) {
	trial := make([]WeightedCandidate, 0, len(b.candidates))
	for _, c := range b.candidates {
		if b.tracker.Eligible(c.Name) {
			trial = append(trial, c)
		}
	}
	if len(trial) == 0 {
		return nil, ErrNoEligible
	}

	var lastErr error
	for len(trial) > 0 {
		idx := b.pick(trial)
		name := trial[idx].Name
		trial = append(trial[:idx], trial[idx+1:]...)

		backend, ok := b.reg.Get(name)
		if !ok {
			lastErr = fmt.Errorf("backend %q not registered", name)
			b.tracker.MarkFailure(name)
			continue
		}

		resp, err := backend.Complete(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				// Cancellation is a single terminal failure, not exhaustion.
				return nil, err
			}
			lastErr = err
			b.tracker.MarkFailure(name)
			if b.OnRetry != nil {
				b.OnRetry()
			}
			continue
		}
		if !validResponse(resp) {
			lastErr = fmt.Errorf("backend %q returned an invalid response (missing usage or empty content)", name)
			b.tracker.MarkFailure(name)
			if b.OnRetry != nil {
				b.OnRetry()
			}
			continue
		}
		b.tracker.MarkSuccess(name)
		return resp, nil
	}

	return nil, &apierr.BackendUnavailableError{
		Message: "all weighted candidates failed",
		LastErr: lastErr,
	}
}

// pick draws one index from the trial set, weight-proportionally. Ties on
// slice boundaries favor the earlier candidate. An all-zero-weight set
// falls back to a uniform draw.
func (b *WeightedBalancer) pick(trial []WeightedCandidate) int {
	total := 0
	for _, c := range trial {
		total += c.Weight
	}
	if total <= 0 {
		return b.draw(len(trial))
	}
	v := b.draw(total)
	acc := 0
	for i, c := range trial {
		acc += c.Weight
		if v < acc {
			return i
		}
	}
	return len(trial) - 1
}
