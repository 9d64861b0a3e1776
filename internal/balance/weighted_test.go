package balance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelgate/modelgate/internal/apierr"
	"github.com/modelgate/modelgate/internal/canonical"
)

func TestWeightedBalancer_ZeroWeightNeverDrawn(t *testing.T) {
	a := succeeding("a")
	b := succeeding("b")
	reg := newRegistry(a, b)

	balancer := NewWeightedBalancer(reg, []WeightedCandidate{
		{Name: "a", Weight: 100},
		{Name: "b", Weight: 0},
	}, time.Minute)

	for i := 0; i < 1000; i++ {
		resp, err := balancer.Complete(context.Background(), testRequest())
		require.NoError(t, err)
		assert.Equal(t, "a", resp.Model)
	}
	assert.Equal(t, 1000, a.calls)
	assert.Zero(t, b.calls)
}

func TestWeightedBalancer_WeightBoundaryTiesFavorEarlier(t *testing.T) {
	a := succeeding("a")
	b := succeeding("b")
	reg := newRegistry(a, b)

	balancer := NewWeightedBalancer(reg, []WeightedCandidate{
		{Name: "a", Weight: 3},
		{Name: "b", Weight: 7},
	}, time.Minute)

	// draw 2 lands inside a's slice [0,3); draw 3 is b's first value
	balancer.draw = func(int) int { return 2 }
	resp, err := balancer.Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "a", resp.Model)

	balancer.draw = func(int) int { return 3 }
	resp, err = balancer.Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Model)
}

func TestWeightedBalancer_FailoverToRemainingCandidate(t *testing.T) {
	a := failing("a")
	b := succeeding("b")
	reg := newRegistry(a, b)

	balancer := NewWeightedBalancer(reg, []WeightedCandidate{
		{Name: "a", Weight: 100},
		{Name: "b", Weight: 1},
	}, time.Minute)
	balancer.draw = func(int) int { return 0 }

	var retries int
	balancer.OnRetry = func() { retries++ }

	resp, err := balancer.Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Model)
	assert.Equal(t, 1, retries)
}

func TestWeightedBalancer_CooldownExcludesThenReadmits(t *testing.T) {
	a := failing("a")
	b := succeeding("b")
	reg := newRegistry(a, b)

	balancer := NewWeightedBalancer(reg, []WeightedCandidate{
		{Name: "a", Weight: 100},
		{Name: "b", Weight: 1},
	}, time.Minute)
	balancer.draw = func(int) int { return 0 }

	base := time.Now()
	now := base
	balancer.tracker.now = func() time.Time { return now }

	// first call fails over a -> b and cools a down
	_, err := balancer.Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, a.calls)

	// inside the window a is skipped entirely
	now = base.Add(30 * time.Second)
	_, err = balancer.Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, a.calls)

	// past the window a is drawn again
	now = base.Add(61 * time.Second)
	_, err = balancer.Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, a.calls)
}

func TestWeightedBalancer_AllCoolingFailsFast(t *testing.T) {
	a := failing("a")
	reg := newRegistry(a)

	balancer := NewWeightedBalancer(reg, []WeightedCandidate{{Name: "a", Weight: 1}}, time.Minute)

	_, err := balancer.Complete(context.Background(), testRequest())
	require.Error(t, err)
	var unavailable *apierr.BackendUnavailableError
	assert.ErrorAs(t, err, &unavailable)

	// second call finds no eligible candidate and never reaches the backend
	_, err = balancer.Complete(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrNoEligible)
	assert.Equal(t, 1, a.calls)
}

func TestWeightedBalancer_InvalidResponseTreatedAsFailure(t *testing.T) {
	empty := &stubBackend{name: "a", fn: func(context.Context, *canonical.CompletionRequest) (*canonical.CompletionResponse, error) {
		return &canonical.CompletionResponse{ID: "x", Role: canonical.RoleAssistant}, nil
	}}
	b := succeeding("b")
	reg := newRegistry(empty, b)

	balancer := NewWeightedBalancer(reg, []WeightedCandidate{
		{Name: "a", Weight: 100},
		{Name: "b", Weight: 1},
	}, time.Minute)
	balancer.draw = func(int) int { return 0 }

	resp, err := balancer.Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Model)
	assert.False(t, balancer.tracker.Eligible("a"), "invalid response cools the backend down")
}

func TestWeightedBalancer_ExhaustionCarriesLastError(t *testing.T) {
	a := failing("a")
	b := failing("b")
	reg := newRegistry(a, b)

	balancer := NewWeightedBalancer(reg, []WeightedCandidate{
		{Name: "a", Weight: 1},
		{Name: "b", Weight: 1},
	}, time.Minute)

	_, err := balancer.Complete(context.Background(), testRequest())
	require.Error(t, err)
	var unavailable *apierr.BackendUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.NotNil(t, unavailable.LastErr)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestWeightedBalancer_CancellationIsTerminal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &stubBackend{name: "a", fn: func(ctx context.Context, _ *canonical.CompletionRequest) (*canonical.CompletionResponse, error) {
		cancel()
		return nil, ctx.Err()
	}}
	b := succeeding("b")
	reg := newRegistry(a, b)

	balancer := NewWeightedBalancer(reg, []WeightedCandidate{
		{Name: "a", Weight: 100},
		{Name: "b", Weight: 1},
	}, time.Minute)
	balancer.draw = func(int) int { return 0 }

	_, err := balancer.Complete(ctx, testRequest())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, b.calls, "cancellation must not trigger failover")
}

func TestWeightedBalancer_UnregisteredCandidate(t *testing.T) {
	b := succeeding("b")
	reg := newRegistry(b)

	balancer := NewWeightedBalancer(reg, []WeightedCandidate{
		{Name: "ghost", Weight: 100},
		{Name: "b", Weight: 1},
	}, time.Minute)
	balancer.draw = func(int) int { return 0 }

	resp, err := balancer.Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Model)
}

func TestWeightedBalancer_AllZeroWeightsUniformDraw(t *testing.T) {
	a := succeeding("a")
	b := succeeding("b")
	reg := newRegistry(a, b)

	balancer := NewWeightedBalancer(reg, []WeightedCandidate{
		{Name: "a", Weight: 0},
		{Name: "b", Weight: 0},
	}, time.Minute)
	balancer.draw = func(int) int { return 1 }

	resp, err := balancer.Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Model)
}

func TestWeightedBalancer_SuccessClearsCooldown(t *testing.T) {
	flaky := &stubBackend{name: "a"}
	calls := 0
	flaky.fn = func(context.Context, *canonical.CompletionRequest) (*canonical.CompletionResponse, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("transient")
		}
		return okResponse("a"), nil
	}
	b := succeeding("b")
	reg := newRegistry(flaky, b)

	balancer := NewWeightedBalancer(reg, []WeightedCandidate{
		{Name: "a", Weight: 100},
		{Name: "b", Weight: 1},
	}, time.Minute)
	balancer.draw = func(int) int { return 0 }

	base := time.Now()
	now := base
	balancer.tracker.now = func() time.Time { return now }

	_, err := balancer.Complete(context.Background(), testRequest())
	require.NoError(t, err)

	now = base.Add(2 * time.Minute)
	resp, err := balancer.Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "a", resp.Model)
	assert.True(t, balancer.tracker.Eligible("a"))
}
