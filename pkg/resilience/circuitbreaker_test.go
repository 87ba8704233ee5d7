package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"ai-baas/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func newTestBreaker(clock *time.Time) *CircuitBreaker {
	cb := NewCircuitBreaker(Config{
		Name:             "test",
		FailureThreshold: 2,
		SuccessThreshold: 1,
		ResetTimeout:     time.Minute,
	}, logger.Discard())
	cb.now = func() time.Time { return *clock }
	return cb
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	now := time.Now()
	cb := newTestBreaker(&now)
	ctx := context.Background()
	fail := func(context.Context) error { return errBoom }

	assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "open breaker must not call through")
}

func TestCircuitBreakerRecoversThroughHalfOpen(t *testing.T) {
	now := time.Now()
	cb := newTestBreaker(&now)
	ctx := context.Background()
	fail := func(context.Context) error { return errBoom }

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	require.Equal(t, StateOpen, cb.GetState())

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Execute(ctx, func(context.Context) error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreakerIgnoresCancellation(t *testing.T) {
	now := time.Now()
	cb := newTestBreaker(&now)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 5; i++ {
		err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, StateClosed, cb.GetState())
	assert.EqualValues(t, 0, cb.GetMetrics()["total_failures"])
}
