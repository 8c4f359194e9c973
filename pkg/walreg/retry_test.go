package walreg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Classify:       IsNoNode,
	}
}

func TestRetrySucceedsAfterRace(t *testing.T) {
	calls := 0
	err := testPolicy(5).Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return ErrNoNode
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryNonRetryableStopsImmediately(t *testing.T) {
	boom := errors.New("disk on fire")
	calls := 0
	err := testPolicy(5).Do(context.Background(), func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetryExhaustion(t *testing.T) {
	calls := 0
	err := testPolicy(3).Do(context.Background(), func() error {
		calls++
		return ErrNoNode
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoNode)
	assert.Contains(t, err.Error(), "retries exhausted after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestRetryContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := testPolicy(5).Do(ctx, func() error {
		return ErrNoNode
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 10, p.MaxAttempts)
	assert.True(t, p.Classify(ErrNoNode))
	assert.False(t, p.Classify(errors.New("other")))
}
