package walreg

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy bounds how verification logic retries transient registry
// failures. The Classify predicate decides which errors are worth another
// attempt; everything else propagates immediately. This replaces the bare
// retry-forever loop around registry scans with an explicit, testable policy.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Classify       func(error) bool
}

// DefaultPolicy retries the deleted-node race with doubling backoff.
func DefaultPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    10,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Classify:       IsNoNode,
	}
}

// Do runs op until it succeeds, fails with a non-retryable error, the
// attempt budget is exhausted, or ctx is canceled.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := p.InitialBackoff

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if p.Classify != nil && !p.Classify(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}
	return fmt.Errorf("retries exhausted after %d attempts: %w", attempts, err)
}
