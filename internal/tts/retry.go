package tts

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy bounds the retry loop shared by all adapters: exponential
// backoff with a small jitter, capped delay, fixed attempt count.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64
}

// defaultRetryPolicy matches the backoff the upstream APIs tolerate well:
// 1s, 2s, 4s capped at 10s, ±10% jitter.
var defaultRetryPolicy = RetryPolicy{
	MaxAttempts:  3,
	InitialDelay: time.Second,
	MaxDelay:     10 * time.Second,
	Multiplier:   2,
	JitterFactor: 0.1,
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.InitialDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
	}
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	d += d * p.JitterFactor * rand.Float64()
	return time.Duration(d)
}

// retry runs fn up to MaxAttempts times, sleeping between attempts. The
// classifier decides which errors are worth another attempt; everything else
// surfaces immediately so a 4xx "invalid voice" is never retried. Context
// cancellation aborts the wait and returns ctx.Err().
func retry(ctx context.Context, policy RetryPolicy, retryable func(error) bool, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == policy.MaxAttempts-1 {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(policy.delay(attempt)):
		}
	}
	return lastErr
}
