// Package retry runs transient-failure-prone operations (AI calls, platform
// HTTP requests) with exponential, jittered backoff.
//
// Whether an error is worth retrying is decided by errors.IsRetryable; anything
// else stops the loop on the first attempt.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Iron-Ham/klaus/internal/errors"
)

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first one.
	MaxAttempts int
	// InitialInterval is the delay before the second attempt.
	InitialInterval time.Duration
	// MaxInterval caps the delay between attempts.
	MaxInterval time.Duration
	// Multiplier grows the delay after each failed attempt.
	Multiplier float64
	// Jitter is the randomization factor applied to each delay (0..1).
	Jitter float64
}

// Default timings shared by the AI and HTTP policies.
const (
	DefaultInitialInterval = 1 * time.Second
	DefaultMaxInterval     = 30 * time.Second
	DefaultMultiplier      = 2.0
	DefaultJitter          = 0.5
)

// AIPolicy returns the policy used for AI agent calls.
func AIPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts:     maxAttempts,
		InitialInterval: 2 * time.Second,
		MaxInterval:     DefaultMaxInterval,
		Multiplier:      DefaultMultiplier,
		Jitter:          DefaultJitter,
	}
}

// HTTPPolicy returns the policy used for platform REST calls.
func HTTPPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts:     maxAttempts,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		Multiplier:      DefaultMultiplier,
		Jitter:          DefaultJitter,
	}
}

// NotifyFunc is called after each failed attempt that will be retried.
type NotifyFunc func(err error, wait time.Duration)

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.RandomizationFactor = p.Jitter
	return b
}

// DoValue runs op until it succeeds, returns a non-retryable error, the
// policy's attempts are exhausted, or ctx is done.
func DoValue[T any](ctx context.Context, p Policy, notify NotifyFunc, op func(context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(attempts)),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(backoff.Notify(notify)))
	}

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !errors.IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, opts...)
}

// Do is DoValue for operations without a result.
func Do(ctx context.Context, p Policy, notify NotifyFunc, op func(context.Context) error) error {
	_, err := DoValue(ctx, p, notify, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
