// Package common provides shared utilities for Tiller
package common

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is the bounded retry policy shared by all collaborator
// clients: per-attempt timeout, a capped number of attempts, exponential
// backoff between them. Exhaustion surfaces the last error to the caller,
// which fails the enclosing run.
type RetryPolicy struct {
	MaxAttempts     int
	AttemptTimeout  time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the policy used for collaborator calls.
func DefaultRetryPolicy(attemptTimeout time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		AttemptTimeout:  attemptTimeout,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Do runs op under the policy. Each attempt gets its own deadline; op must
// honor its context. Wrap an error in backoff.Permanent to stop retrying.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}

	attempt := func() error {
		attemptCtx := ctx
		if p.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
			defer cancel()
		}
		return op(attemptCtx)
	}

	return backoff.Retry(attempt, backoff.WithContext(
		backoff.WithMaxRetries(b, uint64(attempts-1)), ctx))
}
