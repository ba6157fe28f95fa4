// Package retry wraps cenkalti/backoff with the retry discipline every
// network-touching operation in this codebase uses: a fixed retry budget,
// deterministic exponential delays, a retryable-error predicate and an
// OnRetry hook (used for logging and for rotating spoofed client identity
// between attempts).
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Options struct {
	// Retries is the number of re-attempts after the first call, so the
	// operation runs at most Retries+1 times. Defaults to 2.
	Retries int

	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Retryable decides whether an error is worth another attempt. nil
	// means every error is retryable.
	Retryable func(error) bool

	// OnRetry runs before each re-attempt with the error that triggered it
	// and the 1-based number of the attempt that failed.
	OnRetry func(err error, attempt int)
}

func (o Options) withDefaults() Options {
	if o.Retries == 0 {
		o.Retries = 2
	}
	if o.BaseDelay == 0 {
		o.BaseDelay = 500 * time.Millisecond
	}
	if o.MaxDelay == 0 {
		o.MaxDelay = 4 * time.Second
	}
	return o
}

func (o Options) backoff(ctx context.Context) backoff.BackOff {
	// RandomizationFactor 0 keeps delay = min(base*2^attempt, max) exact,
	// which the identity-rotation callers depend on for pacing.
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = o.BaseDelay
	exp.MaxInterval = o.MaxDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0

	var b backoff.BackOff = backoff.WithMaxRetries(exp, uint64(o.Retries))
	return backoff.WithContext(b, ctx)
}

// Do runs op until it succeeds or the retry budget is exhausted, returning
// the zero value plus the error from the last attempt. No fallback value is
// substituted here; callers decide what "give up" means for their
// operation.
func Do[T any](ctx context.Context, opts Options, op func() (T, error)) (T, error) {
	opts = opts.withDefaults()

	attempt := 0
	wrapped := func() (T, error) {
		out, err := op()
		if err == nil {
			return out, nil
		}
		if opts.Retryable != nil && !opts.Retryable(err) {
			return out, backoff.Permanent(err)
		}
		return out, err
	}

	notify := func(err error, _ time.Duration) {
		attempt++
		if opts.OnRetry != nil {
			opts.OnRetry(err, attempt)
		}
	}

	out, err := backoff.RetryNotifyWithData(wrapped, opts.backoff(ctx), notify)
	if err != nil {
		// unwrap the permanent marker so callers see the original error
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return out, perm.Unwrap()
		}
	}
	return out, err
}

// DoVoid is Do for operations with no return value.
func DoVoid(ctx context.Context, opts Options, op func() error) error {
	_, err := Do(ctx, opts, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}
