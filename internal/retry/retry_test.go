package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastOpts() Options {
	return Options{
		Retries:   2,
		BaseDelay: time.Millisecond,
		MaxDelay:  2 * time.Millisecond,
	}
}

func TestRetryBound(t *testing.T) {
	calls := 0
	lastErr := errors.New("attempt 3")
	errs := []error{errors.New("attempt 1"), errors.New("attempt 2"), lastErr}

	_, err := Do(context.Background(), fastOpts(), func() (int, error) {
		err := errs[calls]
		calls++
		return 0, err
	})

	require.Equal(t, 3, calls)
	require.Equal(t, lastErr, err)
}

func TestSuccessStopsRetrying(t *testing.T) {
	calls := 0
	out, err := Do(context.Background(), fastOpts(), func() (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", out)
	require.Equal(t, 2, calls)
}

func TestNonRetryableFailsImmediately(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0

	opts := fastOpts()
	opts.Retryable = func(err error) bool { return !errors.Is(err, fatal) }

	_, err := Do(context.Background(), opts, func() (int, error) {
		calls++
		return 0, fatal
	})
	require.Equal(t, 1, calls)
	require.Equal(t, fatal, err)
}

func TestOnRetryHook(t *testing.T) {
	var attempts []int
	opts := fastOpts()
	opts.OnRetry = func(err error, attempt int) {
		attempts = append(attempts, attempt)
	}

	_, err := Do(context.Background(), opts, func() (int, error) {
		return 0, errors.New("always")
	})
	require.Error(t, err)
	require.Equal(t, []int{1, 2}, attempts)
}

func TestContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	opts := Options{Retries: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}
	_, err := Do(ctx, opts, func() (int, error) {
		calls++
		cancel()
		return 0, errors.New("transient")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}
