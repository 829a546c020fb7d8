package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-dispatch/internal/dispatch/retry"
)

func fastConfig() retry.Config {
	return retry.Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRun_SucceedsFirstAttempt(t *testing.T) {
	r := retry.New(fastConfig())
	calls := 0
	err := r.Run(context.Background(), nil, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRun_RetriesUntilSuccess(t *testing.T) {
	r := retry.New(fastConfig())
	calls := 0
	err := r.Run(context.Background(), nil, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls, "max_retries=2 means up to three attempts")
}

func TestRun_PropagatesLastError(t *testing.T) {
	r := retry.New(fastConfig())
	calls := 0
	errs := []error{errors.New("first"), errors.New("second"), errors.New("third")}
	err := r.Run(context.Background(), nil, func() error {
		calls++
		return errs[calls-1]
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, "third", err.Error())
}

func TestRun_NonRetryableShortCircuits(t *testing.T) {
	r := retry.New(fastConfig())
	calls := 0
	permanent := errors.New("permanent")
	err := r.Run(context.Background(), func(err error) bool { return false }, func() error {
		calls++
		return permanent
	})
	assert.Equal(t, 1, calls, "non-retryable error must not be retried")
	assert.Equal(t, permanent, err)
}

func TestRun_ContextCancelStopsBackoff(t *testing.T) {
	r := retry.New(retry.Config{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	calls := 0
	start := time.Now()
	err := r.Run(ctx, nil, func() error {
		calls++
		return errors.New("transient")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Second, "cancel must interrupt the backoff sleep")
}

func TestNew_ZeroConfigDefaults(t *testing.T) {
	r := retry.New(retry.Config{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
	calls := 0
	_ = r.Run(context.Background(), nil, func() error {
		calls++
		return errors.New("always")
	})
	assert.Equal(t, 3, calls, "default max retries is 2")
}
