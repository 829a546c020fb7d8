package circuitbreaker_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-dispatch/internal/dispatch/circuitbreaker"
)

const (
	testProcessor    = "default"
	anotherProcessor = "fallback"
)

var errBoom = errors.New("boom")

func TestNew_Defaults(t *testing.T) {
	cb := circuitbreaker.New(circuitbreaker.Config{})
	require.NotNil(t, cb)

	// Three failures open the circuit with default config.
	for i := 0; i < 2; i++ {
		_ = cb.Execute(testProcessor, func() error { return errBoom })
		assert.Equal(t, circuitbreaker.StateClosed, cb.GetState(testProcessor),
			"should stay closed before threshold")
	}
	_ = cb.Execute(testProcessor, func() error { return errBoom })
	assert.Equal(t, circuitbreaker.StateOpen, cb.GetState(testProcessor))
}

func TestExecute_OpenRejectsWithoutInvoking(t *testing.T) {
	cb := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1, ResetTimeout: time.Hour})
	_ = cb.Execute(testProcessor, func() error { return errBoom })
	require.Equal(t, circuitbreaker.StateOpen, cb.GetState(testProcessor))

	invoked := false
	err := cb.Execute(testProcessor, func() error { invoked = true; return nil })
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.False(t, invoked, "open circuit must not invoke the wrapped function")
}

func TestExecute_HalfOpenRecovery(t *testing.T) {
	cb := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1, ResetTimeout: 20 * time.Millisecond})

	t.Run("success closes the circuit", func(t *testing.T) {
		_ = cb.Execute(testProcessor, func() error { return errBoom })
		require.Equal(t, circuitbreaker.StateOpen, cb.GetState(testProcessor))

		time.Sleep(30 * time.Millisecond)
		err := cb.Execute(testProcessor, func() error { return nil })
		require.NoError(t, err)
		assert.Equal(t, circuitbreaker.StateClosed, cb.GetState(testProcessor))
		assert.Zero(t, cb.GetStats(testProcessor).FailureCount,
			"failure count resets when the circuit closes")
	})

	t.Run("failure reopens the circuit", func(t *testing.T) {
		_ = cb.Execute(anotherProcessor, func() error { return errBoom })
		require.Equal(t, circuitbreaker.StateOpen, cb.GetState(anotherProcessor))

		time.Sleep(30 * time.Millisecond)
		err := cb.Execute(anotherProcessor, func() error { return errBoom })
		require.Error(t, err)
		assert.Equal(t, circuitbreaker.StateOpen, cb.GetState(anotherProcessor))
	})
}

func TestExecute_IndependentProcessors(t *testing.T) {
	cb := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1, ResetTimeout: time.Hour})
	_ = cb.Execute(testProcessor, func() error { return errBoom })

	assert.Equal(t, circuitbreaker.StateOpen, cb.GetState(testProcessor))
	assert.Equal(t, circuitbreaker.StateClosed, cb.GetState(anotherProcessor),
		"circuits are per processor")
}

func TestStats(t *testing.T) {
	cb := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 5})

	for i := 0; i < 3; i++ {
		_ = cb.Execute(testProcessor, func() error { return nil })
	}
	_ = cb.Execute(testProcessor, func() error { return errBoom })

	stats := cb.GetStats(testProcessor)
	assert.Equal(t, "CLOSED", stats.State)
	assert.Equal(t, int64(3), stats.SuccessCount)
	assert.Equal(t, 1, stats.FailureCount)
	assert.Equal(t, int64(4), stats.TotalRequests)
	assert.Equal(t, 4, stats.SampledCalls)
	assert.False(t, stats.LastFailureAt.IsZero())
}

func TestRing_BoundedCapacity(t *testing.T) {
	cb := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1000, RingCapacity: 10})
	for i := 0; i < 25; i++ {
		_ = cb.Execute(testProcessor, func() error { return nil })
	}
	stats := cb.GetStats(testProcessor)
	assert.Equal(t, 10, stats.SampledCalls, "ring never exceeds capacity")
	assert.Equal(t, int64(25), stats.TotalRequests)
}

func TestReset(t *testing.T) {
	cb := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1})
	_ = cb.Execute(testProcessor, func() error { return errBoom })
	require.Equal(t, circuitbreaker.StateOpen, cb.GetState(testProcessor))

	cb.Reset(testProcessor)
	stats := cb.GetStats(testProcessor)
	assert.Equal(t, "CLOSED", stats.State)
	assert.Zero(t, stats.FailureCount)
	assert.Zero(t, stats.SuccessCount)
	assert.Zero(t, stats.SampledCalls)
	assert.Equal(t, int64(1), stats.TotalRequests, "total requests survive a reset")
}

func TestForceOpen(t *testing.T) {
	cb := circuitbreaker.New(circuitbreaker.Config{ResetTimeout: time.Hour})
	cb.ForceOpen(testProcessor)

	err := cb.Execute(testProcessor, func() error { return nil })
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
}

func TestExecute_ConcurrentCalls(t *testing.T) {
	cb := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1000})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = cb.Execute(testProcessor, func() error {
				if n%2 == 0 {
					return errBoom
				}
				return nil
			})
		}(i)
	}
	wg.Wait()

	stats := cb.GetStats(testProcessor)
	assert.Equal(t, int64(50), stats.TotalRequests)
	assert.Equal(t, int64(25), stats.SuccessCount)
	assert.Equal(t, 25, stats.FailureCount)
}
