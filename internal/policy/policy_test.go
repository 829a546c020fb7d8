package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-dispatch/internal/policy"
)

func defaultEnforcer(t *testing.T) *policy.Enforcer {
	t.Helper()
	e, err := policy.NewEnforcer(policy.DefaultRules())
	require.NoError(t, err)
	return e
}

func TestNewEnforcer_CompileError(t *testing.T) {
	_, err := policy.NewEnforcer([]policy.RuleConfig{
		{Name: "bad", Expression: "attempt <"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `compile rule "bad"`)
}

func TestNewEnforcer_EmptyExpression(t *testing.T) {
	_, err := policy.NewEnforcer([]policy.RuleConfig{{Name: "empty", Expression: ""}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty expression")
}

func TestEvaluate_AllowRetry(t *testing.T) {
	e := defaultEnforcer(t)

	t.Run("transient error with budget left retries", func(t *testing.T) {
		ok, err := e.Evaluate(policy.RuleAllowRetry, map[string]interface{}{
			"error_transient": true, "attempt": 1, "max_attempts": 3,
		})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("permanent error never retries", func(t *testing.T) {
		ok, err := e.Evaluate(policy.RuleAllowRetry, map[string]interface{}{
			"error_transient": false, "attempt": 1, "max_attempts": 3,
		})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("exhausted budget stops retrying", func(t *testing.T) {
		ok, err := e.Evaluate(policy.RuleAllowRetry, map[string]interface{}{
			"error_transient": true, "attempt": 3, "max_attempts": 3,
		})
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestEvaluate_SimulateSuccess(t *testing.T) {
	e := defaultEnforcer(t)

	ok, err := e.Evaluate(policy.RuleSimulateSuccess, map[string]interface{}{
		"simulate_enabled": true, "fallback_failed": true,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Evaluate(policy.RuleSimulateSuccess, map[string]interface{}{
		"simulate_enabled": false, "fallback_failed": true,
	})
	require.NoError(t, err)
	assert.False(t, ok, "simulation requires the flag")
}

func TestEvaluate_UnknownRule(t *testing.T) {
	e := defaultEnforcer(t)
	ok, err := e.Evaluate("no_such_rule", nil)
	require.Error(t, err)
	assert.False(t, ok)
}

func TestEvaluate_NonBooleanResult(t *testing.T) {
	e, err := policy.NewEnforcer([]policy.RuleConfig{{Name: "numeric", Expression: "1 + 1"}})
	require.NoError(t, err)

	ok, err := e.Evaluate("numeric", nil)
	require.Error(t, err)
	assert.False(t, ok, "a non-boolean rule denies")
}
