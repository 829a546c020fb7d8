// Package policy evaluates the dispatch rules as compiled expressions:
// whether a failed attempt may be retried, whether the fallback processor
// is engaged, and whether a simulated success is allowed when both
// processors are down. The rules are expressions compiled at start-up;
// the service compiles DefaultRules, and no rules are read from
// configuration.
package policy

import (
	"fmt"

	"github.com/Knetic/govaluate"
)

// Rule names consulted by the dispatcher.
const (
	RuleAllowRetry       = "allow_retry"
	RuleEscalateFallback = "escalate_fallback"
	RuleSimulateSuccess  = "simulate_success"
)

// RuleConfig pairs a rule name with its boolean expression.
type RuleConfig struct {
	Name       string
	Expression string
}

// DefaultRules encode the standard dispatch behavior.
func DefaultRules() []RuleConfig {
	return []RuleConfig{
		{Name: RuleAllowRetry, Expression: "error_transient && attempt < max_attempts"},
		{Name: RuleEscalateFallback, Expression: "!default_succeeded && !validation_failed"},
		{Name: RuleSimulateSuccess, Expression: "simulate_enabled && fallback_failed"},
	}
}

// Enforcer holds the compiled rule expressions.
type Enforcer struct {
	rules map[string]*govaluate.EvaluableExpression
}

// NewEnforcer compiles the given rules. A bad expression fails fast at
// composition time rather than mid-dispatch.
func NewEnforcer(rules []RuleConfig) (*Enforcer, error) {
	compiled := make(map[string]*govaluate.EvaluableExpression, len(rules))
	for _, r := range rules {
		if r.Expression == "" {
			return nil, fmt.Errorf("policy: rule %q has an empty expression", r.Name)
		}
		expr, err := govaluate.NewEvaluableExpression(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("policy: compile rule %q: %w", r.Name, err)
		}
		compiled[r.Name] = expr
	}
	return &Enforcer{rules: compiled}, nil
}

// Evaluate runs one named rule against the given parameters. An unknown
// rule or a non-boolean result denies whatever was asked.
func (e *Enforcer) Evaluate(name string, params map[string]interface{}) (bool, error) {
	expr, ok := e.rules[name]
	if !ok {
		return false, fmt.Errorf("policy: unknown rule %q", name)
	}
	result, err := expr.Evaluate(params)
	if err != nil {
		return false, fmt.Errorf("policy: evaluate rule %q: %w", name, err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("policy: rule %q returned %T, want bool", name, result)
	}
	return b, nil
}
