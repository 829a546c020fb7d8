// Package monitor validates incoming request bodies against JSON schemas
// before they reach the dispatch path.
package monitor

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// paymentSchema is the contract for POST /payments. Field-level rules
// (UUID version, decimal precision) are enforced by the consistency
// checks; the schema rejects malformed envelopes early.
const paymentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["correlationId", "amount"],
  "properties": {
    "correlationId": {"type": "string", "minLength": 36, "maxLength": 36},
    "amount": {"type": "number", "exclusiveMinimum": 0}
  },
  "additionalProperties": false
}`

// ContractMonitor validates request bodies against a compiled schema.
type ContractMonitor struct {
	schema *gojsonschema.Schema
}

// NewPaymentContract compiles the payment submission schema.
func NewPaymentContract() (*ContractMonitor, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(paymentSchema))
	if err != nil {
		return nil, fmt.Errorf("monitor: compile payment schema: %w", err)
	}
	return &ContractMonitor{schema: schema}, nil
}

// Validate checks a raw body against the schema. It returns true when
// valid, otherwise false plus the per-field violations.
func (cm *ContractMonitor) Validate(body []byte) (bool, []string, error) {
	result, err := cm.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return false, nil, fmt.Errorf("monitor: validate: %w", err)
	}
	if result.Valid() {
		return true, nil, nil
	}
	var violations []string
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	return false, violations, nil
}

// FormatErrors joins violations into a single detail string.
func FormatErrors(violations []string) string {
	if len(violations) == 0 {
		return ""
	}
	return strings.Join(violations, "; ")
}
