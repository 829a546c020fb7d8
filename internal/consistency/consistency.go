// Package consistency holds the local, synchronous validation checks run
// before dispatching a payment and after computing a summary. Checks never
// error out of band; each returns a pass/fail result suitable for logging.
package consistency

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yourorg/payment-dispatch/internal/models"
)

var uuidV4Pattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Report collects the results of a check run.
type Report struct {
	Results []CheckResult `json:"results"`
}

// Passed reports whether every check in the run passed.
func (r Report) Passed() bool {
	for _, c := range r.Results {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Failures returns only the failed checks.
func (r Report) Failures() []CheckResult {
	var out []CheckResult
	for _, c := range r.Results {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

func pass(name string) CheckResult {
	return CheckResult{Name: name, Passed: true}
}

func fail(name, format string, args ...any) CheckResult {
	return CheckResult{Name: name, Passed: false, Detail: fmt.Sprintf(format, args...)}
}

// CorrelationIDFormat checks the id against the UUID v4 shape,
// case-insensitively.
func CorrelationIDFormat(id string) CheckResult {
	if uuidV4Pattern.MatchString(strings.ToLower(id)) {
		return pass("correlation_id_format")
	}
	return fail("correlation_id_format", "%q is not a v4 UUID", id)
}

// AmountFormat checks the amount is finite, strictly positive, and has at
// most two decimal places.
func AmountFormat(amount float64) CheckResult {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return fail("amount_format", "amount is not finite")
	}
	if amount <= 0 {
		return fail("amount_format", "amount %v is not strictly positive", amount)
	}
	cents := decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(100))
	if !cents.Equal(cents.Truncate(0)) {
		return fail("amount_format", "amount %v has more than two decimal places", amount)
	}
	return pass("amount_format")
}

// ProcessorType checks the processor is one a client may target.
func ProcessorType(p models.Processor) CheckResult {
	if p == models.ProcessorDefault || p == models.ProcessorFallback {
		return pass("processor_type")
	}
	return fail("processor_type", "unknown processor %q", p)
}

// TimestampFormat checks the value parses as RFC 3339 and carries the UTC
// markers the processors expect.
func TimestampFormat(ts string) CheckResult {
	if !strings.Contains(ts, "T") || !strings.Contains(ts, "Z") {
		return fail("timestamp_format", "%q is missing a T or Z marker", ts)
	}
	if _, err := time.Parse(time.RFC3339, ts); err != nil {
		return fail("timestamp_format", "%q does not parse: %v", ts, err)
	}
	return pass("timestamp_format")
}

// NoDuplicateCorrelationID is best-effort only; the ledger's unique index
// is the real enforcer. lookup may be nil, and failures to look up count
// as a pass so the check never blocks a submission.
func NoDuplicateCorrelationID(id string, lookup func(string) (bool, error)) CheckResult {
	if lookup == nil {
		return pass("no_duplicate_correlation_id")
	}
	exists, err := lookup(id)
	if err != nil {
		return pass("no_duplicate_correlation_id")
	}
	if exists {
		return fail("no_duplicate_correlation_id", "correlation id %s already recorded", id)
	}
	return pass("no_duplicate_correlation_id")
}

// SummaryStructure checks both processor keys carry numeric fields. The
// zero value of models.Summary satisfies this by construction, so the
// check guards against values decoded from the cache.
func SummaryStructure(s models.SummaryResponse) CheckResult {
	for _, v := range []float64{s.Default.TotalAmount, s.Fallback.TotalAmount} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fail("summary_structure", "totalAmount is not a finite number")
		}
	}
	return pass("summary_structure")
}

// SummaryAmounts checks both totals are non-negative.
func SummaryAmounts(s models.SummaryResponse) CheckResult {
	if s.Default.TotalAmount < 0 || s.Fallback.TotalAmount < 0 {
		return fail("summary_amounts", "negative totalAmount (default=%v fallback=%v)",
			s.Default.TotalAmount, s.Fallback.TotalAmount)
	}
	return pass("summary_amounts")
}

// SummaryCounts checks both request counts are non-negative.
func SummaryCounts(s models.SummaryResponse) CheckResult {
	if s.Default.TotalRequests < 0 || s.Fallback.TotalRequests < 0 {
		return fail("summary_counts", "negative totalRequests (default=%d fallback=%d)",
			s.Default.TotalRequests, s.Fallback.TotalRequests)
	}
	return pass("summary_counts")
}

// DateRange checks from does not follow to when both bounds are present.
func DateRange(from, to *time.Time) CheckResult {
	if from != nil && to != nil && from.After(*to) {
		return fail("date_range", "from %s is after to %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return pass("date_range")
}

// ValidatePayment runs the pre-flight checks for a submission.
func ValidatePayment(correlationID string, amount float64) Report {
	return Report{Results: []CheckResult{
		CorrelationIDFormat(correlationID),
		AmountFormat(amount),
	}}
}

// ValidateSummary runs the post-aggregation checks on a summary about to
// be served.
func ValidateSummary(s models.SummaryResponse) Report {
	return Report{Results: []CheckResult{
		SummaryStructure(s),
		SummaryAmounts(s),
		SummaryCounts(s),
	}}
}
