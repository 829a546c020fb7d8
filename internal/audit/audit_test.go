package audit_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-dispatch/internal/audit"
)

func TestTrail_RecordAndQuery(t *testing.T) {
	trail := audit.NewTrail()

	trail.Record(audit.Entry{CorrelationID: "a", Event: audit.EventAttempt, Processor: "default"})
	trail.Record(audit.Entry{CorrelationID: "a", Event: audit.EventSuccess, Processor: "default", Amount: 10})
	trail.Record(audit.Entry{CorrelationID: "b", Event: audit.EventFailure, ErrorCode: "UNAVAILABLE"})

	assert.Equal(t, 3, trail.Len())

	t.Run("entries are oldest first", func(t *testing.T) {
		entries := trail.Entries(0)
		require.Len(t, entries, 3)
		assert.Equal(t, audit.EventAttempt, entries[0].Event)
		assert.Equal(t, audit.EventFailure, entries[2].Event)
	})

	t.Run("limit trims from the newest end", func(t *testing.T) {
		entries := trail.Entries(2)
		require.Len(t, entries, 2)
		assert.Equal(t, audit.EventSuccess, entries[0].Event)
	})

	t.Run("by correlation id", func(t *testing.T) {
		entries := trail.ByCorrelationID("a")
		require.Len(t, entries, 2)
		assert.Equal(t, audit.EventAttempt, entries[0].Event)
		assert.Equal(t, audit.EventSuccess, entries[1].Event)
	})

	t.Run("timestamps are stamped", func(t *testing.T) {
		for _, e := range trail.Entries(0) {
			assert.False(t, e.Timestamp.IsZero())
		}
	})
}

func TestTrail_Clear(t *testing.T) {
	trail := audit.NewTrail()
	trail.Record(audit.Entry{CorrelationID: "a", Event: audit.EventAttempt})
	trail.Clear()
	assert.Zero(t, trail.Len())
	assert.Empty(t, trail.Entries(0))
}

func TestTrail_BoundedRetention(t *testing.T) {
	trail := audit.NewTrail()
	for i := 0; i < 10500; i++ {
		trail.Record(audit.Entry{CorrelationID: fmt.Sprintf("c-%d", i), Event: audit.EventAttempt})
	}
	assert.Equal(t, 10000, trail.Len(), "trail overwrites oldest entries at capacity")

	entries := trail.Entries(1)
	require.Len(t, entries, 1)
	assert.Equal(t, "c-10499", entries[0].CorrelationID)
}

func TestGenerateReport(t *testing.T) {
	trail := audit.NewTrail()
	base := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

	trail.Record(audit.Entry{Timestamp: base, CorrelationID: "a", Event: audit.EventAttempt, Processor: "default"})
	trail.Record(audit.Entry{Timestamp: base.Add(time.Second), CorrelationID: "a", Event: audit.EventRetry, Processor: "default"})
	trail.Record(audit.Entry{Timestamp: base.Add(2 * time.Second), CorrelationID: "a", Event: audit.EventSuccess, Processor: "fallback", Amount: 100.50})
	trail.Record(audit.Entry{Timestamp: base.Add(3 * time.Second), CorrelationID: "b", Event: audit.EventFailure, ErrorCode: "UNAVAILABLE"})
	trail.Record(audit.Entry{Timestamp: base.Add(4 * time.Second), CorrelationID: "c", Event: audit.EventBreakerRejected, Processor: "default"})
	trail.Record(audit.Entry{Timestamp: base.Add(5 * time.Second), CorrelationID: "d", Event: audit.EventSimulated, Processor: "simulated"})

	report := trail.GenerateReport()

	assert.Equal(t, 6, report.TotalEntries)
	assert.Equal(t, 1, report.SuccessfulPayments)
	assert.Equal(t, 1, report.FailedPayments)
	assert.Equal(t, 1, report.RetriedAttempts)
	assert.Equal(t, 1, report.BreakerRejections)
	assert.Equal(t, 1, report.SimulatedPayments)
	assert.InDelta(t, 100.50, report.TotalAmount, 0.001)
	assert.Equal(t, 1, report.ErrorBreakdown["UNAVAILABLE"])
	assert.Equal(t, 3, report.ProcessorUsage["default"])
	assert.Equal(t, base, report.DateFrom)
	assert.Equal(t, base.Add(5*time.Second), report.DateTo)
}

func TestGenerateReport_Empty(t *testing.T) {
	report := audit.NewTrail().GenerateReport()
	assert.Zero(t, report.TotalEntries)
	assert.NotNil(t, report.ErrorBreakdown)
	assert.NotNil(t, report.ProcessorUsage)
}
