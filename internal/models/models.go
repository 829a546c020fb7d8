package models

import "time"

// Processor identifies which external processor handled a payment.
type Processor string

const (
	ProcessorDefault   Processor = "default"
	ProcessorFallback  Processor = "fallback"
	ProcessorSimulated Processor = "simulated"
)

// PaymentStatus is the lifecycle state of a ledger row. Only processed
// rows contribute to summaries.
type PaymentStatus string

const (
	StatusProcessed PaymentStatus = "processed"
	StatusFailed    PaymentStatus = "failed"
	StatusPending   PaymentStatus = "pending"
)

// PaymentRequest is the client-facing submission body.
type PaymentRequest struct {
	CorrelationID string  `json:"correlationId" validate:"required,uuid4"`
	Amount        float64 `json:"amount" validate:"required,gt=0"`
}

// PaymentRecord is one row of the ledger.
type PaymentRecord struct {
	CorrelationID string        `json:"correlationId"`
	Amount        float64       `json:"amount"`
	Processor     Processor     `json:"processor"`
	RequestedAt   time.Time     `json:"requestedAt"`
	ProcessedAt   time.Time     `json:"processedAt"`
	Status        PaymentStatus `json:"status"`
	ErrorMessage  string        `json:"errorMessage,omitempty"`
}

// ProcessorPayment is the payload sent to a processor. RequestedAt is
// always included, in UTC ISO-8601.
type ProcessorPayment struct {
	CorrelationID string    `json:"correlationId"`
	Amount        float64   `json:"amount"`
	RequestedAt   time.Time `json:"requestedAt"`
}

// Summary aggregates processed payments for one processor.
type Summary struct {
	TotalRequests int64   `json:"totalRequests"`
	TotalAmount   float64 `json:"totalAmount"`
}

// SummaryResponse always carries both processor keys, zero-valued when a
// processor has no rows in the window.
type SummaryResponse struct {
	Default  Summary `json:"default"`
	Fallback Summary `json:"fallback"`
}

// ServiceHealth is the body returned by a processor's service-health
// endpoint.
type ServiceHealth struct {
	Failing         bool `json:"failing"`
	MinResponseTime int  `json:"minResponseTime"`
}

// MinResponseTimeSentinel is published when a probe fails outright.
const MinResponseTimeSentinel = 999999

// HealthSnapshot is the poller's cached view of one processor.
type HealthSnapshot struct {
	Failing           bool      `json:"failing"`
	MinResponseTimeMs int       `json:"minResponseTime"`
	ResponseTimeMs    int64     `json:"responseTime"`
	LastCheckedAt     time.Time `json:"lastCheckedAt"`
	IsHealthy         bool      `json:"isHealthy"`
	Error             string    `json:"error,omitempty"`
	StatusCode        int       `json:"statusCode,omitempty"`
}
