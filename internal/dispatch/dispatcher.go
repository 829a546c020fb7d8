// Package dispatch holds the per-request control loop: validate, try the
// default processor through the breaker and retry layers, fall back,
// persist the outcome, and invalidate summary caches. The composition is
// Breaker(Retry(Call)): a breaker rejection is immediate and terminal for
// that processor, and the breaker only sees the final outcome of a full
// retry run.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourorg/payment-dispatch/internal/audit"
	"github.com/yourorg/payment-dispatch/internal/cache"
	"github.com/yourorg/payment-dispatch/internal/consistency"
	"github.com/yourorg/payment-dispatch/internal/dispatch/circuitbreaker"
	"github.com/yourorg/payment-dispatch/internal/dispatch/retry"
	"github.com/yourorg/payment-dispatch/internal/metrics"
	"github.com/yourorg/payment-dispatch/internal/models"
	"github.com/yourorg/payment-dispatch/internal/policy"
	"github.com/yourorg/payment-dispatch/internal/processor"
)

// Ledger is the slice of the store the dispatcher consumes.
type Ledger interface {
	PutPayment(ctx context.Context, rec models.PaymentRecord) error
	HasPayment(ctx context.Context, correlationID string) (bool, error)
}

// PaymentClient is the slice of the processor client the dispatcher
// consumes.
type PaymentClient interface {
	Name() models.Processor
	Pay(ctx context.Context, payment models.ProcessorPayment) error
}

// Result is the successful outcome of one submission.
type Result struct {
	CorrelationID string
	Amount        float64
	Processor     models.Processor
	RequestedAt   time.Time
}

// Dispatcher coordinates one replica's payment submissions.
type Dispatcher struct {
	defaultClient  PaymentClient
	fallbackClient PaymentClient
	breaker        *circuitbreaker.Breaker
	retrier        *retry.Coordinator
	ledger         Ledger
	cache          *cache.Cache
	enforcer       *policy.Enforcer
	trail          *audit.Trail
	recorder       *metrics.Recorder
	registry       *metrics.Registry
	logger         *slog.Logger
	simulate       bool
	maxAttempts    int
	now            func() time.Time
}

// Options carries the dispatcher's collaborators. All collaborator fields
// except Registry are required; Simulate defaults to off and a
// non-positive MaxAttempts becomes 3.
type Options struct {
	DefaultClient  PaymentClient
	FallbackClient PaymentClient
	Breaker        *circuitbreaker.Breaker
	Retrier        *retry.Coordinator
	Ledger         Ledger
	Cache          *cache.Cache
	Enforcer       *policy.Enforcer
	Trail          *audit.Trail
	Recorder       *metrics.Recorder
	Registry       *metrics.Registry
	Logger         *slog.Logger
	Simulate       bool
	MaxAttempts    int
}

// New wires a Dispatcher.
func New(opts Options) *Dispatcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Dispatcher{
		defaultClient:  opts.DefaultClient,
		fallbackClient: opts.FallbackClient,
		breaker:        opts.Breaker,
		retrier:        opts.Retrier,
		ledger:         opts.Ledger,
		cache:          opts.Cache,
		enforcer:       opts.Enforcer,
		trail:          opts.Trail,
		recorder:       opts.Recorder,
		registry:       opts.Registry,
		logger:         opts.Logger,
		simulate:       opts.Simulate,
		maxAttempts:    opts.MaxAttempts,
		now:            time.Now,
	}
}

// Submit runs one payment through the dispatch chain. Exactly one ledger
// row exists per correlation id after a successful return; concurrent
// duplicates are collapsed by the store's unique index.
func (d *Dispatcher) Submit(ctx context.Context, correlationID string, amount float64) (Result, error) {
	tracer := otel.Tracer("dispatcher")
	ctx, span := tracer.Start(ctx, "Dispatcher.Submit",
		trace.WithAttributes(attribute.String("payment.correlation_id", correlationID)))
	defer span.End()

	start := d.now()
	requestedAt := start.UTC()

	if report := consistency.ValidatePayment(correlationID, amount); !report.Passed() {
		failures := report.Failures()
		d.trail.Record(audit.Entry{
			CorrelationID: correlationID,
			Event:         audit.EventFailure,
			Amount:        amount,
			ErrorCode:     KindValidation.String(),
			ErrorMessage:  failures[0].Detail,
		})
		d.finish(start, models.ProcessorDefault, false)
		return Result{}, validationErr(failures)
	}

	// Best-effort duplicate probe. The result is logged only; the unique
	// index decides.
	if check := consistency.NoDuplicateCorrelationID(correlationID, d.duplicateLookup(ctx)); !check.Passed {
		d.logger.Info("duplicate correlation id observed pre-dispatch",
			"correlation_id", correlationID)
	}

	payment := models.ProcessorPayment{
		CorrelationID: correlationID,
		Amount:        amount,
		RequestedAt:   requestedAt,
	}

	defaultErr := d.attempt(ctx, d.defaultClient, payment)
	if defaultErr == nil {
		return d.settle(ctx, start, payment, models.ProcessorDefault)
	}

	escalate, err := d.enforcer.Evaluate(policy.RuleEscalateFallback, map[string]interface{}{
		"default_succeeded": false,
		"validation_failed": false,
	})
	if err != nil {
		d.logger.Error("fallback policy evaluation failed, escalating anyway", "error", err)
		escalate = true
	}
	if escalate {
		if fallbackErr := d.attempt(ctx, d.fallbackClient, payment); fallbackErr == nil {
			return d.settle(ctx, start, payment, models.ProcessorFallback)
		}
	}

	simulate, err := d.enforcer.Evaluate(policy.RuleSimulateSuccess, map[string]interface{}{
		"simulate_enabled": d.simulate,
		"fallback_failed":  true,
	})
	if err != nil {
		d.logger.Error("simulation policy evaluation failed", "error", err)
	}
	if simulate {
		d.trail.Record(audit.Entry{
			CorrelationID: correlationID,
			Event:         audit.EventSimulated,
			Processor:     string(models.ProcessorSimulated),
			Amount:        amount,
		})
		return d.settle(ctx, start, payment, models.ProcessorSimulated)
	}

	d.trail.Record(audit.Entry{
		CorrelationID: correlationID,
		Event:         audit.EventFailure,
		Amount:        amount,
		ErrorCode:     KindUnavailable.String(),
		ErrorMessage:  defaultErr.Error(),
	})
	d.finish(start, models.ProcessorDefault, false)
	return Result{}, unavailableErr(defaultErr)
}

// attempt runs one processor through Breaker(Retry(Call)).
func (d *Dispatcher) attempt(ctx context.Context, client PaymentClient, payment models.ProcessorPayment) error {
	name := string(client.Name())

	d.trail.Record(audit.Entry{
		CorrelationID: payment.CorrelationID,
		Event:         audit.EventAttempt,
		Processor:     name,
		Amount:        payment.Amount,
	})

	attempt := 0
	retryIf := func(callErr error) bool {
		attempt++
		allowed, err := d.enforcer.Evaluate(policy.RuleAllowRetry, map[string]interface{}{
			"error_transient": processor.IsTransient(callErr),
			"attempt":         attempt,
			"max_attempts":    d.maxAttempts,
		})
		if err != nil {
			d.logger.Error("retry policy evaluation failed", "error", err)
			return false
		}
		if allowed {
			d.trail.Record(audit.Entry{
				CorrelationID: payment.CorrelationID,
				Event:         audit.EventRetry,
				Processor:     name,
				ErrorMessage:  callErr.Error(),
			})
		}
		return allowed
	}

	before := d.breaker.GetState(name)
	err := d.breaker.Execute(name, func() error {
		return d.retrier.Run(ctx, retryIf, func() error {
			return client.Pay(ctx, payment)
		})
	})
	d.observeBreaker(name, before)

	if err == circuitbreaker.ErrOpen {
		d.trail.Record(audit.Entry{
			CorrelationID: payment.CorrelationID,
			Event:         audit.EventBreakerRejected,
			Processor:     name,
		})
		return err
	}
	if err != nil {
		d.logger.Warn("processor attempt failed",
			"processor", name, "correlation_id", payment.CorrelationID, "error", err)
	}
	return err
}

// settle persists the outcome, invalidates caches, and records metrics.
// The ledger write strictly precedes cache invalidation and the response.
func (d *Dispatcher) settle(ctx context.Context, start time.Time, payment models.ProcessorPayment, proc models.Processor) (Result, error) {
	rec := models.PaymentRecord{
		CorrelationID: payment.CorrelationID,
		Amount:        payment.Amount,
		Processor:     proc,
		RequestedAt:   payment.RequestedAt,
		Status:        models.StatusProcessed,
	}
	if err := d.ledger.PutPayment(ctx, rec); err != nil {
		d.logger.Error("DATABASE_OPERATION FAILED",
			"correlation_id", payment.CorrelationID, "processor", proc, "error", err)
		d.trail.Record(audit.Entry{
			CorrelationID: payment.CorrelationID,
			Event:         audit.EventFailure,
			Processor:     string(proc),
			Amount:        payment.Amount,
			ErrorCode:     KindPersistence.String(),
			ErrorMessage:  err.Error(),
		})
		d.finish(start, proc, false)
		return Result{}, persistenceErr(err)
	}

	d.trail.Record(audit.Entry{
		CorrelationID: payment.CorrelationID,
		Event:         audit.EventLedgerWrite,
		Processor:     string(proc),
		Amount:        payment.Amount,
	})

	// Invalidation failure is eventual-consistency territory: log and
	// return success; the summary TTL bounds the staleness.
	d.cache.FlushPattern(ctx, cache.SummaryPattern)
	d.cache.Del(ctx, cache.CorrelationPrefix+payment.CorrelationID)

	d.trail.Record(audit.Entry{
		CorrelationID: payment.CorrelationID,
		Event:         audit.EventSuccess,
		Processor:     string(proc),
		Amount:        payment.Amount,
	})
	d.finish(start, proc, true)

	return Result{
		CorrelationID: payment.CorrelationID,
		Amount:        payment.Amount,
		Processor:     proc,
		RequestedAt:   payment.RequestedAt,
	}, nil
}

func (d *Dispatcher) finish(start time.Time, proc models.Processor, ok bool) {
	elapsed := d.now().Sub(start)
	d.recorder.Record(elapsed, ok)
	if d.registry != nil {
		status := "success"
		if !ok {
			status = "failure"
		}
		d.registry.PaymentsTotal.WithLabelValues(string(proc), status).Inc()
		d.registry.PaymentDuration.WithLabelValues(string(proc)).Observe(elapsed.Seconds())
	}
}

func (d *Dispatcher) observeBreaker(name string, before circuitbreaker.State) {
	after := d.breaker.GetState(name)
	if d.registry != nil {
		d.registry.BreakerState.WithLabelValues(name).Set(float64(after))
	}
	if after != before {
		d.logger.Info("circuit breaker transition",
			"processor", name, "from", before.String(), "to", after.String())
		d.trail.Record(audit.Entry{
			Event:     audit.EventBreakerTransition,
			Processor: name,
			Detail:    before.String() + "->" + after.String(),
		})
	}
}

// duplicateLookup adapts the ledger probe for the best-effort duplicate
// check. Store errors read as "not found" so the check never blocks.
func (d *Dispatcher) duplicateLookup(ctx context.Context) func(string) (bool, error) {
	return func(id string) (bool, error) {
		probeCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer cancel()
		return d.ledger.HasPayment(probeCtx, id)
	}
}
