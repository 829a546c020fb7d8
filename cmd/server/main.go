package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yourorg/payment-dispatch/internal/audit"
	"github.com/yourorg/payment-dispatch/internal/cache"
	"github.com/yourorg/payment-dispatch/internal/config"
	"github.com/yourorg/payment-dispatch/internal/dispatch"
	"github.com/yourorg/payment-dispatch/internal/dispatch/circuitbreaker"
	"github.com/yourorg/payment-dispatch/internal/dispatch/retry"
	"github.com/yourorg/payment-dispatch/internal/health"
	"github.com/yourorg/payment-dispatch/internal/metrics"
	"github.com/yourorg/payment-dispatch/internal/models"
	"github.com/yourorg/payment-dispatch/internal/observability"
	"github.com/yourorg/payment-dispatch/internal/policy"
	"github.com/yourorg/payment-dispatch/internal/processor"
	"github.com/yourorg/payment-dispatch/internal/server"
	"github.com/yourorg/payment-dispatch/internal/store"
	"github.com/yourorg/payment-dispatch/internal/summary"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)

	logger.Info("payment-dispatch starting",
		"port", cfg.Port, "env", cfg.Env, "simulate_payments", cfg.SimulatePayments)

	shutdownTracing, err := observability.SetupTracing("payment-dispatch", "1.0.0")
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	ledger, err := store.New(ctx, cfg.DatabaseDSN(), logger)
	if err != nil {
		logger.Error("failed to connect to ledger store", "error", err)
		os.Exit(1)
	}
	defer ledger.Close()

	cacheClient := cache.New(cfg.RedisURL, logger)
	defer cacheClient.Close()

	registry := metrics.NewRegistry()
	recorder := metrics.NewRecorder(cfg.P99ThresholdMs, logger)
	observer := &metrics.Observer{Registry: registry}

	defaultClient := processor.NewClient(models.ProcessorDefault, cfg.DefaultProcessorURL,
		processor.WithObserver(observer))
	fallbackClient := processor.NewClient(models.ProcessorFallback, cfg.FallbackProcessorURL,
		processor.WithObserver(observer))

	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: config.FailureThreshold,
		ResetTimeout:     config.BreakerResetTimeout,
		RingCapacity:     config.BreakerRingCapacity,
	})
	retrier := retry.New(retry.Config{
		MaxRetries: config.MaxRetries,
		BaseDelay:  config.RetryBaseDelay,
		MaxDelay:   config.RetryMaxDelay,
		Multiplier: config.RetryMultiplier,
		Jitter:     config.RetryJitter,
	})

	enforcer, err := policy.NewEnforcer(policy.DefaultRules())
	if err != nil {
		logger.Error("failed to compile dispatch policy", "error", err)
		os.Exit(1)
	}

	trail := audit.NewTrail()

	poller := health.New(cacheClient, logger, config.HealthPollInterval, defaultClient, fallbackClient)
	poller.Start(ctx)
	defer poller.Stop()

	dispatcher := dispatch.New(dispatch.Options{
		DefaultClient:  defaultClient,
		FallbackClient: fallbackClient,
		Breaker:        breaker,
		Retrier:        retrier,
		Ledger:         ledger,
		Cache:          cacheClient,
		Enforcer:       enforcer,
		Trail:          trail,
		Recorder:       recorder,
		Registry:       registry,
		Logger:         logger,
		Simulate:       cfg.SimulatePayments,
		MaxAttempts:    config.MaxRetries + 1,
	})

	aggregator := summary.New(ledger, cacheClient, cfg.CacheTTL, logger)

	srv, err := server.New(server.Deps{
		Submitter:  dispatcher,
		Summarizer: aggregator,
		Health:     poller,
		Breaker:    breaker,
		Trail:      trail,
		Recorder:   recorder,
		Registry:   registry,
		Ledger:     ledger,
		Cache:      cacheClient,
		Retry: server.RetrySettings{
			MaxRetries:  config.MaxRetries,
			BaseDelayMs: int(config.RetryBaseDelay.Milliseconds()),
			MaxDelayMs:  int(config.RetryMaxDelay.Milliseconds()),
			Multiplier:  config.RetryMultiplier,
			Jitter:      config.RetryJitter,
		},
		Logger: logger,
	})
	if err != nil {
		logger.Error("failed to build HTTP server", "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: srv.Engine(),
	}

	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracer shutdown failed", "error", err)
	}
	logger.Info("stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
