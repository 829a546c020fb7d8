// Package server is the HTTP adapter: request framing, contract
// validation, and the health/admin surface. All dispatch semantics live
// below it.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yourorg/payment-dispatch/internal/audit"
	"github.com/yourorg/payment-dispatch/internal/cache"
	"github.com/yourorg/payment-dispatch/internal/dispatch"
	"github.com/yourorg/payment-dispatch/internal/dispatch/circuitbreaker"
	"github.com/yourorg/payment-dispatch/internal/metrics"
	"github.com/yourorg/payment-dispatch/internal/models"
	"github.com/yourorg/payment-dispatch/internal/monitor"
	"github.com/yourorg/payment-dispatch/internal/store"
)

const (
	serviceName    = "payment-dispatch"
	serviceVersion = "1.0.0"
)

// Submitter is the dispatcher as the HTTP layer sees it.
type Submitter interface {
	Submit(ctx context.Context, correlationID string, amount float64) (dispatch.Result, error)
}

// Summarizer is the aggregator as the HTTP layer sees it.
type Summarizer interface {
	Summary(ctx context.Context, from, to *time.Time) (models.SummaryResponse, error)
}

// HealthReader is the poller as the HTTP layer sees it.
type HealthReader interface {
	Snapshots(ctx context.Context) map[string]models.HealthSnapshot
	ResponseTimes(ctx context.Context, name models.Processor) []int64
}

// LedgerAdmin is the slice of the store the health and admin endpoints
// consume.
type LedgerAdmin interface {
	Ping(ctx context.Context) error
	Stats() store.PoolStats
	Purge(ctx context.Context) error
	GetPayment(ctx context.Context, correlationID string) (*models.PaymentRecord, error)
}

// RetrySettings is echoed on the processor-health endpoint so operators
// can see the active retry posture.
type RetrySettings struct {
	MaxRetries  int     `json:"maxRetries"`
	BaseDelayMs int     `json:"baseDelayMs"`
	MaxDelayMs  int     `json:"maxDelayMs"`
	Multiplier  float64 `json:"multiplier"`
	Jitter      float64 `json:"jitter"`
}

// Deps carries the server's collaborators.
type Deps struct {
	Submitter  Submitter
	Summarizer Summarizer
	Health     HealthReader
	Breaker    *circuitbreaker.Breaker
	Trail      *audit.Trail
	Recorder   *metrics.Recorder
	Registry   *metrics.Registry
	Ledger     LedgerAdmin
	Cache      *cache.Cache
	Retry      RetrySettings
	Logger     *slog.Logger
}

// Server owns the gin engine.
type Server struct {
	deps     Deps
	contract *monitor.ContractMonitor
	engine   *gin.Engine
	started  time.Time
}

// New builds the engine and registers every route.
func New(deps Deps) (*Server, error) {
	contract, err := monitor.NewPaymentContract()
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware(serviceName))

	s := &Server{
		deps:     deps,
		contract: contract,
		engine:   engine,
		started:  time.Now(),
	}
	engine.Use(s.countRequests())

	engine.POST("/payments", s.handleSubmit)
	engine.GET("/payments/summary", s.handleSummary)
	engine.POST("/purge-payments", s.handlePurge)

	engine.GET("/health", s.handleLiveness)
	engine.GET("/health/payment-processors", s.handleProcessorHealth)
	engine.GET("/health/stats", s.handleStats)
	engine.GET("/health/performance", s.handlePerformance)
	engine.GET("/health/audit", s.handleAudit)
	engine.GET("/health/audit/:correlationId", s.handleAuditByID)
	engine.POST("/health/reset-circuit-breakers", s.handleResetBreakers)
	engine.POST("/health/clear-health-cache", s.handleClearHealthCache)
	engine.POST("/health/clear-audit-logs", s.handleClearAudit)

	if deps.Registry != nil {
		engine.GET("/metrics", gin.WrapH(deps.Registry.Handler()))
	}

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "path": c.Request.URL.Path})
	})

	return s, nil
}

// Engine exposes the router for tests and for the composition root.
func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) countRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.deps.Registry != nil && s.deps.Cache != nil {
			degraded := 0.0
			if s.deps.Cache.Degraded() {
				degraded = 1
			}
			s.deps.Registry.CacheDegraded.Set(degraded)
		}
		c.Next()
		if s.deps.Registry != nil {
			path := c.FullPath()
			if path == "" {
				path = "unmatched"
			}
			s.deps.Registry.HTTPRequestsTotal.WithLabelValues(
				c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		}
	}
}
