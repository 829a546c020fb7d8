package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/yourorg/payment-dispatch/internal/cache"
	"github.com/yourorg/payment-dispatch/internal/consistency"
	"github.com/yourorg/payment-dispatch/internal/dispatch"
	"github.com/yourorg/payment-dispatch/internal/models"
	"github.com/yourorg/payment-dispatch/internal/monitor"
)

var validate = validator.New()

func (s *Server) handleSubmit(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 4096))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	ok, violations, err := s.contract.Validate(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON", "details": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "request failed contract validation",
			"details": monitor.FormatErrors(violations),
		})
		return
	}

	var req models.PaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format", "details": err.Error()})
		return
	}
	if err := validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": err.Error()})
		return
	}

	result, err := s.deps.Submitter.Submit(c.Request.Context(), req.CorrelationID, req.Amount)
	if err != nil {
		s.renderSubmitError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "payment processed successfully",
		"correlationId": result.CorrelationID,
		"amount":        result.Amount,
		"processor":     result.Processor,
	})
}

func (s *Server) renderSubmitError(c *gin.Context, err error) {
	kind, ok := dispatch.KindOf(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	switch kind {
	case dispatch.KindValidation:
		var de *dispatch.Error
		details := ""
		if errors.As(err, &de) {
			var parts []string
			for _, check := range de.Checks {
				parts = append(parts, check.Name+": "+check.Detail)
			}
			details = strings.Join(parts, "; ")
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "payment validation failed", "details": details})
	case dispatch.KindUnavailable:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payment processors unavailable"})
	case dispatch.KindPersistence:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "payment processed but could not be recorded"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Server) handleSummary(c *gin.Context) {
	from, err := parseBound(c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from timestamp", "details": err.Error()})
		return
	}
	to, err := parseBound(c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to timestamp", "details": err.Error()})
		return
	}
	if check := consistency.DateRange(from, to); !check.Passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date range", "details": check.Detail})
		return
	}

	result, err := s.deps.Summarizer.Summary(c.Request.Context(), from, to)
	if err != nil {
		s.deps.Logger.Error("summary query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "summary unavailable"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handlePurge(c *gin.Context) {
	if err := s.deps.Ledger.Purge(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "purge failed"})
		return
	}
	s.deps.Cache.FlushPattern(c.Request.Context(), cache.SummaryPattern)
	c.Status(http.StatusOK)
}

func (s *Server) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"service":   serviceName,
		"version":   serviceVersion,
	})
}

func (s *Server) handleProcessorHealth(c *gin.Context) {
	ctx := c.Request.Context()
	snapshots := s.deps.Health.Snapshots(ctx)

	status := http.StatusOK
	defaultSnap, hasDefault := snapshots[string(models.ProcessorDefault)]
	fallbackSnap, hasFallback := snapshots[string(models.ProcessorFallback)]
	if hasDefault && hasFallback && defaultSnap.Failing && fallbackSnap.Failing {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"processors":      snapshots,
		"circuitBreakers": s.deps.Breaker.AllStats(),
		"retry":           s.deps.Retry,
		"timestamp":       time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	ctx := c.Request.Context()
	dbHealthy := s.deps.Ledger.Ping(ctx) == nil
	c.JSON(http.StatusOK, gin.H{
		"service":         serviceName,
		"version":         serviceVersion,
		"uptimeSeconds":   int(time.Since(s.started).Seconds()),
		"audit":           s.deps.Trail.GenerateReport(),
		"circuitBreakers": s.deps.Breaker.AllStats(),
		"database": gin.H{
			"healthy": dbHealthy,
			"pool":    s.deps.Ledger.Stats(),
		},
		"cacheDegraded": s.deps.Cache.Degraded(),
	})
}

func (s *Server) handlePerformance(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"performance": s.deps.Recorder.Performance(),
		"database":    gin.H{"pool": s.deps.Ledger.Stats()},
	})
}

func (s *Server) handleAudit(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	entries := s.deps.Trail.Entries(limit)
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries), "retained": s.deps.Trail.Len()})
}

func (s *Server) handleAuditByID(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("correlationId")
	entries := s.deps.Trail.ByCorrelationID(id)

	// The trail is bounded, so also surface the authoritative ledger row
	// when one exists. Lookups are cached briefly; the dispatcher drops
	// the entry whenever the row is written.
	record := s.lookupPayment(ctx, id)

	c.JSON(http.StatusOK, gin.H{
		"correlationId": id,
		"entries":       entries,
		"ledgerRecord":  record,
	})
}

func (s *Server) lookupPayment(ctx context.Context, id string) *models.PaymentRecord {
	key := cache.CorrelationPrefix + id
	if raw, ok := s.deps.Cache.Get(ctx, key); ok {
		var rec models.PaymentRecord
		if err := json.Unmarshal([]byte(raw), &rec); err == nil {
			return &rec
		}
	}

	record, err := s.deps.Ledger.GetPayment(ctx, id)
	if err != nil {
		s.deps.Logger.Warn("ledger lookup failed during audit query", "correlation_id", id, "error", err)
		return nil
	}
	if record != nil {
		if raw, err := json.Marshal(record); err == nil {
			s.deps.Cache.Set(ctx, key, string(raw), cache.CorrelationTTL)
		}
	}
	return record
}

func (s *Server) handleResetBreakers(c *gin.Context) {
	s.deps.Breaker.ResetAll()
	c.JSON(http.StatusOK, gin.H{"message": "circuit breakers reset"})
}

func (s *Server) handleClearHealthCache(c *gin.Context) {
	ctx := c.Request.Context()
	s.deps.Cache.Del(ctx, cache.KeyHealthCache, cache.KeyHealthLastCheck)
	s.deps.Cache.FlushPattern(ctx, cache.HealthResponseTimesPrefix+"*")
	c.JSON(http.StatusOK, gin.H{"message": "health cache cleared"})
}

func (s *Server) handleClearAudit(c *gin.Context) {
	s.deps.Trail.Clear()
	c.JSON(http.StatusOK, gin.H{"message": "audit logs cleared"})
}

// parseBound accepts an optional RFC 3339 timestamp query parameter.
func parseBound(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	u := t.UTC()
	return &u, nil
}
