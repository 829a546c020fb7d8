// Package summary serves (from, to) aggregate queries through the cache,
// falling back to the ledger on a miss.
package summary

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/yourorg/payment-dispatch/internal/cache"
	"github.com/yourorg/payment-dispatch/internal/consistency"
	"github.com/yourorg/payment-dispatch/internal/models"
)

// Source is the slice of the store the aggregator consumes.
type Source interface {
	GetSummary(ctx context.Context, from, to *time.Time) (models.SummaryResponse, error)
}

// Aggregator answers summary queries with a short-TTL cache in front of
// the ledger.
type Aggregator struct {
	source Source
	cache  *cache.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// New creates an Aggregator. ttl <= 0 falls back to five minutes.
func New(source Source, c *cache.Cache, ttl time.Duration, logger *slog.Logger) *Aggregator {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Aggregator{source: source, cache: c, ttl: ttl, logger: logger}
}

// CacheKey renders the summary key from normalized bounds, using "null"
// for an unbounded side.
func CacheKey(from, to *time.Time) string {
	return cache.SummaryPrefix + boundString(from) + ":" + boundString(to)
}

func boundString(t *time.Time) string {
	if t == nil {
		return "null"
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// Summary returns the per-processor totals over a closed interval. A
// cached entry that fails the shape checks is not served: the aggregator
// recomputes from the ledger, logs a consistency warning, and serves the
// fresh result without re-caching it. The failing entry stays in the
// cache until its TTL expires.
func (a *Aggregator) Summary(ctx context.Context, from, to *time.Time) (models.SummaryResponse, error) {
	key := CacheKey(from, to)

	if raw, ok := a.cache.Get(ctx, key); ok {
		var cached models.SummaryResponse
		err := json.Unmarshal([]byte(raw), &cached)
		if err == nil {
			if consistency.ValidateSummary(cached).Passed() {
				return cached, nil
			}
			a.logger.Warn("cached summary failed consistency checks, recomputing", "key", key)
			return a.fresh(ctx, from, to, false)
		}
		a.logger.Warn("cached summary is malformed, recomputing", "key", key, "error", err)
	}

	return a.fresh(ctx, from, to, true)
}

func (a *Aggregator) fresh(ctx context.Context, from, to *time.Time, writeBack bool) (models.SummaryResponse, error) {
	result, err := a.source.GetSummary(ctx, from, to)
	if err != nil {
		return models.SummaryResponse{}, err
	}
	if !consistency.ValidateSummary(result).Passed() {
		// The store should never produce this; serve it anyway and leave
		// the cache out of the loop.
		a.logger.Warn("store summary failed consistency checks", "from", from, "to", to)
		return result, nil
	}
	if writeBack {
		if raw, err := json.Marshal(result); err == nil {
			a.cache.Set(ctx, CacheKey(from, to), string(raw), a.ttl)
		}
	}
	return result, nil
}
