// Package health runs the background poller that keeps a cached snapshot
// of each processor's service-health endpoint. Dispatch-path readers only
// ever touch the cached snapshot; nothing waits on a live probe.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/yourorg/payment-dispatch/internal/cache"
	"github.com/yourorg/payment-dispatch/internal/models"
)

const responseTimeHistory = 50

// Prober is the slice of the processor client the poller needs.
type Prober interface {
	Name() models.Processor
	CheckHealth(ctx context.Context) models.HealthSnapshot
}

// Poller refreshes processor health snapshots, at most once per interval
// per processor. The last-check gate lives in the cache, so replicas
// sharing Redis also share the probe budget.
type Poller struct {
	probers  []Prober
	cache    *cache.Cache
	interval time.Duration
	logger   *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a Poller. interval <= 0 falls back to 5s.
func New(c *cache.Cache, logger *slog.Logger, interval time.Duration, probers ...Prober) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{
		probers:  probers,
		cache:    c,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the poll loop. It probes immediately so a snapshot
// exists before the first payment arrives, then ticks at the interval.
func (p *Poller) Start(ctx context.Context) {
	go func() {
		defer close(p.done)
		p.pollAll(ctx)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.pollAll(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for it to exit.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

func (p *Poller) pollAll(ctx context.Context) {
	for _, prober := range p.probers {
		p.poll(ctx, prober)
	}
}

// poll refreshes one processor, skipping the probe when the shared
// last-check stamp is younger than the interval.
func (p *Poller) poll(ctx context.Context, prober Prober) {
	name := string(prober.Name())

	if raw, ok := p.cache.HGet(ctx, cache.KeyHealthLastCheck, name); ok {
		if last, err := strconv.ParseInt(raw, 10, 64); err == nil {
			elapsed := time.Since(time.UnixMilli(last))
			if elapsed < p.interval {
				return
			}
		}
	}

	snapshot := prober.CheckHealth(ctx)
	p.publish(ctx, name, snapshot)

	if snapshot.Failing {
		p.logger.Warn("processor health probe failing",
			"processor", name, "error", snapshot.Error, "status_code", snapshot.StatusCode)
	}
}

func (p *Poller) publish(ctx context.Context, name string, snapshot models.HealthSnapshot) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		p.logger.Error("marshal health snapshot", "processor", name, "error", err)
		return
	}
	p.cache.HSet(ctx, cache.KeyHealthCache, name, string(raw))
	p.cache.Expire(ctx, cache.KeyHealthCache, cache.HealthTTL)

	p.cache.HSet(ctx, cache.KeyHealthLastCheck, name, strconv.FormatInt(time.Now().UnixMilli(), 10))
	p.cache.Expire(ctx, cache.KeyHealthLastCheck, cache.HealthTTL)

	timesKey := cache.HealthResponseTimesPrefix + name
	p.cache.LPush(ctx, timesKey, strconv.FormatInt(snapshot.ResponseTimeMs, 10))
	p.cache.LTrim(ctx, timesKey, 0, responseTimeHistory-1)
	p.cache.Expire(ctx, timesKey, cache.HealthTTL)
}

// Snapshot reads the cached snapshot for one processor.
func (p *Poller) Snapshot(ctx context.Context, name models.Processor) (models.HealthSnapshot, bool) {
	raw, ok := p.cache.HGet(ctx, cache.KeyHealthCache, string(name))
	if !ok {
		return models.HealthSnapshot{}, false
	}
	var snapshot models.HealthSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return models.HealthSnapshot{}, false
	}
	return snapshot, true
}

// Snapshots reads every probed processor's cached snapshot.
func (p *Poller) Snapshots(ctx context.Context) map[string]models.HealthSnapshot {
	out := make(map[string]models.HealthSnapshot, len(p.probers))
	for _, prober := range p.probers {
		if s, ok := p.Snapshot(ctx, prober.Name()); ok {
			out[string(prober.Name())] = s
		}
	}
	return out
}

// ResponseTimes reads the capped probe-latency history for one processor,
// newest first.
func (p *Poller) ResponseTimes(ctx context.Context, name models.Processor) []int64 {
	raw := p.cache.LRange(ctx, cache.HealthResponseTimesPrefix+string(name), 0, responseTimeHistory-1)
	out := make([]int64, 0, len(raw))
	for _, r := range raw {
		if v, err := strconv.ParseInt(r, 10, 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}
