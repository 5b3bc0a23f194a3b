package service

import (
	"context"
	"time"

	"github.com/felixgeelhaar/prosecheck/internal/checker/cache"
	"github.com/felixgeelhaar/prosecheck/internal/checker/health"
	"github.com/felixgeelhaar/prosecheck/internal/checker/module"
	"github.com/felixgeelhaar/prosecheck/internal/checker/runtime"
	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
)

// CheckCounters counts Check calls since start.
type CheckCounters struct {
	Total       int64 `json:"total"`
	CacheHits   int64 `json:"cache_hits"`
	Rejected    int64 `json:"rejected"`
	Timeouts    int64 `json:"timeouts"`
	Uncacheable int64 `json:"uncacheable"`
}

// Stats aggregates the runtime statistics.
type Stats struct {
	Checks  CheckCounters    `json:"checks"`
	Cache   cache.Stats      `json:"cache"`
	Metrics runtime.Snapshot `json:"metrics"`
}

// EngineStatus describes one registered engine.
type EngineStatus struct {
	Name       string           `json:"name"`
	Ordinal    int              `json:"ordinal"`
	Categories []types.Category `json:"categories"`
	Lifecycle  string           `json:"lifecycle"`
	Health     health.Status    `json:"health"`
}

// SystemStatus is the operator view of the service.
type SystemStatus struct {
	Version  string             `json:"version"`
	Uptime   time.Duration      `json:"uptime"`
	Overall  health.Overall     `json:"overall"`
	Engines  []EngineStatus     `json:"engines"`
	Module   *module.LoadStatus `json:"module,omitempty"`
	CacheTTL time.Duration      `json:"cache_ttl"`
	Cache    cache.Stats        `json:"cache"`
}

// GetStats returns counters, cache statistics and engine metrics.
func (s *Service) GetStats(ctx context.Context) Stats {
	return Stats{
		Checks: CheckCounters{
			Total:       s.checks.Load(),
			CacheHits:   s.cacheHits.Load(),
			Rejected:    s.rejected.Load(),
			Timeouts:    s.timeouts.Load(),
			Uncacheable: s.uncacheables.Load(),
		},
		Cache:   s.cache.Stats(ctx),
		Metrics: s.dispatcher.Metrics().TakeSnapshot(),
	}
}

// Metrics returns the collector fed by dispatch.
func (s *Service) Metrics() *runtime.MetricsCollector {
	return s.dispatcher.Metrics()
}

// GetSystemStatus returns the registry, health, module and cache state.
func (s *Service) GetSystemStatus(ctx context.Context) SystemStatus {
	status := SystemStatus{
		Version:  s.version,
		Uptime:   time.Since(s.startedAt),
		Overall:  s.monitor.Overall(),
		CacheTTL: s.cache.TTL(),
		Cache:    s.cache.Stats(ctx),
	}
	for _, entry := range s.registry.List() {
		status.Engines = append(status.Engines, EngineStatus{
			Name:       entry.Name,
			Ordinal:    entry.Ordinal,
			Categories: entry.Categories,
			Lifecycle:  string(entry.Status),
			Health:     s.monitor.Status(entry.Name),
		})
	}
	if s.loader != nil {
		ls := s.loader.Status()
		status.Module = &ls
	}
	return status
}
