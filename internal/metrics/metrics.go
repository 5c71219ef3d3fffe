package metrics

import (
	"sync"
	"sync/atomic"
)

// MetricKey is a strongly typed metric identifier.
type MetricKey string

// Metric keys (centralized)
const (
	// Cache
	CacheKeysTotal               MetricKey = "cache_keys_total"
	CacheSetsTotal               MetricKey = "cache_sets_total"
	CacheGetsTotal               MetricKey = "cache_gets_total"
	CacheHitsTotal               MetricKey = "cache_hits_total"
	CacheMissesTotal             MetricKey = "cache_misses_total"
	CacheExpiredTotal            MetricKey = "cache_expired_total"
	CacheIdleEvictedTotal        MetricKey = "cache_idle_evicted_total"
	CacheCapacityRejectionsTotal MetricKey = "cache_capacity_rejections_total"

	// Sweep
	SweepRunsTotal        MetricKey = "sweep_runs_total"
	SweepKeysRemovedTotal MetricKey = "sweep_keys_removed_total"

	// HTTP
	HTTPRequestsTotal MetricKey = "http_requests_total"
	HTTPPanicsTotal   MetricKey = "http_panics_total"
)

// Registry stores all metrics.
type Registry struct {
	mu       sync.RWMutex
	counters map[MetricKey]*int64
}

// NewRegistry creates a metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[MetricKey]*int64),
	}
}

// Inc increments a metric by 1.
func (r *Registry) Inc(key MetricKey) {
	r.Add(key, 1)
}

// Add increments a metric by delta.
func (r *Registry) Add(key MetricKey, delta int64) {
	r.mu.RLock()
	ptr, ok := r.counters[key]
	r.mu.RUnlock()

	if ok {
		atomic.AddInt64(ptr, delta)
		return
	}

	// Slow path: metric not yet initialized
	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if ptr, ok = r.counters[key]; ok {
		atomic.AddInt64(ptr, delta)
		return
	}

	var val int64
	r.counters[key] = &val
	atomic.AddInt64(&val, delta)
}

// Get returns the current value of a single metric.
func (r *Registry) Get(key MetricKey) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if ptr, ok := r.counters[key]; ok {
		return atomic.LoadInt64(ptr)
	}
	return 0
}
