package metrics

import (
	"sort"
	"sync/atomic"
)

// Sample is a single metric value read at snapshot time.
type Sample struct {
	Key   MetricKey
	Value int64
}

// Snapshot returns a deep copy of all metrics keyed by name, the shape served
// as JSON on /metrics.
func (r *Registry) Snapshot() map[string]int64 {
	samples := r.Samples()
	out := make(map[string]int64, len(samples))
	for _, s := range samples {
		out[string(s.Key)] = s.Value
	}
	return out
}

// Samples returns every metric sorted by key.
func (r *Registry) Samples() []Sample {
	r.mu.RLock()
	out := make([]Sample, 0, len(r.counters))
	for key, ptr := range r.counters {
		out = append(out, Sample{Key: key, Value: atomic.LoadInt64(ptr)})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
