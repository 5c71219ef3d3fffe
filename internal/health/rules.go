package health

import "idle-cache/internal/metrics"

// RuleResult represents the outcome of a single rule.
type RuleResult struct {
	Triggered      bool
	Signal         string
	Recommendation string
	Severity       Status
}

// Rule evaluates a metrics snapshot.
type Rule func(snapshot map[string]int64) RuleResult

// minGetsForMissRatio avoids flagging a cold cache.
const minGetsForMissRatio = 100

// ---------- RULES ----------

// Capacity rejections mean writes are being refused: the cache is full of
// entries that are all still in active use.
func CapacityRejectionRule(snapshot map[string]int64) RuleResult {
	rejected := snapshot[string(metrics.CacheCapacityRejectionsTotal)]

	if rejected > 0 {
		return RuleResult{
			Triggered:      true,
			Signal:         "Writes rejected: cache at capacity with no idle entries",
			Recommendation: "Raise cache capacity or lower the max idle time",
			Severity:       StatusCritical,
		}
	}
	return RuleResult{}
}

// A high miss ratio suggests entries are evicted before they are reused.
func MissRatioRule(snapshot map[string]int64) RuleResult {
	gets := snapshot[string(metrics.CacheGetsTotal)]
	misses := snapshot[string(metrics.CacheMissesTotal)]

	if gets >= minGetsForMissRatio && misses*2 > gets {
		return RuleResult{
			Triggered:      true,
			Signal:         "High cache miss ratio",
			Recommendation: "Check whether max idle time or TTLs are shorter than the access pattern",
			Severity:       StatusDegraded,
		}
	}
	return RuleResult{}
}

// Recovered handler panics indicate a bug.
func PanicRule(snapshot map[string]int64) RuleResult {
	panics := snapshot[string(metrics.HTTPPanicsTotal)]

	if panics > 0 {
		return RuleResult{
			Triggered:      true,
			Signal:         "Request handler panics recovered",
			Recommendation: "Inspect stack traces and stabilize error handling",
			Severity:       StatusCritical,
		}
	}
	return RuleResult{}
}
