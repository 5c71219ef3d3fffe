package health

import (
	"strings"

	"idle-cache/internal/logs"
	"idle-cache/internal/metrics"
)

// logWindow is how many recent log entries the analyzer inspects.
const logWindow = 100

// Analyzer converts metrics + logs into a health report.
type Analyzer struct {
	metrics *metrics.Registry
	logger  *logs.Logger
	rules   []Rule
}

// NewAnalyzer creates a new analyzer.
func NewAnalyzer(
	reg *metrics.Registry,
	logger *logs.Logger,
) *Analyzer {
	return &Analyzer{
		metrics: reg,
		logger:  logger,
		rules: []Rule{
			CapacityRejectionRule,
			MissRatioRule,
			PanicRule,
		},
	}
}

// Analyze evaluates metrics and logs and returns a health report.
func (a *Analyzer) Analyze() Report {
	snapshot := a.metrics.Snapshot()

	var (
		signals         = []string{}
		recommendations = []string{}
		status          = StatusOK
	)

	/* ---------- METRICS-BASED RULES ---------- */

	for _, rule := range a.rules {
		result := rule(snapshot)
		if !result.Triggered {
			continue
		}

		signals = append(signals, result.Signal)
		recommendations = append(recommendations, result.Recommendation)
		status = escalate(status, result.Severity)
	}

	/* ---------- LOG-BASED SIGNALS ---------- */

	capacityWarnings := 0
	panicCount := 0

	for _, entry := range a.logger.GetLast(logWindow) {
		if entry.Level == logs.WARN &&
			strings.Contains(entry.Message, "no capacity") {
			capacityWarnings++
		}

		if entry.Level == logs.ERROR &&
			strings.Contains(entry.Message, "panic") {
			panicCount++
		}
	}

	if capacityWarnings >= 3 {
		signals = append(signals,
			"Repeated capacity warnings detected in logs",
		)
		recommendations = append(recommendations,
			"Review the access pattern against cache capacity",
		)
		status = escalate(status, StatusDegraded)
	}

	if panicCount > 0 {
		signals = append(signals,
			"Application panics detected in logs",
		)
		recommendations = append(recommendations,
			"Inspect stack traces and stabilize error handling",
		)
		status = StatusCritical
	}

	/* ---------- SUMMARY ---------- */

	summary := "System is healthy"
	if status != StatusOK {
		summary = "System health issues detected"
	}

	return Report{
		OverallStatus:   status,
		Summary:         summary,
		Signals:         signals,
		Recommendations: recommendations,
	}
}
