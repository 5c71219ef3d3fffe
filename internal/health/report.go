package health

// Status represents overall system health.
type Status string

const (
	StatusOK       Status = "OK"
	StatusDegraded Status = "DEGRADED"
	StatusCritical Status = "CRITICAL"
)

// Report is the health summary served at /health.
type Report struct {
	OverallStatus   Status   `json:"overall_status"`
	Summary         string   `json:"summary"`
	Signals         []string `json:"signals"`
	Recommendations []string `json:"recommendations"`
}

// escalate returns the more severe of two statuses.
func escalate(cur, next Status) Status {
	switch {
	case cur == StatusCritical || next == StatusCritical:
		return StatusCritical
	case cur == StatusDegraded || next == StatusDegraded:
		return StatusDegraded
	}
	return StatusOK
}
