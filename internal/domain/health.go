package domain

import "time"

// Health statuses, from best to worst.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// SystemHealthCheck captures the outcome of probing a single dependency.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency checks for readiness endpoints.
type SystemHealthReport struct {
	Status      string
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	// FeeRevision and ActiveFees describe the fee configuration live at GeneratedAt.
	FeeRevision int64
	ActiveFees  int
	Checks      map[string]SystemHealthCheck
	GeneratedAt time.Time
}
