package domain

import "time"

const (
	// HealthStatusOK indicates every probed dependency answered.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates an auxiliary dependency failed; checkout still serves.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates a store that drafts, idempotency or charges depend on failed.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Critical  bool
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for the readiness endpoint.
type SystemHealthReport struct {
	Status          string
	Checks          map[string]SystemHealthCheck
	PaymentProvider string
	Version         string
	CommitSHA       string
	Environment     string
	Uptime          time.Duration
	GeneratedAt     time.Time
}
