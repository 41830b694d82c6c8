package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/onlyusedtesla/checkout/internal/domain"
	"github.com/onlyusedtesla/checkout/internal/repositories"
)

// BuildInfo is the runtime metadata echoed on health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps wires the readiness report. PaymentProvider is the configured provider
// name; a sandbox provider outside local or test environments degrades readiness.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
	PaymentProvider  string
}

type systemService struct {
	health   repositories.HealthRepository
	now      func() time.Time
	build    BuildInfo
	provider string
}

var _ SystemService = (*systemService)(nil)

func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	svc := &systemService{
		health:   deps.HealthRepository,
		now:      func() time.Time { return clock().UTC() },
		build:    deps.Build,
		provider: strings.ToLower(strings.TrimSpace(deps.PaymentProvider)),
	}
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.now()
	}
	return svc, nil
}

// HealthReport probes dependencies and derives the overall readiness status from them.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	report, err := s.health.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	now := s.now()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	if report.Checks == nil {
		report.Checks = make(map[string]domain.SystemHealthCheck, 1)
	}
	if check, ok := s.paymentsCheck(now); ok {
		report.Checks["payments"] = check
	}

	report.Version = s.build.Version
	report.CommitSHA = s.build.CommitSHA
	report.Environment = s.build.Environment
	report.PaymentProvider = s.provider
	report.Uptime = now.Sub(s.build.StartedAt)
	report.Status = readiness(report.Checks)
	return report, nil
}

// paymentsCheck reports a sandbox provider in a deployed environment. It never fails a probe,
// it only makes the misconfiguration visible.
func (s *systemService) paymentsCheck(now time.Time) (domain.SystemHealthCheck, bool) {
	if s.provider == "" {
		return domain.SystemHealthCheck{}, false
	}
	check := domain.SystemHealthCheck{Status: domain.HealthStatusOK, Detail: s.provider, CheckedAt: now}
	switch strings.ToLower(strings.TrimSpace(s.build.Environment)) {
	case "", "local", "dev", "development", "test":
	default:
		if s.provider == "sandbox" {
			check.Status = domain.HealthStatusDegraded
			check.Detail = "sandbox payments in " + s.build.Environment
		}
	}
	return check, true
}

// readiness is error when any check errored, degraded when any degraded, else ok.
func readiness(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusError:
			return domain.HealthStatusError
		case domain.HealthStatusDegraded:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
