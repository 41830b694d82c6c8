package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/onlyusedtesla/checkout/internal/domain"
)

func okCheck(context.Context) error { return nil }

func TestCollectProbesEveryDependency(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "redis", Critical: true, Check: okCheck},
		{Name: "pubsub", Check: okCheck},
	}, WithDependencyClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != "" {
		t.Fatalf("overall status is derived by the caller, got %q", report.Status)
	}
	if len(report.Checks) != 2 || report.GeneratedAt != now {
		t.Fatalf("unexpected report %+v", report)
	}
	redis := report.Checks["redis"]
	if redis.Status != domain.HealthStatusOK || !redis.Critical || redis.CheckedAt != now {
		t.Fatalf("unexpected redis check %+v", redis)
	}
	if report.Checks["pubsub"].Critical {
		t.Fatalf("pubsub should not be critical")
	}
}

func TestCollectGradesFailuresByCriticality(t *testing.T) {
	refused := errors.New("dial tcp 10.0.0.5:6379: connect: connection refused")
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "redis", Critical: true, Check: func(context.Context) error { return refused }},
		{Name: "secretManager", Check: func(context.Context) error { return refused }},
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	redis := report.Checks["redis"]
	if redis.Status != domain.HealthStatusError || redis.Detail != "unreachable" || redis.Error != refused.Error() {
		t.Fatalf("unexpected redis check %+v", redis)
	}
	if got := report.Checks["secretManager"].Status; got != domain.HealthStatusDegraded {
		t.Fatalf("expected auxiliary failure to degrade, got %s", got)
	}
}

func TestCollectReportsTimeouts(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{{
		Name:    "firestore",
		Timeout: 5 * time.Millisecond,
		Check: func(ctx context.Context) error {
			select {
			case <-time.After(time.Second):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	check := report.Checks["firestore"]
	if check.Detail != "timeout" || check.Status != domain.HealthStatusDegraded {
		t.Fatalf("unexpected firestore check %+v", check)
	}
}

func TestNewDependencyHealthRepositoryValidatesChecks(t *testing.T) {
	for name, checks := range map[string][]DependencyCheck{
		"missing name":  {{Check: okCheck}},
		"missing check": {{Name: "redis"}},
		"duplicate":     {{Name: "redis", Check: okCheck}, {Name: "redis", Check: okCheck}},
	} {
		if _, err := NewDependencyHealthRepository(checks); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}

	repo, err := NewDependencyHealthRepository(nil)
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}
	report, err := repo.Collect(context.Background())
	if err != nil || len(report.Checks) != 0 {
		t.Fatalf("expected empty report, got %+v (%v)", report, err)
	}
}
