package repositories

import (
	"context"
	"time"

	domain "github.com/onlyusedtesla/checkout/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ChargeRepository persists the server-side audit record of each charge intent.
type ChargeRepository interface {
	// Insert stores a new record. A record with the same ID yields a conflict error.
	Insert(ctx context.Context, record domain.ChargeRecord) error
	// Update replaces an existing record. Missing records yield a not-found error.
	Update(ctx context.Context, record domain.ChargeRecord) error
	FindByID(ctx context.Context, chargeID string) (domain.ChargeRecord, error)
}

// VerificationRepository stores one-time passcode challenges and verified phone markers.
type VerificationRepository interface {
	SaveCode(ctx context.Context, code domain.VerificationCode) error
	FindCode(ctx context.Context, pendingID string) (domain.VerificationCode, error)
	DeleteCode(ctx context.Context, pendingID string) error
	// IncrementAttempts atomically bumps the attempt counter of a live challenge and returns
	// the new count. Missing or expired challenges yield a not-found error.
	IncrementAttempts(ctx context.Context, pendingID string) (int, error)
	MarkVerified(ctx context.Context, phone string, ttl time.Duration) error
	IsVerified(ctx context.Context, phone string) (bool, error)
}

// HealthRepository exposes dependency health checks used by readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
