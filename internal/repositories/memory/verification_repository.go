package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	domain "github.com/onlyusedtesla/checkout/internal/domain"
	"github.com/onlyusedtesla/checkout/internal/repositories"
)

// VerificationRepository keeps passcode challenges and verified phones in memory.
type VerificationRepository struct {
	mu       sync.Mutex
	codes    map[string]domain.VerificationCode
	verified map[string]time.Time
	now      func() time.Time
}

var _ repositories.VerificationRepository = (*VerificationRepository)(nil)

// NewVerificationRepository returns an empty repository. A nil clock uses time.Now.
func NewVerificationRepository(clock func() time.Time) *VerificationRepository {
	if clock == nil {
		clock = time.Now
	}
	return &VerificationRepository{
		codes:    make(map[string]domain.VerificationCode),
		verified: make(map[string]time.Time),
		now:      clock,
	}
}

func (r *VerificationRepository) SaveCode(_ context.Context, code domain.VerificationCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes[strings.TrimSpace(code.ID)] = code
	return nil
}

func (r *VerificationRepository) FindCode(_ context.Context, pendingID string) (domain.VerificationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := strings.TrimSpace(pendingID)
	code, ok := r.codes[id]
	if !ok {
		return domain.VerificationCode{}, repositories.NewNotFoundError("verification.find")
	}
	if !code.ExpiresAt.IsZero() && !r.now().Before(code.ExpiresAt) {
		delete(r.codes, id)
		return domain.VerificationCode{}, repositories.NewNotFoundError("verification.find")
	}
	return code, nil
}

func (r *VerificationRepository) DeleteCode(_ context.Context, pendingID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.codes, strings.TrimSpace(pendingID))
	return nil
}

func (r *VerificationRepository) IncrementAttempts(_ context.Context, pendingID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := strings.TrimSpace(pendingID)
	code, ok := r.codes[id]
	if !ok || (!code.ExpiresAt.IsZero() && !r.now().Before(code.ExpiresAt)) {
		delete(r.codes, id)
		return 0, repositories.NewNotFoundError("verification.attempt")
	}
	code.Attempts++
	r.codes[id] = code
	return code.Attempts, nil
}

func (r *VerificationRepository) MarkVerified(_ context.Context, phone string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verified[phone] = r.now().Add(ttl)
	return nil
}

func (r *VerificationRepository) IsVerified(_ context.Context, phone string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	until, ok := r.verified[phone]
	if !ok {
		return false, nil
	}
	if !r.now().Before(until) {
		delete(r.verified, phone)
		return false, nil
	}
	return true, nil
}
