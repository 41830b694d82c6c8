// Package redis stores short-lived verification state in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	domain "github.com/onlyusedtesla/checkout/internal/domain"
	"github.com/onlyusedtesla/checkout/internal/repositories"
)

const (
	defaultKeyPrefix  = "checkout:verification"
	maxAttemptRetries = 16
)

// VerificationRepository keeps passcode challenges as JSON values whose Redis TTL matches the
// challenge expiry, and verified phones as marker keys.
type VerificationRepository struct {
	client *goredis.Client
	prefix string
	now    func() time.Time
}

var _ repositories.VerificationRepository = (*VerificationRepository)(nil)

// Option customises the repository.
type Option func(*VerificationRepository)

// WithKeyPrefix namespaces keys, e.g. per environment.
func WithKeyPrefix(prefix string) Option {
	return func(r *VerificationRepository) {
		if trimmed := strings.Trim(strings.TrimSpace(prefix), ":"); trimmed != "" {
			r.prefix = trimmed
		}
	}
}

// WithClock injects the clock used to derive TTLs.
func WithClock(clock func() time.Time) Option {
	return func(r *VerificationRepository) {
		if clock != nil {
			r.now = clock
		}
	}
}

// NewVerificationRepository wraps an existing go-redis client.
func NewVerificationRepository(client *goredis.Client, opts ...Option) (*VerificationRepository, error) {
	if client == nil {
		return nil, errors.New("verification repository requires redis client")
	}
	repo := &VerificationRepository{client: client, prefix: defaultKeyPrefix, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

type codeDocument struct {
	Phone     string    `json:"phone"`
	CodeHash  string    `json:"codeHash"`
	Attempts  int       `json:"attempts"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

func (r *VerificationRepository) SaveCode(ctx context.Context, code domain.VerificationCode) error {
	id := strings.TrimSpace(code.ID)
	if id == "" {
		return errors.New("verification.save: id is required")
	}
	ttl := code.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return fmt.Errorf("verification.save: code %s already expired", id)
	}
	payload, err := json.Marshal(codeDocument{
		Phone:     code.Phone,
		CodeHash:  code.CodeHash,
		Attempts:  code.Attempts,
		ExpiresAt: code.ExpiresAt.UTC(),
		CreatedAt: code.CreatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("verification.save: encode: %w", err)
	}
	if err := r.client.Set(ctx, r.codeKey(id), payload, ttl).Err(); err != nil {
		return wrapError("verification.save", err)
	}
	return nil
}

func (r *VerificationRepository) FindCode(ctx context.Context, pendingID string) (domain.VerificationCode, error) {
	id := strings.TrimSpace(pendingID)
	raw, err := r.client.Get(ctx, r.codeKey(id)).Bytes()
	if err != nil {
		return domain.VerificationCode{}, wrapError("verification.find", err)
	}
	var doc codeDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.VerificationCode{}, fmt.Errorf("verification.find: decode %s: %w", id, err)
	}
	return domain.VerificationCode{
		ID:        id,
		Phone:     doc.Phone,
		CodeHash:  doc.CodeHash,
		Attempts:  doc.Attempts,
		ExpiresAt: doc.ExpiresAt,
		CreatedAt: doc.CreatedAt,
	}, nil
}

func (r *VerificationRepository) DeleteCode(ctx context.Context, pendingID string) error {
	if err := r.client.Del(ctx, r.codeKey(strings.TrimSpace(pendingID))).Err(); err != nil {
		return wrapError("verification.delete", err)
	}
	return nil
}

// IncrementAttempts bumps the stored attempt count inside a WATCH transaction so concurrent
// guesses each consume one attempt. The key keeps its TTL.
func (r *VerificationRepository) IncrementAttempts(ctx context.Context, pendingID string) (int, error) {
	key := r.codeKey(strings.TrimSpace(pendingID))
	var attempts int
	increment := func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		var doc codeDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		doc.Attempts++
		payload, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, payload, goredis.KeepTTL)
			return nil
		})
		if err == nil {
			attempts = doc.Attempts
		}
		return err
	}

	for i := 0; i < maxAttemptRetries; i++ {
		err := r.client.Watch(ctx, increment, key)
		if err == nil {
			return attempts, nil
		}
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return 0, wrapError("verification.attempt", err)
	}
	return 0, repositories.NewUnavailableError("verification.attempt", goredis.TxFailedErr)
}

func (r *VerificationRepository) MarkVerified(ctx context.Context, phone string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("verification.mark: ttl must be positive, got %s", ttl)
	}
	if err := r.client.Set(ctx, r.verifiedKey(phone), r.now().UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		return wrapError("verification.mark", err)
	}
	return nil
}

func (r *VerificationRepository) IsVerified(ctx context.Context, phone string) (bool, error) {
	n, err := r.client.Exists(ctx, r.verifiedKey(phone)).Result()
	if err != nil {
		return false, wrapError("verification.verified", err)
	}
	return n > 0, nil
}

func (r *VerificationRepository) codeKey(id string) string {
	return r.prefix + ":code:" + id
}

func (r *VerificationRepository) verifiedKey(phone string) string {
	return r.prefix + ":verified:" + strings.TrimSpace(phone)
}

func wrapError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, goredis.Nil) {
		return repositories.NewNotFoundError(op)
	}
	return repositories.NewUnavailableError(op, err)
}
