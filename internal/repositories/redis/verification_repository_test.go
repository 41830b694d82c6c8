package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/onlyusedtesla/checkout/internal/domain"
	"github.com/onlyusedtesla/checkout/internal/repositories"
)

func newTestRepository(t *testing.T, now time.Time) (*VerificationRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo, err := NewVerificationRepository(client, WithKeyPrefix("test:otp"), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return repo, mr
}

func TestVerificationRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)
	repo, mr := newTestRepository(t, now)

	code := domain.VerificationCode{
		ID:        "otp_01",
		Phone:     "5551234567",
		CodeHash:  "deadbeef",
		Attempts:  1,
		ExpiresAt: now.Add(10 * time.Minute),
		CreatedAt: now,
	}
	require.NoError(t, repo.SaveCode(ctx, code))
	assert.True(t, mr.Exists("test:otp:code:otp_01"))
	assert.Equal(t, 10*time.Minute, mr.TTL("test:otp:code:otp_01"))

	got, err := repo.FindCode(ctx, "otp_01")
	require.NoError(t, err)
	assert.Equal(t, code, got)

	require.NoError(t, repo.DeleteCode(ctx, "otp_01"))
	_, err = repo.FindCode(ctx, "otp_01")
	assert.True(t, repositories.IsNotFound(err))
}

func TestVerificationRepositoryExpiresWithTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)
	repo, mr := newTestRepository(t, now)

	require.NoError(t, repo.SaveCode(ctx, domain.VerificationCode{ID: "otp_02", ExpiresAt: now.Add(time.Minute)}))
	mr.FastForward(2 * time.Minute)
	_, err := repo.FindCode(ctx, "otp_02")
	assert.True(t, repositories.IsNotFound(err))

	assert.Error(t, repo.SaveCode(ctx, domain.VerificationCode{ID: "otp_03", ExpiresAt: now.Add(-time.Second)}))
}

func TestVerificationRepositoryVerifiedMarker(t *testing.T) {
	ctx := context.Background()
	repo, mr := newTestRepository(t, time.Now())

	verified, err := repo.IsVerified(ctx, "5551234567")
	require.NoError(t, err)
	assert.False(t, verified)

	require.NoError(t, repo.MarkVerified(ctx, "5551234567", 30*time.Minute))
	verified, err = repo.IsVerified(ctx, "5551234567")
	require.NoError(t, err)
	assert.True(t, verified)

	mr.FastForward(31 * time.Minute)
	verified, err = repo.IsVerified(ctx, "5551234567")
	require.NoError(t, err)
	assert.False(t, verified)
}

func TestVerificationRepositoryUnavailable(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	repo, err := NewVerificationRepository(client)
	require.NoError(t, err)
	mr.Close()

	_, err = repo.IsVerified(ctx, "5551234567")
	assert.True(t, repositories.IsUnavailable(err))
}

func TestVerificationRepositoryIncrementAttemptsKeepsTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)
	repo, mr := newTestRepository(t, now)

	_, err := repo.IncrementAttempts(ctx, "otp_missing")
	assert.True(t, repositories.IsNotFound(err))

	require.NoError(t, repo.SaveCode(ctx, domain.VerificationCode{ID: "otp_04", Phone: "5551234567", ExpiresAt: now.Add(5 * time.Minute)}))

	const guesses = 5
	var wg sync.WaitGroup
	for i := 0; i < guesses; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.IncrementAttempts(ctx, "otp_04")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.FindCode(ctx, "otp_04")
	require.NoError(t, err)
	assert.Equal(t, guesses, got.Attempts)
	assert.Equal(t, "5551234567", got.Phone)
	assert.Equal(t, 5*time.Minute, mr.TTL("test:otp:code:otp_04"))
}
