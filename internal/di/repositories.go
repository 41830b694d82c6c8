package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/onlyusedtesla/checkout/internal/drafts"
	"github.com/onlyusedtesla/checkout/internal/platform/config"
	pfirestore "github.com/onlyusedtesla/checkout/internal/platform/firestore"
	"github.com/onlyusedtesla/checkout/internal/platform/idempotency"
	"github.com/onlyusedtesla/checkout/internal/repositories"
	fsrepo "github.com/onlyusedtesla/checkout/internal/repositories/firestore"
	"github.com/onlyusedtesla/checkout/internal/repositories/memory"
	redisrepo "github.com/onlyusedtesla/checkout/internal/repositories/redis"
)

// Repositories groups the storage backends chosen from configuration. Redis backs drafts,
// verification codes and idempotency keys when configured; Firestore backs charge records and
// takes over idempotency keys. Everything else falls back to process memory.
type Repositories struct {
	Charges      repositories.ChargeRepository
	Verification repositories.VerificationRepository
	Drafts       drafts.Backend
	Idempotency  idempotency.Store
	Checks       []repositories.DependencyCheck

	closers []func(context.Context) error
}

// RepositoryOption customises BuildRepositories.
type RepositoryOption func(*repositoryOptions)

type repositoryOptions struct {
	logger      *zap.Logger
	redisClient *goredis.Client
	clock       func() time.Time
}

// WithRepositoryLogger sets the logger used while wiring backends.
func WithRepositoryLogger(logger *zap.Logger) RepositoryOption {
	return func(o *repositoryOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRedisClient supplies a pre-built client instead of dialing cfg.Redis.Addr. The caller
// keeps ownership of the client.
func WithRedisClient(client *goredis.Client) RepositoryOption {
	return func(o *repositoryOptions) {
		o.redisClient = client
	}
}

func WithRepositoryClock(clock func() time.Time) RepositoryOption {
	return func(o *repositoryOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// BuildRepositories selects a backend per concern.
func BuildRepositories(ctx context.Context, cfg config.Config, opts ...RepositoryOption) (*Repositories, error) {
	options := repositoryOptions{logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	logger := options.logger

	repos := &Repositories{}

	redisClient := options.redisClient
	if redisClient == nil && cfg.Redis.Enabled() {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:     strings.TrimSpace(cfg.Redis.Addr),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		repos.closers = append(repos.closers, func(context.Context) error { return redisClient.Close() })
	}

	if redisClient != nil {
		prefix := strings.Trim(strings.TrimSpace(cfg.Redis.KeyPrefix), ":")
		if prefix == "" {
			prefix = "checkout"
		}
		draftBackend := drafts.NewRedisBackend(redisClient, prefix+":drafts", cfg.Drafts.TTL)
		verificationRepo, err := redisrepo.NewVerificationRepository(redisClient,
			redisrepo.WithKeyPrefix(prefix+":verification"),
			redisrepo.WithClock(options.clock),
		)
		if err != nil {
			repos.Close(ctx)
			return nil, fmt.Errorf("build redis verification repository: %w", err)
		}
		repos.Drafts = draftBackend
		repos.Verification = verificationRepo
		repos.Idempotency = idempotency.NewRedisStore(redisClient, prefix+":idempotency")
		repos.Checks = append(repos.Checks, repositories.DependencyCheck{
			Name:     "redis",
			Critical: true,
			Check:    draftBackend.Ping,
		})
		logger.Info("redis backends enabled", zap.String("addr", cfg.Redis.Addr), zap.String("prefix", prefix))
	}

	if cfg.Firestore.Enabled() {
		provider := pfirestore.NewProvider(cfg.Firestore)
		repos.closers = append(repos.closers, provider.Close)

		charges, err := fsrepo.NewChargeRepository(provider)
		if err != nil {
			repos.Close(ctx)
			return nil, fmt.Errorf("build firestore charge repository: %w", err)
		}
		repos.Charges = charges

		client, err := provider.Client(ctx)
		if err != nil {
			repos.Close(ctx)
			return nil, fmt.Errorf("dial firestore: %w", err)
		}
		repos.Idempotency = idempotency.NewFirestoreStore(client)
		repos.Checks = append(repos.Checks, repositories.DependencyCheck{
			Name:     "firestore",
			Critical: true,
			Timeout:  2 * time.Second,
			Check:    provider.Ping,
		})
		logger.Info("firestore backends enabled", zap.String("project", cfg.Firestore.ProjectID))
	}

	if repos.Charges == nil {
		repos.Charges = memory.NewChargeRepository()
	}
	if repos.Verification == nil {
		repos.Verification = memory.NewVerificationRepository(options.clock)
	}
	if repos.Drafts == nil {
		repos.Drafts = drafts.NewMemoryBackend()
	}
	if repos.Idempotency == nil {
		repos.Idempotency = idempotency.NewMemoryStore()
	}
	return repos, nil
}

// Close releases clients in reverse order of creation.
func (r *Repositories) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
