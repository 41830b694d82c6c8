// Package drafts persists the in-progress wizard configuration as a versioned snapshot.
package drafts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/onlyusedtesla/checkout/internal/domain"
	"github.com/onlyusedtesla/checkout/internal/fields"
	"github.com/onlyusedtesla/checkout/internal/services"
)

const (
	// SchemaVersion is bumped whenever the snapshot layout changes incompatibly.
	SchemaVersion = 4
	// DefaultKeyPrefix names the snapshot slot.
	DefaultKeyPrefix = "out_checkout_draft"
	// MaxBlobBytes bounds a stored snapshot.
	MaxBlobBytes = 64 << 10
)

// ErrNotFound is returned by backends when no blob exists for a key.
var ErrNotFound = errors.New("drafts: not found")

// Backend stores opaque blobs by key.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, blob []byte) error
	Delete(ctx context.Context, key string) error
}

type envelope struct {
	Version       int                  `json:"version"`
	SavedAt       time.Time            `json:"savedAt"`
	Configuration domain.Configuration `json:"configuration"`
}

// Store loads and saves one draft slot. A nil *Store is valid and persists nothing.
type Store struct {
	backend Backend
	key     string
	now     func() time.Time
	logger  *zap.Logger
}

// Option customises a Store.
type Option func(*Store)

// WithKeyPrefix changes the slot name. The schema version is always appended.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			s.key = Key(trimmed)
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger attaches a logger for persistence diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore builds a draft store over backend.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		key:     Key(DefaultKeyPrefix),
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Key returns the versioned storage key for prefix.
func Key(prefix string) string {
	return fmt.Sprintf("%s_v%d", prefix, SchemaVersion)
}

// Key returns the versioned key this store writes to.
func (s *Store) Key() string {
	if s == nil {
		return ""
	}
	return s.key
}

// Load restores the saved configuration. Any failure yields a fresh configuration and
// false; a corrupt or outdated snapshot never blocks startup.
func (s *Store) Load(ctx context.Context) (domain.Configuration, bool) {
	if s == nil || s.backend == nil {
		return domain.NewConfiguration(), false
	}
	blob, err := s.backend.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Debug("drafts: load failed", zap.String("key", s.key), zap.Error(err))
		}
		return domain.NewConfiguration(), false
	}
	cfg, err := Decode(blob)
	if err != nil {
		s.logger.Debug("drafts: discarding unreadable snapshot", zap.String("key", s.key), zap.Error(err))
		return domain.NewConfiguration(), false
	}
	return cfg, true
}

// Save writes cfg to the slot.
func (s *Store) Save(ctx context.Context, cfg domain.Configuration) error {
	if s == nil || s.backend == nil {
		return nil
	}
	blob, err := Encode(cfg, s.now())
	if err != nil {
		return err
	}
	if err := s.backend.Put(ctx, s.key, blob); err != nil {
		return fmt.Errorf("drafts: save: %w", err)
	}
	return nil
}

// Reset removes the persisted snapshot.
func (s *Store) Reset(ctx context.Context) error {
	if s == nil || s.backend == nil {
		return nil
	}
	if err := s.backend.Delete(ctx, s.key); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("drafts: reset: %w", err)
	}
	return nil
}

// Encode wraps cfg in a versioned envelope.
func Encode(cfg domain.Configuration, savedAt time.Time) ([]byte, error) {
	blob, err := json.Marshal(envelope{
		Version:       SchemaVersion,
		SavedAt:       savedAt.UTC(),
		Configuration: cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("drafts: encode: %w", err)
	}
	if len(blob) > MaxBlobBytes {
		return nil, fmt.Errorf("drafts: encode: snapshot is %d bytes", len(blob))
	}
	return blob, nil
}

// Decode parses a versioned envelope. Saved fields are merged over the defaults and the
// result is re-normalized so a hand-edited or stale snapshot cannot break invariants.
func Decode(blob []byte) (domain.Configuration, error) {
	env := envelope{Configuration: domain.NewConfiguration()}
	if err := json.Unmarshal(blob, &env); err != nil {
		return domain.Configuration{}, fmt.Errorf("drafts: decode: %w", err)
	}
	if env.Version != SchemaVersion {
		return domain.Configuration{}, fmt.Errorf("drafts: decode: version %d, want %d", env.Version, SchemaVersion)
	}
	return sanitize(env.Configuration), nil
}

func sanitize(cfg domain.Configuration) domain.Configuration {
	defaults := domain.NewConfiguration()
	cfg.Step = cfg.Step.Clamp()
	if cfg.ListingType != domain.ListingTypeSell {
		cfg.ListingType = defaults.ListingType
	}
	cfg.Listing.VIN = fields.NormalizeVIN(cfg.Listing.VIN)
	if len(cfg.Listing.VIN) > fields.VINLength {
		cfg.Listing.VIN = cfg.Listing.VIN[:fields.VINLength]
	}
	cfg.Listing.Summary = fields.TruncateRunes(cfg.Listing.Summary, domain.MaxSummaryLength)
	cfg.Contact.Phone = fields.NormalizePhone(cfg.Contact.Phone)
	if !cfg.Contact.NotificationChannel.Valid() {
		cfg.Contact.NotificationChannel = defaults.Contact.NotificationChannel
	}
	if !fields.IsPhoneValid(cfg.Contact.Phone) {
		cfg.Verification = domain.Verification{}
	}
	if cfg.Media.PhotoCount < 0 {
		cfg.Media.PhotoCount = 0
	}
	return services.ApplyEligibility(cfg)
}
