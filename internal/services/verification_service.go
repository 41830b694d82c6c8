package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/onlyusedtesla/checkout/internal/domain"
	"github.com/onlyusedtesla/checkout/internal/fields"
	"github.com/onlyusedtesla/checkout/internal/repositories"
)

const (
	verificationCodeDigits     = 6
	defaultVerificationCodeTTL = 10 * time.Minute
	defaultVerifiedTTL         = 30 * time.Minute
	defaultMaxVerifyAttempts   = 5
	verificationIDPrefix       = "vc_"
)

var (
	// ErrVerificationInvalidPhone indicates the phone is not a 10-digit number.
	ErrVerificationInvalidPhone = errors.New("verification: invalid phone")
	// ErrVerificationInvalidInput indicates a malformed pending id or code.
	ErrVerificationInvalidInput = errors.New("verification: invalid input")
	// ErrVerificationExpired indicates the pending code is unknown or past its expiry.
	ErrVerificationExpired = errors.New("verification: code expired")
	// ErrVerificationTooManyAttempts indicates the attempt budget for a code is spent.
	ErrVerificationTooManyAttempts = errors.New("verification: too many attempts")
	// ErrVerificationUnavailable indicates storage or delivery failed.
	ErrVerificationUnavailable = errors.New("verification: unavailable")
)

// VerificationServiceDeps wires the OTP service. Dispatcher may be nil, in which case codes are
// only logged at debug level by the caller's logger, which is suitable for local runs.
type VerificationServiceDeps struct {
	Codes       repositories.VerificationRepository
	Dispatcher  CodeDispatcher
	CodeTTL     time.Duration
	VerifiedTTL time.Duration
	MaxAttempts int
	Clock       func() time.Time
	IDGen       func() string
	CodeGen     func() (string, error)
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type verificationService struct {
	codes       repositories.VerificationRepository
	dispatcher  CodeDispatcher
	codeTTL     time.Duration
	verifiedTTL time.Duration
	maxAttempts int
	now         func() time.Time
	idGen       func() string
	codeGen     func() (string, error)
	logger      func(ctx context.Context, event string, fields map[string]any)
}

var _ VerificationService = (*verificationService)(nil)

func NewVerificationService(deps VerificationServiceDeps) (VerificationService, error) {
	if deps.Codes == nil {
		return nil, errors.New("verification service: code repository is required")
	}
	svc := &verificationService{
		codes:       deps.Codes,
		dispatcher:  deps.Dispatcher,
		codeTTL:     deps.CodeTTL,
		verifiedTTL: deps.VerifiedTTL,
		maxAttempts: deps.MaxAttempts,
		idGen:       deps.IDGen,
		codeGen:     deps.CodeGen,
		logger:      deps.Logger,
	}
	if svc.codeTTL <= 0 {
		svc.codeTTL = defaultVerificationCodeTTL
	}
	if svc.verifiedTTL <= 0 {
		svc.verifiedTTL = defaultVerifiedTTL
	}
	if svc.maxAttempts <= 0 {
		svc.maxAttempts = defaultMaxVerifyAttempts
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	svc.now = func() time.Time { return clock().UTC() }
	if svc.idGen == nil {
		svc.idGen = func() string { return verificationIDPrefix + ulid.Make().String() }
	}
	if svc.codeGen == nil {
		svc.codeGen = randomNumericCode
	}
	if svc.logger == nil {
		svc.logger = func(context.Context, string, map[string]any) {}
	}
	return svc, nil
}

// SendCode issues a fresh code for phone. Only its hash is stored.
func (s *verificationService) SendCode(ctx context.Context, phone string) (PendingVerification, error) {
	phone = fields.NormalizePhone(phone)
	if !fields.IsPhoneValid(phone) {
		return PendingVerification{}, ErrVerificationInvalidPhone
	}

	code, err := s.codeGen()
	if err != nil {
		return PendingVerification{}, fmt.Errorf("%w: generate code: %v", ErrVerificationUnavailable, err)
	}
	now := s.now()
	challenge := domain.VerificationCode{
		ID:        s.idGen(),
		Phone:     phone,
		CodeHash:  hashCode(code),
		ExpiresAt: now.Add(s.codeTTL),
		CreatedAt: now,
	}
	if err := s.codes.SaveCode(ctx, challenge); err != nil {
		s.logger(ctx, "verification.code.save_failed", map[string]any{"error": err})
		return PendingVerification{}, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}

	if s.dispatcher != nil {
		msgID, err := s.dispatcher.DispatchCode(ctx, VerificationCodeMessage{
			PendingID: challenge.ID,
			Phone:     phone,
			Code:      code,
			ExpiresAt: challenge.ExpiresAt,
		})
		if err != nil {
			_ = s.codes.DeleteCode(ctx, challenge.ID)
			s.logger(ctx, "verification.code.dispatch_failed", map[string]any{"pendingID": challenge.ID, "error": err})
			return PendingVerification{}, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
		}
		s.logger(ctx, "verification.code.dispatched", map[string]any{"pendingID": challenge.ID, "messageID": msgID})
	}

	return PendingVerification{ID: challenge.ID, ExpiresAt: challenge.ExpiresAt}, nil
}

// VerifyCode checks code against the pending challenge. A wrong code returns false with no error
// until the attempt budget is spent.
func (s *verificationService) VerifyCode(ctx context.Context, cmd VerifyCodeCommand) (bool, error) {
	pendingID := strings.TrimSpace(cmd.PendingID)
	code := strings.TrimSpace(cmd.Code)
	phone := fields.NormalizePhone(cmd.Phone)
	if pendingID == "" || len(code) != verificationCodeDigits {
		return false, ErrVerificationInvalidInput
	}

	challenge, err := s.codes.FindCode(ctx, pendingID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return false, ErrVerificationExpired
		}
		return false, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	if !s.now().Before(challenge.ExpiresAt) {
		_ = s.codes.DeleteCode(ctx, pendingID)
		return false, ErrVerificationExpired
	}
	attempts, err := s.codes.IncrementAttempts(ctx, pendingID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return false, ErrVerificationExpired
		}
		return false, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	if attempts > s.maxAttempts {
		_ = s.codes.DeleteCode(ctx, pendingID)
		return false, ErrVerificationTooManyAttempts
	}

	phoneMatches := subtle.ConstantTimeCompare([]byte(challenge.Phone), []byte(phone)) == 1
	codeMatches := subtle.ConstantTimeCompare([]byte(challenge.CodeHash), []byte(hashCode(code))) == 1
	if !phoneMatches || !codeMatches {
		s.logger(ctx, "verification.code.mismatch", map[string]any{"pendingID": pendingID, "attempts": attempts})
		if attempts >= s.maxAttempts {
			return false, ErrVerificationTooManyAttempts
		}
		return false, nil
	}

	if err := s.codes.DeleteCode(ctx, pendingID); err != nil {
		s.logger(ctx, "verification.code.delete_failed", map[string]any{"pendingID": pendingID, "error": err})
	}
	if err := s.codes.MarkVerified(ctx, challenge.Phone, s.verifiedTTL); err != nil {
		return false, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	s.logger(ctx, "verification.code.verified", map[string]any{"pendingID": pendingID})
	return true, nil
}

func (s *verificationService) IsPhoneVerified(ctx context.Context, phone string) (bool, error) {
	phone = fields.NormalizePhone(phone)
	if !fields.IsPhoneValid(phone) {
		return false, nil
	}
	verified, err := s.codes.IsVerified(ctx, phone)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	return verified, nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func randomNumericCode() (string, error) {
	limit := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", verificationCodeDigits, n.Int64()), nil
}
