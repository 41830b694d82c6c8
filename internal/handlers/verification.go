package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/onlyusedtesla/checkout/internal/fields"
	"github.com/onlyusedtesla/checkout/internal/platform/httpx"
	"github.com/onlyusedtesla/checkout/internal/services"
)

const (
	maxVerificationRequestBody = 2 * 1024
	defaultSendLimit           = 3
	defaultSendWindow          = 10 * time.Minute
)

// VerificationHandlers exposes the one-time passcode endpoints used before text
// notifications can be enabled.
type VerificationHandlers struct {
	verification services.VerificationService
	sendLimiter  rateLimiter
}

// VerificationOption customises VerificationHandlers.
type VerificationOption func(*verificationConfig)

type verificationConfig struct {
	limit  int
	window time.Duration
	clock  func() time.Time
}

// WithSendRateLimit caps how many codes a phone may request per sliding window.
func WithSendRateLimit(limit int, window time.Duration) VerificationOption {
	return func(cfg *verificationConfig) {
		cfg.limit = limit
		cfg.window = window
	}
}

func WithVerificationClock(clock func() time.Time) VerificationOption {
	return func(cfg *verificationConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// NewVerificationHandlers constructs verification handlers. A non-positive send limit
// disables throttling.
func NewVerificationHandlers(verification services.VerificationService, opts ...VerificationOption) *VerificationHandlers {
	cfg := verificationConfig{
		limit:  defaultSendLimit,
		window: defaultSendWindow,
		clock:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &VerificationHandlers{
		verification: verification,
		sendLimiter:  newSlidingWindowLimiter(cfg.limit, cfg.window, cfg.clock),
	}
}

// Routes registers verification endpoints under the provided router.
func (h *VerificationHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/send", h.sendCode)
	r.Post("/verify", h.verifyCode)
}

type sendCodeRequest struct {
	Phone string `json:"phone"`
}

type sendCodeResponse struct {
	PendingID string    `json:"pending_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type verifyCodeRequest struct {
	PendingID string `json:"pending_id"`
	Phone     string `json:"phone"`
	Code      string `json:"code"`
}

type verifyCodeResponse struct {
	Verified bool `json:"verified"`
}

func (h *VerificationHandlers) sendCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.verification == nil {
		httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "verification service unavailable", http.StatusServiceUnavailable))
		return
	}
	var req sendCodeRequest
	if err := httpx.DecodeJSON(r, maxVerificationRequestBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	phone := fields.NormalizePhone(req.Phone)
	if !fields.IsPhoneValid(phone) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_phone", services.MsgPhoneInvalid, http.StatusBadRequest))
		return
	}
	if h.sendLimiter != nil && !h.sendLimiter.Allow("phone:"+phone) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many codes requested; try again later", http.StatusTooManyRequests))
		return
	}

	pending, err := h.verification.SendCode(ctx, phone)
	if err != nil {
		writeVerificationError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sendCodeResponse{
		PendingID: pending.ID,
		ExpiresAt: pending.ExpiresAt.UTC(),
	})
}

func (h *VerificationHandlers) verifyCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.verification == nil {
		httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "verification service unavailable", http.StatusServiceUnavailable))
		return
	}
	var req verifyCodeRequest
	if err := httpx.DecodeJSON(r, maxVerificationRequestBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	verified, err := h.verification.VerifyCode(ctx, services.VerifyCodeCommand{
		PendingID: strings.TrimSpace(req.PendingID),
		Phone:     req.Phone,
		Code:      strings.TrimSpace(req.Code),
	})
	if err != nil {
		writeVerificationError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, verifyCodeResponse{Verified: verified})
}

func writeVerificationError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrVerificationInvalidPhone):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_phone", services.MsgPhoneInvalid, http.StatusBadRequest))
	case errors.Is(err, services.ErrVerificationInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "pending_id and a 6-digit code are required", http.StatusBadRequest))
	case errors.Is(err, services.ErrVerificationExpired):
		httpx.WriteError(ctx, w, httpx.NewError("code_expired", "code expired; request a new one", http.StatusGone))
	case errors.Is(err, services.ErrVerificationTooManyAttempts):
		httpx.WriteError(ctx, w, httpx.NewError("too_many_attempts", "too many attempts; request a new code", http.StatusTooManyRequests))
	case errors.Is(err, services.ErrVerificationUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "verification service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("verification_error", "failed to process verification request", http.StatusInternalServerError))
	}
}
