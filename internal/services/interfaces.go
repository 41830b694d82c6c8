package services

import (
	"context"
	"time"

	"github.com/onlyusedtesla/checkout/internal/domain"
)

// Type aliases expose domain models to handlers without importing domain everywhere.
type (
	Configuration      = domain.Configuration
	Quote              = domain.Quote
	LineItem           = domain.LineItem
	ChargeRecord       = domain.ChargeRecord
	ChargeStatus       = domain.ChargeStatus
	SystemHealthReport = domain.SystemHealthReport
)

// CheckoutService is the server side of the payment collaborator. Amounts are always
// recomputed from the submitted configuration and never read from the client.
type CheckoutService interface {
	Quote(ctx context.Context, cfg Configuration) Quote
	CreateCharge(ctx context.Context, cmd CreateChargeCommand) (ChargeResult, error)
	UpdateCharge(ctx context.Context, cmd UpdateChargeCommand) (ChargeResult, error)
	ConfirmCharge(ctx context.Context, cmd ConfirmChargeCommand) (ConfirmResult, error)
}

// CreateChargeCommand carries the configuration and receipt email for a new charge.
// Email overrides Configuration.Contact.Email when set.
type CreateChargeCommand struct {
	Configuration  Configuration
	Email          string
	IdempotencyKey string
}

// UpdateChargeCommand re-prices an existing, non-terminal charge.
type UpdateChargeCommand struct {
	ChargeID       string
	Configuration  Configuration
	IdempotencyKey string
}

type ConfirmChargeCommand struct {
	ChargeID string
}

// ChargeResult is returned by create and update. ClientSecret is only set on create.
type ChargeResult struct {
	ChargeID     string
	ClientSecret string
	Provider     string
	Reference    string
	AmountMinor  int64
	Currency     string
	LineItems    []LineItem
	Status       ChargeStatus
}

// ConfirmResult is the provider's view of the charge after the client completed payment.
type ConfirmResult struct {
	Status    ChargeStatus
	Reason    string
	Reference string
}

// VerificationService issues and checks one-time passcodes for phone numbers.
type VerificationService interface {
	SendCode(ctx context.Context, phone string) (PendingVerification, error)
	VerifyCode(ctx context.Context, cmd VerifyCodeCommand) (bool, error)
	IsPhoneVerified(ctx context.Context, phone string) (bool, error)
}

// PendingVerification is the opaque handle returned by SendCode.
type PendingVerification struct {
	ID        string
	ExpiresAt time.Time
}

type VerifyCodeCommand struct {
	PendingID string
	Phone     string
	Code      string
}

// VerificationCodeMessage is handed to the delivery transport.
type VerificationCodeMessage struct {
	PendingID string    `json:"pendingId"`
	Phone     string    `json:"phone"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CodeDispatcher delivers a verification code to the phone. It returns a transport message id.
type CodeDispatcher interface {
	DispatchCode(ctx context.Context, msg VerificationCodeMessage) (string, error)
}

// SystemService reports dependency health for readiness probes.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}
