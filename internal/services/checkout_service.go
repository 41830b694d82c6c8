package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/onlyusedtesla/checkout/internal/domain"
	"github.com/onlyusedtesla/checkout/internal/fields"
	"github.com/onlyusedtesla/checkout/internal/payments"
	"github.com/onlyusedtesla/checkout/internal/repositories"
)

const (
	// ReferencePrefix starts every submission reference issued by the server.
	ReferencePrefix    = "OUT-"
	maxMetadataSummary = 450
)

var (
	// ErrCheckoutInvalidInput indicates the configuration failed validation.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutVerificationRequired indicates text notifications were requested for an unverified phone.
	ErrCheckoutVerificationRequired = errors.New("checkout: phone verification required")
	// ErrCheckoutChargeNotFound indicates the charge id is unknown.
	ErrCheckoutChargeNotFound = errors.New("checkout: charge not found")
	// ErrCheckoutChargeClosed indicates the charge already settled and cannot be re-priced.
	ErrCheckoutChargeClosed = errors.New("checkout: charge closed")
	// ErrCheckoutUnavailable indicates the payment provider or storage could not be reached.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutPaymentFailed indicates the provider rejected the charge.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
)

// CheckoutValidationError carries the per-field messages behind ErrCheckoutInvalidInput.
type CheckoutValidationError struct {
	Fields map[fields.FieldID]string
}

func (e *CheckoutValidationError) Error() string {
	ids := make([]string, 0, len(e.Fields))
	for id := range e.Fields {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	return fmt.Sprintf("%s: %s", ErrCheckoutInvalidInput, strings.Join(ids, ", "))
}

func (e *CheckoutValidationError) Unwrap() error { return ErrCheckoutInvalidInput }

// paymentGateway abstracts payments.Manager for tests.
type paymentGateway interface {
	CreateIntent(ctx context.Context, paymentCtx payments.PaymentContext, req payments.IntentRequest) (payments.Intent, error)
	UpdateIntent(ctx context.Context, paymentCtx payments.PaymentContext, req payments.UpdateIntentRequest) (payments.PaymentDetails, error)
	LookupPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error)
}

// phoneVerifier is the part of VerificationService the checkout consults.
type phoneVerifier interface {
	IsPhoneVerified(ctx context.Context, phone string) (bool, error)
}

// CheckoutServiceDeps wires the checkout service. Verification is optional; without it the
// client's verification flag is trusted.
type CheckoutServiceDeps struct {
	Pricing      *PricingEngine
	Payments     paymentGateway
	Charges      repositories.ChargeRepository
	Verification phoneVerifier
	Provider     string
	Clock        func() time.Time
	ReferenceGen func() string
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	pricing      *PricingEngine
	payments     paymentGateway
	charges      repositories.ChargeRepository
	verification phoneVerifier
	provider     string
	now          func() time.Time
	referenceGen func() string
	logger       func(ctx context.Context, event string, fields map[string]any)
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService validates dependencies and returns the server-side collaborator.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Pricing == nil {
		return nil, errors.New("checkout service: pricing engine is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}
	if deps.Charges == nil {
		return nil, errors.New("checkout service: charge repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	refGen := deps.ReferenceGen
	if refGen == nil {
		refGen = func() string { return ReferencePrefix + ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		pricing:      deps.Pricing,
		payments:     deps.Payments,
		charges:      deps.Charges,
		verification: deps.Verification,
		provider:     strings.ToLower(strings.TrimSpace(deps.Provider)),
		now: func() time.Time {
			return clock().UTC()
		},
		referenceGen: refGen,
		logger:       logger,
	}, nil
}

func (s *checkoutService) Quote(ctx context.Context, cfg Configuration) Quote {
	return s.pricing.Quote(ctx, prepareConfiguration(cfg))
}

// CreateCharge validates cfg, recomputes the quote and opens a payment intent for it.
func (s *checkoutService) CreateCharge(ctx context.Context, cmd CreateChargeCommand) (ChargeResult, error) {
	cfg := prepareConfiguration(cmd.Configuration)
	if email := strings.TrimSpace(cmd.Email); email != "" {
		cfg.Contact.Email = email
	}
	if err := s.authorise(ctx, &cfg); err != nil {
		return ChargeResult{}, err
	}

	quote := s.pricing.Quote(ctx, cfg)
	if quote.TotalMinor <= 0 {
		return ChargeResult{}, fmt.Errorf("%w: empty quote", ErrCheckoutInvalidInput)
	}

	fingerprint := configurationFingerprint(cfg)
	reference := s.referenceGen()
	intent, err := s.payments.CreateIntent(ctx, s.paymentContext(quote.Currency), payments.IntentRequest{
		Amount:         quote.TotalMinor,
		Currency:       quote.Currency,
		ReceiptEmail:   cfg.Contact.Email,
		Description:    describeListing(cfg.Listing),
		Metadata:       chargeMetadata(cfg, reference),
		IdempotencyKey: deriveIdempotencyKey("create", cmd.IdempotencyKey, fingerprint),
	})
	if err != nil {
		s.logger(ctx, "checkout.intent.create_failed", map[string]any{
			"reference": reference,
			"error":     err,
		})
		return ChargeResult{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}

	now := s.now()
	record := domain.ChargeRecord{
		ID:          intent.ID,
		Reference:   reference,
		Provider:    intent.Provider,
		AmountMinor: quote.TotalMinor,
		Currency:    quote.Currency,
		LineItems:   quote.LineItems,
		Email:       cfg.Contact.Email,
		Listing:     domain.SnapshotListing(cfg.Listing),
		Addons:      cfg.Addons,
		Status:      chargeStatus(intent.Status),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.charges.Insert(ctx, record); err != nil {
		if !repositories.IsConflict(err) {
			return ChargeResult{}, s.translateRepositoryError(ctx, "checkout.charge.insert_failed", err)
		}
		// The provider replayed an idempotent create; keep the first record.
		existing, findErr := s.charges.FindByID(ctx, intent.ID)
		if findErr != nil {
			return ChargeResult{}, s.translateRepositoryError(ctx, "checkout.charge.insert_failed", findErr)
		}
		record = existing
	}

	s.logger(ctx, "checkout.charge.created", map[string]any{
		"chargeID":  record.ID,
		"reference": record.Reference,
		"amount":    record.AmountMinor,
		"currency":  record.Currency,
		"lines":     strings.Join(quote.Codes(), ","),
	})

	result := resultFromRecord(record)
	result.ClientSecret = intent.ClientSecret
	return result, nil
}

// UpdateCharge re-prices an open charge after add-ons changed on the payment step.
func (s *checkoutService) UpdateCharge(ctx context.Context, cmd UpdateChargeCommand) (ChargeResult, error) {
	chargeID := strings.TrimSpace(cmd.ChargeID)
	if chargeID == "" {
		return ChargeResult{}, fmt.Errorf("%w: charge id is required", ErrCheckoutInvalidInput)
	}
	record, err := s.charges.FindByID(ctx, chargeID)
	if err != nil {
		return ChargeResult{}, s.translateRepositoryError(ctx, "checkout.charge.lookup_failed", err)
	}
	if record.Status.Terminal() {
		return ChargeResult{}, ErrCheckoutChargeClosed
	}

	cfg := prepareConfiguration(cmd.Configuration)
	if strings.TrimSpace(cfg.Contact.Email) == "" {
		cfg.Contact.Email = record.Email
	}
	if err := s.authorise(ctx, &cfg); err != nil {
		return ChargeResult{}, err
	}

	quote := s.pricing.Quote(ctx, cfg)
	details, err := s.payments.UpdateIntent(ctx, s.paymentContextFor(record), payments.UpdateIntentRequest{
		IntentID:       record.ID,
		Amount:         quote.TotalMinor,
		Metadata:       chargeMetadata(cfg, record.Reference),
		IdempotencyKey: deriveIdempotencyKey("update:"+record.ID, cmd.IdempotencyKey, configurationFingerprint(cfg)),
	})
	if err != nil {
		if errors.Is(err, payments.ErrIntentNotFound) {
			return ChargeResult{}, ErrCheckoutChargeNotFound
		}
		s.logger(ctx, "checkout.intent.update_failed", map[string]any{
			"chargeID": record.ID,
			"error":    err,
		})
		return ChargeResult{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}

	previous := record.AmountMinor
	record.AmountMinor = quote.TotalMinor
	record.Currency = quote.Currency
	record.LineItems = quote.LineItems
	record.Email = cfg.Contact.Email
	record.Listing = domain.SnapshotListing(cfg.Listing)
	record.Addons = cfg.Addons
	if details.Status != "" {
		record.Status = chargeStatus(details.Status)
	}
	record.UpdatedAt = s.now()
	if err := s.charges.Update(ctx, record); err != nil {
		return ChargeResult{}, s.translateRepositoryError(ctx, "checkout.charge.update_failed", err)
	}

	s.logger(ctx, "checkout.charge.updated", map[string]any{
		"chargeID": record.ID,
		"previous": previous,
		"amount":   record.AmountMinor,
	})
	return resultFromRecord(record), nil
}

// ConfirmCharge reads the provider status after the client completed payment and records it.
func (s *checkoutService) ConfirmCharge(ctx context.Context, cmd ConfirmChargeCommand) (ConfirmResult, error) {
	chargeID := strings.TrimSpace(cmd.ChargeID)
	if chargeID == "" {
		return ConfirmResult{}, fmt.Errorf("%w: charge id is required", ErrCheckoutInvalidInput)
	}
	record, err := s.charges.FindByID(ctx, chargeID)
	if err != nil {
		return ConfirmResult{}, s.translateRepositoryError(ctx, "checkout.charge.lookup_failed", err)
	}

	details, err := s.payments.LookupPayment(ctx, s.paymentContextFor(record), payments.LookupRequest{IntentID: record.ID})
	if err != nil {
		if errors.Is(err, payments.ErrIntentNotFound) {
			return ConfirmResult{}, ErrCheckoutChargeNotFound
		}
		s.logger(ctx, "checkout.intent.lookup_failed", map[string]any{
			"chargeID": record.ID,
			"error":    err,
		})
		return ConfirmResult{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}

	status := chargeStatus(details.Status)
	if status != record.Status || details.FailureMessage != record.FailureNote {
		record.Status = status
		record.FailureNote = details.FailureMessage
		record.UpdatedAt = s.now()
		if err := s.charges.Update(ctx, record); err != nil {
			return ConfirmResult{}, s.translateRepositoryError(ctx, "checkout.charge.update_failed", err)
		}
	}

	s.logger(ctx, "checkout.charge.confirmed", map[string]any{
		"chargeID":  record.ID,
		"reference": record.Reference,
		"status":    string(status),
	})
	return ConfirmResult{
		Status:    status,
		Reason:    details.FailureMessage,
		Reference: record.Reference,
	}, nil
}

// authorise runs the listing and payment gates and, when a verifier is wired, replaces the
// client's verification claim with the server's record.
func (s *checkoutService) authorise(ctx context.Context, cfg *Configuration) error {
	serverVerified := s.verification != nil
	if serverVerified {
		cfg.Verification.OTPVerified = true
	}
	if result := ValidateForCharge(*cfg); !result.OK {
		return &CheckoutValidationError{Fields: result.FieldErrors}
	}
	if !serverVerified || !cfg.RequiresVerifiedPhone() {
		return nil
	}

	verified, err := s.verification.IsPhoneVerified(ctx, cfg.Contact.Phone)
	if err != nil {
		s.logger(ctx, "checkout.verification.lookup_failed", map[string]any{"error": err})
		return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	if !verified {
		cfg.Verification.OTPVerified = false
		return ErrCheckoutVerificationRequired
	}
	return nil
}

func (s *checkoutService) paymentContext(currency string) payments.PaymentContext {
	return payments.PaymentContext{PreferredProvider: s.provider, Currency: currency}
}

func (s *checkoutService) paymentContextFor(record domain.ChargeRecord) payments.PaymentContext {
	provider := record.Provider
	if provider == "" {
		provider = s.provider
	}
	return payments.PaymentContext{PreferredProvider: provider, Currency: record.Currency}
}

func (s *checkoutService) translateRepositoryError(ctx context.Context, event string, err error) error {
	switch {
	case repositories.IsNotFound(err):
		return ErrCheckoutChargeNotFound
	case repositories.IsConflict(err):
		return ErrCheckoutChargeClosed
	}
	s.logger(ctx, event, map[string]any{"error": err})
	return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
}

// prepareConfiguration re-normalizes client supplied values before pricing.
func prepareConfiguration(cfg Configuration) Configuration {
	out := cfg.Clone()
	out.Listing.VIN = fields.NormalizeVIN(out.Listing.VIN)
	out.Contact.Phone = fields.NormalizePhone(out.Contact.Phone)
	out.Contact.Email = strings.TrimSpace(out.Contact.Email)
	out.LastQuote = nil
	out.Charge = nil
	return ApplyEligibility(out)
}

func chargeMetadata(cfg Configuration, reference string) map[string]string {
	meta := map[string]string{
		"reference":     reference,
		"listing_vin":   cfg.Listing.VIN,
		"listing_model": strings.TrimSpace(cfg.Listing.Model),
		"listing_year":  strings.TrimSpace(cfg.Listing.Year),
		"listing_zip":   strings.TrimSpace(cfg.Listing.ZIP),
		"listing_state": strings.TrimSpace(cfg.Listing.State),
		"buyer_email":   cfg.Contact.Email,
		"addons":        addonSummary(cfg.Addons),
	}
	if summary := fields.TruncateRunes(fields.SanitizeSummary(cfg.Listing.Summary), maxMetadataSummary); summary != "" {
		meta["listing_summary"] = summary
	}
	for k, v := range meta {
		if v == "" {
			delete(meta, k)
		}
	}
	return meta
}

func addonSummary(a domain.Addons) string {
	parts := []string{}
	if a.HistoryReport.Selected() {
		parts = append(parts, "history_report:"+string(a.HistoryReport))
	}
	if a.Video {
		parts = append(parts, LineVideo)
	}
	if a.MarketplacePosting {
		parts = append(parts, LineMarketplace)
	}
	if a.GroupPostingCount > 0 {
		parts = append(parts, fmt.Sprintf("%s:%d", LineGroupPosting, a.GroupPostingCount))
	}
	if a.SMSNotifications {
		parts = append(parts, LineSMS)
	}
	if a.CashOffer {
		parts = append(parts, "cash_offer")
	}
	return strings.Join(parts, ",")
}

func describeListing(l domain.Listing) string {
	desc := strings.TrimSpace(strings.Join([]string{strings.TrimSpace(l.Year), strings.TrimSpace(l.Model)}, " "))
	if desc == "" {
		return "Listing"
	}
	return "Listing: " + desc
}

// configurationFingerprint hashes the priced inputs so identical retries share a provider key.
func configurationFingerprint(cfg Configuration) string {
	payload, _ := json.Marshal(struct {
		Listing domain.Listing `json:"listing"`
		Addons  domain.Addons  `json:"addons"`
		Email   string         `json:"email"`
	}{cfg.Listing, cfg.Addons, cfg.Contact.Email})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func deriveIdempotencyKey(op, clientKey, fingerprint string) string {
	base := op + "|" + strings.TrimSpace(clientKey) + "|" + fingerprint
	sum := sha256.Sum256([]byte(base))
	return "checkout_" + hex.EncodeToString(sum[:16])
}

func chargeStatus(status payments.Status) domain.ChargeStatus {
	switch status {
	case payments.StatusSucceeded:
		return domain.ChargeStatusSucceeded
	case payments.StatusProcessing:
		return domain.ChargeStatusProcessing
	case payments.StatusRequiresAction:
		return domain.ChargeStatusRequiresAction
	case payments.StatusFailed:
		return domain.ChargeStatusFailed
	default:
		return domain.ChargeStatusPending
	}
}

func resultFromRecord(record domain.ChargeRecord) ChargeResult {
	return ChargeResult{
		ChargeID:    record.ID,
		Provider:    record.Provider,
		Reference:   record.Reference,
		AmountMinor: record.AmountMinor,
		Currency:    record.Currency,
		LineItems:   append([]domain.LineItem(nil), record.LineItems...),
		Status:      record.Status,
	}
}
