package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/onlyusedtesla/checkout/internal/domain"
	"github.com/onlyusedtesla/checkout/internal/fields"
	"github.com/onlyusedtesla/checkout/internal/payments"
	"github.com/onlyusedtesla/checkout/internal/repositories/memory"
)

type stubGateway struct {
	createReq  payments.IntentRequest
	createCtx  payments.PaymentContext
	updateReq  payments.UpdateIntentRequest
	lookupReq  payments.LookupRequest
	intent     payments.Intent
	details    payments.PaymentDetails
	createErr  error
	updateErr  error
	lookupErr  error
	createCall int
}

func (s *stubGateway) CreateIntent(_ context.Context, paymentCtx payments.PaymentContext, req payments.IntentRequest) (payments.Intent, error) {
	s.createCall++
	s.createCtx = paymentCtx
	s.createReq = req
	if s.createErr != nil {
		return payments.Intent{}, s.createErr
	}
	intent := s.intent
	intent.Amount = req.Amount
	return intent, nil
}

func (s *stubGateway) UpdateIntent(_ context.Context, _ payments.PaymentContext, req payments.UpdateIntentRequest) (payments.PaymentDetails, error) {
	s.updateReq = req
	if s.updateErr != nil {
		return payments.PaymentDetails{}, s.updateErr
	}
	return payments.PaymentDetails{IntentID: req.IntentID, Amount: req.Amount, Status: payments.StatusPending}, nil
}

func (s *stubGateway) LookupPayment(_ context.Context, _ payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error) {
	s.lookupReq = req
	return s.details, s.lookupErr
}

type stubPhoneVerifier struct {
	verified bool
	err      error
	phone    string
}

func (s *stubPhoneVerifier) IsPhoneVerified(_ context.Context, phone string) (bool, error) {
	s.phone = phone
	return s.verified, s.err
}

func chargeableConfiguration() domain.Configuration {
	cfg := fullConfiguration()
	cfg.Step = domain.StepPayment
	cfg.Listing.Model = "Model 3"
	cfg.Listing.Year = "2019"
	cfg.Listing.Price = "31,500"
	cfg.Listing.ZIP = "94110"
	cfg.Listing.State = "CA"
	cfg.Listing.Summary = "Single owner, garage kept, <b>new tires</b> and a clean title with service records."
	cfg.Contact.Email = "seller@example.com"
	cfg.Contact.Phone = "4155550100"
	cfg.Verification.OTPVerified = true
	return cfg
}

func newTestCheckoutService(t *testing.T, gateway *stubGateway, verifier phoneVerifier) (CheckoutService, *memory.ChargeRepository) {
	t.Helper()
	charges := memory.NewChargeRepository()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	deps := CheckoutServiceDeps{
		Pricing:      MustDefaultPricingEngine(),
		Payments:     gateway,
		Charges:      charges,
		Provider:     "stripe",
		Clock:        func() time.Time { return now },
		ReferenceGen: func() string { return "OUT-TEST1" },
	}
	if verifier != nil {
		deps.Verification = verifier
	}
	svc, err := NewCheckoutService(deps)
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	return svc, charges
}

func TestCheckoutServiceCreateChargeRecomputesAmount(t *testing.T) {
	gateway := &stubGateway{intent: payments.Intent{ID: "pi_1", Provider: "stripe", ClientSecret: "pi_1_secret_x", Status: payments.StatusPending}}
	svc, charges := newTestCheckoutService(t, gateway, nil)

	cfg := chargeableConfiguration()
	cfg.LastQuote = &domain.Quote{TotalMinor: 100}

	result, err := svc.CreateCharge(context.Background(), CreateChargeCommand{Configuration: cfg, IdempotencyKey: "client-key"})
	if err != nil {
		t.Fatalf("CreateCharge: %v", err)
	}
	if result.AmountMinor != 9200 || gateway.createReq.Amount != 9200 {
		t.Fatalf("expected server amount 9200, got result %d intent %d", result.AmountMinor, gateway.createReq.Amount)
	}
	if result.ClientSecret != "pi_1_secret_x" || result.Reference != "OUT-TEST1" {
		t.Fatalf("unexpected result %+v", result)
	}
	if gateway.createCtx.PreferredProvider != "stripe" {
		t.Fatalf("expected configured provider, got %q", gateway.createCtx.PreferredProvider)
	}

	meta := gateway.createReq.Metadata
	if meta["listing_vin"] != testVIN || meta["buyer_email"] != "seller@example.com" || meta["reference"] != "OUT-TEST1" {
		t.Fatalf("unexpected metadata %v", meta)
	}
	if meta["addons"] != "history_report:carfax,video,group_posting:2,sms" {
		t.Fatalf("unexpected addons metadata %q", meta["addons"])
	}
	if strings.Contains(meta["listing_summary"], "<b>") {
		t.Fatalf("expected sanitized summary, got %q", meta["listing_summary"])
	}
	if !strings.HasPrefix(gateway.createReq.IdempotencyKey, "checkout_") {
		t.Fatalf("expected derived idempotency key, got %q", gateway.createReq.IdempotencyKey)
	}

	record, err := charges.FindByID(context.Background(), "pi_1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if record.AmountMinor != 9200 || record.Listing.VIN != testVIN || len(record.LineItems) != 5 {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestCheckoutServiceCreateChargeRejectsInvalidConfiguration(t *testing.T) {
	gateway := &stubGateway{}
	svc, _ := newTestCheckoutService(t, gateway, nil)

	cfg := chargeableConfiguration()
	cfg.Listing.ZIP = "941"
	cfg.Contact.Email = "nope"

	_, err := svc.CreateCharge(context.Background(), CreateChargeCommand{Configuration: cfg})
	if !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput, got %v", err)
	}
	var validation *CheckoutValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected CheckoutValidationError, got %T", err)
	}
	if validation.Fields[fields.ZIP] != MsgZIPInvalid || validation.Fields[fields.Email] != MsgEmailInvalid {
		t.Fatalf("unexpected field errors %v", validation.Fields)
	}
	if gateway.createCall != 0 {
		t.Fatalf("payment provider must not be called for invalid input")
	}
}

func TestCheckoutServiceCreateChargeRequiresServerVerification(t *testing.T) {
	gateway := &stubGateway{intent: payments.Intent{ID: "pi_2"}}
	verifier := &stubPhoneVerifier{verified: false}
	svc, _ := newTestCheckoutService(t, gateway, verifier)

	_, err := svc.CreateCharge(context.Background(), CreateChargeCommand{Configuration: chargeableConfiguration()})
	if !errors.Is(err, ErrCheckoutVerificationRequired) {
		t.Fatalf("expected ErrCheckoutVerificationRequired, got %v", err)
	}
	if verifier.phone != "4155550100" {
		t.Fatalf("expected phone lookup, got %q", verifier.phone)
	}

	verifier.verified = true
	cfg := chargeableConfiguration()
	cfg.Verification.OTPVerified = false
	if _, err := svc.CreateCharge(context.Background(), CreateChargeCommand{Configuration: cfg}); err != nil {
		t.Fatalf("expected server verification to override client flag, got %v", err)
	}
}

func TestCheckoutServiceCreateChargeEmailOverride(t *testing.T) {
	gateway := &stubGateway{intent: payments.Intent{ID: "pi_3"}}
	svc, _ := newTestCheckoutService(t, gateway, nil)

	cfg := chargeableConfiguration()
	cfg.Contact.Email = ""
	if _, err := svc.CreateCharge(context.Background(), CreateChargeCommand{Configuration: cfg, Email: "buyer@example.com"}); err != nil {
		t.Fatalf("CreateCharge: %v", err)
	}
	if gateway.createReq.ReceiptEmail != "buyer@example.com" {
		t.Fatalf("expected receipt email override, got %q", gateway.createReq.ReceiptEmail)
	}
}

func TestCheckoutServiceCreateChargeProviderFailure(t *testing.T) {
	gateway := &stubGateway{createErr: errors.New("stripe down")}
	svc, _ := newTestCheckoutService(t, gateway, nil)

	_, err := svc.CreateCharge(context.Background(), CreateChargeCommand{Configuration: chargeableConfiguration()})
	if !errors.Is(err, ErrCheckoutUnavailable) {
		t.Fatalf("expected ErrCheckoutUnavailable, got %v", err)
	}
}

func TestCheckoutServiceCreateChargeReplayKeepsFirstRecord(t *testing.T) {
	gateway := &stubGateway{intent: payments.Intent{ID: "pi_same"}}
	charges := memory.NewChargeRepository()
	refs := []string{"OUT-FIRST", "OUT-SECOND"}
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Pricing:  MustDefaultPricingEngine(),
		Payments: gateway,
		Charges:  charges,
		ReferenceGen: func() string {
			ref := refs[0]
			refs = refs[1:]
			return ref
		},
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}

	first, err := svc.CreateCharge(context.Background(), CreateChargeCommand{Configuration: chargeableConfiguration()})
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := svc.CreateCharge(context.Background(), CreateChargeCommand{Configuration: chargeableConfiguration()})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if first.Reference != "OUT-FIRST" || second.Reference != "OUT-FIRST" {
		t.Fatalf("expected replay to keep first reference, got %s and %s", first.Reference, second.Reference)
	}
}

func TestCheckoutServiceUpdateCharge(t *testing.T) {
	gateway := &stubGateway{intent: payments.Intent{ID: "pi_4", Provider: "stripe"}}
	svc, charges := newTestCheckoutService(t, gateway, nil)
	ctx := context.Background()

	cfg := chargeableConfiguration()
	if _, err := svc.CreateCharge(ctx, CreateChargeCommand{Configuration: cfg}); err != nil {
		t.Fatalf("CreateCharge: %v", err)
	}

	cfg.Addons.Video = false
	cfg.Addons.MarketplacePosting = true
	result, err := svc.UpdateCharge(ctx, UpdateChargeCommand{ChargeID: "pi_4", Configuration: cfg})
	if err != nil {
		t.Fatalf("UpdateCharge: %v", err)
	}
	if result.AmountMinor != 8700 || gateway.updateReq.Amount != 8700 || gateway.updateReq.IntentID != "pi_4" {
		t.Fatalf("unexpected update amount %d / %+v", result.AmountMinor, gateway.updateReq)
	}
	if gateway.updateReq.Metadata["reference"] != "OUT-TEST1" {
		t.Fatalf("expected reference kept in metadata, got %v", gateway.updateReq.Metadata)
	}
	record, _ := charges.FindByID(ctx, "pi_4")
	if record.AmountMinor != 8700 || !record.Addons.MarketplacePosting {
		t.Fatalf("expected record updated, got %+v", record)
	}

	if _, err := svc.UpdateCharge(ctx, UpdateChargeCommand{ChargeID: "pi_missing", Configuration: cfg}); !errors.Is(err, ErrCheckoutChargeNotFound) {
		t.Fatalf("expected ErrCheckoutChargeNotFound, got %v", err)
	}

	record.Status = domain.ChargeStatusSucceeded
	if err := charges.Update(ctx, record); err != nil {
		t.Fatalf("seed status: %v", err)
	}
	if _, err := svc.UpdateCharge(ctx, UpdateChargeCommand{ChargeID: "pi_4", Configuration: cfg}); !errors.Is(err, ErrCheckoutChargeClosed) {
		t.Fatalf("expected ErrCheckoutChargeClosed, got %v", err)
	}
}

func TestCheckoutServiceConfirmCharge(t *testing.T) {
	gateway := &stubGateway{intent: payments.Intent{ID: "pi_5", Provider: "stripe"}}
	svc, charges := newTestCheckoutService(t, gateway, nil)
	ctx := context.Background()

	if _, err := svc.CreateCharge(ctx, CreateChargeCommand{Configuration: chargeableConfiguration()}); err != nil {
		t.Fatalf("CreateCharge: %v", err)
	}

	gateway.details = payments.PaymentDetails{Status: payments.StatusFailed, FailureMessage: "Your card was declined."}
	result, err := svc.ConfirmCharge(ctx, ConfirmChargeCommand{ChargeID: "pi_5"})
	if err != nil {
		t.Fatalf("ConfirmCharge: %v", err)
	}
	if result.Status != domain.ChargeStatusFailed || result.Reason != "Your card was declined." || result.Reference != "OUT-TEST1" {
		t.Fatalf("unexpected confirm result %+v", result)
	}
	if gateway.lookupReq.IntentID != "pi_5" {
		t.Fatalf("expected lookup of pi_5, got %q", gateway.lookupReq.IntentID)
	}

	gateway.details = payments.PaymentDetails{Status: payments.StatusSucceeded}
	result, err = svc.ConfirmCharge(ctx, ConfirmChargeCommand{ChargeID: "pi_5"})
	if err != nil || result.Status != domain.ChargeStatusSucceeded {
		t.Fatalf("expected succeeded, got %+v %v", result, err)
	}
	record, _ := charges.FindByID(ctx, "pi_5")
	if record.Status != domain.ChargeStatusSucceeded || record.FailureNote != "" {
		t.Fatalf("expected persisted status, got %+v", record)
	}

	if _, err := svc.ConfirmCharge(ctx, ConfirmChargeCommand{ChargeID: ""}); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput, got %v", err)
	}
}

func TestCheckoutServiceQuoteAppliesEligibility(t *testing.T) {
	svc, _ := newTestCheckoutService(t, &stubGateway{}, nil)

	cfg := fullConfiguration()
	cfg.Listing.VIN = "5YJ3E1EB4KF12345"
	quote := svc.Quote(context.Background(), cfg)

	for _, code := range quote.Codes() {
		if code == LineHistoryReport {
			t.Fatalf("history report must not be priced without a valid VIN")
		}
	}
	if quote.TotalMinor != 7200 {
		t.Fatalf("expected 7200, got %d", quote.TotalMinor)
	}
}

func TestNewCheckoutServiceRequiresDependencies(t *testing.T) {
	if _, err := NewCheckoutService(CheckoutServiceDeps{}); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}
