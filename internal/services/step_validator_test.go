package services

import (
	"reflect"
	"strings"
	"testing"

	"github.com/onlyusedtesla/checkout/internal/domain"
	"github.com/onlyusedtesla/checkout/internal/fields"
)

func validListingConfiguration() domain.Configuration {
	cfg := domain.NewConfiguration()
	cfg.Step = domain.StepListingDetails
	cfg.Listing = domain.Listing{
		VIN:     testVIN,
		Model:   "Model 3",
		Year:    "2019",
		Price:   "31500",
		ZIP:     "94107",
		State:   "CA",
		Summary: strings.Repeat("a", domain.MinSummaryLength),
	}
	cfg.Contact.Email = "seller@example.com"
	return cfg
}

func TestApplyEligibility(t *testing.T) {
	cfg := domain.NewConfiguration()
	cfg.Listing.VIN = "5YJ3E1"
	cfg.Addons.HistoryReport = domain.HistoryReportAutoCheck
	cfg.Addons.GroupPostingCount = 9

	once := ApplyEligibility(cfg)
	if once.Addons.HistoryReport != domain.HistoryReportNone {
		t.Fatalf("expected report reverted to none, got %s", once.Addons.HistoryReport)
	}
	if once.Addons.GroupPostingCount != domain.MaxGroupPostings {
		t.Fatalf("expected clamp, got %d", once.Addons.GroupPostingCount)
	}
	if twice := ApplyEligibility(once); !reflect.DeepEqual(once, twice) {
		t.Fatalf("expected idempotent result, got %+v then %+v", once, twice)
	}
	if cfg.Addons.HistoryReport != domain.HistoryReportAutoCheck {
		t.Fatalf("input must not be modified")
	}

	cfg.Listing.VIN = testVIN
	kept := ApplyEligibility(cfg)
	if kept.Addons.HistoryReport != domain.HistoryReportAutoCheck {
		t.Fatalf("expected report kept for valid vin, got %s", kept.Addons.HistoryReport)
	}
}

func TestApplyEligibility_LeavesVerificationGatingAlone(t *testing.T) {
	cfg := domain.NewConfiguration()
	cfg.Contact.NotificationChannel = domain.ChannelText
	cfg.Addons.SMSNotifications = true

	out := ApplyEligibility(cfg)
	if out.Contact.NotificationChannel != domain.ChannelText || !out.Addons.SMSNotifications {
		t.Fatalf("verification gating must not be auto-corrected, got %+v", out)
	}
}

func TestEligibilityChanges(t *testing.T) {
	cfg := domain.NewConfiguration()
	cfg.Addons.HistoryReport = domain.HistoryReportCarfax
	if got := EligibilityChanges(cfg); !reflect.DeepEqual(got, []string{LineHistoryReport}) {
		t.Fatalf("unexpected changes %v", got)
	}
	if got := EligibilityChanges(domain.NewConfiguration()); len(got) != 0 {
		t.Fatalf("expected no changes, got %v", got)
	}
}

func TestValidateStep_ListingPasses(t *testing.T) {
	cfg := validListingConfiguration()
	before := cfg.Clone()

	result := ValidateStep(domain.StepListingDetails, cfg)
	if !result.OK {
		t.Fatalf("expected listing to pass, got %v", result.FieldErrors)
	}
	if !reflect.DeepEqual(before, cfg) {
		t.Fatalf("validation must not mutate configuration")
	}
}

func TestValidateStep_VINMessages(t *testing.T) {
	cases := map[string]string{
		"":                  MsgVINEmpty,
		"5YJ3E1EB":          MsgVINLength,
		"5YJ3E1EB4KF12345Q": MsgVINAlphabet,
	}
	for vin, want := range cases {
		cfg := validListingConfiguration()
		cfg.Listing.VIN = vin
		result := ValidateStep(domain.StepListingDetails, cfg)
		if result.OK {
			t.Fatalf("vin %q: expected failure", vin)
		}
		if got := result.Error(fields.VIN); got != want {
			t.Fatalf("vin %q: expected %q, got %q", vin, want, got)
		}
	}
}

func TestValidateStep_RequiredListingFields(t *testing.T) {
	cfg := validListingConfiguration()
	cfg.Listing.Model = " "
	cfg.Listing.Year = ""
	cfg.Listing.Price = "0"
	cfg.Listing.ZIP = "9410"
	cfg.Listing.State = ""

	result := ValidateStep(domain.StepListingDetails, cfg)
	want := map[fields.FieldID]string{
		fields.Model: MsgModelRequired,
		fields.Year:  MsgYearRequired,
		fields.Price: MsgPriceRequired,
		fields.ZIP:   MsgZIPInvalid,
		fields.State: MsgStateRequired,
	}
	if !reflect.DeepEqual(result.FieldErrors, want) {
		t.Fatalf("unexpected errors %v", result.FieldErrors)
	}

	for _, price := range []string{"", "abc", "-5"} {
		cfg := validListingConfiguration()
		cfg.Listing.Price = price
		if ValidateStep(domain.StepListingDetails, cfg).OK {
			t.Fatalf("price %q should fail", price)
		}
	}
	cfg = validListingConfiguration()
	cfg.Listing.Price = "$31,500"
	if !ValidateStep(domain.StepListingDetails, cfg).OK {
		t.Fatalf("formatted price should pass")
	}
}

func TestValidateStep_SummaryBounds(t *testing.T) {
	cases := []struct {
		name    string
		summary string
		want    string
	}{
		{"49 trimmed", "  " + strings.Repeat("a", 49) + "   ", MsgSummaryShort},
		{"exactly 50", strings.Repeat("a", 50), ""},
		{"500 raw", strings.Repeat("a", 500), ""},
		{"501 raw", strings.Repeat("a", 60) + strings.Repeat(" ", 441), MsgSummaryLong},
	}
	for _, tc := range cases {
		cfg := validListingConfiguration()
		cfg.Listing.Summary = tc.summary
		result := ValidateStep(domain.StepListingDetails, cfg)
		if got := result.Error(fields.Summary); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestValidateStep_PaymentEmail(t *testing.T) {
	cfg := validListingConfiguration()
	cfg.Contact.Email = "nope@"
	result := ValidateStep(domain.StepPayment, cfg)
	if result.OK || result.Error(fields.Email) != MsgEmailInvalid {
		t.Fatalf("expected email error, got %v", result.FieldErrors)
	}
}

func TestValidateStep_TextChannelNeedsVerification(t *testing.T) {
	for _, sms := range []bool{false, true} {
		cfg := validListingConfiguration()
		cfg.Contact.Phone = "5550102030"
		cfg.Contact.NotificationChannel = domain.ChannelText
		cfg.Addons.SMSNotifications = sms

		result := ValidateStep(domain.StepPayment, cfg)
		if result.OK {
			t.Fatalf("sms=%v: expected submission blocked while unverified", sms)
		}
		if result.Error(fields.NotificationChannel) != MsgChannelUnverified {
			t.Fatalf("sms=%v: expected channel error, got %v", sms, result.FieldErrors)
		}

		cfg.Verification.OTPVerified = true
		if result := ValidateStep(domain.StepPayment, cfg); !result.OK {
			t.Fatalf("sms=%v: expected pass once verified, got %v", sms, result.FieldErrors)
		}
	}
}

func TestValidateStep_SMSNeedsValidVerifiedPhone(t *testing.T) {
	cfg := validListingConfiguration()
	cfg.Addons.SMSNotifications = true
	cfg.Contact.Phone = "555010"

	result := ValidateStep(domain.StepPayment, cfg)
	if result.Error(fields.Phone) != MsgPhoneInvalid {
		t.Fatalf("expected phone error, got %v", result.FieldErrors)
	}

	cfg.Contact.Phone = "5550102030"
	result = ValidateStep(domain.StepPayment, cfg)
	if result.Error(fields.SMSNotifications) != MsgSMSUnverified {
		t.Fatalf("expected verification error, got %v", result.FieldErrors)
	}

	cfg.Verification.OTPVerified = true
	if result := ValidateStep(domain.StepPayment, cfg); !result.OK {
		t.Fatalf("expected pass, got %v", result.FieldErrors)
	}
}

func TestValidateStep_UngatedSteps(t *testing.T) {
	cfg := domain.NewConfiguration()
	for _, step := range []domain.Step{domain.StepListingType, domain.StepAddons, domain.StepSubmitted} {
		if result := ValidateStep(step, cfg); !result.OK {
			t.Fatalf("step %d should always pass, got %v", step, result.FieldErrors)
		}
	}
	if ValidateForCharge(cfg).OK {
		t.Fatalf("empty configuration must not be chargeable")
	}
}
