package services

import (
	"strconv"
	"strings"

	"github.com/onlyusedtesla/checkout/internal/domain"
	"github.com/onlyusedtesla/checkout/internal/fields"
)

// Field error messages reported by ValidateStep.
const (
	MsgVINEmpty          = "Please enter your VIN (17 characters)."
	MsgVINLength         = "VINs are 17 characters — almost there."
	MsgVINAlphabet       = "That VIN doesn't look right. VINs don't use the letters I, O, or Q."
	MsgModelRequired     = "Please choose a model."
	MsgYearRequired      = "Please choose a year."
	MsgPriceRequired     = "Please add a price (numbers only)."
	MsgZIPInvalid        = "Please enter a valid ZIP code."
	MsgStateRequired     = "Please choose a state."
	MsgSummaryShort      = "Add a bit more detail — at least 50 characters."
	MsgSummaryLong       = "Please keep the summary under 500 characters."
	MsgEmailInvalid      = "Please enter a valid email address."
	MsgPhoneInvalid      = "Please enter a 10-digit mobile number."
	MsgSMSUnverified     = "Please verify your phone number to turn on text alerts."
	MsgChannelUnverified = "Please verify your phone number to get text updates."
)

const minZIPLength = 5

// ValidationResult reports whether a step may be left and why not.
type ValidationResult struct {
	OK          bool
	FieldErrors map[fields.FieldID]string
}

// Error returns the message for id, or "".
func (r ValidationResult) Error(id fields.FieldID) string {
	return r.FieldErrors[id]
}

// ValidateStep checks the gate for leaving step. Steps without rules always pass.
// It never modifies cfg.
func ValidateStep(step domain.Step, cfg domain.Configuration) ValidationResult {
	errs := make(map[fields.FieldID]string)
	switch step {
	case domain.StepListingDetails:
		validateListing(cfg.Listing, errs)
	case domain.StepPayment:
		validatePayment(cfg, errs)
	}
	return ValidationResult{OK: len(errs) == 0, FieldErrors: errs}
}

// ValidateForCharge runs every gate that must pass before a charge may be created.
func ValidateForCharge(cfg domain.Configuration) ValidationResult {
	errs := make(map[fields.FieldID]string)
	validateListing(cfg.Listing, errs)
	validatePayment(cfg, errs)
	return ValidationResult{OK: len(errs) == 0, FieldErrors: errs}
}

func validateListing(l domain.Listing, errs map[fields.FieldID]string) {
	vin := fields.NormalizeVIN(l.VIN)
	switch {
	case vin == "":
		errs[fields.VIN] = MsgVINEmpty
	case len(vin) != fields.VINLength:
		errs[fields.VIN] = MsgVINLength
	case !fields.IsVINValid(vin):
		errs[fields.VIN] = MsgVINAlphabet
	}

	if strings.TrimSpace(l.Model) == "" {
		errs[fields.Model] = MsgModelRequired
	}
	if strings.TrimSpace(l.Year) == "" {
		errs[fields.Year] = MsgYearRequired
	}
	if !positivePrice(l.Price) {
		errs[fields.Price] = MsgPriceRequired
	}
	if zip := strings.TrimSpace(l.ZIP); len(zip) < minZIPLength {
		errs[fields.ZIP] = MsgZIPInvalid
	}
	if strings.TrimSpace(l.State) == "" {
		errs[fields.State] = MsgStateRequired
	}

	switch {
	case fields.Length(strings.TrimSpace(l.Summary)) < domain.MinSummaryLength:
		errs[fields.Summary] = MsgSummaryShort
	case fields.Length(l.Summary) > domain.MaxSummaryLength:
		errs[fields.Summary] = MsgSummaryLong
	}
}

func validatePayment(cfg domain.Configuration, errs map[fields.FieldID]string) {
	if !fields.IsEmailValid(cfg.Contact.Email) {
		errs[fields.Email] = MsgEmailInvalid
	}
	if cfg.Addons.SMSNotifications {
		if !fields.IsPhoneValid(cfg.Contact.Phone) {
			errs[fields.Phone] = MsgPhoneInvalid
		} else if !cfg.Verification.OTPVerified {
			errs[fields.SMSNotifications] = MsgSMSUnverified
		}
	}
	if cfg.Contact.NotificationChannel.UsesText() && !cfg.Verification.OTPVerified {
		errs[fields.NotificationChannel] = MsgChannelUnverified
	}
}

func positivePrice(raw string) bool {
	cleaned := strings.NewReplacer(",", "", "$", "", " ", "").Replace(strings.TrimSpace(raw))
	if cleaned == "" {
		return false
	}
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return false
	}
	return value > 0
}
