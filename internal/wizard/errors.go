package wizard

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/onlyusedtesla/checkout/internal/domain"
	"github.com/onlyusedtesla/checkout/internal/fields"
)

var (
	// ErrStepInvalid is returned when the current step fails its authoritative check.
	ErrStepInvalid = errors.New("wizard: step is not complete")
	// ErrPaymentRequired is returned by Next on the payment step; only Pay leaves it.
	ErrPaymentRequired = errors.New("wizard: payment is required to continue")
	// ErrActionInFlight is returned when the same action is already running.
	ErrActionInFlight = errors.New("wizard: action already in progress")
	// ErrStaleResponse is returned when a collaborator answered after the wizard moved on.
	ErrStaleResponse = errors.New("wizard: response arrived after the wizard moved on")
	// ErrNotOnPaymentStep is returned by payment actions on other steps.
	ErrNotOnPaymentStep = errors.New("wizard: not on the payment step")
	// ErrSubmitted is returned when editing an order that already reached the last step.
	ErrSubmitted = errors.New("wizard: order already submitted")
	// ErrVerificationUnavailable is returned when no verifier is configured.
	ErrVerificationUnavailable = errors.New("wizard: phone verification is not configured")
	// ErrNoPendingCode is returned by VerifyCode before a code was sent.
	ErrNoPendingCode = errors.New("wizard: no code has been sent")
	// ErrCollaborator wraps failures of the payment or verification service.
	ErrCollaborator = errors.New("wizard: service unavailable")
)

// Notices shown next to the payment and verification controls.
const (
	NoticeUpdateFailed       = "We couldn't update the total just now. Please try again."
	NoticeRequiresAction     = "Almost there — please follow any additional steps to complete payment."
	NoticePaymentFailed      = "Payment didn't go through. Please try again."
	NoticePaymentUnavailable = "We couldn't reach the payment service. Please try again."
	NoticeCodeSent           = "Code sent. Check your phone."
	NoticeCodeFailed         = "We couldn't send a code just now. Please try again."
	NoticeCodeMismatch       = "That code didn't match. Please try again."
	NoticeCodeUnchecked      = "We couldn't check that code just now. Please try again."
	NoticePhoneVerified      = "Phone verified."
)

// StepError carries the field errors that kept the wizard on Step.
type StepError struct {
	Step        domain.Step
	FieldErrors map[fields.FieldID]string
}

func (e *StepError) Error() string {
	ids := make([]string, 0, len(e.FieldErrors))
	for id := range e.FieldErrors {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	return fmt.Sprintf("%s: step %d: %s", ErrStepInvalid, e.Step, strings.Join(ids, ", "))
}

func (e *StepError) Unwrap() error { return ErrStepInvalid }
