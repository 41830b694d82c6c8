package wizard

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/onlyusedtesla/checkout/internal/domain"
)

// PaymentCollaborator obtains server-priced charges and confirms them. Implementations
// must recompute the amount from the configuration; the wizard never sends one.
type PaymentCollaborator interface {
	CreateCharge(ctx context.Context, cfg domain.Configuration, email string) (domain.ChargeHandle, error)
	UpdateCharge(ctx context.Context, token string, cfg domain.Configuration) (domain.ChargeHandle, error)
	ConfirmCharge(ctx context.Context, clientHandle string) (ChargeOutcome, error)
}

// ChargeOutcome is the collaborator's view of a charge after confirmation.
type ChargeOutcome struct {
	Status    domain.ChargeStatus
	Reason    string
	Reference string
}

// Pending identifies a code sent to a phone.
type Pending struct {
	ID        string
	ExpiresAt time.Time
}

// Verifier sends and checks one-time codes for the seller's phone.
type Verifier interface {
	Send(ctx context.Context, phone string) (Pending, error)
	Verify(ctx context.Context, pendingID, phone, code string) (bool, error)
}

// ResolutionKind tags how a payment attempt ended.
type ResolutionKind int

const (
	ResolutionConfirmed ResolutionKind = iota + 1
	ResolutionProcessing
	ResolutionRequiresAction
	ResolutionFailed
	// ResolutionRedirect is the return leg of a redirect-based payment method. It is
	// advisory: the server record stays the proof of payment.
	ResolutionRedirect
	// ResolutionSimulated is used only when no payment collaborator is configured.
	ResolutionSimulated
)

func (k ResolutionKind) String() string {
	switch k {
	case ResolutionConfirmed:
		return "confirmed"
	case ResolutionProcessing:
		return "processing"
	case ResolutionRequiresAction:
		return "requires_action"
	case ResolutionFailed:
		return "failed"
	case ResolutionRedirect:
		return "redirect"
	case ResolutionSimulated:
		return "simulated"
	default:
		return "unknown"
	}
}

// Submits reports whether the resolution moves the order to StepSubmitted.
func (k ResolutionKind) Submits() bool {
	switch k {
	case ResolutionConfirmed, ResolutionProcessing, ResolutionRedirect, ResolutionSimulated:
		return true
	}
	return false
}

// PaymentResolution is the single input of Controller.Resolve.
type PaymentResolution struct {
	Kind      ResolutionKind
	Reason    string
	Reference string
}

// ResolutionFromOutcome maps a synchronous confirmation onto a resolution. A charge that is
// still pending after confirmation needs more steps from the payer.
func ResolutionFromOutcome(outcome ChargeOutcome) PaymentResolution {
	res := PaymentResolution{Reason: strings.TrimSpace(outcome.Reason), Reference: strings.TrimSpace(outcome.Reference)}
	switch outcome.Status {
	case domain.ChargeStatusSucceeded:
		res.Kind = ResolutionConfirmed
	case domain.ChargeStatusProcessing:
		res.Kind = ResolutionProcessing
	case domain.ChargeStatusFailed:
		res.Kind = ResolutionFailed
	default:
		res.Kind = ResolutionRequiresAction
	}
	return res
}

// Resume describes how the wizard was opened.
type Resume struct {
	// Redirect is set when the payer came back from a redirect-based payment method.
	Redirect bool
	// Failed is set when the provider reported the redirect payment as failed.
	Failed bool
	// ChargeToken is the payment intent id the provider appended, if any.
	ChargeToken string
}

// ResumeFromQuery parses the query string of the return URL. "success=1" marks a redirect
// success unless the provider reported redirect_status=failed.
func ResumeFromQuery(query string) Resume {
	values, err := url.ParseQuery(strings.TrimPrefix(strings.TrimSpace(query), "?"))
	if err != nil {
		return Resume{}
	}
	resume := Resume{ChargeToken: strings.TrimSpace(values.Get("payment_intent"))}
	status := strings.ToLower(strings.TrimSpace(values.Get("redirect_status")))
	switch {
	case status == "failed":
		resume.Failed = true
	case values.Get("success") == "1", status == "succeeded", status == "processing":
		resume.Redirect = true
	}
	return resume
}
