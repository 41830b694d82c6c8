package wizard

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/onlyusedtesla/checkout/internal/domain"
	"github.com/onlyusedtesla/checkout/internal/services"
)

// EnterPayment prepares a charge when the wizard lands on the payment step. The charge is
// created only once the contact details would pass the server's checks; otherwise Pay
// creates it. Failures become a notice.
func (c *Controller) EnterPayment(ctx context.Context) error {
	c.mu.Lock()
	if c.cfg.Step != domain.StepPayment {
		c.mu.Unlock()
		return ErrNotOnPaymentStep
	}
	ready := c.payments != nil && c.cfg.Charge == nil && services.ValidateForCharge(c.cfg).OK
	c.mu.Unlock()
	if !ready {
		return nil
	}
	_, err := c.ensureCharge(ctx)
	return err
}

// Pay validates the payment step and settles the order. Without a collaborator it waits
// the simulated delay and resolves as simulated; a collaborator error never falls back to
// simulation.
func (c *Controller) Pay(ctx context.Context) (PaymentResolution, error) {
	c.mu.Lock()
	switch c.cfg.Step {
	case domain.StepSubmitted:
		c.mu.Unlock()
		return PaymentResolution{}, ErrSubmitted
	case domain.StepPayment:
	default:
		c.mu.Unlock()
		return PaymentResolution{}, ErrNotOnPaymentStep
	}
	result := services.ValidateStep(domain.StepPayment, c.cfg)
	if !result.OK {
		c.fieldErrors = result.FieldErrors
		c.mu.Unlock()
		return PaymentResolution{}, &StepError{Step: domain.StepPayment, FieldErrors: result.FieldErrors}
	}
	if err := c.beginLocked(ActionPay); err != nil {
		c.mu.Unlock()
		return PaymentResolution{}, err
	}
	c.fieldErrors = nil
	c.notice = ""
	gen := c.generation
	c.mu.Unlock()
	defer c.end(ActionPay)

	if c.payments == nil {
		if err := c.sleep(ctx, c.simulatedDelay); err != nil {
			return PaymentResolution{}, err
		}
		return c.resolveCurrent(ctx, gen, PaymentResolution{Kind: ResolutionSimulated})
	}

	handle, err := c.ensureCharge(ctx)
	if err != nil {
		return PaymentResolution{}, err
	}
	outcome, err := c.payments.ConfirmCharge(ctx, handle.ClientHandle)
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.generation {
			return PaymentResolution{}, ErrStaleResponse
		}
		c.notice = NoticePaymentUnavailable
		c.logger.Warn("wizard: confirm charge failed", zap.String("charge", handle.Token), zap.Error(err))
		return PaymentResolution{}, fmt.Errorf("%w: confirm: %v", ErrCollaborator, err)
	}

	res := ResolutionFromOutcome(outcome)
	if res.Reference == "" {
		res.Reference = handle.Reference
	}
	return c.resolveCurrent(ctx, gen, res)
}

func (c *Controller) resolveCurrent(ctx context.Context, gen uint64, res PaymentResolution) (PaymentResolution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		c.logger.Debug("wizard: discarding stale payment result", zap.String("resolution", res.Kind.String()))
		return res, ErrStaleResponse
	}
	res = c.resolveLocked(res)
	c.persistLocked(ctx)
	return res, nil
}

// ensureCharge returns a charge whose server amount matches the current configuration,
// creating or updating it through the collaborator as needed.
func (c *Controller) ensureCharge(ctx context.Context) (domain.ChargeHandle, error) {
	c.mu.Lock()
	if c.payments == nil {
		c.mu.Unlock()
		return domain.ChargeHandle{}, errors.New("wizard: no payment collaborator configured")
	}
	submitted := c.cfg.Clone()
	existing := submitted.Charge
	action := ActionCreateCharge
	if existing != nil {
		if c.cfg.LastQuote != nil && existing.AmountMinor == c.cfg.LastQuote.TotalMinor {
			handle := *existing
			c.mu.Unlock()
			return handle, nil
		}
		action = ActionUpdateCharge
	}
	if err := c.beginLocked(action); err != nil {
		c.mu.Unlock()
		return domain.ChargeHandle{}, err
	}
	gen := c.generation
	c.mu.Unlock()
	defer c.end(action)

	submitted.LastQuote = nil
	var (
		handle domain.ChargeHandle
		err    error
	)
	if existing == nil {
		handle, err = c.payments.CreateCharge(ctx, submitted, submitted.Contact.Email)
	} else {
		handle, err = c.payments.UpdateCharge(ctx, existing.Token, submitted)
		handle = mergeHandle(*existing, handle)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return domain.ChargeHandle{}, ErrStaleResponse
	}
	if err != nil {
		if existing == nil {
			c.notice = NoticePaymentUnavailable
		} else {
			c.notice = NoticeUpdateFailed
		}
		c.logger.Warn("wizard: charge request failed", zap.String("action", string(action)), zap.Error(err))
		return domain.ChargeHandle{}, fmt.Errorf("%w: %s: %v", ErrCollaborator, action, err)
	}
	c.checkServerTotal(submitted, handle)
	c.cfg.Charge = &handle
	if c.notice == NoticeUpdateFailed || c.notice == NoticePaymentUnavailable {
		c.notice = ""
	}
	c.persistLocked(ctx)
	return handle, nil
}

// mergeHandle keeps the handles an update response may omit.
func mergeHandle(previous, updated domain.ChargeHandle) domain.ChargeHandle {
	if updated.Token == "" {
		updated.Token = previous.Token
	}
	if updated.ClientHandle == "" {
		updated.ClientHandle = previous.ClientHandle
	}
	if updated.Reference == "" {
		updated.Reference = previous.Reference
	}
	if updated.Currency == "" {
		updated.Currency = previous.Currency
	}
	return updated
}
