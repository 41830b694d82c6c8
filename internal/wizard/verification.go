package wizard

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/onlyusedtesla/checkout/internal/domain"
	"github.com/onlyusedtesla/checkout/internal/fields"
	"github.com/onlyusedtesla/checkout/internal/services"
)

// SendCode asks the verifier to text a code to the current phone and keeps the pending handle.
func (c *Controller) SendCode(ctx context.Context) (Pending, error) {
	c.mu.Lock()
	if c.verifier == nil {
		c.mu.Unlock()
		return Pending{}, ErrVerificationUnavailable
	}
	phone := c.cfg.Contact.Phone
	if !fields.IsPhoneValid(phone) {
		c.setFieldErrorLocked(fields.Phone, services.MsgPhoneInvalid)
		step := c.cfg.Step
		c.mu.Unlock()
		return Pending{}, &StepError{Step: step, FieldErrors: map[fields.FieldID]string{fields.Phone: services.MsgPhoneInvalid}}
	}
	if err := c.beginLocked(ActionSendCode); err != nil {
		c.mu.Unlock()
		return Pending{}, err
	}
	gen := c.generation
	c.mu.Unlock()
	defer c.end(ActionSendCode)

	pending, err := c.verifier.Send(ctx, phone)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.cfg.Contact.Phone != phone {
		return Pending{}, ErrStaleResponse
	}
	if err != nil {
		c.notice = NoticeCodeFailed
		c.logger.Warn("wizard: send code failed", zap.Error(err))
		return Pending{}, fmt.Errorf("%w: send code: %v", ErrCollaborator, err)
	}
	c.cfg.Verification = domain.Verification{OTPSent: true, PendingCode: pending.ID}
	c.notice = NoticeCodeSent
	c.persistLocked(ctx)
	return pending, nil
}

// VerifyCode checks code against the pending handle. A result for a phone that changed
// while the call was running is discarded.
func (c *Controller) VerifyCode(ctx context.Context, code string) (bool, error) {
	c.mu.Lock()
	if c.verifier == nil {
		c.mu.Unlock()
		return false, ErrVerificationUnavailable
	}
	pendingID := c.cfg.Verification.PendingCode
	if !c.cfg.Verification.OTPSent || pendingID == "" {
		c.mu.Unlock()
		return false, ErrNoPendingCode
	}
	phone := c.cfg.Contact.Phone
	if err := c.beginLocked(ActionVerifyCode); err != nil {
		c.mu.Unlock()
		return false, err
	}
	gen := c.generation
	c.mu.Unlock()
	defer c.end(ActionVerifyCode)

	ok, err := c.verifier.Verify(ctx, pendingID, phone, strings.TrimSpace(code))

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.cfg.Contact.Phone != phone || c.cfg.Verification.PendingCode != pendingID {
		return false, ErrStaleResponse
	}
	if err != nil {
		c.notice = NoticeCodeUnchecked
		c.logger.Warn("wizard: verify code failed", zap.Error(err))
		return false, fmt.Errorf("%w: verify code: %v", ErrCollaborator, err)
	}
	if !ok {
		c.notice = NoticeCodeMismatch
		return false, nil
	}
	c.cfg.Verification = domain.Verification{OTPSent: true, OTPVerified: true}
	c.notice = NoticePhoneVerified
	if len(c.fieldErrors) > 0 {
		c.fieldErrors = services.ValidateStep(c.cfg.Step, c.cfg).FieldErrors
	}
	c.persistLocked(ctx)
	return true, nil
}

func (c *Controller) setFieldErrorLocked(id fields.FieldID, msg string) {
	if c.fieldErrors == nil {
		c.fieldErrors = make(map[fields.FieldID]string)
	}
	c.fieldErrors[id] = msg
}
