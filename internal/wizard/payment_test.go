package wizard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/onlyusedtesla/checkout/internal/domain"
	"github.com/onlyusedtesla/checkout/internal/fields"
	"github.com/onlyusedtesla/checkout/internal/services"
)

type fakeCollaborator struct {
	pricing *services.PricingEngine

	mu         sync.Mutex
	createErr  error
	updateErr  error
	confirmErr error
	outcome    ChargeOutcome
	skew       int64
	creates    int
	updates    []string
	confirms   []string
	emails     []string
	entered    chan struct{}
	release    chan struct{}
}

func newFakeCollaborator() *fakeCollaborator {
	return &fakeCollaborator{
		pricing: services.MustDefaultPricingEngine(),
		outcome: ChargeOutcome{Status: domain.ChargeStatusSucceeded, Reference: "OUT-01SERVER"},
	}
}

// blockCreate makes the next CreateCharge signal entered and wait for release.
func (f *fakeCollaborator) blockCreate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entered = make(chan struct{}, 1)
	f.release = make(chan struct{})
}

func (f *fakeCollaborator) CreateCharge(_ context.Context, cfg domain.Configuration, email string) (domain.ChargeHandle, error) {
	f.mu.Lock()
	f.creates++
	f.emails = append(f.emails, email)
	entered, release, err, skew := f.entered, f.release, f.createErr, f.skew
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
		<-release
	}
	if err != nil {
		return domain.ChargeHandle{}, err
	}
	return domain.ChargeHandle{
		Token:        "pi_test",
		ClientHandle: "pi_test_secret_abc",
		AmountMinor:  f.pricing.ComputeTotal(cfg).TotalMinor + skew,
		Currency:     "usd",
		Reference:    "OUT-01SERVER",
	}, nil
}

func (f *fakeCollaborator) UpdateCharge(_ context.Context, token string, cfg domain.Configuration) (domain.ChargeHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, token)
	if f.updateErr != nil {
		return domain.ChargeHandle{}, f.updateErr
	}
	return domain.ChargeHandle{Token: token, AmountMinor: f.pricing.ComputeTotal(cfg).TotalMinor, Currency: "usd"}, nil
}

func (f *fakeCollaborator) ConfirmCharge(_ context.Context, clientHandle string) (ChargeOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirms = append(f.confirms, clientHandle)
	if f.confirmErr != nil {
		return ChargeOutcome{}, f.confirmErr
	}
	return f.outcome, nil
}

func (f *fakeCollaborator) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, len(f.updates), len(f.confirms)
}

func TestPaySimulatesWithoutCollaborator(t *testing.T) {
	h := newHarness(t)
	h.toPayment(t)
	h.set(t, fields.Email, "seller@example.com")

	res, err := h.c.Pay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResolutionSimulated, res.Kind)
	assert.Equal(t, "OUT-DEMO-4242", res.Reference)
	assert.Equal(t, []time.Duration{defaultSimulatedDelay}, h.slept)

	view := h.c.View()
	assert.Equal(t, domain.StepSubmitted, view.Step)
	assert.Equal(t, "OUT-DEMO-4242", view.Configuration.Reference)
	assert.False(t, view.CanGoBack)

	saved, ok := h.savedDraft(t)
	require.True(t, ok)
	assert.Equal(t, domain.StepSubmitted, saved.Step)
}

func TestPayValidatesPaymentStep(t *testing.T) {
	h := newHarness(t)
	_, err := h.c.Pay(context.Background())
	require.ErrorIs(t, err, ErrNotOnPaymentStep)

	h.toPayment(t)
	h.set(t, fields.Email, "seller@example")
	h.set(t, fields.NotificationChannel, "text")

	_, err = h.c.Pay(context.Background())
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, services.MsgEmailInvalid, stepErr.FieldErrors[fields.Email])
	assert.Equal(t, services.MsgChannelUnverified, stepErr.FieldErrors[fields.NotificationChannel])
	assert.Empty(t, h.slept)
	assert.Equal(t, domain.StepPayment, h.c.View().Step)
}

func TestTextChannelNeedsVerifiedPhone(t *testing.T) {
	verifier := newFakeVerifier()
	h := newHarness(t, withVerifier(verifier))
	h.toPayment(t)
	h.set(t, fields.Email, "seller@example.com")
	h.set(t, fields.NotificationChannel, "text")

	_, err := h.c.Pay(context.Background())
	require.ErrorIs(t, err, ErrStepInvalid)

	h.set(t, fields.Phone, "4155550100")
	_, err = h.c.SendCode(context.Background())
	require.NoError(t, err)
	ok, err := h.c.VerifyCode(context.Background(), "123456")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, h.c.View().FieldErrors, "verification clears the shown gate errors")

	res, err := h.c.Pay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResolutionSimulated, res.Kind)
}

func TestEnterPaymentCreatesChargeWhenContactIsComplete(t *testing.T) {
	collab := newFakeCollaborator()
	h := newHarness(t, withPayments(collab))
	h.next(t)
	h.fillListing(t)
	h.next(t)

	h.next(t)
	creates, _, _ := collab.counts()
	assert.Zero(t, creates, "no email yet")

	h.set(t, fields.Email, "seller@example.com")
	require.NoError(t, h.c.EnterPayment(context.Background()))
	creates, _, _ = collab.counts()
	assert.Equal(t, 1, creates)
	assert.Equal(t, []string{"seller@example.com"}, collab.emails)

	charge := h.c.Configuration().Charge
	require.NotNil(t, charge)
	assert.Equal(t, "pi_test", charge.Token)
	assert.Equal(t, h.c.View().Quote.TotalMinor, charge.AmountMinor)

	require.NoError(t, h.c.EnterPayment(context.Background()))
	creates, _, _ = collab.counts()
	assert.Equal(t, 1, creates, "existing charge is reused")
}

func TestPayConfirmsThroughCollaborator(t *testing.T) {
	collab := newFakeCollaborator()
	h := newHarness(t, withPayments(collab))
	h.toPayment(t)
	h.set(t, fields.Email, "seller@example.com")

	res, err := h.c.Pay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResolutionConfirmed, res.Kind)
	assert.Equal(t, "OUT-01SERVER", res.Reference)
	assert.Equal(t, []string{"pi_test_secret_abc"}, collab.confirms)
	assert.Empty(t, h.slept, "no simulated delay with a collaborator")

	view := h.c.View()
	assert.Equal(t, domain.StepSubmitted, view.Step)
	assert.Equal(t, "OUT-01SERVER", view.Configuration.Reference)
}

func TestPayOutcomes(t *testing.T) {
	cases := []struct {
		name    string
		outcome ChargeOutcome
		kind    ResolutionKind
		step    domain.Step
		notice  string
	}{
		{"processing", ChargeOutcome{Status: domain.ChargeStatusProcessing}, ResolutionProcessing, domain.StepSubmitted, ""},
		{"requires action", ChargeOutcome{Status: domain.ChargeStatusRequiresAction}, ResolutionRequiresAction, domain.StepPayment, NoticeRequiresAction},
		{"still pending", ChargeOutcome{Status: domain.ChargeStatusPending}, ResolutionRequiresAction, domain.StepPayment, NoticeRequiresAction},
		{"declined", ChargeOutcome{Status: domain.ChargeStatusFailed, Reason: "Your card was declined."}, ResolutionFailed, domain.StepPayment, "Your card was declined."},
		{"failed without reason", ChargeOutcome{Status: domain.ChargeStatusFailed}, ResolutionFailed, domain.StepPayment, NoticePaymentFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			collab := newFakeCollaborator()
			collab.outcome = tc.outcome
			h := newHarness(t, withPayments(collab))
			h.toPayment(t)
			h.set(t, fields.Email, "seller@example.com")

			res, err := h.c.Pay(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.kind, res.Kind)

			view := h.c.View()
			assert.Equal(t, tc.step, view.Step)
			assert.Equal(t, tc.notice, view.Notice)
		})
	}
}

func TestPayCollaboratorErrorDoesNotSimulate(t *testing.T) {
	collab := newFakeCollaborator()
	collab.createErr = errors.New("connection refused")
	h := newHarness(t, withPayments(collab))
	h.toPayment(t)
	h.set(t, fields.Email, "seller@example.com")

	_, err := h.c.Pay(context.Background())
	require.ErrorIs(t, err, ErrCollaborator)
	assert.Empty(t, h.slept)

	view := h.c.View()
	assert.Equal(t, domain.StepPayment, view.Step)
	assert.Equal(t, NoticePaymentUnavailable, view.Notice)
	assert.Empty(t, view.InFlight)

	collab.mu.Lock()
	collab.createErr = nil
	collab.confirmErr = errors.New("timeout")
	collab.mu.Unlock()

	_, err = h.c.Pay(context.Background())
	require.ErrorIs(t, err, ErrCollaborator)
	assert.Equal(t, domain.StepPayment, h.c.View().Step)
	assert.Equal(t, NoticePaymentUnavailable, h.c.View().Notice)
}

func TestAddonChangeOnPaymentRefreshesCharge(t *testing.T) {
	collab := newFakeCollaborator()
	h := newHarness(t, withPayments(collab))
	h.toPayment(t)
	h.set(t, fields.Email, "seller@example.com")
	require.NoError(t, h.c.EnterPayment(context.Background()))

	h.set(t, fields.Video, "yes")
	_, updates, _ := collab.counts()
	assert.Equal(t, 1, updates)
	charge := h.c.Configuration().Charge
	require.NotNil(t, charge)
	assert.Equal(t, int64(4700), charge.AmountMinor)
	assert.Equal(t, "pi_test_secret_abc", charge.ClientHandle, "update keeps the client handle")

	collab.mu.Lock()
	collab.updateErr = errors.New("stripe down")
	collab.mu.Unlock()

	fb := h.set(t, fields.MarketplacePosting, "yes")
	assert.Equal(t, NoticeUpdateFailed, fb.Notice)
	assert.Equal(t, int64(4700), h.c.Configuration().Charge.AmountMinor)

	// Pay reconciles the stale amount before confirming.
	collab.mu.Lock()
	collab.updateErr = nil
	collab.mu.Unlock()
	res, err := h.c.Pay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResolutionConfirmed, res.Kind)
	_, updates, _ = collab.counts()
	assert.Equal(t, 3, updates)
}

func TestServerTotalMismatchIsLogged(t *testing.T) {
	collab := newFakeCollaborator()
	collab.skew = 100
	h := newHarness(t, withPayments(collab))
	h.toPayment(t)
	h.set(t, fields.Email, "seller@example.com")
	require.NoError(t, h.c.EnterPayment(context.Background()))

	entries := h.logs.FilterMessage("wizard: server total differs from displayed total").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, int64(2800), entries[0].ContextMap()["server_amount"])
}

func TestPayInFlightGuard(t *testing.T) {
	collab := newFakeCollaborator()
	collab.blockCreate()
	h := newHarness(t, withPayments(collab))
	h.toPayment(t)
	h.set(t, fields.Email, "seller@example.com")

	done := make(chan error, 1)
	go func() {
		_, err := h.c.Pay(context.Background())
		done <- err
	}()
	<-collab.entered

	assert.Contains(t, h.c.View().InFlight, ActionPay)
	assert.Contains(t, h.c.View().InFlight, ActionCreateCharge)
	_, err := h.c.Pay(context.Background())
	require.ErrorIs(t, err, ErrActionInFlight)

	close(collab.release)
	require.NoError(t, <-done)
	creates, _, confirms := collab.counts()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, confirms)
	assert.Empty(t, h.c.View().InFlight)
}

func TestBackDiscardsPendingPayment(t *testing.T) {
	collab := newFakeCollaborator()
	collab.blockCreate()
	h := newHarness(t, withPayments(collab))
	h.toPayment(t)
	h.set(t, fields.Email, "seller@example.com")

	done := make(chan error, 1)
	go func() {
		_, err := h.c.Pay(context.Background())
		done <- err
	}()
	<-collab.entered

	view := h.c.Back(context.Background())
	assert.Equal(t, domain.StepAddons, view.Step)
	close(collab.release)

	require.ErrorIs(t, <-done, ErrStaleResponse)
	after := h.c.View()
	assert.Equal(t, domain.StepAddons, after.Step)
	assert.Nil(t, after.Configuration.Charge)
	_, _, confirms := collab.counts()
	assert.Zero(t, confirms)
}

func TestResetDiscardsPendingPayment(t *testing.T) {
	collab := newFakeCollaborator()
	collab.blockCreate()
	h := newHarness(t, withPayments(collab))
	h.toPayment(t)
	h.set(t, fields.Email, "seller@example.com")

	done := make(chan error, 1)
	go func() {
		_, err := h.c.Pay(context.Background())
		done <- err
	}()
	<-collab.entered
	h.c.Reset(context.Background())
	close(collab.release)

	require.ErrorIs(t, <-done, ErrStaleResponse)
	assert.Equal(t, domain.StepListingType, h.c.View().Step)
	_, ok := h.savedDraft(t)
	assert.False(t, ok)
}
