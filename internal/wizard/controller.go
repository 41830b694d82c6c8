// Package wizard drives the listing checkout as a five step state machine over one owned
// configuration.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/onlyusedtesla/checkout/internal/domain"
	"github.com/onlyusedtesla/checkout/internal/drafts"
	"github.com/onlyusedtesla/checkout/internal/fields"
	"github.com/onlyusedtesla/checkout/internal/services"
)

const defaultSimulatedDelay = 700 * time.Millisecond

// Deps wires a Controller. Only Pricing is needed for a useful wizard; without Payments
// the pay action simulates success, and without Drafts nothing is persisted.
type Deps struct {
	Drafts         *drafts.Store
	Pricing        *services.PricingEngine
	Payments       PaymentCollaborator
	Verifier       Verifier
	Fields         *fields.Registry
	Logger         *zap.Logger
	Clock          func() time.Time
	SimulatedDelay time.Duration
	Sleep          func(ctx context.Context, d time.Duration) error
	DemoReference  func() string
}

// Controller owns one in-progress order. Methods are safe for concurrent use; the lock is
// never held across collaborator calls, so results are checked against the generation
// captured before the call.
type Controller struct {
	registry       *fields.Registry
	drafts         *drafts.Store
	pricing        *services.PricingEngine
	payments       PaymentCollaborator
	verifier       Verifier
	logger         *zap.Logger
	now            func() time.Time
	simulatedDelay time.Duration
	sleep          func(context.Context, time.Duration) error
	demoReference  func() string

	mu          sync.Mutex
	cfg         domain.Configuration
	fieldErrors map[fields.FieldID]string
	notice      string
	generation  uint64
	inflight    map[Action]struct{}
	savedAt     time.Time
}

// New builds a controller holding a fresh configuration. Call Start to restore a draft.
func New(deps Deps) *Controller {
	c := &Controller{
		registry:       deps.Fields,
		drafts:         deps.Drafts,
		pricing:        deps.Pricing,
		payments:       deps.Payments,
		verifier:       deps.Verifier,
		logger:         deps.Logger,
		now:            deps.Clock,
		simulatedDelay: deps.SimulatedDelay,
		sleep:          deps.Sleep,
		demoReference:  deps.DemoReference,
		inflight:       make(map[Action]struct{}),
	}
	if c.registry == nil {
		c.registry = fields.NewRegistry()
	}
	if c.pricing == nil {
		c.pricing = services.MustDefaultPricingEngine()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.simulatedDelay <= 0 {
		c.simulatedDelay = defaultSimulatedDelay
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	if c.demoReference == nil {
		c.demoReference = demoReference
	}
	c.cfg = domain.NewConfiguration()
	c.repriceLocked()
	return c
}

// Start restores the saved draft, falling back to a fresh configuration, and applies the
// resume signal. A redirect success lands on the submitted step as is.
func (c *Controller) Start(ctx context.Context, resume Resume) View {
	cfg, restored := c.drafts.Load(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.cfg = cfg
	c.fieldErrors = nil
	c.notice = ""
	c.repriceLocked()
	c.logger.Debug("wizard: started",
		zap.Bool("restored", restored),
		zap.Int("step", int(c.cfg.Step)),
		zap.Bool("redirect", resume.Redirect),
	)

	switch {
	case resume.Redirect:
		if resume.ChargeToken != "" && c.cfg.Charge != nil && c.cfg.Charge.Token != resume.ChargeToken {
			c.logger.Warn("wizard: redirect for a different charge",
				zap.String("charge", c.cfg.Charge.Token),
				zap.String("redirect_charge", resume.ChargeToken),
			)
		}
		c.resolveLocked(PaymentResolution{Kind: ResolutionRedirect})
	case resume.Failed:
		if c.cfg.Step == domain.StepPayment {
			c.notice = NoticePaymentFailed
		}
	}
	c.persistLocked(ctx)
	return c.viewLocked()
}

// FieldFeedback is the inline result of a single edit.
type FieldFeedback struct {
	Field     fields.FieldID
	Value     string
	State     fields.LiveState
	Message   string
	Corrected []string
	Notice    string
}

// SetField normalizes raw, applies it and runs the field's effects, then reprices and
// persists. On the payment step an existing charge is refreshed so the server amount
// follows the displayed total.
func (c *Controller) SetField(ctx context.Context, id fields.FieldID, raw string) (FieldFeedback, error) {
	desc, err := c.registry.Lookup(id)
	if err != nil {
		return FieldFeedback{}, err
	}

	c.mu.Lock()
	if c.cfg.Step == domain.StepSubmitted {
		c.mu.Unlock()
		return FieldFeedback{}, ErrSubmitted
	}

	value := desc.Normalize(raw)
	next := c.cfg.Clone()
	if err := desc.Apply(&next, value); err != nil {
		c.mu.Unlock()
		return FieldFeedback{}, err
	}

	if desc.Effects.Has(fields.EffectResetVerification) && desc.Read(c.cfg) != desc.Read(next) {
		next.Verification = domain.Verification{}
	}
	var corrected []string
	if desc.Effects.Has(fields.EffectEligibility) {
		corrected = services.EligibilityChanges(next)
		next = services.ApplyEligibility(next)
	}

	c.cfg = next
	c.repriceLocked()

	feedback := FieldFeedback{Field: id, Value: desc.Read(c.cfg), Corrected: corrected}
	if desc.Live != nil {
		feedback.State, feedback.Message = desc.Live(c.cfg)
	}
	if len(c.fieldErrors) > 0 {
		c.fieldErrors = services.ValidateStep(c.cfg.Step, c.cfg).FieldErrors
	}
	c.persistLocked(ctx)

	refresh := c.cfg.Step == domain.StepPayment &&
		c.cfg.Charge != nil &&
		desc.Effects.Has(fields.EffectReprice) &&
		c.payments != nil &&
		services.ValidateForCharge(c.cfg).OK
	c.mu.Unlock()

	if refresh {
		if _, err := c.ensureCharge(ctx); err != nil && !errors.Is(err, ErrActionInFlight) {
			c.logger.Debug("wizard: charge refresh failed", zap.Error(err))
		}
	}

	c.mu.Lock()
	feedback.Notice = c.notice
	c.mu.Unlock()
	return feedback, nil
}

// Next runs the authoritative check for the current step and advances on success.
func (c *Controller) Next(ctx context.Context) (View, error) {
	c.mu.Lock()
	switch c.cfg.Step {
	case domain.StepSubmitted:
		view := c.viewLocked()
		c.mu.Unlock()
		return view, nil
	case domain.StepPayment:
		view := c.viewLocked()
		c.mu.Unlock()
		return view, ErrPaymentRequired
	}

	result := services.ValidateStep(c.cfg.Step, c.cfg)
	if !result.OK {
		c.fieldErrors = result.FieldErrors
		step := c.cfg.Step
		view := c.viewLocked()
		c.mu.Unlock()
		return view, &StepError{Step: step, FieldErrors: result.FieldErrors}
	}

	c.moveLocked(ctx, c.cfg.Step+1)
	landedOnPayment := c.cfg.Step == domain.StepPayment
	c.mu.Unlock()

	if landedOnPayment {
		if err := c.EnterPayment(ctx); err != nil {
			c.logger.Debug("wizard: payment setup deferred", zap.Error(err))
		}
	}
	return c.View(), nil
}

// Back moves one step back without validation. Pending collaborator results are discarded.
func (c *Controller) Back(ctx context.Context) View {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	if c.cfg.Step > domain.StepListingType && c.cfg.Step < domain.StepSubmitted {
		c.moveLocked(ctx, c.cfg.Step-1)
	}
	return c.viewLocked()
}

// EditDetails returns to the listing details from the preview or payment step.
func (c *Controller) EditDetails(ctx context.Context) View {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.Step == domain.StepAddons || c.cfg.Step == domain.StepPayment {
		c.generation++
		c.moveLocked(ctx, domain.StepListingDetails)
	}
	return c.viewLocked()
}

// Reset discards the order and the persisted draft.
func (c *Controller) Reset(ctx context.Context) View {
	return c.clear(ctx, "wizard: draft reset")
}

// StartOver begins a new listing after submission. It clears the same state as Reset.
func (c *Controller) StartOver(ctx context.Context) View {
	return c.clear(ctx, "wizard: started over")
}

func (c *Controller) clear(ctx context.Context, event string) View {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.cfg = domain.NewConfiguration()
	c.fieldErrors = nil
	c.notice = ""
	c.savedAt = time.Time{}
	c.repriceLocked()
	if err := c.drafts.Reset(ctx); err != nil {
		c.logger.Debug("wizard: draft reset failed", zap.Error(err))
	}
	c.logger.Info(event)
	return c.viewLocked()
}

// Resolve applies a payment outcome. It is the only path to the submitted step.
func (c *Controller) Resolve(ctx context.Context, res PaymentResolution) View {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolveLocked(res)
	c.persistLocked(ctx)
	return c.viewLocked()
}

// Configuration returns a copy of the owned configuration.
func (c *Controller) Configuration() domain.Configuration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Clone()
}

func (c *Controller) resolveLocked(res PaymentResolution) PaymentResolution {
	switch {
	case res.Kind.Submits():
		if c.cfg.Step == domain.StepSubmitted && c.cfg.Reference != "" {
			res.Reference = c.cfg.Reference
			return res
		}
		ref := res.Reference
		if ref == "" && c.cfg.Charge != nil {
			ref = c.cfg.Charge.Reference
		}
		if res.Kind == ResolutionSimulated || ref == "" {
			ref = c.demoReference()
		}
		res.Reference = ref
		c.cfg.Step = domain.StepSubmitted
		c.cfg.Reference = ref
		c.fieldErrors = nil
		c.notice = ""
		c.logger.Info("wizard: order submitted",
			zap.String("resolution", res.Kind.String()),
			zap.String("reference", ref),
		)
	case res.Kind == ResolutionRequiresAction:
		c.notice = NoticeRequiresAction
	case res.Kind == ResolutionFailed:
		c.notice = res.Reason
		if c.notice == "" {
			c.notice = NoticePaymentFailed
		}
		c.logger.Info("wizard: payment failed", zap.String("reason", res.Reason))
	}
	return res
}

func (c *Controller) moveLocked(ctx context.Context, step domain.Step) {
	c.cfg.Step = step.Clamp()
	c.fieldErrors = nil
	c.notice = ""
	c.repriceLocked()
	c.persistLocked(ctx)
}

func (c *Controller) repriceLocked() {
	quote := c.pricing.ComputeTotal(c.cfg)
	c.cfg.LastQuote = &quote
}

// persistLocked saves the draft. Storage errors only disable autosave.
func (c *Controller) persistLocked(ctx context.Context) {
	if c.drafts == nil {
		return
	}
	if err := c.drafts.Save(ctx, c.cfg); err != nil {
		c.logger.Debug("wizard: draft save failed", zap.Error(err))
		return
	}
	c.savedAt = c.now()
}

// checkServerTotal logs when the collaborator priced submitted differently from us.
func (c *Controller) checkServerTotal(submitted domain.Configuration, handle domain.ChargeHandle) {
	local := c.pricing.ComputeTotal(submitted)
	if handle.AmountMinor != local.TotalMinor {
		c.logger.Error("wizard: server total differs from displayed total",
			zap.Int64("server_amount", handle.AmountMinor),
			zap.Int64("display_amount", local.TotalMinor),
			zap.String("charge", handle.Token),
		)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func demoReference() string {
	return fmt.Sprintf("OUT-DEMO-%04d", 1000+rand.IntN(9000))
}
