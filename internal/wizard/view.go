package wizard

import (
	"fmt"
	"strings"
	"time"

	"github.com/onlyusedtesla/checkout/internal/domain"
	"github.com/onlyusedtesla/checkout/internal/fields"
	"github.com/onlyusedtesla/checkout/internal/services"
)

// View is a read-only snapshot for rendering.
type View struct {
	Step          domain.Step
	Hint          string
	Configuration domain.Configuration
	Quote         DisplayQuote
	FieldErrors   map[fields.FieldID]string
	Notice        string
	VINDisplay    string
	MaskedVIN     string
	InFlight      []Action
	CanGoBack     bool
	SavedAt       time.Time
}

// DisplayQuote is the advisory total with formatted amounts.
type DisplayQuote struct {
	TotalMinor int64
	Total      string
	Currency   string
	Lines      []DisplayLine
}

// DisplayLine is one formatted line item.
type DisplayLine struct {
	Code        string
	Label       string
	Quantity    int64
	AmountMinor int64
	Amount      string
}

// HintForStep returns the encouragement shown under the call to action.
func HintForStep(step domain.Step) string {
	switch step {
	case domain.StepListingType:
		return "You're off to a great start."
	case domain.StepListingDetails:
		return "You're doing great. Keep it simple."
	case domain.StepAddons:
		return "Quick preview before payment."
	case domain.StepPayment:
		return "You're still on Only Used Tesla."
	case domain.StepSubmitted:
		return "Submitted. Nice work."
	}
	return ""
}

// Progress renders "Step n of 5 — hint".
func (v View) Progress() string {
	return fmt.Sprintf("Step %d of %d — %s", v.Step, domain.MaxStep, v.Hint)
}

// View returns the current snapshot.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Controller) viewLocked() View {
	cfg := c.cfg.Clone()
	view := View{
		Step:          cfg.Step,
		Hint:          HintForStep(cfg.Step),
		Configuration: cfg,
		Notice:        c.notice,
		VINDisplay:    fields.FormatVINDisplay(cfg.Listing.VIN),
		MaskedVIN:     fields.MaskVIN(cfg.Listing.VIN),
		InFlight:      c.inflightLocked(),
		CanGoBack:     cfg.Step > domain.StepListingType && cfg.Step < domain.StepSubmitted,
		SavedAt:       c.savedAt,
	}
	if len(c.fieldErrors) > 0 {
		view.FieldErrors = make(map[fields.FieldID]string, len(c.fieldErrors))
		for id, msg := range c.fieldErrors {
			view.FieldErrors[id] = msg
		}
	}
	if cfg.LastQuote != nil {
		view.Quote = displayQuote(*cfg.LastQuote)
	}
	return view
}

func displayQuote(q domain.Quote) DisplayQuote {
	out := DisplayQuote{
		TotalMinor: q.TotalMinor,
		Total:      services.FormatMinor(q.TotalMinor, q.Currency),
		Currency:   strings.ToUpper(q.Currency),
		Lines:      make([]DisplayLine, 0, len(q.LineItems)),
	}
	for _, item := range q.LineItems {
		out.Lines = append(out.Lines, DisplayLine{
			Code:        item.Code,
			Label:       item.Label,
			Quantity:    item.Quantity,
			AmountMinor: item.AmountMinor,
			Amount:      services.FormatMinor(item.AmountMinor, q.Currency),
		})
	}
	return out
}
