package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/onlyusedtesla/checkout/internal/domain"
	"github.com/onlyusedtesla/checkout/internal/fields"
	"github.com/onlyusedtesla/checkout/internal/wizard"
)

type viewJSON struct {
	Step          int                  `json:"step"`
	Hint          string               `json:"hint"`
	Quote         quoteJSON            `json:"quote"`
	FieldErrors   map[string]string    `json:"fieldErrors,omitempty"`
	Notice        string               `json:"notice,omitempty"`
	MaskedVIN     string               `json:"maskedVin,omitempty"`
	CanGoBack     bool                 `json:"canGoBack"`
	SavedAt       *time.Time           `json:"savedAt,omitempty"`
	Configuration domain.Configuration `json:"configuration"`
}

type quoteJSON struct {
	Currency   string     `json:"currency"`
	TotalMinor int64      `json:"totalMinor"`
	Total      string     `json:"total"`
	Lines      []lineJSON `json:"lines"`
}

type lineJSON struct {
	Code        string `json:"code"`
	Label       string `json:"label"`
	Quantity    int64  `json:"quantity"`
	AmountMinor int64  `json:"amountMinor"`
	Amount      string `json:"amount"`
}

func toQuoteJSON(q wizard.DisplayQuote) quoteJSON {
	out := quoteJSON{Currency: q.Currency, TotalMinor: q.TotalMinor, Total: q.Total, Lines: make([]lineJSON, 0, len(q.Lines))}
	for _, l := range q.Lines {
		out.Lines = append(out.Lines, lineJSON(l))
	}
	return out
}

func render(c *cli.Context, view wizard.View) error {
	w := c.App.Writer
	if c.Bool(jsonFlag.Name) {
		payload := viewJSON{
			Step:          int(view.Step),
			Hint:          view.Hint,
			Quote:         toQuoteJSON(view.Quote),
			Notice:        view.Notice,
			MaskedVIN:     view.MaskedVIN,
			CanGoBack:     view.CanGoBack,
			Configuration: view.Configuration,
		}
		if len(view.FieldErrors) > 0 {
			payload.FieldErrors = make(map[string]string, len(view.FieldErrors))
			for id, msg := range view.FieldErrors {
				payload.FieldErrors[string(id)] = msg
			}
		}
		if !view.SavedAt.IsZero() {
			saved := view.SavedAt
			payload.SavedAt = &saved
		}
		return writeJSON(w, payload)
	}

	fmt.Fprintln(w, view.Progress())
	if view.Notice != "" {
		fmt.Fprintf(w, "  ! %s\n", view.Notice)
	}
	if view.VINDisplay != "" {
		fmt.Fprintf(w, "  VIN: %s\n", view.VINDisplay)
	}
	if len(view.FieldErrors) > 0 {
		ids := make([]string, 0, len(view.FieldErrors))
		for id := range view.FieldErrors {
			ids = append(ids, string(id))
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(w, "  %s: %s\n", strings.ReplaceAll(id, "_", "-"), view.FieldErrors[fields.FieldID(id)])
		}
	}
	if view.Configuration.Reference != "" {
		fmt.Fprintf(w, "  Reference: %s\n", view.Configuration.Reference)
	}
	fmt.Fprintf(w, "  Total: %s\n", view.Quote.Total)
	if !view.SavedAt.IsZero() {
		fmt.Fprintf(w, "  Saved %s\n", view.SavedAt.Local().Format(time.Kitchen))
	}
	return nil
}

func renderQuote(c *cli.Context, quote wizard.DisplayQuote) error {
	w := c.App.Writer
	if c.Bool(jsonFlag.Name) {
		return writeJSON(w, toQuoteJSON(quote))
	}
	for _, line := range quote.Lines {
		label := line.Label
		if line.Quantity > 1 {
			label = fmt.Sprintf("%s x%d", label, line.Quantity)
		}
		fmt.Fprintf(w, "%-32s %10s\n", label, line.Amount)
	}
	fmt.Fprintf(w, "%-32s %10s\n", "Total", quote.Total)
	return nil
}

func printFeedback(c *cli.Context, w io.Writer, fb wizard.FieldFeedback) {
	if c.Bool(jsonFlag.Name) {
		return
	}
	line := fmt.Sprintf("%s = %q (%s)", strings.ReplaceAll(string(fb.Field), "_", "-"), fb.Value, fb.State)
	if fb.Message != "" {
		line += ": " + fb.Message
	}
	fmt.Fprintln(w, line)
	if len(fb.Corrected) > 0 {
		fmt.Fprintf(w, "  corrected: %s\n", strings.Join(fb.Corrected, ", "))
	}
	if fb.Notice != "" {
		fmt.Fprintf(w, "  ! %s\n", fb.Notice)
	}
}

func printResolution(w io.Writer, res wizard.PaymentResolution) {
	switch {
	case res.Reference != "":
		fmt.Fprintf(w, "Payment %s: %s\n", res.Kind, res.Reference)
	case res.Reason != "":
		fmt.Fprintf(w, "Payment %s: %s\n", res.Kind, res.Reason)
	default:
		fmt.Fprintf(w, "Payment %s\n", res.Kind)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
