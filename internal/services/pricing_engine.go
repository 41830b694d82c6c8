package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/onlyusedtesla/checkout/internal/domain"
	"github.com/onlyusedtesla/checkout/internal/fields"
)

var (
	// ErrPricingInvalidCatalog signals a catalog with missing entries or out of range fees.
	ErrPricingInvalidCatalog = errors.New("pricing: invalid catalog")
)

const (
	// DefaultCurrency is the ISO currency used when the catalog does not set one.
	DefaultCurrency = "usd"
	// MaxUnitMinor bounds a single catalog fee so totals can never overflow int64.
	MaxUnitMinor int64 = 100_000_000
)

// Line item codes, in the order they appear on a quote.
const (
	LineBase          = "base"
	LineHistoryReport = "history_report"
	LineVideo         = "video"
	LineMarketplace   = "marketplace"
	LineGroupPosting  = "group_posting"
	LineSMS           = "sms"
)

// EligibilityPredicate reports whether a catalog entry may be charged for cfg.
type EligibilityPredicate func(cfg domain.Configuration) bool

// CatalogEntry describes one chargeable line. Quantity returns 0 when the entry is not selected.
type CatalogEntry struct {
	Code      string
	Label     string
	UnitMinor int64
	Quantity  func(cfg domain.Configuration) int64
	Eligible  EligibilityPredicate
}

// AddonCatalog is the ordered list of chargeable lines. The base fee is always first.
type AddonCatalog struct {
	Currency string
	Entries  []CatalogEntry
}

// DefaultAddonCatalog returns the standard fee schedule in minor units.
func DefaultAddonCatalog() AddonCatalog {
	return AddonCatalog{
		Currency: DefaultCurrency,
		Entries: []CatalogEntry{
			{
				Code:      LineBase,
				Label:     "Listing fee",
				UnitMinor: 2700,
				Quantity:  func(domain.Configuration) int64 { return 1 },
			},
			{
				Code:      LineHistoryReport,
				Label:     "Vehicle history report",
				UnitMinor: 2000,
				Quantity: func(cfg domain.Configuration) int64 {
					return boolQuantity(cfg.Addons.HistoryReport.Selected())
				},
				Eligible: HasValidVIN,
			},
			{
				Code:      LineVideo,
				Label:     "Video add-on",
				UnitMinor: 2000,
				Quantity:  func(cfg domain.Configuration) int64 { return boolQuantity(cfg.Addons.Video) },
			},
			{
				Code:      LineMarketplace,
				Label:     "Marketplace posting",
				UnitMinor: 1500,
				Quantity:  func(cfg domain.Configuration) int64 { return boolQuantity(cfg.Addons.MarketplacePosting) },
			},
			{
				Code:      LineGroupPosting,
				Label:     "Group posting",
				UnitMinor: 1000,
				Quantity: func(cfg domain.Configuration) int64 {
					return int64(fields.ClampGroupPostings(cfg.Addons.GroupPostingCount))
				},
			},
			{
				Code:      LineSMS,
				Label:     "SMS notifications",
				UnitMinor: 500,
				Quantity:  func(cfg domain.Configuration) int64 { return boolQuantity(cfg.Addons.SMSNotifications) },
			},
		},
	}
}

// Entry returns the catalog entry for code.
func (c AddonCatalog) Entry(code string) (CatalogEntry, bool) {
	for _, entry := range c.Entries {
		if entry.Code == code {
			return entry, true
		}
	}
	return CatalogEntry{}, false
}

func (c AddonCatalog) validate() error {
	if len(c.Entries) == 0 || c.Entries[0].Code != LineBase {
		return fmt.Errorf("%w: base fee must be the first entry", ErrPricingInvalidCatalog)
	}
	if strings.TrimSpace(c.Currency) == "" {
		return fmt.Errorf("%w: currency is required", ErrPricingInvalidCatalog)
	}
	seen := make(map[string]struct{}, len(c.Entries))
	for _, entry := range c.Entries {
		if entry.Code == "" || entry.Quantity == nil {
			return fmt.Errorf("%w: entry %q is incomplete", ErrPricingInvalidCatalog, entry.Code)
		}
		if _, dup := seen[entry.Code]; dup {
			return fmt.Errorf("%w: duplicate entry %q", ErrPricingInvalidCatalog, entry.Code)
		}
		seen[entry.Code] = struct{}{}
		if entry.UnitMinor < 0 || entry.UnitMinor > MaxUnitMinor {
			return fmt.Errorf("%w: entry %q fee %d out of range", ErrPricingInvalidCatalog, entry.Code, entry.UnitMinor)
		}
	}
	return nil
}

// PricingEngine turns a configuration into a quote. It is safe for concurrent use.
type PricingEngine struct {
	catalog AddonCatalog
	logger  func(context.Context, string, map[string]any)
}

type PricingEngineDeps struct {
	Catalog *AddonCatalog
	Logger  func(context.Context, string, map[string]any)
}

func NewPricingEngine(deps PricingEngineDeps) (*PricingEngine, error) {
	catalog := DefaultAddonCatalog()
	if deps.Catalog != nil {
		catalog = *deps.Catalog
	}
	catalog.Currency = strings.ToLower(strings.TrimSpace(catalog.Currency))
	if err := catalog.validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PricingEngine{catalog: catalog, logger: logger}, nil
}

// MustDefaultPricingEngine returns an engine over the default catalog.
func MustDefaultPricingEngine() *PricingEngine {
	engine, err := NewPricingEngine(PricingEngineDeps{})
	if err != nil {
		panic(err)
	}
	return engine
}

// Catalog returns the catalog the engine prices against.
func (e *PricingEngine) Catalog() AddonCatalog {
	out := e.catalog
	out.Entries = append([]CatalogEntry(nil), e.catalog.Entries...)
	return out
}

// Currency returns the lower-case ISO currency of every quote.
func (e *PricingEngine) Currency() string {
	return e.catalog.Currency
}

// ComputeTotal prices cfg. Only active, eligible selections produce line items, in catalog
// order, and the total is the integer sum of the line amounts.
func (e *PricingEngine) ComputeTotal(cfg domain.Configuration) domain.Quote {
	quote := domain.Quote{
		Currency:  e.catalog.Currency,
		LineItems: make([]domain.LineItem, 0, len(e.catalog.Entries)),
	}
	for _, entry := range e.catalog.Entries {
		qty := entry.Quantity(cfg)
		if qty <= 0 {
			continue
		}
		if entry.Eligible != nil && !entry.Eligible(cfg) {
			continue
		}
		amount := entry.UnitMinor * qty
		quote.LineItems = append(quote.LineItems, domain.LineItem{
			Code:        entry.Code,
			Label:       entry.Label,
			Quantity:    qty,
			UnitMinor:   entry.UnitMinor,
			AmountMinor: amount,
		})
		quote.TotalMinor += amount
	}
	return quote
}

// Quote prices cfg and logs the result.
func (e *PricingEngine) Quote(ctx context.Context, cfg domain.Configuration) domain.Quote {
	quote := e.ComputeTotal(cfg)
	e.logger(ctx, "pricing.quote.computed", map[string]any{
		"total":    quote.TotalMinor,
		"currency": quote.Currency,
		"lines":    strings.Join(quote.Codes(), ","),
	})
	return quote
}

func boolQuantity(on bool) int64 {
	if on {
		return 1
	}
	return 0
}
