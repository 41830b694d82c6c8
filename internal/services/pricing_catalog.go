package services

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Currency string                      `yaml:"currency"`
	Fees     map[string]catalogFileEntry `yaml:"fees"`
}

type catalogFileEntry struct {
	Label     string `yaml:"label"`
	UnitMinor *int64 `yaml:"unit_minor"`
}

// LoadAddonCatalog reads fee overrides from a YAML file and applies them to the default
// catalog. Line codes and their order are fixed; only labels, fees and currency change.
//
//	currency: usd
//	fees:
//	  base: {label: Listing fee, unit_minor: 2700}
//	  sms: {unit_minor: 700}
func LoadAddonCatalog(path string) (AddonCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AddonCatalog{}, fmt.Errorf("pricing: read catalog %s: %w", path, err)
	}
	return ParseAddonCatalog(data)
}

// ParseAddonCatalog applies YAML overrides to the default catalog.
func ParseAddonCatalog(data []byte) (AddonCatalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return AddonCatalog{}, fmt.Errorf("%w: %v", ErrPricingInvalidCatalog, err)
	}

	catalog := DefaultAddonCatalog()
	if cur := strings.TrimSpace(file.Currency); cur != "" {
		unit, err := currency.ParseISO(cur)
		if err != nil {
			return AddonCatalog{}, fmt.Errorf("%w: currency %q", ErrPricingInvalidCatalog, cur)
		}
		catalog.Currency = strings.ToLower(unit.String())
	}

	for code, override := range file.Fees {
		idx := -1
		for i, entry := range catalog.Entries {
			if entry.Code == code {
				idx = i
				break
			}
		}
		if idx < 0 {
			return AddonCatalog{}, fmt.Errorf("%w: unknown line %q", ErrPricingInvalidCatalog, code)
		}
		if label := strings.TrimSpace(override.Label); label != "" {
			catalog.Entries[idx].Label = label
		}
		if override.UnitMinor != nil {
			catalog.Entries[idx].UnitMinor = *override.UnitMinor
		}
	}

	if err := catalog.validate(); err != nil {
		return AddonCatalog{}, err
	}
	return catalog, nil
}

var currencySymbols = map[string]string{
	"USD": "$",
	"CAD": "CA$",
	"EUR": "€",
	"GBP": "£",
	"JPY": "¥",
}

var displayPrinter = message.NewPrinter(language.AmericanEnglish)

// FormatMinor renders an amount in minor units for display, e.g. 9200 USD as "$92.00".
func FormatMinor(amount int64, code string) string {
	iso := strings.ToUpper(strings.TrimSpace(code))
	scale := 2
	if unit, err := currency.ParseISO(iso); err == nil {
		iso = unit.String()
		scale, _ = currency.Standard.Rounding(unit)
	}
	symbol, ok := currencySymbols[iso]
	if !ok {
		symbol = iso + " "
	}

	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	if scale <= 0 {
		return sign + symbol + displayPrinter.Sprintf("%d", amount)
	}
	divisor := int64(1)
	for i := 0; i < scale; i++ {
		divisor *= 10
	}
	return fmt.Sprintf("%s%s%s.%0*d", sign, symbol, displayPrinter.Sprintf("%d", amount/divisor), scale, amount%divisor)
}
