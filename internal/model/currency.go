package model

import (
	"strings"

	"golang.org/x/text/currency"
)

// DefaultCurrency is used when no currency could be detected.
const DefaultCurrency = "USD"

// NormalizeCurrency returns the canonical ISO 4217 code for code, or
// DefaultCurrency when code is empty or not a recognised currency.
func NormalizeCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return DefaultCurrency
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return DefaultCurrency
	}
	return unit.String()
}
