package numparse

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"JPY": "¥",
	"INR": "₹",
}

var printer = message.NewPrinter(language.English)

// Grouped renders v with two decimals and thousands grouping, e.g. "1,234.50".
func Grouped(v float64) string {
	return printer.Sprintf("%.2f", v)
}

// Format renders v for display with a currency symbol when one is known
// ("$1,234.50") or the code as a prefix otherwise ("CHF 1,234.50").
func Format(v float64, currency string) string {
	formatted := Grouped(v)
	if currency == "" {
		return formatted
	}
	if sym, ok := currencySymbols[currency]; ok {
		return sym + formatted
	}
	return currency + " " + formatted
}
