// Package numparse parses free-text financial figures such as "$1.2M",
// "(5,000)" or "€1.234,56" into a signed value and an optional currency.
package numparse

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Result is a successfully parsed figure. Currency is the ISO 4217 code
// detected in the text, or "" when none was present.
type Result struct {
	Value    float64
	Currency string
}

type currencyToken struct {
	token string
	code  string
}

// currencyTokens is checked in order; the first token found wins.
var currencyTokens = []currencyToken{
	{"$", "USD"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"¥", "JPY"},
	{"₹", "INR"},
	{"USD", "USD"},
	{"EUR", "EUR"},
	{"GBP", "GBP"},
	{"JPY", "JPY"},
	{"INR", "INR"},
}

type magnitude struct {
	suffix     string
	multiplier float64
}

// magnitudes is checked in order against the upper-cased text.
var magnitudes = []magnitude{
	{"K", 1e3},
	{"M", 1e6},
	{"B", 1e9},
	{"T", 1e12},
	{"THOUSAND", 1e3},
	{"MILLION", 1e6},
	{"BILLION", 1e9},
	{"TRILLION", 1e12},
}

// Parse converts text into a Result. It reports false for empty or
// non-numeric input and never panics.
func Parse(text string) (Result, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, false
	}

	currency := DetectCurrency(text)
	for _, ct := range currencyTokens {
		text = strings.ReplaceAll(text, ct.token, "")
	}
	text = strings.TrimSpace(text)

	negative := strings.HasPrefix(text, "(") && strings.HasSuffix(text, ")")
	if negative {
		text = strings.TrimSpace(text[1 : len(text)-1])
	}

	multiplier := 1.0
	upper := strings.ToUpper(text)
	for _, m := range magnitudes {
		if strings.HasSuffix(upper, m.suffix) {
			multiplier = m.multiplier
			text = strings.TrimSpace(text[:len(text)-len(m.suffix)])
			break
		}
	}

	text = normalizeSeparators(text)

	value, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return Result{}, false
	}
	value *= multiplier
	if negative {
		value = -value
	}
	return Result{Value: value, Currency: currency}, true
}

// DetectCurrency returns the ISO code of the first currency symbol or code
// contained in text, or "".
func DetectCurrency(text string) string {
	for _, ct := range currencyTokens {
		if strings.Contains(text, ct.token) {
			return ct.code
		}
	}
	return ""
}

// normalizeSeparators rewrites text so that '.' is the only decimal mark
// and no grouping separators remain.
//
// With both ',' and '.' present, whichever appears last is the decimal
// mark. With only ',' present, it is a decimal mark iff exactly two
// characters follow the last comma ("12,50"); otherwise it groups
// thousands ("12,500").
func normalizeSeparators(text string) string {
	lastComma := strings.LastIndex(text, ",")
	lastPeriod := strings.LastIndex(text, ".")

	switch {
	case lastComma >= 0 && lastPeriod >= 0:
		if lastComma > lastPeriod {
			text = strings.ReplaceAll(text, ".", "")
			return strings.ReplaceAll(text, ",", ".")
		}
		return strings.ReplaceAll(text, ",", "")
	case lastComma >= 0:
		if utf8.RuneCountInString(text[lastComma+1:]) == 2 {
			whole := strings.ReplaceAll(text[:lastComma], ",", "")
			return whole + "." + text[lastComma+1:]
		}
		return strings.ReplaceAll(text, ",", "")
	default:
		return text
	}
}
