// Package statement detects income-statement tables and extracts named
// line items from them.
package statement

import (
	"regexp"
	"strings"

	"github.com/sells-group/fin-ingest/internal/model"
)

// titleKeywords are phrases that identify an income statement outright.
var titleKeywords = []string{
	"income statement",
	"statement of income",
	"profit and loss",
	"p&l",
	"statement of operations",
	"operating statement",
	"earnings statement",
}

// Definition binds a metric type to the label patterns that identify it.
// Patterns are matched against normalized cell content (see normalize).
type Definition struct {
	Type     model.MetricType
	Name     string
	Patterns []*regexp.Regexp
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

var (
	revenuePatterns = compileAll(
		`total\s+revenue`, `net\s+revenue`, `revenue`, `sales`,
		`total\s+sales`, `net\s+sales`, `operating\s+revenue`,
	)
	cogsPatterns = compileAll(
		`cost\s+of\s+goods\s+sold`, `cogs`, `cost\s+of\s+revenue`,
		`cost\s+of\s+sales`, `direct\s+costs`,
	)
	grossProfitPatterns = compileAll(
		`gross\s+profit`, `gross\s+income`, `gross\s+margin`,
	)
	operatingExpensesPatterns = compileAll(
		`operating\s+expenses`, `opex`, `total\s+operating\s+expenses`,
		`selling.*general.*administrative`, `sg&a`, `sga`,
	)
	operatingIncomePatterns = compileAll(
		`operating\s+income`, `operating\s+profit`, `ebit`,
		`earnings\s+before\s+interest\s+and\s+tax`,
	)
	ebitdaPatterns = compileAll(
		`ebitda`, `earnings\s+before\s+interest.*tax.*depreciation.*amortization`,
	)
	netIncomePatterns = compileAll(
		`net\s+income`, `net\s+profit`, `net\s+earnings`,
		`profit\s+for\s+the\s+period`, `bottom\s+line`,
	)
)

// Definitions lists the metric definitions in extraction priority order.
var Definitions = []Definition{
	{model.MetricRevenue, model.MetricRevenue.DisplayName(), revenuePatterns},
	{model.MetricCOGS, model.MetricCOGS.DisplayName(), cogsPatterns},
	{model.MetricGrossProfit, model.MetricGrossProfit.DisplayName(), grossProfitPatterns},
	{model.MetricOperatingExpenses, model.MetricOperatingExpenses.DisplayName(), operatingExpensesPatterns},
	{model.MetricOperatingIncome, model.MetricOperatingIncome.DisplayName(), operatingIncomePatterns},
	{model.MetricEBITDA, model.MetricEBITDA.DisplayName(), ebitdaPatterns},
	{model.MetricNetIncome, model.MetricNetIncome.DisplayName(), netIncomePatterns},
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// normalize lower-cases s and collapses every run of Unicode whitespace,
// including no-break spaces from PDF and OCR text, to a single space.
func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
