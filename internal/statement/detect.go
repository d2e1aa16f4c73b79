package statement

import (
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/fin-ingest/internal/model"
)

// IsIncomeStatement reports whether t looks like an income statement,
// either by a title phrase anywhere in its text or by carrying revenue
// plus operating expenses or net income line items.
func IsIncomeStatement(t model.Table) bool {
	text := tableText(t)

	for _, kw := range titleKeywords {
		if strings.Contains(text, kw) {
			zap.L().Debug("statement: detected income statement",
				zap.String("table_id", t.ID),
				zap.String("keyword", kw),
			)
			return true
		}
	}

	hasRevenue := matchAny(revenuePatterns, text)
	hasExpenses := matchAny(operatingExpensesPatterns, text)
	hasNetIncome := matchAny(netIncomePatterns, text)
	if hasRevenue && (hasExpenses || hasNetIncome) {
		zap.L().Debug("statement: detected income statement from line items",
			zap.String("table_id", t.ID),
		)
		return true
	}
	return false
}

func tableText(t model.Table) string {
	parts := make([]string, len(t.Cells))
	for i, c := range t.Cells {
		parts[i] = normalize(c.Content)
	}
	return strings.Join(parts, " ")
}
