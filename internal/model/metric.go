package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// MetricType is the fixed vocabulary of income-statement line items.
type MetricType string

const (
	MetricRevenue           MetricType = "revenue"
	MetricCOGS              MetricType = "cogs"
	MetricGrossProfit       MetricType = "gross_profit"
	MetricOperatingExpenses MetricType = "operating_expenses"
	MetricOperatingIncome   MetricType = "operating_income"
	MetricEBITDA            MetricType = "ebitda"
	MetricNetIncome         MetricType = "net_income"
)

// MetricTypes lists every metric type in extraction priority order.
var MetricTypes = []MetricType{
	MetricRevenue,
	MetricCOGS,
	MetricGrossProfit,
	MetricOperatingExpenses,
	MetricOperatingIncome,
	MetricEBITDA,
	MetricNetIncome,
}

var metricDisplayNames = map[MetricType]string{
	MetricRevenue:           "Total Revenue",
	MetricCOGS:              "Cost of Goods Sold",
	MetricGrossProfit:       "Gross Profit",
	MetricOperatingExpenses: "Operating Expenses",
	MetricOperatingIncome:   "Operating Income",
	MetricEBITDA:            "EBITDA",
	MetricNetIncome:         "Net Income",
}

// DisplayName returns the human-readable label, e.g. "Total Revenue".
func (m MetricType) DisplayName() string {
	if name, ok := metricDisplayNames[m]; ok {
		return name
	}
	return string(m)
}

// Valid reports whether m belongs to the vocabulary.
func (m MetricType) Valid() bool {
	_, ok := metricDisplayNames[m]
	return ok
}

// ParseMetricType validates a raw metric type string.
func ParseMetricType(s string) (MetricType, error) {
	m := MetricType(s)
	if !m.Valid() {
		return "", eris.Errorf("model: unknown metric type %q", s)
	}
	return m, nil
}

// FinancialMetric is one extracted line item with its provenance.
// After creation only FlaggedForReview may change.
type FinancialMetric struct {
	ID               string          `json:"id"`
	DocumentID       string          `json:"document_id"`
	MetricType       MetricType      `json:"metric_type"`
	MetricName       string          `json:"metric_name"`
	Value            float64         `json:"value"`
	Currency         string          `json:"currency"`
	Period           string          `json:"period,omitempty"`
	ConfidenceScore  float64         `json:"confidence_score"`
	SourceReference  SourceReference `json:"source_reference"`
	ExtractedAt      time.Time       `json:"extracted_at"`
	FlaggedForReview bool            `json:"flagged_for_review"`

	// ExtractionResultID ties the metric to the extraction attempt that
	// produced it. A retried document keeps earlier attempts' metrics.
	ExtractionResultID string `json:"extraction_result_id,omitempty"`
}
