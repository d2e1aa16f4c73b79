package validate

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/fin-ingest/internal/model"
	"github.com/sells-group/fin-ingest/internal/numparse"
)

var (
	requiredMetrics    = []model.MetricType{model.MetricRevenue, model.MetricNetIncome}
	recommendedMetrics = []model.MetricType{model.MetricCOGS, model.MetricGrossProfit, model.MetricOperatingExpenses}

	// smallValueTypes are the line items expected to be well above $1,000.
	smallValueTypes = map[model.MetricType]bool{
		model.MetricRevenue:           true,
		model.MetricCOGS:              true,
		model.MetricOperatingExpenses: true,
	}
)

const (
	minMetricCount      = 3
	largeValueLimit     = 100_000_000_000
	smallValueLimit     = 1000
	criticalConfidence  = 0.60
	lowConfidenceListed = 3
	grossProfitSlack    = 0.01
	grossProfitMinSlack = 1000
)

// Completeness checks that the required line items are present and warns
// about missing recommended ones.
func Completeness(metrics []model.FinancialMetric) Result {
	var r Result
	present := make(map[model.MetricType]bool, len(metrics))
	for _, m := range metrics {
		present[m.MetricType] = true
	}

	for _, mt := range requiredMetrics {
		if !present[mt] {
			r.addError(fmt.Sprintf(
				"Missing required metric: %s. Income statement must include revenue and net income.", mt))
		}
	}
	for _, mt := range recommendedMetrics {
		if !present[mt] {
			r.addWarning(fmt.Sprintf(
				"Missing recommended metric: %s. Consider verifying if this metric should be present in the document.", mt))
		}
	}
	if len(metrics) < minMetricCount {
		r.addWarning(fmt.Sprintf(
			"Only %d financial metrics extracted. Expected at least 3-5 metrics for a complete income statement.", len(metrics)))
	}

	zap.L().Debug("validate: completeness",
		zap.Int("metrics", len(metrics)),
		zap.Int("errors", len(r.Errors)),
		zap.Int("warnings", len(r.Warnings)),
	)
	return r
}

// Ranges checks each metric against its band and flags implausible
// magnitudes. Metric types without a rule are skipped.
func Ranges(metrics []model.FinancialMetric, rules RangeRules) Result {
	var r Result
	for _, m := range metrics {
		rule, ok := rules[m.MetricType]
		if !ok {
			continue
		}
		v := m.Value

		if v < rule.Min || v > rule.Max {
			r.addError(fmt.Sprintf(
				"%s: Value %s is outside reasonable range [%s, %s]. This may indicate OCR extraction error or data quality issue.",
				m.MetricName, numparse.Grouped(v), numparse.Grouped(rule.Min), numparse.Grouped(rule.Max)))
		}
		if m.MetricType == model.MetricRevenue && v <= 0 {
			r.addError(fmt.Sprintf(
				"%s: Revenue must be positive (got %s). Negative or zero revenue indicates extraction error.",
				m.MetricName, numparse.Grouped(v)))
		}
		if math.Abs(v) > largeValueLimit {
			r.addWarning(fmt.Sprintf(
				"%s: Value %s is unusually large (> $100B). Please verify this is correct.",
				m.MetricName, numparse.Grouped(v)))
		}
		if math.Abs(v) < smallValueLimit && smallValueTypes[m.MetricType] {
			r.addWarning(fmt.Sprintf(
				"%s: Value %s is unusually small (< $1,000). Verify the correct magnitude was extracted (check for K/M/B suffixes).",
				m.MetricName, numparse.Grouped(v)))
		}
	}

	zap.L().Debug("validate: ranges",
		zap.Int("metrics", len(metrics)),
		zap.Int("errors", len(r.Errors)),
		zap.Int("warnings", len(r.Warnings)),
	)
	return r
}

// Confidence compares the document and per-metric confidence against the
// thresholds. A document below 0.60 is an error regardless of threshold.
func Confidence(metrics []model.FinancialMetric, docConfidence, docThreshold, metricThreshold float64) Result {
	var r Result

	if docConfidence < docThreshold {
		r.addWarning(fmt.Sprintf(
			"Document OCR confidence %.2f is below threshold %s. Extracted data may require manual verification. Consider re-scanning with higher quality or enhanced OCR.",
			docConfidence, trimFloat(docThreshold)))
	}

	var low []string
	for _, m := range metrics {
		if m.ConfidenceScore < metricThreshold {
			low = append(low, fmt.Sprintf("%s (confidence: %.2f)", m.MetricName, m.ConfidenceScore))
		}
	}
	if len(low) > 0 {
		shown := low
		suffix := ""
		if len(low) > lowConfidenceListed {
			shown = low[:lowConfidenceListed]
			suffix = "..."
		}
		r.addWarning(fmt.Sprintf("%d metric(s) have low confidence (< %s): %s%s",
			len(low), trimFloat(metricThreshold), strings.Join(shown, ", "), suffix))
	}

	if docConfidence < criticalConfidence {
		r.addError(fmt.Sprintf(
			"Document OCR confidence %.2f is critically low (< 0.60). Extraction results are unreliable and require manual data entry.",
			docConfidence))
	}

	zap.L().Debug("validate: confidence",
		zap.Float64("document", docConfidence),
		zap.Int("low_confidence_metrics", len(low)),
		zap.Int("errors", len(r.Errors)),
		zap.Int("warnings", len(r.Warnings)),
	)
	return r
}

// Relationships cross-checks revenue, cost of goods sold and gross profit.
// When a type occurs more than once the last value wins.
func Relationships(metrics []model.FinancialMetric) Result {
	var r Result
	lookup := make(map[model.MetricType]float64, len(metrics))
	for _, m := range metrics {
		lookup[m.MetricType] = m.Value
	}

	revenue, hasRevenue := lookup[model.MetricRevenue]
	cogs, hasCOGS := lookup[model.MetricCOGS]
	gross, hasGross := lookup[model.MetricGrossProfit]

	if hasRevenue && hasCOGS && hasGross {
		expected := revenue - cogs
		tolerance := math.Max(math.Abs(expected)*grossProfitSlack, grossProfitMinSlack)
		if math.Abs(gross-expected) > tolerance {
			r.addWarning(fmt.Sprintf(
				"Gross Profit mismatch: Expected %s (Revenue %s - COGS %s), but got %s. Verify extraction accuracy.",
				numparse.Grouped(expected), numparse.Grouped(revenue), numparse.Grouped(cogs), numparse.Grouped(gross)))
		}
	}
	if hasRevenue && hasCOGS && revenue > cogs && hasGross && gross <= 0 {
		r.addError(fmt.Sprintf(
			"Gross Profit should be positive when Revenue > COGS. Got Gross Profit=%s",
			numparse.Grouped(gross)))
	}

	zap.L().Debug("validate: relationships",
		zap.Int("errors", len(r.Errors)),
		zap.Int("warnings", len(r.Warnings)),
	)
	return r
}

// trimFloat renders a threshold the short way: 0.75, not 0.750000.
func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
