// Package validate runs data-quality checks over the metrics extracted from
// one document and decides whether a human needs to review them.
package validate

import (
	"go.uber.org/zap"

	"github.com/sells-group/fin-ingest/internal/confidence"
	"github.com/sells-group/fin-ingest/internal/model"
)

// Result collects the errors and warnings produced by one or more passes.
type Result struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (r *Result) addError(msg string)   { r.Errors = append(r.Errors, msg) }
func (r *Result) addWarning(msg string) { r.Warnings = append(r.Warnings, msg) }

// Status derives the verdict: any error fails, any warning flags.
func (r Result) Status() model.ValidationStatus {
	switch {
	case len(r.Errors) > 0:
		return model.ValidationFailed
	case len(r.Warnings) > 0:
		return model.ValidationFlagged
	default:
		return model.ValidationPassed
	}
}

// RequiresManualReview is true for flagged and failed results.
func (r Result) RequiresManualReview() bool {
	return r.Status() != model.ValidationPassed
}

// Merge concatenates results, keeping the order of errors and warnings.
func Merge(results ...Result) Result {
	var out Result
	for _, r := range results {
		out.Errors = append(out.Errors, r.Errors...)
		out.Warnings = append(out.Warnings, r.Warnings...)
	}
	return out
}

// Options configures the confidence thresholds and value bands.
type Options struct {
	DocumentThreshold float64
	MetricThreshold   float64
	Ranges            RangeRules
}

// DefaultOptions returns the stock thresholds and the built-in bands.
func DefaultOptions() Options {
	return Options{
		DocumentThreshold: confidence.DefaultDocumentThreshold,
		MetricThreshold:   confidence.DefaultMetricThreshold,
		Ranges:            DefaultRanges(),
	}
}

// All runs completeness, ranges, confidence and relationships in that
// order and merges their findings.
func All(metrics []model.FinancialMetric, docConfidence float64, opts Options) Result {
	if opts.Ranges == nil {
		opts.Ranges = DefaultRanges()
	}
	out := Merge(
		Completeness(metrics),
		Ranges(metrics, opts.Ranges),
		Confidence(metrics, docConfidence, opts.DocumentThreshold, opts.MetricThreshold),
		Relationships(metrics),
	)
	zap.L().Info("validate: complete",
		zap.String("status", string(out.Status())),
		zap.Int("errors", len(out.Errors)),
		zap.Int("warnings", len(out.Warnings)),
	)
	return out
}

// FlagLowConfidence marks every metric under threshold as flagged for
// review and returns the IDs of those that were not flagged before.
// Metrics are never unflagged.
func FlagLowConfidence(metrics []model.FinancialMetric, threshold float64) []string {
	var flagged []string
	for i := range metrics {
		m := &metrics[i]
		if m.ConfidenceScore >= threshold || m.FlaggedForReview {
			continue
		}
		m.FlaggedForReview = true
		flagged = append(flagged, m.ID)
	}
	return flagged
}
