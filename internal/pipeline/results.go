package pipeline

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fin-ingest/internal/confidence"
	"github.com/sells-group/fin-ingest/internal/model"
	"github.com/sells-group/fin-ingest/internal/store"
)

// Result formats.
const (
	FormatDetailed = "detailed"
	FormatSummary  = "summary"
)

// ErrNotReady is returned when results are requested before extraction
// has completed. Use errors.As with *NotReadyError for the status.
var ErrNotReady = eris.New("pipeline: results not ready")

// NotReadyError carries the extraction status of an unfinished document.
type NotReadyError struct {
	Status model.ExtractionStatus
}

func (e *NotReadyError) Error() string { return "pipeline: results not ready: " + string(e.Status) }
func (e *NotReadyError) Unwrap() error { return ErrNotReady }

// DetailedResults is the full result view of one document.
type DetailedResults struct {
	DocumentID           string                  `json:"document_id"`
	DocumentName         string                  `json:"document_name"`
	DocumentType         model.DocumentType      `json:"document_type"`
	ExtractionStatus     model.ExtractionStatus  `json:"extraction_status"`
	ValidationStatus     model.ValidationStatus  `json:"validation_status"`
	RequiresManualReview bool                    `json:"requires_manual_review"`
	ValidationErrors     []string                `json:"validation_errors"`
	ValidationWarnings   []string                `json:"validation_warnings"`
	Metrics              []model.FinancialMetric `json:"metrics"`
	Summary              ResultSummary           `json:"summary"`
	ExtractedAt          *time.Time              `json:"extracted_at,omitempty"`
}

// ResultSummary aggregates a document's metrics.
type ResultSummary struct {
	TotalMetrics    int                   `json:"total_metrics"`
	FlaggedMetrics  int                   `json:"flagged_metrics"`
	AvgConfidence   float64               `json:"avg_confidence"`
	Quality         confidence.Quality    `json:"confidence_quality,omitempty"`
	ConfidenceStats confidence.Statistics `json:"confidence_stats"`
	TablesExtracted int                   `json:"tables_extracted"`
}

// SummaryMetric is the representative metric of one type.
type SummaryMetric struct {
	MetricType      model.MetricType `json:"metric_type"`
	MetricName      string           `json:"metric_name"`
	Value           float64          `json:"value"`
	Currency        string           `json:"currency"`
	Period          string           `json:"period,omitempty"`
	ConfidenceScore float64          `json:"confidence_score"`
}

// SummaryResults is the condensed result view: one metric per type.
type SummaryResults struct {
	DocumentID           string                 `json:"document_id"`
	DocumentName         string                 `json:"document_name"`
	ValidationStatus     model.ValidationStatus `json:"validation_status"`
	RequiresManualReview bool                   `json:"requires_manual_review"`
	MetricsSummary       []SummaryMetric        `json:"metrics_summary"`
	TotalMetrics         int                    `json:"total_metrics"`
}

// ResultQuery selects what LoadResults returns.
type ResultQuery struct {
	DocumentID           string
	IncludeLowConfidence bool
}

// Results is what LoadResults found for a document.
type Results struct {
	Extraction *model.ExtractionResult
	Metrics    []model.FinancialMetric
}

// LoadResults reads the latest extraction result and its metrics. It
// returns store.ErrNotFound when no extraction was attempted and a
// *NotReadyError when the latest attempt has not completed.
func LoadResults(ctx context.Context, st store.Store, q ResultQuery) (*Results, error) {
	res, err := st.GetLatestExtractionResult(ctx, q.DocumentID)
	if err != nil {
		return nil, err
	}
	if res.Status != model.ExtractionCompleted {
		return nil, &NotReadyError{Status: res.Status}
	}
	metrics, err := st.ListMetrics(ctx, q.DocumentID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: list metrics for %s", q.DocumentID)
	}
	metrics = forResult(metrics, res.ID)
	if !q.IncludeLowConfidence {
		kept := metrics[:0]
		for _, m := range metrics {
			if !m.FlaggedForReview {
				kept = append(kept, m)
			}
		}
		metrics = kept
	}
	return &Results{Extraction: res, Metrics: metrics}, nil
}

// Detailed builds the full view with summary statistics.
func (r *Results) Detailed() DetailedResults {
	metrics := r.Metrics
	if metrics == nil {
		metrics = []model.FinancialMetric{}
	}
	return DetailedResults{
		DocumentID:           r.Extraction.DocumentID,
		DocumentName:         r.Extraction.DocumentName,
		DocumentType:         r.Extraction.DocumentType,
		ExtractionStatus:     r.Extraction.Status,
		ValidationStatus:     r.Extraction.ValidationStatus,
		RequiresManualReview: r.Extraction.RequiresManualReview,
		ValidationErrors:     nonEmpty(r.Extraction.ValidationErrors),
		ValidationWarnings:   nonEmpty(r.Extraction.ValidationWarnings),
		Metrics:              metrics,
		Summary:              Summarize(metrics, r.Extraction.TablesExtracted),
		ExtractedAt:          r.Extraction.CompletedAt,
	}
}

// Summary builds the condensed view, keeping the first metric of each
// type in extraction order.
func (r *Results) Summary() SummaryResults {
	seen := make(map[model.MetricType]bool)
	out := SummaryResults{
		DocumentID:           r.Extraction.DocumentID,
		DocumentName:         r.Extraction.DocumentName,
		ValidationStatus:     r.Extraction.ValidationStatus,
		RequiresManualReview: r.Extraction.RequiresManualReview,
		MetricsSummary:       []SummaryMetric{},
		TotalMetrics:         len(r.Metrics),
	}
	for _, m := range r.Metrics {
		if seen[m.MetricType] {
			continue
		}
		seen[m.MetricType] = true
		out.MetricsSummary = append(out.MetricsSummary, SummaryMetric{
			MetricType:      m.MetricType,
			MetricName:      m.MetricName,
			Value:           m.Value,
			Currency:        m.Currency,
			Period:          m.Period,
			ConfidenceScore: m.ConfidenceScore,
		})
	}
	return out
}

// Summarize counts flagged metrics and averages the non-zero confidence
// scores, rounded to three decimals.
func Summarize(metrics []model.FinancialMetric, tablesExtracted int) ResultSummary {
	s := ResultSummary{TotalMetrics: len(metrics), TablesExtracted: tablesExtracted}
	var scores []float64
	for _, m := range metrics {
		if m.FlaggedForReview {
			s.FlaggedMetrics++
		}
		if m.ConfidenceScore != 0 {
			scores = append(scores, m.ConfidenceScore)
		}
	}
	s.ConfidenceStats = confidence.Stats(scores)
	if len(scores) > 0 {
		s.AvgConfidence = math.Round(s.ConfidenceStats.Mean*1000) / 1000
		s.Quality = confidence.Assess(s.AvgConfidence)
	}
	return s
}

// forResult keeps the metrics produced by extraction result id, dropping
// those left behind by earlier attempts. Metrics with no result id are
// kept.
func forResult(metrics []model.FinancialMetric, id string) []model.FinancialMetric {
	kept := metrics[:0]
	for _, m := range metrics {
		if m.ExtractionResultID == "" || m.ExtractionResultID == id {
			kept = append(kept, m)
		}
	}
	return kept
}

func nonEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
