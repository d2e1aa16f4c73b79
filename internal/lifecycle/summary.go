package lifecycle

import (
	"time"

	"github.com/sells-group/fin-ingest/internal/model"
)

// StatusReport is the status payload served for a document.
type StatusReport struct {
	DocumentID              string     `json:"document_id"`
	Status                  Status     `json:"status"`
	Progress                Progress   `json:"progress"`
	Timestamps              Timestamps `json:"timestamps"`
	ErrorMessage            *string    `json:"error_message"`
	EstimatedCompletionTime *time.Time `json:"estimated_completion_time"`

	ExtractionSummary *ExtractionSummary      `json:"extraction_summary,omitempty"`
	ValidationStatus  *model.ValidationStatus `json:"validation_status,omitempty"`
}

// ExtractionSummary is attached to reports for processing and completed
// documents when an extraction result exists.
type ExtractionSummary struct {
	TablesExtracted  int     `json:"tables_extracted"`
	MetricsExtracted int     `json:"metrics_extracted"`
	OCRConfidence    float64 `json:"ocr_confidence"`
}

// Summarize builds the status payload. The error message is set only for
// failed documents and the estimate only for processing ones.
func Summarize(documentID string, events []model.ProcessingEvent, now time.Time, timeout time.Duration) StatusReport {
	r := StatusReport{
		DocumentID: documentID,
		Status:     DeriveStatus(events),
		Progress:   CalculateProgress(events),
		Timestamps: ExtractTimestamps(events),
	}
	switch r.Status {
	case StatusFailed:
		msg := ErrorMessage(events)
		r.ErrorMessage = &msg
	case StatusProcessing:
		r.EstimatedCompletionTime = EstimatedCompletion(events, now, timeout)
	}
	return r
}

// AttachResult adds the extraction summary and, for completed documents,
// the validation verdict.
func (r *StatusReport) AttachResult(res *model.ExtractionResult) {
	if res == nil {
		return
	}
	if (r.Status == StatusProcessing || r.Status == StatusCompleted) && res.Status == model.ExtractionCompleted {
		r.ExtractionSummary = &ExtractionSummary{
			TablesExtracted:  res.TablesExtracted,
			MetricsExtracted: res.MetricsExtracted,
			OCRConfidence:    res.OCRConfidenceAvg,
		}
	}
	if r.Status == StatusCompleted && res.ValidationStatus != "" {
		vs := res.ValidationStatus
		r.ValidationStatus = &vs
	}
}
