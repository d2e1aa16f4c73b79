// Package pipeline runs uploaded documents through extraction and
// validation, and resubmits failed documents on request.
package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
)

// ExtractionJob asks the extraction stage to process one document.
// MessageID is the idempotency key; duplicates are dropped by the
// Dispatcher.
type ExtractionJob struct {
	MessageID   string
	DocumentID  string
	EnhancedOCR bool
	RetryCount  int
}

// ValidationJob asks the validation stage to check one extraction result.
type ValidationJob struct {
	DocumentID         string
	ExtractionResultID string
}

// Queue hands jobs to the next stage.
type Queue interface {
	EnqueueExtraction(ctx context.Context, job ExtractionJob) error
	EnqueueValidation(ctx context.Context, job ValidationJob) error
}

// Inline is a Queue that runs each job on the caller's goroutine. The CLI
// uses it to process local files without a dispatcher.
type Inline struct {
	Extractor *Extractor
	Validator *Validator
}

// EnqueueExtraction runs the extraction stage immediately.
func (q *Inline) EnqueueExtraction(ctx context.Context, job ExtractionJob) error {
	if q.Extractor == nil {
		return eris.New("pipeline: inline queue has no extractor")
	}
	return q.Extractor.Process(ctx, job)
}

// EnqueueValidation runs the validation stage immediately.
func (q *Inline) EnqueueValidation(ctx context.Context, job ValidationJob) error {
	if q.Validator == nil {
		return eris.New("pipeline: inline queue has no validator")
	}
	return q.Validator.Process(ctx, job)
}
