package pipeline

import (
	"context"
	"errors"

	"github.com/sells-group/fin-ingest/internal/resilience"
)

// Error types recorded on failed events.
const (
	ErrTypeOCRFailed       = "ocr_failed"
	ErrTypeExcelParse      = "excel_parse_failed"
	ErrTypeUnsupported     = "unsupported_document_type"
	ErrTypeBlobNotFound    = "blob_not_found"
	ErrTypeDocNotFound     = "document_not_found"
	ErrTypeStorage         = "storage_error"
	ErrTypeValidation      = "validation_failed"
	ErrTypeUnexpected      = "unexpected_error"
	ErrTypeProcessingTimed = "processing_timeout"
)

// ExtractionError is a stage failure annotated with whether resubmitting
// the document could help.
type ExtractionError struct {
	Type          string
	RetryEligible bool
	Err           error
}

func (e *ExtractionError) Error() string { return e.Err.Error() }
func (e *ExtractionError) Unwrap() error { return e.Err }

func newExtractionError(typ string, retryEligible bool, err error) *ExtractionError {
	return &ExtractionError{Type: typ, RetryEligible: retryEligible, Err: err}
}

// describeFailure resolves the error type and retry eligibility recorded
// for err. Unannotated errors are retry-eligible when transient.
func describeFailure(err error) (string, bool) {
	var xe *ExtractionError
	if errors.As(err, &xe) {
		return xe.Type, xe.RetryEligible
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTypeProcessingTimed, true
	}
	return ErrTypeUnexpected, resilience.Classify(err) == resilience.ClassTransient
}
