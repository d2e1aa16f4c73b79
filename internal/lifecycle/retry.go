package lifecycle

import (
	"fmt"

	"github.com/sells-group/fin-ingest/internal/model"
)

// DocumentInfo is the metadata a retry needs, recovered from event data.
type DocumentInfo struct {
	Name string             `json:"document_name"`
	Type model.DocumentType `json:"document_type"`
}

// Eligibility is the outcome of a retry check.
type Eligibility struct {
	Eligible      bool          `json:"eligible"`
	Reason        string        `json:"reason"`
	CurrentStatus Status        `json:"current_status"`
	RetryCount    int           `json:"retry_count"`
	Document      *DocumentInfo `json:"document_info,omitempty"`
}

// CheckRetry decides whether a document may be resubmitted. It must have
// failed, must not have completed validation, must carry recoverable
// metadata and must be under MaxRetries.
func CheckRetry(events []model.ProcessingEvent) Eligibility {
	return CheckRetryLimit(events, MaxRetries)
}

// CheckRetryLimit is CheckRetry with a caller-chosen limit. A limit below
// one falls back to MaxRetries.
func CheckRetryLimit(events []model.ProcessingEvent, limit int) Eligibility {
	if limit < 1 {
		limit = MaxRetries
	}
	if len(events) == 0 {
		return Eligibility{
			Reason:        "Document not found in processing logs",
			CurrentStatus: StatusUnknown,
		}
	}

	seen := eventSet(events)
	retries := RetryCount(events)

	if !seen[model.EventFailed] {
		if seen[model.EventValidationCompleted] {
			return Eligibility{
				Reason:        "Document processing already completed successfully",
				CurrentStatus: StatusCompleted,
				RetryCount:    retries,
			}
		}
		return Eligibility{
			Reason:        "Document is still processing or not in failed state",
			CurrentStatus: StatusProcessing,
			RetryCount:    retries,
		}
	}

	if seen[model.EventValidationCompleted] {
		return Eligibility{
			Reason:        "Document processing already completed successfully",
			CurrentStatus: StatusFailed,
			RetryCount:    retries,
		}
	}

	info, ok := recoverDocumentInfo(events)
	if !ok {
		return Eligibility{
			Reason:        "Document metadata not found in processing logs",
			CurrentStatus: StatusFailed,
			RetryCount:    retries,
		}
	}

	if retries >= limit {
		return Eligibility{
			Reason:        fmt.Sprintf("Maximum retry attempts exceeded (%d retries already attempted)", limit),
			CurrentStatus: StatusFailed,
			RetryCount:    retries,
		}
	}

	return Eligibility{
		Eligible:      true,
		Reason:        "Document failed and is eligible for retry",
		CurrentStatus: StatusFailed,
		RetryCount:    retries,
		Document:      &info,
	}
}

// recoverDocumentInfo scans oldest to newest, keeping the last value seen
// for each field, and stops once both are known.
func recoverDocumentInfo(events []model.ProcessingEvent) (DocumentInfo, bool) {
	var info DocumentInfo
	for _, e := range oldestFirst(events) {
		if e.Data.DocumentName != "" {
			info.Name = e.Data.DocumentName
		}
		if e.Data.DocumentType != "" {
			info.Type = model.DocumentType(e.Data.DocumentType)
		}
		if info.Name != "" && info.Type != "" {
			return info, true
		}
	}
	return info, false
}

// RetryMessageID is the idempotency key for the n-th retry of a document.
func RetryMessageID(documentID string, retryCount int) string {
	return fmt.Sprintf("%s-retry-%d", documentID, retryCount)
}
